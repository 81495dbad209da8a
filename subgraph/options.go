package subgraph

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/x-research-team/dtx-subgraph/bus/query"
	"github.com/x-research-team/dtx-subgraph/graphql"
)

// config содержит неэкспортируемую конфигурацию клиента сабграфов.
type config struct {
	cache             *query.Cache
	cacheOptions      []query.CacheOption
	graphqlOptions    []graphql.Option
	fetchOptions      []query.FetchOption
	defaultDeployment string
	logger            *slog.Logger
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
}

// Option определяет функциональную опцию клиента сабграфов.
type Option func(*config)

// WithCache задает общий кеш запросов. Клиент не закрывает переданный кеш.
func WithCache(cache *query.Cache) Option {
	return func(c *config) {
		c.cache = cache
	}
}

// WithCacheOptions задает опции собственного кеша клиента.
// Игнорируются, если кеш передан через WithCache.
func WithCacheOptions(opts ...query.CacheOption) Option {
	return func(c *config) {
		c.cacheOptions = append(c.cacheOptions, opts...)
	}
}

// WithGraphQLOptions задает опции GraphQL-клиентов всех развертываний.
func WithGraphQLOptions(opts ...graphql.Option) Option {
	return func(c *config) {
		c.graphqlOptions = append(c.graphqlOptions, opts...)
	}
}

// WithFetchOptions задает параметры запросов по умолчанию для всех операций.
func WithFetchOptions(opts ...query.FetchOption) Option {
	return func(c *config) {
		c.fetchOptions = append(c.fetchOptions, opts...)
	}
}

// WithDefaultDeployment задает развертывание, используемое при пустом имени.
func WithDefaultDeployment(name string) Option {
	return func(c *config) {
		c.defaultDeployment = name
	}
}

// WithLogger устанавливает логгер клиента, кеша и GraphQL-транспорта.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracerProvider устанавливает провайдер трассировки.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider устанавливает провайдер метрик.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = provider
	}
}
