package query

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/x-research-team/dtx-subgraph/graphql"
)

const (
	// DefaultStaleTime — время, в течение которого значение считается свежим.
	DefaultStaleTime = 15 * time.Second
	// DefaultRetryCount — число повторов, включаемое WithRetryOnFailure(true).
	DefaultRetryCount = 3
	// DefaultRetryDelay — задержка перед первым повтором.
	DefaultRetryDelay = time.Second
	// DefaultMaxRetryDelay — верхняя граница экспоненциальной задержки.
	DefaultMaxRetryDelay = 30 * time.Second
	// DefaultGCTime — время простоя записи, после которого она удаляется.
	DefaultGCTime = 5 * time.Minute
)

// Options — параметры выполнения одного запроса через кеш.
type Options struct {
	// Enabled выключает выполнение запроса, например при отсутствии
	// обязательных переменных.
	Enabled bool
	// StaleTime — сколько значение считается свежим. Ноль означает, что
	// каждое обращение запускает загрузку.
	StaleTime time.Duration
	// Retry — число повторов после неудачной попытки. Ноль выключает повторы.
	Retry int
	// RetryDelay — задержка перед первым повтором.
	RetryDelay time.Duration
	// MaxRetryDelay — верхняя граница экспоненциальной задержки.
	MaxRetryDelay time.Duration
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		Enabled:       true,
		StaleTime:     DefaultStaleTime,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// FetchOption изменяет параметры выполнения запроса.
type FetchOption func(*Options)

// WithEnabled включает или выключает выполнение запроса.
func WithEnabled(enabled bool) FetchOption {
	return func(o *Options) {
		o.Enabled = enabled
	}
}

// WithStaleTime задает время свежести значения.
func WithStaleTime(d time.Duration) FetchOption {
	return func(o *Options) {
		o.StaleTime = d
	}
}

// WithRetry задает число повторов после неудачной попытки.
func WithRetry(n int) FetchOption {
	return func(o *Options) {
		if n < 0 {
			n = 0
		}
		o.Retry = n
	}
}

// WithRetryOnFailure включает повторы с числом попыток по умолчанию или выключает их.
func WithRetryOnFailure(retry bool) FetchOption {
	return func(o *Options) {
		if retry {
			o.Retry = DefaultRetryCount
			return
		}
		o.Retry = 0
	}
}

// WithRetryDelay задает задержку перед первым повтором.
func WithRetryDelay(d time.Duration) FetchOption {
	return func(o *Options) {
		o.RetryDelay = d
	}
}

// WithMaxRetryDelay задает верхнюю границу задержки между повторами.
func WithMaxRetryDelay(d time.Duration) FetchOption {
	return func(o *Options) {
		o.MaxRetryDelay = d
	}
}

// cacheConfig содержит неэкспортируемую конфигурацию кеша.
type cacheConfig struct {
	defaults   []FetchOption
	gcTime     time.Duration
	gcInterval time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// CacheOption изменяет конфигурацию кеша.
type CacheOption func(*cacheConfig)

// WithDefaults задает параметры запросов по умолчанию для всего кеша.
// Параметры конкретного вызова применяются поверх них.
func WithDefaults(opts ...FetchOption) CacheOption {
	return func(c *cacheConfig) {
		c.defaults = append(c.defaults, opts...)
	}
}

// WithGCTime задает время простоя, после которого запись без ожидающих
// и наблюдателей удаляется. Ноль выключает сборку мусора.
func WithGCTime(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.gcTime = d
	}
}

// WithGCInterval задает период фоновой сборки мусора.
func WithGCInterval(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.gcInterval = d
	}
}

// WithCacheLogger устанавливает логгер кеша.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *cacheConfig) {
		c.logger = logger
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) CacheOption {
	return func(c *cacheConfig) {
		c.now = now
	}
}

func newCacheConfig(opts []CacheOption) *cacheConfig {
	cfg := &cacheConfig{
		gcTime: DefaultGCTime,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.gcInterval <= 0 {
		cfg.gcInterval = max(cfg.gcTime/2, time.Second)
	}
	return cfg
}

// config содержит неэкспортируемую конфигурацию диспетчера.
type config[V, R any] struct {
	scope          string
	fetchOptions   []FetchOption
	requestOptions []graphql.RequestOption
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	middlewares    []Middleware[V, R]
}

// Option определяет тип для функциональных опций, которые изменяют конфигурацию диспетчера.
type Option[V, R any] func(*config[V, R])

// WithScope задает область ключей кеша, например имя развертывания сабграфа.
func WithScope[V, R any](scope string) Option[V, R] {
	return func(c *config[V, R]) {
		c.scope = scope
	}
}

// WithFetchOptions задает параметры запросов по умолчанию для диспетчера.
func WithFetchOptions[V, R any](opts ...FetchOption) Option[V, R] {
	return func(c *config[V, R]) {
		c.fetchOptions = append(c.fetchOptions, opts...)
	}
}

// WithRequestOptions задает опции запроса, например дополнительные заголовки.
func WithRequestOptions[V, R any](opts ...graphql.RequestOption) Option[V, R] {
	return func(c *config[V, R]) {
		c.requestOptions = append(c.requestOptions, opts...)
	}
}

// WithLogger возвращает опцию, которая устанавливает логгер для диспетчера.
func WithLogger[V, R any](logger *slog.Logger) Option[V, R] {
	return func(c *config[V, R]) {
		c.logger = logger
	}
}

// WithTracerProvider возвращает опцию, которая устанавливает провайдер трассировки.
func WithTracerProvider[V, R any](provider trace.TracerProvider) Option[V, R] {
	return func(c *config[V, R]) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider возвращает опцию, которая устанавливает провайдер метрик.
func WithMeterProvider[V, R any](provider metric.MeterProvider) Option[V, R] {
	return func(c *config[V, R]) {
		c.meterProvider = provider
	}
}

// WithMiddleware возвращает опцию, которая добавляет один или несколько middleware в цепочку обработки.
func WithMiddleware[V, R any](mw ...Middleware[V, R]) Option[V, R] {
	return func(c *config[V, R]) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

func newConfig[V, R any](opts []Option[V, R]) *config[V, R] {
	cfg := &config[V, R]{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
