package graphql

import (
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 32 << 20
)

// config содержит неэкспортируемую конфигурацию клиента.
type config struct {
	doer             Doer
	timeout          time.Duration
	headers          map[string]string
	maxResponseBytes int64
	logger           *slog.Logger
	tracerProvider   trace.TracerProvider
	meterProvider    metric.MeterProvider
	propagator       propagation.TextMapPropagator
	middlewares      []Middleware
}

// Option определяет функциональную опцию клиента.
type Option func(*config)

// WithHTTPDoer заменяет HTTP-клиент, через который выполняются запросы.
func WithHTTPDoer(doer Doer) Option {
	return func(c *config) {
		c.doer = doer
	}
}

// WithTimeout устанавливает таймаут HTTP-запроса. Применяется только к *http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

// WithHeader добавляет заголовок ко всем запросам клиента.
func WithHeader(key, value string) Option {
	return func(c *config) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// WithHeaders добавляет несколько заголовков ко всем запросам клиента.
func WithHeaders(headers map[string]string) Option {
	return func(c *config) {
		if c.headers == nil {
			c.headers = make(map[string]string, len(headers))
		}
		maps.Copy(c.headers, headers)
	}
}

// WithMaxResponseBytes ограничивает размер читаемого тела ответа.
func WithMaxResponseBytes(limit int64) Option {
	return func(c *config) {
		c.maxResponseBytes = limit
	}
}

// WithLogger устанавливает логгер клиента.
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

// WithPropagator устанавливает механизм распространения контекста трассировки
// в заголовки исходящих запросов.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagator = propagator
	}
}

// WithMiddleware добавляет middleware в цепочку выполнения запросов.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) {
		c.middlewares = append(c.middlewares, mw...)
	}
}
