package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-reflect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/x-research-team/dtx-subgraph/bus/query"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "query."
)

// Middleware определяет интерфейс для middleware диспетчера запросов.
type Middleware[V, R any] interface {
	Wrap(next Provider[V, R]) Provider[V, R]
}

// MiddlewareFunc является адаптером, позволяющим использовать обычные функции как middleware.
type MiddlewareFunc[V, R any] func(next Provider[V, R]) Provider[V, R]

// Wrap реализует интерфейс Middleware.
func (f MiddlewareFunc[V, R]) Wrap(next Provider[V, R]) Provider[V, R] {
	return f(next)
}

// loggingMiddleware реализует Middleware для логирования операций.
type loggingMiddleware[V, R any] struct {
	logger *slog.Logger
}

// NewLoggingMiddleware создает новое middleware для логирования.
// Если логгер не предоставлен (nil), возвращается no-op middleware.
func NewLoggingMiddleware[V, R any](logger *slog.Logger) Middleware[V, R] {
	if logger == nil {
		return &noopMiddleware[V, R]{}
	}
	return &loggingMiddleware[V, R]{
		logger: logger,
	}
}

// Wrap оборачивает провайдер для добавления логирования.
func (m *loggingMiddleware[V, R]) Wrap(next Provider[V, R]) Provider[V, R] {
	return &loggingProvider[V, R]{
		next:   next,
		logger: m.logger,
	}
}

// loggingProvider - это обертка над провайдером, которая добавляет логирование.
type loggingProvider[V, R any] struct {
	next   Provider[V, R]
	logger *slog.Logger
}

// Operation делегирует вызов.
func (p *loggingProvider[V, R]) Operation() string {
	return p.next.Operation()
}

// Dispatch логирует и выполняет операцию.
func (p *loggingProvider[V, R]) Dispatch(ctx context.Context, vars V, opts ...FetchOption) (result R, err error) {
	name := p.next.Operation()
	varsType := getVariablesType(vars)
	p.logger.Debug("отправка запроса", slog.String("query_name", name), slog.String("variables_type", varsType))

	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime)
		switch status := dispatchStatus(err); status {
		case "success":
		case "disabled", "canceled":
			p.logger.Debug("запрос не выполнен",
				slog.String("query_name", name),
				slog.String("status", status),
				slog.Duration("duration", duration),
			)
		default:
			p.logger.Error("ошибка выполнения запроса",
				slog.String("query_name", name),
				slog.String("variables_type", varsType),
				slog.Any("error", err),
				slog.Duration("duration", duration),
			)
		}
	}()

	return p.next.Dispatch(ctx, vars, opts...)
}

// Shutdown делегирует вызов следующему провайдеру в цепочке.
func (p *loggingProvider[V, R]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

// metricsMiddleware реализует Middleware для сбора метрик OpenTelemetry.
type metricsMiddleware[V, R any] struct {
	dispatchCounter  metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

// NewMetricsMiddleware создает новое middleware для сбора метрик.
func NewMetricsMiddleware[V, R any](provider metric.MeterProvider) Middleware[V, R] {
	if provider == nil {
		return &noopMiddleware[V, R]{}
	}

	meter := provider.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))

	dispatchCounter, err := meter.Int64Counter(
		metricKeyPrefix+"dispatch.count",
		metric.WithDescription("Количество выполненных через кеш запросов"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик dispatch.count: %v", err))
	}

	dispatchDuration, err := meter.Float64Histogram(
		metricKeyPrefix+"dispatch.duration",
		metric.WithDescription("Длительность получения результата запроса"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать гистограмму dispatch.duration: %v", err))
	}

	return &metricsMiddleware[V, R]{
		dispatchCounter:  dispatchCounter,
		dispatchDuration: dispatchDuration,
	}
}

// Wrap оборачивает провайдер для добавления сбора метрик.
func (m *metricsMiddleware[V, R]) Wrap(next Provider[V, R]) Provider[V, R] {
	return &metricsProvider[V, R]{
		next:             next,
		dispatchCounter:  m.dispatchCounter,
		dispatchDuration: m.dispatchDuration,
	}
}

// metricsProvider - это обертка над провайдером, которая собирает метрики.
type metricsProvider[V, R any] struct {
	next             Provider[V, R]
	dispatchCounter  metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

// Operation делегирует вызов.
func (p *metricsProvider[V, R]) Operation() string {
	return p.next.Operation()
}

// Dispatch собирает метрики и выполняет операцию.
func (p *metricsProvider[V, R]) Dispatch(ctx context.Context, vars V, opts ...FetchOption) (R, error) {
	startTime := time.Now()
	result, err := p.next.Dispatch(ctx, vars, opts...)
	duration := float64(time.Since(startTime).Milliseconds())

	attrs := metric.WithAttributes(
		attribute.String("query.name", p.next.Operation()),
		attribute.String("status", dispatchStatus(err)),
	)
	p.dispatchCounter.Add(ctx, 1, attrs)
	p.dispatchDuration.Record(ctx, duration, attrs)

	return result, err
}

// Shutdown делегирует вызов.
func (p *metricsProvider[V, R]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

// tracingMiddleware реализует Middleware для распределенной трассировки OpenTelemetry.
type tracingMiddleware[V, R any] struct {
	tracer trace.Tracer
}

// NewTracingMiddleware создает новое middleware для трассировки.
func NewTracingMiddleware[V, R any](tp trace.TracerProvider) Middleware[V, R] {
	if tp == nil {
		return &noopMiddleware[V, R]{}
	}

	return &tracingMiddleware[V, R]{
		tracer: tp.Tracer(
			instrumentationName,
			trace.WithInstrumentationVersion(instrumentationVersion),
		),
	}
}

// Wrap оборачивает провайдер для добавления логики трассировки.
func (m *tracingMiddleware[V, R]) Wrap(next Provider[V, R]) Provider[V, R] {
	return &tracingProvider[V, R]{
		next:   next,
		tracer: m.tracer,
	}
}

// tracingProvider - это обертка над провайдером, которая управляет спанами трассировки.
type tracingProvider[V, R any] struct {
	next   Provider[V, R]
	tracer trace.Tracer
}

// Operation делегирует вызов.
func (p *tracingProvider[V, R]) Operation() string {
	return p.next.Operation()
}

// Dispatch создает внутренний спан на время получения результата. Спан
// загрузки, запущенной этим вызовом, становится его дочерним.
func (p *tracingProvider[V, R]) Dispatch(ctx context.Context, vars V, opts ...FetchOption) (result R, err error) {
	name := p.next.Operation()
	ctx, span := p.tracer.Start(ctx, "query "+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("query.name", name),
			attribute.String("query.variables.type", getVariablesType(vars)),
		),
	)
	defer func() {
		span.SetAttributes(attribute.String("query.status", dispatchStatus(err)))
		if err != nil && !errors.Is(err, ErrDisabled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return p.next.Dispatch(ctx, vars, opts...)
}

// Shutdown делегирует вызов.
func (p *tracingProvider[V, R]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

// applyMiddlewares применяет цепочку middleware к базовому провайдеру.
func applyMiddlewares[V, R any](provider Provider[V, R], middlewares ...Middleware[V, R]) Provider[V, R] {
	p := provider
	for i := len(middlewares) - 1; i >= 0; i-- {
		p = middlewares[i].Wrap(p)
	}
	return p
}

// noopMiddleware представляет собой пустое middleware.
type noopMiddleware[V, R any] struct{}

// Wrap просто возвращает следующий провайдер без изменений.
func (m *noopMiddleware[V, R]) Wrap(next Provider[V, R]) Provider[V, R] {
	return next
}

// dispatchStatus классифицирует результат выполнения для логов и метрик.
func dispatchStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// getVariablesType возвращает имя типа переменных с помощью рефлексии.
func getVariablesType(vars any) string {
	t := reflect.TypeOf(vars)
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
