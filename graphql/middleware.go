package graphql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/x-research-team/dtx-subgraph/graphql"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "graphql.client."
)

// Middleware определяет интерфейс для middleware исполнителя запросов.
type Middleware interface {
	Wrap(next Executor) Executor
}

// MiddlewareFunc является адаптером, позволяющим использовать обычные функции как middleware.
type MiddlewareFunc func(next Executor) Executor

// Wrap реализует интерфейс Middleware.
func (f MiddlewareFunc) Wrap(next Executor) Executor {
	return f(next)
}

// loggingMiddleware реализует Middleware для логирования запросов.
type loggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware создает новое middleware для логирования.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		return &noopMiddleware{}
	}
	return &loggingMiddleware{logger: logger}
}

// Wrap оборачивает исполнителя для добавления логирования.
func (m *loggingMiddleware) Wrap(next Executor) Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) (resp *Response, err error) {
		startTime := time.Now()
		m.logger.Debug("отправка запроса к сабграфу", slog.String("operation", req.Name()))

		resp, err = next.Execute(ctx, req)

		duration := time.Since(startTime)
		if err != nil {
			m.logger.Error("ошибка запроса к сабграфу",
				slog.String("operation", req.Name()),
				slog.String("outcome", Outcome(err)),
				slog.Any("error", err),
				slog.Duration("duration", duration),
			)
			return resp, err
		}
		m.logger.Debug("запрос к сабграфу выполнен",
			slog.String("operation", req.Name()),
			slog.Duration("duration", duration),
		)
		return resp, nil
	})
}

// metricsMiddleware реализует Middleware для сбора метрик OpenTelemetry.
type metricsMiddleware struct {
	requestCounter metric.Int64Counter
	durationHist   metric.Float64Histogram
}

// NewMetricsMiddleware создает новое middleware для сбора метрик.
func NewMetricsMiddleware(provider metric.MeterProvider) Middleware {
	if provider == nil {
		return &noopMiddleware{}
	}

	meter := provider.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))

	requestCounter, err := meter.Int64Counter(
		metricKeyPrefix+"request.count",
		metric.WithDescription("Количество запросов к GraphQL-эндпоинтам"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик request.count: %v", err))
	}

	durationHist, err := meter.Float64Histogram(
		metricKeyPrefix+"request.duration",
		metric.WithDescription("Длительность запроса к GraphQL-эндпоинту"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать гистограмму request.duration: %v", err))
	}

	return &metricsMiddleware{
		requestCounter: requestCounter,
		durationHist:   durationHist,
	}
}

// Wrap оборачивает исполнителя для добавления сбора метрик.
func (m *metricsMiddleware) Wrap(next Executor) Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) (*Response, error) {
		startTime := time.Now()
		resp, err := next.Execute(ctx, req)
		duration := float64(time.Since(startTime).Milliseconds())

		attrs := metric.WithAttributes(
			attribute.String("graphql.operation.name", req.Name()),
			attribute.String("outcome", Outcome(err)),
		)
		m.requestCounter.Add(ctx, 1, attrs)
		m.durationHist.Record(ctx, duration, attrs)

		return resp, err
	})
}

// tracingMiddleware реализует Middleware для распределенной трассировки OpenTelemetry.
type tracingMiddleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingMiddleware создает новое middleware для трассировки.
func NewTracingMiddleware(tp trace.TracerProvider, p propagation.TextMapPropagator) Middleware {
	if tp == nil {
		return &noopMiddleware{}
	}
	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}
	return &tracingMiddleware{
		tracer: tp.Tracer(
			instrumentationName,
			trace.WithInstrumentationVersion(instrumentationVersion),
		),
		propagator: p,
	}
}

// Wrap создает клиентский спан на каждый запрос и инъецирует контекст
// трассировки в заголовки.
func (m *tracingMiddleware) Wrap(next Executor) Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) (resp *Response, err error) {
		ctx, span := m.tracer.Start(ctx, "graphql "+req.Name(),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("graphql.operation.name", req.Name()),
				attribute.String("graphql.operation.type", "query"),
			),
		)
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, Outcome(err))
			}
			span.End()
		}()

		carrier := propagation.MapCarrier{}
		m.propagator.Inject(ctx, carrier)

		return next.Execute(ctx, req.withHeaders(carrier))
	})
}

// applyMiddlewares применяет цепочку middleware к базовому исполнителю.
// Первое middleware в списке оказывается внешним.
func applyMiddlewares(exec Executor, middlewares ...Middleware) Executor {
	e := exec
	for i := len(middlewares) - 1; i >= 0; i-- {
		e = middlewares[i].Wrap(e)
	}
	return e
}

// noopMiddleware представляет собой пустое middleware.
type noopMiddleware struct{}

// Wrap просто возвращает следующего исполнителя без изменений.
func (m *noopMiddleware) Wrap(next Executor) Executor {
	return next
}
