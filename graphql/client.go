package graphql

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"
)

// Doer - минимальный интерфейс HTTP-клиента. Ему удовлетворяет *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Executor выполняет один запрос и возвращает конверт ответа.
// Реализации возвращают *TransportError, *GraphQLError или *DecodeError.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// ExecutorFunc является адаптером, позволяющим использовать обычные функции как Executor.
type ExecutorFunc func(ctx context.Context, req Request) (*Response, error)

// Execute реализует интерфейс Executor.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Client выполняет GraphQL-запросы к одному эндпоинту.
type Client struct {
	endpoint string
	executor Executor
}

// NewClient создает клиента для указанного эндпоинта. Middleware логирования,
// метрик и трассировки подключаются автоматически, если заданы соответствующие опции.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("некорректный адрес эндпоинта %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("неподдерживаемая схема эндпоинта %q", endpoint)
	}

	cfg := &config{
		timeout:          defaultTimeout,
		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	doer := cfg.doer
	switch d := doer.(type) {
	case nil:
		doer = &http.Client{Timeout: cfg.timeout}
	case *http.Client:
		if cfg.timeout > 0 && d.Timeout != cfg.timeout {
			clone := *d
			clone.Timeout = cfg.timeout
			doer = &clone
		}
	}
	if cfg.maxResponseBytes <= 0 {
		cfg.maxResponseBytes = defaultMaxResponseBytes
	}

	base := &httpExecutor{
		endpoint: endpoint,
		doer:     doer,
		headers:  cfg.headers,
		maxBytes: cfg.maxResponseBytes,
	}

	all := []Middleware{
		NewLoggingMiddleware(cfg.logger),
		NewMetricsMiddleware(cfg.meterProvider),
		NewTracingMiddleware(cfg.tracerProvider, cfg.propagator),
	}
	all = append(all, cfg.middlewares...)

	return &Client{
		endpoint: endpoint,
		executor: applyMiddlewares(base, all...),
	}, nil
}

// Endpoint возвращает адрес эндпоинта клиента.
func (c *Client) Endpoint() string { return c.endpoint }

// Execute выполняет ровно один HTTP-запрос.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	return c.executor.Execute(ctx, req)
}

// httpExecutor - базовый исполнитель, отправляющий POST-запрос с JSON-телом.
type httpExecutor struct {
	endpoint string
	doer     Doer
	headers  map[string]string
	maxBytes int64
}

func (e *httpExecutor) Execute(ctx context.Context, req Request) (*Response, error) {
	variables := req.Variables()
	if variables == nil {
		variables = map[string]any{}
	}
	body, err := json.Marshal(payload{Query: req.Document(), Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать переменные запроса '%s': %w", req.Name(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range e.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.doer.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}
	if int64(len(raw)) > e.maxBytes {
		if isSuccess(resp.StatusCode) {
			return nil, &DecodeError{Err: ErrResponseTooLarge, Body: snippet(raw)}
		}
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Err: ErrResponseTooLarge}
	}

	return parseResponse(resp.StatusCode, resp.Status, raw)
}

// parseResponse классифицирует ответ: массив errors имеет приоритет над
// HTTP-статусом, неуспешный статус без errors считается ошибкой транспорта.
func parseResponse(statusCode int, status string, raw []byte) (*Response, error) {
	var out Response
	decodeErr := json.Unmarshal(raw, &out)

	if decodeErr == nil && len(out.Errors) > 0 {
		return nil, &GraphQLError{
			StatusCode: statusCode,
			Errors:     out.Errors,
			Data:       out.Data,
		}
	}
	if !isSuccess(statusCode) {
		return nil, &TransportError{StatusCode: statusCode, Status: status}
	}
	if decodeErr != nil {
		return nil, &DecodeError{Err: decodeErr, Body: snippet(raw)}
	}
	if isNull(out.Data) {
		return nil, &DecodeError{Err: ErrNoData, Body: snippet(raw)}
	}
	return &out, nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
