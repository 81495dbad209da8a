package query

import (
	"context"
	"errors"

	"github.com/x-research-team/dtx-subgraph/graphql"
)

// IDispatcher определяет строго типизированный интерфейс именованной операции:
// переменные типа V, результат типа R.
type IDispatcher[V, R any] interface {
	// Name возвращает имя операции.
	Name() string

	// Dispatch возвращает результат операции для переменных vars, используя кеш.
	// Одновременные вызовы с равными переменными выполняют один сетевой запрос.
	Dispatch(ctx context.Context, vars V, opts ...FetchOption) (R, error)

	// Prefetch загружает результат в кеш, не возвращая его.
	Prefetch(ctx context.Context, vars V, opts ...FetchOption) error

	// Invalidate помечает результат для vars устаревшим.
	// Возвращает false, если результата в кеше нет.
	Invalidate(vars V) (bool, error)

	// Key возвращает ключ кеша для vars.
	Key(vars V) (Key, error)
}

// dispatcher представляет собой потокобезопасную реализацию IDispatcher.
type dispatcher[V, R any] struct {
	cache    *Cache
	local    *localProvider[V, R]
	provider Provider[V, R]
}

// NewDispatcher создает диспетчер операции name с документом document,
// выполняемой через exec и кешируемой в cache.
// По умолчанию к провайдеру применяются middleware логирования, метрик
// и трассировки, если заданы соответствующие опции.
func NewDispatcher[V, R any](cache *Cache, exec graphql.Executor, name, document string, opts ...Option[V, R]) (IDispatcher[V, R], error) {
	switch {
	case cache == nil:
		return nil, errors.New("кеш не может быть nil")
	case exec == nil:
		return nil, errors.New("исполнитель запросов не может быть nil")
	case name == "":
		return nil, errors.New("имя операции не может быть пустым")
	case document == "":
		return nil, errors.New("документ операции не может быть пустым")
	}

	cfg := newConfig(opts)
	local := newLocalProvider(cache, exec, name, document, cfg)

	middlewares := append([]Middleware[V, R]{
		NewLoggingMiddleware[V, R](cfg.logger),
		NewMetricsMiddleware[V, R](cfg.meterProvider),
		NewTracingMiddleware[V, R](cfg.tracerProvider),
	}, cfg.middlewares...)

	return &dispatcher[V, R]{
		cache:    cache,
		local:    local,
		provider: applyMiddlewares[V, R](local, middlewares...),
	}, nil
}

// Name возвращает имя операции.
func (d *dispatcher[V, R]) Name() string {
	return d.local.name
}

// Dispatch выполняет операцию через цепочку middleware.
func (d *dispatcher[V, R]) Dispatch(ctx context.Context, vars V, opts ...FetchOption) (R, error) {
	return d.provider.Dispatch(ctx, vars, opts...)
}

// Prefetch загружает результат в кеш.
func (d *dispatcher[V, R]) Prefetch(ctx context.Context, vars V, opts ...FetchOption) error {
	_, err := d.provider.Dispatch(ctx, vars, opts...)
	return err
}

// Invalidate помечает результат для vars устаревшим.
func (d *dispatcher[V, R]) Invalidate(vars V) (bool, error) {
	key, err := d.local.Key(vars)
	if err != nil {
		return false, err
	}
	return d.cache.Invalidate(key), nil
}

// Key возвращает ключ кеша для vars.
func (d *dispatcher[V, R]) Key(vars V) (Key, error) {
	return d.local.Key(vars)
}

// Shutdown завершает работу цепочки провайдеров.
func (d *dispatcher[V, R]) Shutdown(ctx context.Context) error {
	return d.provider.Shutdown(ctx)
}
