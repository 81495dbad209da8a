package query

import (
	"context"
	"slices"

	"github.com/x-research-team/dtx-subgraph/graphql"
)

// Provider определяет контракт для сменных механизмов выполнения именованной операции.
type Provider[V, R any] interface {
	// Operation возвращает имя операции.
	Operation() string

	// Dispatch выполняет операцию с переменными vars.
	Dispatch(ctx context.Context, vars V, opts ...FetchOption) (R, error)

	// Shutdown корректно завершает работу провайдера.
	Shutdown(ctx context.Context) error
}

// localProvider выполняет операцию через кеш запросов текущего процесса.
type localProvider[V, R any] struct {
	cache          *Cache
	exec           graphql.Executor
	name           string
	document       string
	scope          string
	fetchOptions   []FetchOption
	requestOptions []graphql.RequestOption
}

// newLocalProvider создает новый экземпляр локального провайдера.
func newLocalProvider[V, R any](cache *Cache, exec graphql.Executor, name, document string, cfg *config[V, R]) *localProvider[V, R] {
	return &localProvider[V, R]{
		cache:          cache,
		exec:           exec,
		name:           name,
		document:       document,
		scope:          cfg.scope,
		fetchOptions:   cfg.fetchOptions,
		requestOptions: cfg.requestOptions,
	}
}

// Operation возвращает имя операции.
func (p *localProvider[V, R]) Operation() string {
	return p.name
}

// Key строит ключ кеша для переменных vars.
func (p *localProvider[V, R]) Key(vars V) (Key, error) {
	key, err := NewKey(p.name, vars)
	if err != nil {
		return Key{}, err
	}
	return key.WithScope(p.scope), nil
}

// Dispatch строит запрос и получает результат через кеш.
func (p *localProvider[V, R]) Dispatch(ctx context.Context, vars V, opts ...FetchOption) (R, error) {
	key, err := p.Key(vars)
	if err != nil {
		var zero R
		return zero, err
	}

	req := graphql.NewRequest(p.name, p.document, vars, p.requestOptions...)
	fetch := graphql.Build[R](p.exec, req)
	return Get(ctx, p.cache, key, fetch, slices.Concat(p.fetchOptions, opts)...)
}

// Shutdown в данной реализации не выполняет никаких действий: кеш
// принадлежит вызывающей стороне.
func (p *localProvider[V, R]) Shutdown(ctx context.Context) error {
	return nil
}
