package query

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/x-research-team/dtx-subgraph/graphql"
)

// Registry - это потокобезопасный реестр диспетчеров, работающих поверх одного кеша.
// Он гарантирует, что для каждой пары (область, имя операции) существует
// только один экземпляр диспетчера.
type Registry struct {
	cache       *Cache
	dispatchers map[string]any
	mu          sync.RWMutex
}

// NewRegistry создает новый экземпляр реестра диспетчеров.
func NewRegistry(cache *Cache) *Registry {
	return &Registry{
		cache:       cache,
		dispatchers: make(map[string]any),
	}
}

// Cache возвращает кеш реестра.
func (r *Registry) Cache() *Cache {
	return r.cache
}

// Len возвращает число зарегистрированных диспетчеров.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dispatchers)
}

// Dispatcher возвращает строго типизированный диспетчер операции name.
// Если диспетчер с той же областью и именем уже существует, он будет возвращен,
// а exec, document и остальные опции проигнорированы.
// В противном случае будет создан, сохранен в реестре и возвращен новый экземпляр.
func Dispatcher[V, R any](r *Registry, exec graphql.Executor, name, document string, opts ...Option[V, R]) (IDispatcher[V, R], error) {
	id := registryID(newConfig(opts).scope, name)

	r.mu.RLock()
	dispatcher, exists := r.dispatchers[id]
	r.mu.RUnlock()

	if exists {
		return typedDispatcher[V, R](id, dispatcher)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Повторная проверка на случай, если диспетчер был создан во время ожидания блокировки.
	if dispatcher, exists := r.dispatchers[id]; exists {
		return typedDispatcher[V, R](id, dispatcher)
	}

	newDispatcher, err := NewDispatcher(r.cache, exec, name, document, opts...)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать новый диспетчер: %w", err)
	}
	r.dispatchers[id] = newDispatcher

	return newDispatcher, nil
}

// Shutdown корректно завершает работу всех зарегистрированных диспетчеров.
// Кеш реестра не закрывается.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, dispatcher := range r.dispatchers {
		if d, ok := dispatcher.(interface{ Shutdown(context.Context) error }); ok {
			if err := d.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("ошибка при завершении работы диспетчера '%s': %w", id, err))
			}
		}
	}
	clear(r.dispatchers)

	return errors.Join(errs...)
}

func typedDispatcher[V, R any](id string, dispatcher any) (IDispatcher[V, R], error) {
	if typed, ok := dispatcher.(IDispatcher[V, R]); ok {
		return typed, nil
	}
	return nil, fmt.Errorf("диспетчер для запроса '%s' уже существует с другим типом", id)
}

func registryID(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "/" + name
}
