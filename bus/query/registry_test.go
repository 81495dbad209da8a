package query_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/dtx-subgraph/bus/query"
	"github.com/x-research-team/dtx-subgraph/graphql"
)

// Переменные другого типа для проверки несовпадения типов.
type ethPricesVars struct {
	Block24 int `json:"block24"`
}

func noopExecutor() graphql.Executor {
	return graphql.ExecutorFunc(func(ctx context.Context, req graphql.Request) (*graphql.Response, error) {
		return &graphql.Response{Data: []byte(`{}`)}, nil
	})
}

// Тест успешного получения диспетчера из реестра.
func TestRegistry_Dispatcher_Success(t *testing.T) {
	t.Parallel()

	registry := query.NewRegistry(newTestCache(t))

	// Получаем диспетчер в первый раз.
	dispatcher1, err := query.Dispatcher[tokensVars, *tokensResult](registry, noopExecutor(), "tokens", tokensDocument)
	require.NoError(t, err, "Первое получение диспетчера не должно вызывать ошибку")
	require.NotNil(t, dispatcher1, "Диспетчер не должен быть nil")

	// Получаем диспетчер во второй раз.
	dispatcher2, err := query.Dispatcher[tokensVars, *tokensResult](registry, noopExecutor(), "tokens", tokensDocument)
	require.NoError(t, err, "Второе получение диспетчера не должно вызывать ошибку")

	// Проверяем, что это один и тот же экземпляр.
	assert.Same(t, dispatcher1, dispatcher2, "Реестр должен возвращать один и тот же экземпляр диспетчера для одного имени")
	assert.Equal(t, 1, registry.Len())
}

// Тест разделения диспетчеров по областям.
func TestRegistry_Dispatcher_Scopes(t *testing.T) {
	t.Parallel()

	registry := query.NewRegistry(newTestCache(t))

	mainnet, err := query.Dispatcher(registry, noopExecutor(), "tokens", tokensDocument,
		query.WithScope[tokensVars, *tokensResult]("v3/1"))
	require.NoError(t, err)
	goerli, err := query.Dispatcher(registry, noopExecutor(), "tokens", tokensDocument,
		query.WithScope[tokensVars, *tokensResult]("v3/5"))
	require.NoError(t, err)

	assert.NotSame(t, mainnet, goerli, "разные области должны давать разные диспетчеры")
	assert.Equal(t, 2, registry.Len())
	assert.Same(t, registry.Cache(), registry.Cache())
}

// Тест ошибки при несовпадении типов в реестре.
func TestRegistry_Dispatcher_TypeMismatch(t *testing.T) {
	t.Parallel()

	registry := query.NewRegistry(newTestCache(t))
	queryName := "tokens"

	// Регистрируем диспетчер с одним типом.
	_, err := query.Dispatcher[tokensVars, *tokensResult](registry, noopExecutor(), queryName, tokensDocument)
	require.NoError(t, err, "Регистрация первого диспетчера не должна вызывать ошибку")

	// Пытаемся получить диспетчер с другим типом.
	_, err = query.Dispatcher[ethPricesVars, *tokensResult](registry, noopExecutor(), queryName, tokensDocument)

	// Проверяем ошибку.
	require.Error(t, err, "Получение диспетчера с другим типом должно вызывать ошибку")
	assert.Equal(t, fmt.Sprintf("диспетчер для запроса '%s' уже существует с другим типом", queryName), err.Error())
}

// Тест ошибки создания диспетчера.
func TestRegistry_Dispatcher_InvalidArguments(t *testing.T) {
	t.Parallel()

	registry := query.NewRegistry(newTestCache(t))

	_, err := query.Dispatcher[tokensVars, *tokensResult](registry, nil, "tokens", tokensDocument)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "не удалось создать новый диспетчер")
	assert.Zero(t, registry.Len())
}

// Тест на потокобезопасность реестра.
func TestRegistry_Dispatcher_Concurrency(t *testing.T) {
	t.Parallel()

	registry := query.NewRegistry(newTestCache(t))
	goroutines := 100
	var wg sync.WaitGroup
	wg.Add(goroutines)

	// Массив для хранения полученных диспетчеров.
	dispatchers := make([]query.IDispatcher[tokensVars, *tokensResult], goroutines)

	// Запускаем множество горутин для одновременного получения диспетчера.
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			dispatcher, err := query.Dispatcher[tokensVars, *tokensResult](registry, noopExecutor(), "tokens", tokensDocument)
			assert.NoError(t, err)
			dispatchers[i] = dispatcher
		}(i)
	}

	wg.Wait()

	// Проверяем, что все горутины получили один и тот же экземпляр диспетчера.
	firstDispatcher := dispatchers[0]
	require.NotNil(t, firstDispatcher)
	for i := 1; i < goroutines; i++ {
		assert.Same(t, firstDispatcher, dispatchers[i], "Все горутины должны получать один и тот же экземпляр диспетчера")
	}
}

// Тест завершения работы реестра.
func TestRegistry_Shutdown(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	registry := query.NewRegistry(cache)

	_, err := query.Dispatcher[tokensVars, *tokensResult](registry, noopExecutor(), "tokens", tokensDocument)
	require.NoError(t, err)

	require.NoError(t, registry.Shutdown(context.Background()))
	assert.Zero(t, registry.Len())

	// Кеш реестра остается открытым.
	require.NoError(t, query.SetData(cache, tokensKey(t), &tokensResult{}))
}
