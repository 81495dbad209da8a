package subgraph_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/dtx-subgraph/bus/query"
	"github.com/x-research-team/dtx-subgraph/subgraph"
)

const (
	tokenA = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
	tokenB = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

// wireRequest — тело запроса, полученное сервером.
type wireRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// subgraphServer — тестовый сабграф, отвечающий фиксированными данными.
type subgraphServer struct {
	*httptest.Server
	calls atomic.Int32

	mu       sync.Mutex
	requests []wireRequest
}

func newSubgraphServer(t *testing.T, delay time.Duration, respond func(req wireRequest) string) *subgraphServer {
	t.Helper()

	s := &subgraphServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req wireRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":%s}`, respond(req))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *subgraphServer) lastRequest(t *testing.T) wireRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.requests)
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, deployments []subgraph.Deployment, opts ...subgraph.Option) *subgraph.Client {
	t.Helper()
	client, err := subgraph.NewClient(deployments, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, client.Close(context.Background()))
	})
	return client
}

func tokensResponse(req wireRequest) string {
	list, _ := req.Variables["tokenList"].([]any)
	tokens := make([]string, 0, len(list))
	for _, id := range list {
		tokens = append(tokens, fmt.Sprintf(`{"id":%q,"symbol":"TKN","name":"Token","decimals":"18","derivedETH":"0.5","volumeUSD":"10","totalValueLockedUSD":"20"}`, id))
	}
	return `{"tokens":[` + strings.Join(tokens, ",") + `]}`
}

func TestDocuments(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		subgraph.OpAllV3Ticks,
		subgraph.OpDailyTokenPrices,
		subgraph.OpEthPrices,
		subgraph.OpFeeTierDistribution,
		subgraph.OpHourlyTokenPrices,
		subgraph.OpTokens,
	}, subgraph.Operations())

	for _, name := range subgraph.Operations() {
		doc, err := subgraph.Document(name)
		require.NoError(t, err)
		assert.Contains(t, doc, "query "+name+"(", "документ должен объявлять операцию %s", name)
	}

	_, err := subgraph.Document("swaps")
	require.ErrorIs(t, err, subgraph.ErrUnknownOperation)
}

// Пример из описания кеша: десять одновременных запросов токенов дают один сетевой вызов.
func TestEndpoint_Tokens_SingleFlight(t *testing.T) {
	t.Parallel()

	server := newSubgraphServer(t, 50*time.Millisecond, tokensResponse)
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.ForChain(1)
	require.NoError(t, err)

	chainID := int64(1)
	vars := subgraph.TokensVariables{ChainID: &chainID, TokenList: []string{tokenA, tokenB}}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]subgraph.TokensResult, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = endpoint.Tokens(context.Background(), vars)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), server.calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Tokens, 2)
		assert.Equal(t, strings.ToLower(tokenA), results[i].Tokens[0].ID)
		assert.Equal(t, "0.5", results[i].Tokens[0].DerivedETH)
	}

	req := server.lastRequest(t)
	assert.Contains(t, req.Query, "query tokens(")
	assert.Equal(t, float64(1), req.Variables["chainId"])
	assert.Equal(t, []any{strings.ToLower(tokenA), strings.ToLower(tokenB)}, req.Variables["tokenList"])
}

func TestEndpoint_RequestShapes(t *testing.T) {
	t.Parallel()

	server := newSubgraphServer(t, 0, func(req wireRequest) string {
		switch {
		case strings.Contains(req.Query, "query ethPrices("):
			return `{"current":[{"ethPriceUSD":"3000"}],"oneDay":[{"ethPriceUSD":"2900"}],"twoDay":[{"ethPriceUSD":"2800"}],"oneWeek":[{"ethPriceUSD":"2500"}]}`
		case strings.Contains(req.Query, "query hourlyTokenPrices("):
			return `{"tokenHourDatas":[{"timestamp":1700000000,"high":"2","low":"1","open":"1.5","close":"1.8"}]}`
		case strings.Contains(req.Query, "query dailyTokenPrices("):
			return `{"tokenDayDatas":[{"timestamp":1699920000,"high":"3","low":"1","open":"2","close":"2.5"}]}`
		case strings.Contains(req.Query, "query feeTierDistribution("):
			return `{"_meta":{"block":{"number":18000000}},"asToken0":[{"feeTier":"500","totalValueLockedToken0":"1","totalValueLockedToken1":"2"}],"asToken1":[]}`
		}
		return `{}`
	})
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.Endpoint("v3", 0)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ethPrices", func(t *testing.T) {
		res, err := endpoint.EthPrices(ctx, subgraph.EthPricesVariables{Block24: 100, Block48: 50, BlockWeek: 10})
		require.NoError(t, err)
		require.Len(t, res.OneWeek, 1)
		assert.Equal(t, "3000", res.Current[0].EthPriceUSD)
		assert.Equal(t, "2500", res.OneWeek[0].EthPriceUSD)

		req := server.lastRequest(t)
		assert.Equal(t, map[string]any{"block24": float64(100), "block48": float64(50), "blockWeek": float64(10)}, req.Variables)
	})

	t.Run("hourlyTokenPrices", func(t *testing.T) {
		address := tokenA
		start := int64(1699990000)
		res, err := endpoint.HourlyTokenPrices(ctx, subgraph.HourlyTokenPricesVariables{Address: &address, PeriodStartUnix: &start})
		require.NoError(t, err)
		require.Len(t, res.TokenHourDatas, 1)
		assert.Equal(t, int64(1700000000), res.TokenHourDatas[0].Timestamp)
		assert.Equal(t, "1.8", res.TokenHourDatas[0].Close)

		req := server.lastRequest(t)
		assert.Equal(t, map[string]any{"address": strings.ToLower(tokenA), "periodStartUnix": float64(start)}, req.Variables,
			"необязательные переменные без значения не передаются")
	})

	t.Run("dailyTokenPrices", func(t *testing.T) {
		res, err := endpoint.DailyTokenPrices(ctx, subgraph.DailyTokenPricesVariables{})
		require.NoError(t, err)
		require.Len(t, res.TokenDayDatas, 1)
		assert.Equal(t, "2.5", res.TokenDayDatas[0].Close)
		assert.Empty(t, server.lastRequest(t).Variables)
	})

	t.Run("feeTierDistribution", func(t *testing.T) {
		res, err := endpoint.FeeTierDistribution(ctx, subgraph.FeeTierDistributionVariables{Token0: tokenA, Token1: tokenB})
		require.NoError(t, err)
		assert.Equal(t, int64(18000000), res.Meta.Block.Number)
		require.Len(t, res.AsToken0, 1)
		assert.Equal(t, "500", res.AsToken0[0].FeeTier)
		assert.Empty(t, res.AsToken1)

		req := server.lastRequest(t)
		assert.Equal(t, strings.ToLower(tokenA), req.Variables["token0"])
		assert.Equal(t, strings.ToLower(tokenB), req.Variables["token1"])
	})
}

func TestEndpoint_MissingVariable(t *testing.T) {
	t.Parallel()

	server := newSubgraphServer(t, 0, tokensResponse)
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.ForChain(1)
	require.NoError(t, err)

	_, err = endpoint.Tokens(context.Background(), subgraph.TokensVariables{})
	require.ErrorIs(t, err, subgraph.ErrMissingVariable)
	require.ErrorIs(t, err, query.ErrDisabled)
	assert.Contains(t, err.Error(), "tokenList")

	_, err = endpoint.EthPrices(context.Background(), subgraph.EthPricesVariables{Block24: 1, Block48: 2})
	require.ErrorIs(t, err, subgraph.ErrMissingVariable)
	assert.Contains(t, err.Error(), "blockWeek")

	assert.Zero(t, server.calls.Load(), "запрос с незаданными переменными не должен уходить в сеть")

	// Записи создаются в состоянии Idle.
	for _, s := range client.Cache().Snapshot() {
		assert.Equal(t, query.StateIdle, s.State)
		assert.Equal(t, "v3/1", s.Key.Scope)
	}
	assert.Equal(t, 2, client.Cache().Len())
}

func TestEndpoint_InvalidAddress(t *testing.T) {
	t.Parallel()

	server := newSubgraphServer(t, 0, tokensResponse)
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.ForChain(1)
	require.NoError(t, err)

	_, err = endpoint.Tokens(context.Background(), subgraph.TokensVariables{TokenList: []string{tokenA, "0xnope"}})
	require.ErrorIs(t, err, subgraph.ErrInvalidAddress)
	assert.Contains(t, err.Error(), "tokenList[1]")

	_, err = endpoint.AllV3Ticks(context.Background(), subgraph.AllV3TicksVariables{PoolAddress: tokenA, Skip: -1})
	require.ErrorIs(t, err, subgraph.ErrInvalidVariable)

	assert.Zero(t, server.calls.Load())
	assert.Zero(t, client.Cache().Len())
}

// Адреса в разном регистре дают один ключ кеша.
func TestEndpoint_AddressNormalization(t *testing.T) {
	t.Parallel()

	server := newSubgraphServer(t, 0, tokensResponse)
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.ForChain(1)
	require.NoError(t, err)

	_, err = endpoint.Tokens(context.Background(), subgraph.TokensVariables{TokenList: []string{tokenA}})
	require.NoError(t, err)
	_, err = endpoint.Tokens(context.Background(), subgraph.TokensVariables{TokenList: []string{strings.ToLower(tokenA)}})
	require.NoError(t, err)

	assert.Equal(t, int32(1), server.calls.Load())
	assert.Equal(t, 1, client.Cache().Len())
}

// Укороченные адреса передаются в сабграф как есть, в нижнем регистре.
func TestEndpoint_ShortAddress(t *testing.T) {
	t.Parallel()

	server := newSubgraphServer(t, 0, tokensResponse)
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.ForChain(1)
	require.NoError(t, err)

	result, err := endpoint.Tokens(context.Background(), subgraph.TokensVariables{TokenList: []string{"0xABC"}})
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	assert.Equal(t, "0xabc", result.Tokens[0].ID)
	assert.Equal(t, []any{"0xabc"}, server.lastRequest(t).Variables["tokenList"])

	_, err = endpoint.Tokens(context.Background(), subgraph.TokensVariables{TokenList: []string{"0xabc"}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), server.calls.Load())

	for _, raw := range []string{"abc", "0x", "0xabg", "0x 1"} {
		_, err = endpoint.Tokens(context.Background(), subgraph.TokensVariables{TokenList: []string{raw}})
		require.ErrorIs(t, err, subgraph.ErrInvalidAddress, raw)
	}
	assert.Equal(t, int32(1), server.calls.Load())
}

func TestClient_Routing(t *testing.T) {
	t.Parallel()

	mainnet := newSubgraphServer(t, 0, tokensResponse)
	arbitrum := newSubgraphServer(t, 0, tokensResponse)
	v2 := newSubgraphServer(t, 0, tokensResponse)

	client := newTestClient(t, []subgraph.Deployment{
		{Name: "v3", ChainID: 1, URL: mainnet.URL},
		{Name: "v3", ChainID: 42161, URL: arbitrum.URL},
		{Name: "v2", ChainID: 1, URL: v2.URL},
	}, subgraph.WithDefaultDeployment("v3"))

	vars := subgraph.TokensVariables{TokenList: []string{tokenA}}

	endpoint, err := client.ForChain(42161)
	require.NoError(t, err)
	_, err = endpoint.Tokens(context.Background(), vars)
	require.NoError(t, err)

	endpoint, err = client.Endpoint("v2", 0)
	require.NoError(t, err)
	assert.Equal(t, "v2/1", endpoint.Deployment().Scope())
	_, err = endpoint.Tokens(context.Background(), vars)
	require.NoError(t, err)

	endpoint, err = client.ForChain(1)
	require.NoError(t, err)
	_, err = endpoint.Tokens(context.Background(), vars)
	require.NoError(t, err)

	assert.Equal(t, int32(1), mainnet.calls.Load())
	assert.Equal(t, int32(1), arbitrum.calls.Load())
	assert.Equal(t, int32(1), v2.calls.Load())
	assert.Equal(t, 3, client.Cache().Len(), "одинаковые переменные в разных развертываниях кешируются раздельно")

	_, err = client.ForChain(10)
	require.ErrorIs(t, err, subgraph.ErrUnknownDeployment)
	_, err = client.Endpoint("v3", 0)
	require.ErrorIs(t, err, subgraph.ErrUnknownDeployment, "имя с несколькими сетями требует chain id")
	_, err = client.Endpoint("v4", 1)
	require.ErrorIs(t, err, subgraph.ErrUnknownDeployment)
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		deployments []subgraph.Deployment
		opts        []subgraph.Option
		wantErr     string
	}{
		{name: "нет развертываний", wantErr: "не задано ни одного развертывания"},
		{
			name:        "пустое имя",
			deployments: []subgraph.Deployment{{ChainID: 1, URL: "http://localhost"}},
			wantErr:     "не задано имя",
		},
		{
			name:        "нет chain id",
			deployments: []subgraph.Deployment{{Name: "v3", URL: "http://localhost"}},
			wantErr:     "некорректный chain id",
		},
		{
			name: "повтор",
			deployments: []subgraph.Deployment{
				{Name: "v3", ChainID: 1, URL: "http://localhost"},
				{Name: "v3", ChainID: 1, URL: "http://localhost:8080"},
			},
			wantErr: "задано повторно",
		},
		{
			name:        "некорректный адрес",
			deployments: []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: "ftp://localhost"}},
			wantErr:     "неподдерживаемая схема",
		},
		{
			name:        "неизвестное развертывание по умолчанию",
			deployments: []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: "http://localhost"}},
			opts:        []subgraph.Option{subgraph.WithDefaultDeployment("v2")},
			wantErr:     "развертывание по умолчанию 'v2'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := subgraph.NewClient(tc.deployments, tc.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEndpoint_AllTicks(t *testing.T) {
	t.Parallel()

	const total = 2*subgraph.TicksPageSize + 17
	server := newSubgraphServer(t, 0, func(req wireRequest) string {
		skip := int(req.Variables["skip"].(float64))
		n := min(subgraph.TicksPageSize, total-skip)
		ticks := make([]string, 0, n)
		for i := range n {
			ticks = append(ticks, fmt.Sprintf(`{"tick":"%d","liquidityNet":"1","price0":"1.0001","price1":"0.9999"}`, skip+i))
		}
		return `{"ticks":[` + strings.Join(ticks, ",") + `]}`
	})
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.ForChain(1)
	require.NoError(t, err)

	ticks, err := endpoint.AllTicks(context.Background(), tokenB)
	require.NoError(t, err)
	require.Len(t, ticks, total)
	assert.Equal(t, "0", ticks[0].Tick)
	assert.Equal(t, fmt.Sprint(total-1), ticks[total-1].Tick)
	assert.Equal(t, int32(3), server.calls.Load())

	req := server.lastRequest(t)
	assert.Equal(t, strings.ToLower(tokenB), req.Variables["poolAddress"])
	assert.Equal(t, float64(2*subgraph.TicksPageSize), req.Variables["skip"])

	_, err = endpoint.AllTicks(context.Background(), "")
	require.ErrorIs(t, err, subgraph.ErrMissingVariable)
}

func TestEndpoint_Invalidate(t *testing.T) {
	t.Parallel()

	server := newSubgraphServer(t, 0, tokensResponse)
	client := newTestClient(t, []subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}})
	endpoint, err := client.ForChain(1)
	require.NoError(t, err)

	vars := subgraph.TokensVariables{TokenList: []string{tokenA}}
	_, err = endpoint.Tokens(context.Background(), vars)
	require.NoError(t, err)

	assert.Equal(t, 1, endpoint.Invalidate(subgraph.OpTokens))
	assert.Zero(t, endpoint.Invalidate(subgraph.OpEthPrices))

	_, err = endpoint.Tokens(context.Background(), vars)
	require.NoError(t, err)
	assert.Equal(t, int32(2), server.calls.Load(), "после инвалидации выполняется новый запрос")
}

// Общий кеш не закрывается клиентом.
func TestClient_SharedCache(t *testing.T) {
	t.Parallel()

	cache := query.NewCache()
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	server := newSubgraphServer(t, 0, tokensResponse)
	client, err := subgraph.NewClient([]subgraph.Deployment{{Name: "v3", ChainID: 1, URL: server.URL}},
		subgraph.WithCache(cache),
		subgraph.WithFetchOptions(query.WithStaleTime(time.Minute)),
	)
	require.NoError(t, err)
	assert.Same(t, cache, client.Cache())

	endpoint, err := client.ForChain(1)
	require.NoError(t, err)
	_, err = endpoint.Tokens(context.Background(), subgraph.TokensVariables{TokenList: []string{tokenA}})
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, query.StateSuccess, cache.Snapshot()[0].State)
}
