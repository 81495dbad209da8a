package subgraph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/x-research-team/dtx-subgraph/bus/query"
	"github.com/x-research-team/dtx-subgraph/graphql"
)

// TicksPageSize — размер страницы операции allV3Ticks.
const TicksPageSize = 1000

// Deployment описывает одно развертывание сабграфа.
type Deployment struct {
	// Name — имя развертывания, например версия протокола.
	Name string
	// ChainID — идентификатор сети.
	ChainID int64
	// URL — адрес GraphQL-эндпоинта.
	URL string
}

// Scope возвращает область ключей кеша развертывания.
func (d Deployment) Scope() string {
	return d.Name + "/" + strconv.FormatInt(d.ChainID, 10)
}

// Client направляет именованные операции в развертывания сабграфа.
// Все развертывания используют один кеш, ключи которого разделены областями.
type Client struct {
	cfg         *config
	cache       *query.Cache
	ownsCache   bool
	registry    *query.Registry
	endpoints   []*Endpoint
	defaultName string
}

// NewClient создает клиента для набора развертываний.
func NewClient(deployments []Deployment, opts ...Option) (*Client, error) {
	if len(deployments) == 0 {
		return nil, errors.New("не задано ни одного развертывания сабграфа")
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	graphqlOptions := []graphql.Option{
		graphql.WithLogger(cfg.logger),
		graphql.WithTracerProvider(cfg.tracerProvider),
		graphql.WithMeterProvider(cfg.meterProvider),
	}
	graphqlOptions = append(graphqlOptions, cfg.graphqlOptions...)

	c := &Client{cfg: cfg}
	seen := make(map[string]struct{}, len(deployments))
	for i, d := range deployments {
		switch {
		case d.Name == "":
			return nil, fmt.Errorf("развертывание #%d: не задано имя", i)
		case d.ChainID <= 0:
			return nil, fmt.Errorf("развертывание '%s': некорректный chain id %d", d.Name, d.ChainID)
		}
		if _, dup := seen[d.Scope()]; dup {
			return nil, fmt.Errorf("развертывание '%s' задано повторно", d.Scope())
		}
		seen[d.Scope()] = struct{}{}

		exec, err := graphql.NewClient(d.URL, graphqlOptions...)
		if err != nil {
			return nil, fmt.Errorf("развертывание '%s': %w", d.Scope(), err)
		}
		c.endpoints = append(c.endpoints, &Endpoint{client: c, deployment: d, exec: exec})
	}

	c.defaultName = cfg.defaultDeployment
	if c.defaultName == "" {
		c.defaultName = deployments[0].Name
	}
	if !slices.ContainsFunc(deployments, func(d Deployment) bool { return d.Name == c.defaultName }) {
		return nil, fmt.Errorf("%w: развертывание по умолчанию '%s'", ErrUnknownDeployment, c.defaultName)
	}

	c.cache = cfg.cache
	if c.cache == nil {
		cacheOptions := []query.CacheOption{query.WithCacheLogger(cfg.logger)}
		c.cache = query.NewCache(append(cacheOptions, cfg.cacheOptions...)...)
		c.ownsCache = true
	}
	c.registry = query.NewRegistry(c.cache)

	return c, nil
}

// Cache возвращает кеш клиента.
func (c *Client) Cache() *query.Cache {
	return c.cache
}

// Deployments возвращает настроенные развертывания.
func (c *Client) Deployments() []Deployment {
	out := make([]Deployment, len(c.endpoints))
	for i, e := range c.endpoints {
		out[i] = e.deployment
	}
	return out
}

// Endpoint возвращает развертывание name в сети chainID.
// Пустое имя означает развертывание по умолчанию. Нулевой chainID допустим,
// если развертывание с таким именем единственное.
func (c *Client) Endpoint(name string, chainID int64) (*Endpoint, error) {
	if name == "" {
		name = c.defaultName
	}

	var found []*Endpoint
	for _, e := range c.endpoints {
		if e.deployment.Name != name {
			continue
		}
		if chainID != 0 && e.deployment.ChainID != chainID {
			continue
		}
		found = append(found, e)
	}

	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return nil, fmt.Errorf("%w: '%s' в сети %d", ErrUnknownDeployment, name, chainID)
	default:
		return nil, fmt.Errorf("%w: для '%s' требуется chain id", ErrUnknownDeployment, name)
	}
}

// ForChain возвращает развертывание по умолчанию в сети chainID.
func (c *Client) ForChain(chainID int64) (*Endpoint, error) {
	return c.Endpoint("", chainID)
}

// Close завершает работу диспетчеров и закрывает собственный кеш клиента.
func (c *Client) Close(ctx context.Context) error {
	err := c.registry.Shutdown(ctx)
	if c.ownsCache {
		err = errors.Join(err, c.cache.Close(ctx))
	}
	return err
}

// Endpoint выполняет операции каталога в одном развертывании.
type Endpoint struct {
	client     *Client
	deployment Deployment
	exec       graphql.Executor
}

// Deployment возвращает описание развертывания.
func (e *Endpoint) Deployment() Deployment {
	return e.deployment
}

// EthPrices возвращает цену ETH сейчас, сутки, двое суток и неделю назад.
func (e *Endpoint) EthPrices(ctx context.Context, vars EthPricesVariables, opts ...query.FetchOption) (EthPricesResult, error) {
	vars, err := vars.normalize()
	return dispatch[EthPricesVariables, EthPricesResult](ctx, e, OpEthPrices, vars, err, opts)
}

// HourlyTokenPrices возвращает часовые свечи цены токена.
func (e *Endpoint) HourlyTokenPrices(ctx context.Context, vars HourlyTokenPricesVariables, opts ...query.FetchOption) (HourlyTokenPricesResult, error) {
	vars, err := vars.normalize()
	return dispatch[HourlyTokenPricesVariables, HourlyTokenPricesResult](ctx, e, OpHourlyTokenPrices, vars, err, opts)
}

// DailyTokenPrices возвращает дневные свечи цены токена.
func (e *Endpoint) DailyTokenPrices(ctx context.Context, vars DailyTokenPricesVariables, opts ...query.FetchOption) (DailyTokenPricesResult, error) {
	vars, err := vars.normalize()
	return dispatch[DailyTokenPricesVariables, DailyTokenPricesResult](ctx, e, OpDailyTokenPrices, vars, err, opts)
}

// Tokens возвращает описания токенов из списка.
func (e *Endpoint) Tokens(ctx context.Context, vars TokensVariables, opts ...query.FetchOption) (TokensResult, error) {
	vars, err := vars.normalize()
	return dispatch[TokensVariables, TokensResult](ctx, e, OpTokens, vars, err, opts)
}

// AllV3Ticks возвращает одну страницу тиков пула.
func (e *Endpoint) AllV3Ticks(ctx context.Context, vars AllV3TicksVariables, opts ...query.FetchOption) (AllV3TicksResult, error) {
	vars, err := vars.normalize()
	return dispatch[AllV3TicksVariables, AllV3TicksResult](ctx, e, OpAllV3Ticks, vars, err, opts)
}

// AllTicks возвращает все тики пула, запрашивая страницы до первой неполной.
func (e *Endpoint) AllTicks(ctx context.Context, poolAddress string, opts ...query.FetchOption) ([]Tick, error) {
	var ticks []Tick
	for skip := 0; ; skip += TicksPageSize {
		page, err := e.AllV3Ticks(ctx, AllV3TicksVariables{PoolAddress: poolAddress, Skip: skip}, opts...)
		if err != nil {
			return nil, fmt.Errorf("не удалось получить тики пула со смещением %d: %w", skip, err)
		}
		ticks = append(ticks, page.Ticks...)
		if len(page.Ticks) < TicksPageSize {
			return ticks, nil
		}
	}
}

// FeeTierDistribution возвращает ликвидность пар token0/token1 по уровням комиссии.
func (e *Endpoint) FeeTierDistribution(ctx context.Context, vars FeeTierDistributionVariables, opts ...query.FetchOption) (FeeTierDistributionResult, error) {
	vars, err := vars.normalize()
	return dispatch[FeeTierDistributionVariables, FeeTierDistributionResult](ctx, e, OpFeeTierDistribution, vars, err, opts)
}

// Invalidate помечает устаревшими все результаты операции op в развертывании.
func (e *Endpoint) Invalidate(op string) int {
	scope := e.deployment.Scope()
	n := 0
	for _, s := range e.client.cache.Snapshot() {
		if s.Key.Operation == op && s.Key.Scope == scope && e.client.cache.Invalidate(s.Key) {
			n++
		}
	}
	return n
}

// dispatch выполняет операцию op через диспетчер развертывания. Если не задана
// обязательная переменная, запрос выключается и возвращается ErrMissingVariable.
func dispatch[V, R any](ctx context.Context, e *Endpoint, op string, vars V, varsErr error, opts []query.FetchOption) (R, error) {
	var zero R
	if varsErr != nil && !errors.Is(varsErr, ErrMissingVariable) {
		return zero, varsErr
	}

	d, err := dispatcher[V, R](e, op)
	if err != nil {
		return zero, err
	}

	if varsErr != nil {
		opts = append(slices.Clone(opts), query.WithEnabled(false))
	}
	res, err := d.Dispatch(ctx, vars, opts...)
	if varsErr != nil && errors.Is(err, query.ErrDisabled) {
		return res, fmt.Errorf("%w: %w", varsErr, err)
	}
	return res, err
}

func dispatcher[V, R any](e *Endpoint, op string) (query.IDispatcher[V, R], error) {
	document, err := Document(op)
	if err != nil {
		return nil, err
	}

	cfg := e.client.cfg
	opts := []query.Option[V, R]{
		query.WithScope[V, R](e.deployment.Scope()),
		query.WithFetchOptions[V, R](cfg.fetchOptions...),
		query.WithTracerProvider[V, R](cfg.tracerProvider),
		query.WithMeterProvider[V, R](cfg.meterProvider),
	}
	if cfg.logger != nil {
		opts = append(opts, query.WithLogger[V, R](cfg.logger.With(
			"deployment", e.deployment.Name,
			"chain_id", e.deployment.ChainID,
		)))
	}

	return query.Dispatcher(e.client.registry, e.exec, op, document, opts...)
}
