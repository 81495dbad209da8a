package subgraph

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Значения BigInt и BigDecimal схемы передаются строками и хранятся без
// преобразования, чтобы не терять точность.

// EthPricesVariables содержит переменные операции ethPrices: номера блоков сутки,
// двое суток и неделю назад. Все поля обязательны.
type EthPricesVariables struct {
	Block24   int64 `json:"block24"`
	Block48   int64 `json:"block48"`
	BlockWeek int64 `json:"blockWeek"`
}

func (v EthPricesVariables) normalize() (EthPricesVariables, error) {
	switch {
	case v.Block24 <= 0:
		return v, missingVariable("block24")
	case v.Block48 <= 0:
		return v, missingVariable("block48")
	case v.BlockWeek <= 0:
		return v, missingVariable("blockWeek")
	}
	return v, nil
}

// Bundle — цена ETH в долларах на момент блока.
type Bundle struct {
	EthPriceUSD string `json:"ethPriceUSD"`
}

// EthPricesResult содержит результат операции ethPrices.
type EthPricesResult struct {
	Current []Bundle `json:"current"`
	OneDay  []Bundle `json:"oneDay"`
	TwoDay  []Bundle `json:"twoDay"`
	OneWeek []Bundle `json:"oneWeek"`
}

// HourlyTokenPricesVariables содержит переменные операции hourlyTokenPrices.
// Все поля необязательны.
type HourlyTokenPricesVariables struct {
	Address         *string `json:"address,omitempty"`
	PeriodStartUnix *int64  `json:"periodStartUnix,omitempty"`
	ChainID         *int64  `json:"chainId,omitempty"`
}

func (v HourlyTokenPricesVariables) normalize() (HourlyTokenPricesVariables, error) {
	if v.Address != nil {
		addr, err := normalizeAddress("address", *v.Address)
		if err != nil {
			return v, err
		}
		v.Address = &addr
	}
	return v, nil
}

// DailyTokenPricesVariables содержит переменные операции dailyTokenPrices.
// Все поля необязательны.
type DailyTokenPricesVariables struct {
	Address *string `json:"address,omitempty"`
	ChainID *int64  `json:"chainId,omitempty"`
}

func (v DailyTokenPricesVariables) normalize() (DailyTokenPricesVariables, error) {
	if v.Address != nil {
		addr, err := normalizeAddress("address", *v.Address)
		if err != nil {
			return v, err
		}
		v.Address = &addr
	}
	return v, nil
}

// Candle — свеча цены токена за период. Timestamp — начало периода в секундах Unix.
type Candle struct {
	Timestamp int64  `json:"timestamp"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Open      string `json:"open"`
	Close     string `json:"close"`
}

// HourlyTokenPricesResult содержит результат операции hourlyTokenPrices.
type HourlyTokenPricesResult struct {
	TokenHourDatas []Candle `json:"tokenHourDatas"`
}

// DailyTokenPricesResult содержит результат операции dailyTokenPrices.
type DailyTokenPricesResult struct {
	TokenDayDatas []Candle `json:"tokenDayDatas"`
}

// TokensVariables содержит переменные операции tokens. TokenList обязателен.
type TokensVariables struct {
	TokenList []string `json:"tokenList"`
	ChainID   *int64   `json:"chainId,omitempty"`
}

func (v TokensVariables) normalize() (TokensVariables, error) {
	if len(v.TokenList) == 0 {
		return v, missingVariable("tokenList")
	}
	list := make([]string, len(v.TokenList))
	for i, raw := range v.TokenList {
		addr, err := normalizeAddress(fmt.Sprintf("tokenList[%d]", i), raw)
		if err != nil {
			return v, err
		}
		list[i] = addr
	}
	v.TokenList = list
	return v, nil
}

// Token — описание токена.
type Token struct {
	ID                  string `json:"id"`
	Symbol              string `json:"symbol"`
	Name                string `json:"name"`
	Decimals            string `json:"decimals"`
	DerivedETH          string `json:"derivedETH"`
	VolumeUSD           string `json:"volumeUSD"`
	TotalValueLockedUSD string `json:"totalValueLockedUSD"`
}

// TokensResult содержит результат операции tokens.
type TokensResult struct {
	Tokens []Token `json:"tokens"`
}

// AllV3TicksVariables содержит переменные операции allV3Ticks. PoolAddress обязателен,
// Skip — смещение страницы из TicksPageSize тиков.
type AllV3TicksVariables struct {
	PoolAddress string `json:"poolAddress"`
	Skip        int    `json:"skip"`
}

func (v AllV3TicksVariables) normalize() (AllV3TicksVariables, error) {
	if v.PoolAddress == "" {
		return v, missingVariable("poolAddress")
	}
	if v.Skip < 0 {
		return v, fmt.Errorf("%w: skip=%d", ErrInvalidVariable, v.Skip)
	}
	addr, err := normalizeAddress("poolAddress", v.PoolAddress)
	if err != nil {
		return v, err
	}
	v.PoolAddress = addr
	return v, nil
}

// Tick — инициализированный тик пула.
type Tick struct {
	Tick         string `json:"tick"`
	LiquidityNet string `json:"liquidityNet"`
	Price0       string `json:"price0"`
	Price1       string `json:"price1"`
}

// AllV3TicksResult содержит результат операции allV3Ticks.
type AllV3TicksResult struct {
	Ticks []Tick `json:"ticks"`
}

// FeeTierDistributionVariables содержит переменные операции feeTierDistribution.
// Оба адреса обязательны.
type FeeTierDistributionVariables struct {
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
}

func (v FeeTierDistributionVariables) normalize() (FeeTierDistributionVariables, error) {
	switch {
	case v.Token0 == "":
		return v, missingVariable("token0")
	case v.Token1 == "":
		return v, missingVariable("token1")
	}
	token0, err := normalizeAddress("token0", v.Token0)
	if err != nil {
		return v, err
	}
	token1, err := normalizeAddress("token1", v.Token1)
	if err != nil {
		return v, err
	}
	v.Token0, v.Token1 = token0, token1
	return v, nil
}

// FeeTierPool — ликвидность пула с определенной комиссией.
type FeeTierPool struct {
	FeeTier                string `json:"feeTier"`
	TotalValueLockedToken0 string `json:"totalValueLockedToken0"`
	TotalValueLockedToken1 string `json:"totalValueLockedToken1"`
}

// Meta — служебные данные сабграфа.
type Meta struct {
	Block struct {
		Number int64 `json:"number"`
	} `json:"block"`
}

// FeeTierDistributionResult содержит результат операции feeTierDistribution.
type FeeTierDistributionResult struct {
	Meta     Meta          `json:"_meta"`
	AsToken0 []FeeTierPool `json:"asToken0"`
	AsToken1 []FeeTierPool `json:"asToken1"`
}

// normalizeAddress приводит адрес к нижнему регистру, в котором адреса
// хранятся в сабграфе. Полный 20-байтовый адрес разбирается как адрес EVM,
// другие значения должны иметь вид 0x и непустой шестнадцатеричной строки:
// сабграф сравнивает их как строки, и укороченный адрес не заменяется
// дополненным нулями.
func normalizeAddress(field, value string) (string, error) {
	if common.IsHexAddress(value) {
		return strings.ToLower(common.HexToAddress(value).Hex()), nil
	}
	digits, ok := strings.CutPrefix(strings.ToLower(value), "0x")
	if !ok || digits == "" || strings.Trim(digits, "0123456789abcdef") != "" {
		return "", fmt.Errorf("%w: %s=%q", ErrInvalidAddress, field, value)
	}
	return "0x" + digits, nil
}

func missingVariable(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingVariable, field)
}
