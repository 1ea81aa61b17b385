package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TokenConfig describes one pool token.
type TokenConfig struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// PoolConfig describes the replayed pool and, when its history lacks an
// initialize event, where its price starts.
type PoolConfig struct {
	Address          string
	Token0           TokenConfig
	Token1           TokenConfig
	Fee              uint32
	TickSpacing      int32
	InitialSqrtPrice *uint256.Int
	InitialTick      *int32
}

// SourceConfig selects where events come from: a JSONL file or Postgres.
type SourceConfig struct {
	Events string
	PGDSN  string
}

// ReplayConfig holds configuration for a strategy-free pool replay.
type ReplayConfig struct {
	Pool     PoolConfig
	Source   SourceConfig
	Until    uint64
	MaxGap   time.Duration
	LogLevel string
}

// StrategyConfig names one strategy run.
type StrategyConfig struct {
	Name     string
	Strategy string
	Params   map[string]any
}

// PolicyConfig selects decision points.
type PolicyConfig struct {
	EveryNEvents    int
	Interval        time.Duration
	LiquidityEvents bool
}

// BacktestConfig holds configuration for the backtest and compare commands.
type BacktestConfig struct {
	Pool          PoolConfig
	Source        SourceConfig
	Strategies    []StrategyConfig
	From          uint64
	To            uint64
	Policy        PolicyConfig
	InitialToken0 *uint256.Int
	InitialToken1 *uint256.Int
	// SwapTolerance is a fraction of portfolio value, 0.05 being 5%.
	SwapTolerance  float64
	MaxSlippageBps uint32
	CloseAtEnd     bool
	MaxGap         time.Duration
	Prices         string
	StaticPrices   map[string]decimal.Decimal
	SamplesOut     string
	PositionsOut   string
	SaveRun        bool
	Parallel       int
	LogLevel       string
}

// SwapToleranceBps converts the tolerance fraction to basis points.
func (c BacktestConfig) SwapToleranceBps() uint32 {
	return uint32(math.Round(c.SwapTolerance * 10_000))
}

func replayDefaults() map[string]any {
	return map[string]any{
		"fee":          uint32(3000),
		"tick-spacing": int32(60),
		"max-gap":      6 * time.Hour,
	}
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags, replayDefaults())
	if err != nil {
		return ReplayConfig{}, err
	}
	pool, err := loadPool(v)
	if err != nil {
		return ReplayConfig{}, err
	}
	source, err := loadSource(v)
	if err != nil {
		return ReplayConfig{}, err
	}
	until, err := ParseTimestamp(v.GetString("until"))
	if err != nil {
		return ReplayConfig{}, fmt.Errorf("parse until: %w", err)
	}
	return ReplayConfig{
		Pool:     pool,
		Source:   source,
		Until:    until,
		MaxGap:   v.GetDuration("max-gap"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

// LoadBacktest merges config file, environment variables, and flags into BacktestConfig.
// A single --strategy/--params pair and a "strategies" list in the config file
// are both accepted; the list wins.
func LoadBacktest(cfgFile string, flags *pflag.FlagSet) (BacktestConfig, error) {
	defaults := replayDefaults()
	defaults["decision-interval"] = time.Hour
	defaults["swap-tolerance"] = 0.05
	defaults["max-slippage-bps"] = uint32(100)
	defaults["close-at-end"] = true
	defaults["samples-out"] = "./data/samples.jsonl"
	defaults["positions-out"] = "./data/positions.jsonl"
	defaults["parallel"] = 4
	v, err := newViper(cfgFile, flags, defaults)
	if err != nil {
		return BacktestConfig{}, err
	}

	pool, err := loadPool(v)
	if err != nil {
		return BacktestConfig{}, err
	}
	source, err := loadSource(v)
	if err != nil {
		return BacktestConfig{}, err
	}
	from, err := ParseTimestamp(v.GetString("from"))
	if err != nil {
		return BacktestConfig{}, fmt.Errorf("parse from: %w", err)
	}
	to, err := ParseTimestamp(v.GetString("to"))
	if err != nil {
		return BacktestConfig{}, fmt.Errorf("parse to: %w", err)
	}
	if to > 0 && to < from {
		return BacktestConfig{}, fmt.Errorf("to %d is before from %d", to, from)
	}
	token0, err := parseAmount(v, "token0-amount")
	if err != nil {
		return BacktestConfig{}, err
	}
	token1, err := parseAmount(v, "token1-amount")
	if err != nil {
		return BacktestConfig{}, err
	}
	static, err := getDecimalMap(v, "static-prices")
	if err != nil {
		return BacktestConfig{}, err
	}
	strategies, err := getStrategies(v)
	if err != nil {
		return BacktestConfig{}, err
	}

	cfg := BacktestConfig{
		Pool:       pool,
		Source:     source,
		Strategies: strategies,
		From:       from,
		To:         to,
		Policy: PolicyConfig{
			EveryNEvents:    v.GetInt("decision-every"),
			Interval:        v.GetDuration("decision-interval"),
			LiquidityEvents: v.GetBool("decision-on-liquidity"),
		},
		InitialToken0:  token0,
		InitialToken1:  token1,
		SwapTolerance:  v.GetFloat64("swap-tolerance"),
		MaxSlippageBps: v.GetUint32("max-slippage-bps"),
		CloseAtEnd:     v.GetBool("close-at-end"),
		MaxGap:         v.GetDuration("max-gap"),
		Prices:         v.GetString("prices"),
		StaticPrices:   static,
		SamplesOut:     v.GetString("samples-out"),
		PositionsOut:   v.GetString("positions-out"),
		SaveRun:        v.GetBool("save-run"),
		Parallel:       v.GetInt("parallel"),
		LogLevel:       v.GetString("log-level"),
	}
	if cfg.SwapTolerance < 0 || cfg.SwapTolerance > 1 {
		return BacktestConfig{}, fmt.Errorf("swap-tolerance must be within [0,1]: %v", cfg.SwapTolerance)
	}
	if cfg.InitialToken0.IsZero() && cfg.InitialToken1.IsZero() {
		return BacktestConfig{}, fmt.Errorf("token0-amount or token1-amount is required")
	}
	return cfg, nil
}

func loadPool(v *viper.Viper) (PoolConfig, error) {
	cfg := PoolConfig{
		Address: strings.ToLower(v.GetString("pool")),
		Token0: TokenConfig{
			Address:  strings.ToLower(v.GetString("token0")),
			Symbol:   v.GetString("token0-symbol"),
			Decimals: uint8(v.GetUint("token0-decimals")),
		},
		Token1: TokenConfig{
			Address:  strings.ToLower(v.GetString("token1")),
			Symbol:   v.GetString("token1-symbol"),
			Decimals: uint8(v.GetUint("token1-decimals")),
		},
		Fee:         v.GetUint32("fee"),
		TickSpacing: v.GetInt32("tick-spacing"),
	}
	if cfg.Address == "" {
		return PoolConfig{}, fmt.Errorf("pool is required")
	}
	if cfg.TickSpacing <= 0 {
		return PoolConfig{}, fmt.Errorf("tick-spacing must be positive: %d", cfg.TickSpacing)
	}
	if cfg.Token0.Symbol == "" {
		cfg.Token0.Symbol = "token0"
	}
	if cfg.Token1.Symbol == "" {
		cfg.Token1.Symbol = "token1"
	}
	if raw := strings.TrimSpace(v.GetString("initial-sqrt-price")); raw != "" {
		price, err := uint256.FromDecimal(raw)
		if err != nil {
			return PoolConfig{}, fmt.Errorf("parse initial-sqrt-price: %w", err)
		}
		cfg.InitialSqrtPrice = price
	}
	if v.IsSet("initial-tick") && strings.TrimSpace(v.GetString("initial-tick")) != "" {
		tick := v.GetInt32("initial-tick")
		cfg.InitialTick = &tick
	}
	return cfg, nil
}

func loadSource(v *viper.Viper) (SourceConfig, error) {
	cfg := SourceConfig{
		Events: v.GetString("events"),
		PGDSN:  v.GetString("pg-dsn"),
	}
	if cfg.Events == "" && cfg.PGDSN == "" {
		return SourceConfig{}, fmt.Errorf("events file or pg-dsn is required")
	}
	return cfg, nil
}

func parseAmount(v *viper.Viper, key string) (*uint256.Int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return amount, nil
}

func getDecimalMap(v *viper.Viper, key string) (map[string]decimal.Decimal, error) {
	raw := getStringMap(v, key)
	out := make(map[string]decimal.Decimal, len(raw))
	for token, value := range raw {
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s for %s: %w", key, token, err)
		}
		out[strings.ToLower(token)] = price
	}
	return out, nil
}

func getStrategies(v *viper.Viper) ([]StrategyConfig, error) {
	if list, ok := v.Get("strategies").([]interface{}); ok && len(list) > 0 {
		out := make([]StrategyConfig, 0, len(list))
		for i, item := range list {
			entry, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("strategies[%d] must be a map", i)
			}
			sc := StrategyConfig{
				Name:     fmt.Sprintf("%v", entry["name"]),
				Strategy: fmt.Sprintf("%v", entry["strategy"]),
				Params:   map[string]any{},
			}
			if entry["strategy"] == nil {
				return nil, fmt.Errorf("strategies[%d] missing strategy", i)
			}
			if entry["name"] == nil {
				sc.Name = fmt.Sprintf("%s-%d", sc.Strategy, i)
			}
			if params, ok := entry["params"].(map[string]interface{}); ok {
				sc.Params = params
			}
			out = append(out, sc)
		}
		return out, nil
	}

	name := v.GetString("strategy")
	if name == "" {
		return nil, fmt.Errorf("strategy is required")
	}
	params := map[string]any{}
	if nested, ok := v.Get("params").(map[string]interface{}); ok {
		params = nested
	} else {
		for k, val := range getStringMap(v, "params") {
			params[k] = val
		}
	}
	return []StrategyConfig{{Name: name, Strategy: name, Params: params}}, nil
}
