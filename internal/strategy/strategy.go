// Package strategy holds the bundled liquidity strategies.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/backtest"
	"clmmBacktest/internal/tickmath"
)

// Factory builds a fresh strategy instance. Strategies keep per-run state, so
// every run needs its own instance.
type Factory func(params backtest.Params) (backtest.Strategy, error)

var registry = map[string]Factory{
	"no_rebalance":     NewNoRebalance,
	"simple_rebalance": NewSimpleRebalance,
	"out_of_range":     NewOutOfRange,
}

// New builds the named strategy.
func New(name string, params backtest.Params) (backtest.Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (known: %v)", name, Names())
	}
	if params == nil {
		params = backtest.Params{}
	}
	s, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return s, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func tickParam(params backtest.Params, key string) (int32, error) {
	if !params.Has(key) {
		return 0, fmt.Errorf("missing param %s", key)
	}
	v, err := params.Int(key, 0)
	if err != nil {
		return 0, err
	}
	if v < int64(tickmath.MinTick) || v > int64(tickmath.MaxTick) {
		return 0, fmt.Errorf("param %s out of tick range: %d", key, v)
	}
	return int32(v), nil
}

func widthParam(params backtest.Params) (int32, error) {
	if !params.Has("range") {
		return 0, fmt.Errorf("missing param range")
	}
	v, err := params.Int("range", 0)
	if err != nil {
		return 0, err
	}
	if v <= 0 || v > math.MaxInt32/2 {
		return 0, fmt.Errorf("param range must be positive: %d", v)
	}
	return int32(v), nil
}

type amounts struct {
	token0 *uint256.Int
	token1 *uint256.Int
}

func amountParams(params backtest.Params) (amounts, error) {
	a0, err := params.Amount("token_a_amount")
	if err != nil {
		return amounts{}, err
	}
	a1, err := params.Amount("token_b_amount")
	if err != nil {
		return amounts{}, err
	}
	return amounts{token0: a0, token1: a1}, nil
}

// cloned returns copies so the runner never aliases strategy state.
func (a amounts) cloned() (*uint256.Int, *uint256.Int) {
	var a0, a1 *uint256.Int
	if a.token0 != nil {
		a0 = a.token0.Clone()
	}
	if a.token1 != nil {
		a1 = a.token1.Clone()
	}
	return a0, a1
}

// centeredRange is a spacing-aligned range of roughly width ticks containing tick.
func centeredRange(tick, spacing, width int32) (int32, int32) {
	aligned := (width + spacing - 1) / spacing * spacing
	if aligned < 2*spacing {
		aligned = 2 * spacing
	}
	lower := tickmath.FloorTick(tick-aligned/2, spacing)
	upper := lower + aligned
	if minTick := tickmath.MinUsableTick(spacing); lower < minTick {
		lower = minTick
		upper = lower + aligned
	}
	if maxTick := tickmath.MaxUsableTick(spacing); upper > maxTick {
		upper = maxTick
		lower = upper - aligned
	}
	return lower, upper
}

func inRange(tick int32, pos backtest.PositionView) bool {
	return tick >= pos.Lower && tick < pos.Upper
}
