package backtest

import (
	"fmt"
	"math"
	"strconv"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
)

// Strategy decides what to do with the strategy's liquidity at a decision point.
// It must not retain snap or own beyond the call.
type Strategy interface {
	Decide(snap Snapshot, own []PositionView, ts uint64, params Params) ([]Action, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(snap Snapshot, own []PositionView, ts uint64, params Params) ([]Action, error)

func (f StrategyFunc) Decide(snap Snapshot, own []PositionView, ts uint64, params Params) ([]Action, error) {
	return f(snap, own, ts, params)
}

// Snapshot is a read-only view of the pool and wallet at a decision point.
type Snapshot struct {
	Timestamp    uint64
	SqrtPriceX96 *uint256.Int
	Tick         int32
	TickSpacing  int32
	Fee          uint32
	Liquidity    *uint256.Int
	Pool         model.PoolSummary
	Wallet0      *uint256.Int
	Wallet1      *uint256.Int
	// DecisionIndex counts decision points, starting at zero.
	DecisionIndex int
}

// PositionView is one of the strategy's own positions valued at the current price.
type PositionView struct {
	ID        string
	Lower     int32
	Upper     int32
	Liquidity *uint256.Int
	Amount0   *uint256.Int
	Amount1   *uint256.Int
	FeesOwed0 *uint256.Int
	FeesOwed1 *uint256.Int
	InRange   bool
	OpenedAt  uint64
}

type ActionKind string

const (
	ActionOpen      ActionKind = "open"
	ActionClose     ActionKind = "close"
	ActionRebalance ActionKind = "rebalance"
)

// Action is a strategy request. Nil or zero amounts on open mean "use the whole wallet".
type Action struct {
	Kind       ActionKind   `json:"kind"`
	PositionID string       `json:"position_id,omitempty"`
	Lower      int32        `json:"lower,omitempty"`
	Upper      int32        `json:"upper,omitempty"`
	Amount0    *uint256.Int `json:"amount0,omitempty"`
	Amount1    *uint256.Int `json:"amount1,omitempty"`
}

func Open(lower, upper int32, amount0, amount1 *uint256.Int) Action {
	return Action{Kind: ActionOpen, Lower: lower, Upper: upper, Amount0: amount0, Amount1: amount1}
}

func Close(id string) Action {
	return Action{Kind: ActionClose, PositionID: id}
}

func Rebalance(id string, lower, upper int32, amount0, amount1 *uint256.Int) Action {
	return Action{Kind: ActionRebalance, PositionID: id, Lower: lower, Upper: upper, Amount0: amount0, Amount1: amount1}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionClose:
		return fmt.Sprintf("close(%s)", a.PositionID)
	case ActionRebalance:
		return fmt.Sprintf("rebalance(%s -> [%d,%d))", a.PositionID, a.Lower, a.Upper)
	default:
		return fmt.Sprintf("%s([%d,%d))", a.Kind, a.Lower, a.Upper)
	}
}

// Params is the opaque strategy configuration, typically decoded from config files.
type Params map[string]any

// Has reports whether key is set to a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Int reads an integer parameter, accepting numbers and numeric strings.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("param %s overflows int64", key)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("param %s is not an integer: %v", key, n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("param %s has unsupported type %T", key, v)
	}
}

// Float reads a floating point parameter.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("param %s has unsupported type %T", key, v)
	}
}

// Amount reads a token amount in raw units. Missing keys return nil.
func (p Params) Amount(key string) (*uint256.Int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case string:
		if n == "" {
			return nil, nil
		}
		amount, err := uint256.FromDecimal(n)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", key, err)
		}
		return amount, nil
	case *uint256.Int:
		return n.Clone(), nil
	default:
		i, err := p.Int(key, 0)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return nil, fmt.Errorf("param %s must not be negative", key)
		}
		return uint256.NewInt(uint64(i)), nil
	}
}
