package backtest

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// PriceFunc returns the USD price of one whole token at ts.
type PriceFunc func(token string, ts uint64) (decimal.Decimal, error)

// TokenInfo identifies a pool token for valuation.
type TokenInfo struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// DecisionPolicy selects which replayed events become decision points.
// With every field zero, each event is a decision point.
type DecisionPolicy struct {
	EveryNEvents      int
	Interval          time.Duration
	OnLiquidityEvents bool
}

// Config drives one backtest run.
type Config struct {
	Name  string
	Owner string
	Pool  string

	Token0 TokenInfo
	Token1 TokenInfo

	// From and To bound the evaluation window by event timestamp. Events
	// before From only warm up the pool. To of zero means no upper bound.
	From uint64
	To   uint64

	Policy DecisionPolicy

	InitialToken0 *uint256.Int
	InitialToken1 *uint256.Int

	Params Params

	// SwapToleranceBps is the wallet imbalance tolerated before a
	// rebalancing swap is made on open.
	SwapToleranceBps uint32
	// MaxSlippageBps bounds the price move of a rebalancing swap.
	MaxSlippageBps uint32
	CloseAtEnd     bool
	MaxGap         time.Duration

	Prices PriceFunc
}

const (
	DefaultOwner            = "strategy"
	DefaultSwapToleranceBps = 500
	DefaultMaxSlippageBps   = 100
)

func (c *Config) applyDefaults() {
	if c.Owner == "" {
		c.Owner = DefaultOwner
	}
	if c.Name == "" {
		c.Name = "backtest"
	}
	if c.InitialToken0 == nil {
		c.InitialToken0 = new(uint256.Int)
	}
	if c.InitialToken1 == nil {
		c.InitialToken1 = new(uint256.Int)
	}
	if c.SwapToleranceBps == 0 {
		c.SwapToleranceBps = DefaultSwapToleranceBps
	}
	if c.MaxSlippageBps == 0 {
		c.MaxSlippageBps = DefaultMaxSlippageBps
	}
	if c.Params == nil {
		c.Params = Params{}
	}
}

func (c *Config) validate() error {
	if c.To > 0 && c.To < c.From {
		return fmt.Errorf("window end %d before start %d", c.To, c.From)
	}
	if c.SwapToleranceBps > 10_000 {
		return fmt.Errorf("swap tolerance %d bps exceeds 100%%", c.SwapToleranceBps)
	}
	if c.MaxSlippageBps > 10_000 {
		return fmt.Errorf("max slippage %d bps exceeds 100%%", c.MaxSlippageBps)
	}
	if c.Policy.EveryNEvents < 0 || c.Policy.Interval < 0 {
		return fmt.Errorf("decision policy must not be negative")
	}
	if c.Policy.Interval > 0 && c.Policy.Interval < time.Second {
		return fmt.Errorf("decision interval %s is below the one second timestamp resolution", c.Policy.Interval)
	}
	return nil
}
