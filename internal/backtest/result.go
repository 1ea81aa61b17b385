package backtest

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"clmmBacktest/internal/model"
)

// Sample is the strategy's holdings at one point of the run.
type Sample struct {
	Timestamp     uint64          `json:"timestamp"`
	Tick          int32           `json:"tick"`
	SqrtPriceX96  *uint256.Int    `json:"sqrt_price_x96"`
	Wallet0       *uint256.Int    `json:"wallet0"`
	Wallet1       *uint256.Int    `json:"wallet1"`
	Position0     *uint256.Int    `json:"position0"`
	Position1     *uint256.Int    `json:"position1"`
	FeesOwed0     *uint256.Int    `json:"fees_owed0"`
	FeesOwed1     *uint256.Int    `json:"fees_owed1"`
	OpenPositions int             `json:"open_positions"`
	ValueToken1   decimal.Decimal `json:"value_token1"`
	ValueUSD      decimal.Decimal `json:"value_usd"`
}

const (
	LogCreatePosition = "create_position"
	LogClosePosition  = "close_position"
)

// PositionLogEntry records one open or close of a strategy position.
type PositionLogEntry struct {
	Type            string       `json:"type"`
	PositionID      string       `json:"position_id"`
	Timestamp       uint64       `json:"timestamp"`
	Lower           int32        `json:"lower"`
	Upper           int32        `json:"upper"`
	CurrentTick     int32        `json:"current_tick"`
	Liquidity       *uint256.Int `json:"liquidity"`
	Amount0         *uint256.Int `json:"amount0"`
	Amount1         *uint256.Int `json:"amount1"`
	Fees0           *uint256.Int `json:"fees0,omitempty"`
	Fees1           *uint256.Int `json:"fees1,omitempty"`
	Wallet0         *uint256.Int `json:"wallet0"`
	Wallet1         *uint256.Int `json:"wallet1"`
	ActiveLiquidity *uint256.Int `json:"active_liquidity"`
	// SwapCount and Volume are cumulative over the window at the time of the entry.
	SwapCount int          `json:"swap_count"`
	Volume0   *uint256.Int `json:"volume0"`
	Volume1   *uint256.Int `json:"volume1"`
	// The in-position counters are only set on close.
	SwapsInPosition   int          `json:"swaps_in_position,omitempty"`
	VolumeInPosition0 *uint256.Int `json:"volume_in_position0,omitempty"`
	VolumeInPosition1 *uint256.Int `json:"volume_in_position1,omitempty"`
	DurationSeconds   uint64       `json:"duration_seconds,omitempty"`
}

// RejectedAction is a strategy action the runner skipped.
type RejectedAction struct {
	Timestamp uint64 `json:"timestamp"`
	Action    Action `json:"action"`
	Reason    string `json:"reason"`
}

// Summary aggregates a finished run.
type Summary struct {
	Strategy string `json:"strategy"`
	Pool     string `json:"pool"`
	StartTs  uint64 `json:"start_ts"`
	EndTs    uint64 `json:"end_ts"`

	Events         int `json:"events"`
	WarmupEvents   int `json:"warmup_events"`
	DecisionPoints int `json:"decision_points"`
	Opens          int `json:"opens"`
	Closes         int `json:"closes"`
	RebalanceSwaps int `json:"rebalance_swaps"`
	InvalidActions int `json:"invalid_actions"`
	Gaps           int `json:"gaps"`

	SwapCount         int          `json:"swap_count"`
	Volume0           *uint256.Int `json:"volume0"`
	Volume1           *uint256.Int `json:"volume1"`
	InPositionSwaps   int          `json:"in_position_swaps"`
	InPositionVolume0 *uint256.Int `json:"in_position_volume0"`
	InPositionVolume1 *uint256.Int `json:"in_position_volume1"`
	// InRangePct is the share of window swaps that traded through an open strategy position.
	InRangePct decimal.Decimal `json:"in_range_pct"`

	FeesCollected0 *uint256.Int    `json:"fees_collected0"`
	FeesCollected1 *uint256.Int    `json:"fees_collected1"`
	FeesUSD        decimal.Decimal `json:"fees_usd"`

	PriceStart     decimal.Decimal `json:"price_start"`
	PriceEnd       decimal.Decimal `json:"price_end"`
	PriceChangePct decimal.Decimal `json:"price_change_pct"`

	StartValueToken1 decimal.Decimal `json:"start_value_token1"`
	EndValueToken1   decimal.Decimal `json:"end_value_token1"`
	HoldValueToken1  decimal.Decimal `json:"hold_value_token1"`
	StartValueUSD    decimal.Decimal `json:"start_value_usd"`
	EndValueUSD      decimal.Decimal `json:"end_value_usd"`
	HoldValueUSD     decimal.Decimal `json:"hold_value_usd"`
	PnLUSD           decimal.Decimal `json:"pnl_usd"`
	PnLVsHoldUSD     decimal.Decimal `json:"pnl_vs_hold_usd"`
	PnLToken1        decimal.Decimal `json:"pnl_token1"`
	PnLVsHoldToken1  decimal.Decimal `json:"pnl_vs_hold_token1"`

	// Percentages are relative to StartValueUSD, or to the start price for
	// the per-token USD price changes. They stay zero without prices.
	PnLPct               decimal.Decimal `json:"pnl_pct"`
	HoldPnLPct           decimal.Decimal `json:"hold_pnl_pct"`
	FeeProfitPct         decimal.Decimal `json:"fee_profit_pct"`
	Token0PriceChangePct decimal.Decimal `json:"token0_price_change_pct"`
	Token1PriceChangePct decimal.Decimal `json:"token1_price_change_pct"`

	FinalWallet0 *uint256.Int `json:"final_wallet0"`
	FinalWallet1 *uint256.Int `json:"final_wallet1"`

	Incomplete bool `json:"incomplete"`
}

func newSummary(cfg Config) Summary {
	return Summary{
		Strategy:          cfg.Name,
		Pool:              cfg.Pool,
		Volume0:           new(uint256.Int),
		Volume1:           new(uint256.Int),
		InPositionVolume0: new(uint256.Int),
		InPositionVolume1: new(uint256.Int),
		FeesCollected0:    new(uint256.Int),
		FeesCollected1:    new(uint256.Int),
		FinalWallet0:      new(uint256.Int),
		FinalWallet1:      new(uint256.Int),
	}
}

// Result is everything a run produced. On a fatal error it holds the state reached so far.
type Result struct {
	Summary       Summary                `json:"summary"`
	Samples       []Sample               `json:"samples"`
	Positions     []PositionLogEntry     `json:"positions"`
	Rejected      []RejectedAction       `json:"rejected,omitempty"`
	Gaps          []model.DataGapWarning `json:"gaps,omitempty"`
	OpenPositions []string               `json:"open_positions,omitempty"`
	FinalPool     model.PoolSummary      `json:"final_pool"`
}
