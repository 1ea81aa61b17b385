package model

import "fmt"

// PoolSummary is a printable view of pool state attached to fatal errors and results.
type PoolSummary struct {
	SqrtPriceX96         string `json:"sqrt_price_x96"`
	Tick                 int32  `json:"tick"`
	Liquidity            string `json:"liquidity"`
	FeeGrowthGlobal0X128 string `json:"fee_growth_global0_x128"`
	FeeGrowthGlobal1X128 string `json:"fee_growth_global1_x128"`
	InitializedTicks     int    `json:"initialized_ticks"`
	Fee                  uint32 `json:"fee"`
	TickSpacing          int32  `json:"tick_spacing"`
}

// InvariantError halts a replay: an event could not be applied to the current state.
type InvariantError struct {
	Reason string
	Event  *Event
	Pool   *PoolSummary
	Err    error
}

func (e *InvariantError) Error() string {
	if e.Event != nil {
		return fmt.Sprintf("invariant violation at %s: %s", e.Event.String(), e.Reason)
	}
	return "invariant violation: " + e.Reason
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// OverflowError reports fixed-point arithmetic that left its integer range.
type OverflowError struct {
	Op string
}

func (e *OverflowError) Error() string {
	return "arithmetic overflow in " + e.Op
}

// InvalidActionError is a rejected strategy action. The runner skips it and continues.
type InvalidActionError struct {
	Action string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid %s action: %s", e.Action, e.Reason)
}

// DataGapWarning flags a suspicious jump or reordering in the event stream.
type DataGapWarning struct {
	PrevTimestamp uint64 `json:"prev_timestamp"`
	NextTimestamp uint64 `json:"next_timestamp"`
	BlockNumber   uint64 `json:"block_number"`
	LogIndex      uint64 `json:"log_index"`
	Reason        string `json:"reason"`
}

func (w *DataGapWarning) Error() string {
	return fmt.Sprintf("data gap at block %d log %d (%d -> %d): %s", w.BlockNumber, w.LogIndex, w.PrevTimestamp, w.NextTimestamp, w.Reason)
}
