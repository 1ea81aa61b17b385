package model

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// EventKind names the pool mutation carried by an Event.
type EventKind string

const (
	EventInitialize      EventKind = "initialize"
	EventSwap            EventKind = "swap"
	EventAddLiquidity    EventKind = "add_liquidity"
	EventRemoveLiquidity EventKind = "remove_liquidity"
	EventCollectFees     EventKind = "collect_fees"
)

// Event is one replayable pool mutation. Exactly one payload matches Kind.
type Event struct {
	Kind        EventKind `json:"kind"`
	Pool        string    `json:"pool,omitempty"`
	Timestamp   uint64    `json:"timestamp"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint64    `json:"log_index"`
	TxHash      string    `json:"tx_hash,omitempty"`
	// Synthetic marks events generated from strategy actions.
	Synthetic bool `json:"synthetic,omitempty"`

	Initialize *InitializeParams      `json:"initialize,omitempty"`
	Swap       *SwapParams            `json:"swap,omitempty"`
	Add        *AddLiquidityParams    `json:"add_liquidity,omitempty"`
	Remove     *RemoveLiquidityParams `json:"remove_liquidity,omitempty"`
	Collect    *CollectFeesParams     `json:"collect_fees,omitempty"`
}

// InitializeParams sets the starting price of an empty pool.
type InitializeParams struct {
	SqrtPriceX96 *uint256.Int `json:"sqrt_price_x96"`
}

// SwapParams is an exact-input swap.
type SwapParams struct {
	AmountIn   *uint256.Int `json:"amount_in"`
	ZeroForOne bool         `json:"zero_for_one"`
	// SqrtPriceLimitX96 is optional; nil means the extreme price in the swap direction.
	SqrtPriceLimitX96 *uint256.Int `json:"sqrt_price_limit_x96,omitempty"`
	Sender            string       `json:"sender,omitempty"`
}

// AddLiquidityParams mints liquidity into a position. An empty PositionID
// resolves to PositionKey(Owner, TickLower, TickUpper).
type AddLiquidityParams struct {
	PositionID string       `json:"position_id,omitempty"`
	Owner      string       `json:"owner"`
	TickLower  int32        `json:"tick_lower"`
	TickUpper  int32        `json:"tick_upper"`
	Liquidity  *uint256.Int `json:"liquidity"`
}

// RemoveLiquidityParams burns liquidity from an existing position.
type RemoveLiquidityParams struct {
	PositionID string       `json:"position_id"`
	Liquidity  *uint256.Int `json:"liquidity"`
}

// CollectFeesParams pays out owed fees. Nil maxima collect everything owed.
type CollectFeesParams struct {
	PositionID string       `json:"position_id"`
	Amount0Max *uint256.Int `json:"amount0_max,omitempty"`
	Amount1Max *uint256.Int `json:"amount1_max,omitempty"`
}

// PositionKey builds the ledger id of an on-chain position.
func PositionKey(owner string, lower, upper int32) string {
	return fmt.Sprintf("%s:%d:%d", strings.ToLower(owner), lower, upper)
}

// ResolvedID returns the ledger id the add targets.
func (p *AddLiquidityParams) ResolvedID() string {
	if p.PositionID != "" {
		return p.PositionID
	}
	return PositionKey(p.Owner, p.TickLower, p.TickUpper)
}

// Before reports whether e sorts strictly before other in replay order.
func (e Event) Before(other Event) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp < other.Timestamp
	}
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// Validate checks the payload matches the kind and carries its required amounts.
func (e Event) Validate() error {
	switch e.Kind {
	case EventInitialize:
		if e.Initialize == nil || e.Initialize.SqrtPriceX96 == nil {
			return fmt.Errorf("initialize event missing sqrt price")
		}
	case EventSwap:
		if e.Swap == nil || e.Swap.AmountIn == nil {
			return fmt.Errorf("swap event missing amount_in")
		}
	case EventAddLiquidity:
		if e.Add == nil || e.Add.Liquidity == nil {
			return fmt.Errorf("add_liquidity event missing liquidity")
		}
		if e.Add.Owner == "" && e.Add.PositionID == "" {
			return fmt.Errorf("add_liquidity event missing owner")
		}
	case EventRemoveLiquidity:
		if e.Remove == nil || e.Remove.Liquidity == nil {
			return fmt.Errorf("remove_liquidity event missing liquidity")
		}
		if e.Remove.PositionID == "" {
			return fmt.Errorf("remove_liquidity event missing position_id")
		}
	case EventCollectFees:
		if e.Collect == nil || e.Collect.PositionID == "" {
			return fmt.Errorf("collect_fees event missing position_id")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// String is a short locator used in logs and errors.
func (e Event) String() string {
	return fmt.Sprintf("%s@%d/%d/%d", e.Kind, e.Timestamp, e.BlockNumber, e.LogIndex)
}
