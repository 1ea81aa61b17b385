package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
)

// ConvertOptions tunes how decoded logs become replay events.
type ConvertOptions struct {
	// SwapPriceLimit bounds each replayed swap by the price the chain
	// reported after it.
	SwapPriceLimit bool
}

// ToEvent converts a decoded pool log into a replay event. ok is false for
// logs that cannot change replay state: zero-amount burns (fee pokes) and
// swaps that moved nothing.
func ToEvent(te *model.TypedEvent, opts ConvertOptions) (ev model.Event, ok bool, err error) {
	if te == nil {
		return model.Event{}, false, fmt.Errorf("nil typed event")
	}
	ev = model.Event{
		Pool:        strings.ToLower(te.Address),
		Timestamp:   te.Timestamp,
		BlockNumber: te.BlockNumber,
		LogIndex:    te.LogIndex,
		TxHash:      te.TxHash,
	}

	switch data := te.Decoded.(type) {
	case model.InitializeEventData:
		price, err := parseUint(data.SqrtPriceX96, "sqrt_price_x96")
		if err != nil {
			return model.Event{}, false, err
		}
		ev.Kind = model.EventInitialize
		ev.Initialize = &model.InitializeParams{SqrtPriceX96: price}

	case model.SwapEventData:
		swap, ok, err := swapParams(data, opts)
		if err != nil || !ok {
			return model.Event{}, ok, err
		}
		ev.Kind = model.EventSwap
		ev.Swap = swap

	case model.MintEventData:
		liquidity, err := parseUint(data.Amount, "amount")
		if err != nil {
			return model.Event{}, false, err
		}
		if liquidity.IsZero() {
			return model.Event{}, false, nil
		}
		ev.Kind = model.EventAddLiquidity
		ev.Add = &model.AddLiquidityParams{
			Owner:     strings.ToLower(data.Owner),
			TickLower: data.TickLower,
			TickUpper: data.TickUpper,
			Liquidity: liquidity,
		}

	case model.BurnEventData:
		liquidity, err := parseUint(data.Amount, "amount")
		if err != nil {
			return model.Event{}, false, err
		}
		if liquidity.IsZero() {
			return model.Event{}, false, nil
		}
		ev.Kind = model.EventRemoveLiquidity
		ev.Remove = &model.RemoveLiquidityParams{
			PositionID: model.PositionKey(data.Owner, data.TickLower, data.TickUpper),
			Liquidity:  liquidity,
		}

	case model.CollectEventData:
		// The chain's collect amounts include burned principal, which the
		// ledger pays out on remove, so fees are collected in full instead.
		ev.Kind = model.EventCollectFees
		ev.Collect = &model.CollectFeesParams{
			PositionID: model.PositionKey(data.Owner, data.TickLower, data.TickUpper),
		}

	default:
		return model.Event{}, false, fmt.Errorf("unsupported decoded payload %T for %s", te.Decoded, te.EventName)
	}
	return ev, true, nil
}

func swapParams(data model.SwapEventData, opts ConvertOptions) (*model.SwapParams, bool, error) {
	amount0, ok := new(big.Int).SetString(data.Amount0, 10)
	if !ok {
		return nil, false, fmt.Errorf("invalid amount0 %q", data.Amount0)
	}
	amount1, ok := new(big.Int).SetString(data.Amount1, 10)
	if !ok {
		return nil, false, fmt.Errorf("invalid amount1 %q", data.Amount1)
	}

	// The positive side is what the pool received, fee included.
	var (
		in         *big.Int
		zeroForOne bool
	)
	switch {
	case amount0.Sign() > 0:
		in, zeroForOne = amount0, true
	case amount1.Sign() > 0:
		in = amount1
	default:
		return nil, false, nil
	}
	amountIn, overflow := uint256.FromBig(in)
	if overflow {
		return nil, false, fmt.Errorf("swap input overflows 256 bits: %s", in)
	}

	params := &model.SwapParams{
		AmountIn:   amountIn,
		ZeroForOne: zeroForOne,
		Sender:     strings.ToLower(data.Sender),
	}
	if opts.SwapPriceLimit {
		limit, err := parseUint(data.SqrtPriceX96, "sqrt_price_x96")
		if err != nil {
			return nil, false, err
		}
		params.SqrtPriceLimitX96 = limit
	}
	return params, true, nil
}

func parseUint(s, field string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}
