package pool

import (
	"fmt"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
	"clmmBacktest/internal/tickmath"
)

// SwapResult describes an applied exact-input swap.
type SwapResult struct {
	ZeroForOne bool
	// AmountIn is the input consumed, fee included.
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	FeePaid   *uint256.Int
	// Remaining is input left unfilled because the price limit was reached.
	Remaining    *uint256.Int
	SqrtPriceX96 *uint256.Int
	Tick         int32
	TicksCrossed []int32
	LimitReached bool
}

// DefaultPriceLimit is the most extreme limit allowed in the given direction.
func DefaultPriceLimit(zeroForOne bool) *uint256.Int {
	if zeroForOne {
		return new(uint256.Int).AddUint64(tickmath.MinSqrtRatio, 1)
	}
	return new(uint256.Int).SubUint64(tickmath.MaxSqrtRatio, 1)
}

// Swap executes an exact-input swap, crossing initialized ticks as needed.
// A nil or zero limit means no limit. The pool is only changed if the whole
// loop succeeds.
func (s *State) Swap(amountIn *uint256.Int, zeroForOne bool, sqrtPriceLimitX96 *uint256.Int) (SwapResult, error) {
	if !s.Initialized() {
		return SwapResult{}, ErrNotInitialized
	}
	limit := sqrtPriceLimitX96
	if limit == nil || limit.IsZero() {
		limit = DefaultPriceLimit(zeroForOne)
	}
	if zeroForOne {
		if limit.Gt(s.SqrtPriceX96) || !limit.Gt(tickmath.MinSqrtRatio) {
			return SwapResult{}, fmt.Errorf("%w: limit %s price %s", ErrPriceLimit, limit.Dec(), s.SqrtPriceX96.Dec())
		}
	} else if limit.Lt(s.SqrtPriceX96) || !limit.Lt(tickmath.MaxSqrtRatio) {
		return SwapResult{}, fmt.Errorf("%w: limit %s price %s", ErrPriceLimit, limit.Dec(), s.SqrtPriceX96.Dec())
	}

	res := SwapResult{
		ZeroForOne:   zeroForOne,
		AmountIn:     new(uint256.Int),
		AmountOut:    new(uint256.Int),
		FeePaid:      new(uint256.Int),
		Remaining:    amountIn.Clone(),
		SqrtPriceX96: s.SqrtPriceX96.Clone(),
		Tick:         s.Tick,
	}
	if amountIn.IsZero() {
		return res, nil
	}

	var (
		sqrtP     = s.SqrtPriceX96.Clone()
		tick      = s.Tick
		liquidity = s.Liquidity.Clone()
		global    *uint256.Int
		crossed   = make(map[int32]*Tick)
	)
	if zeroForOne {
		global = s.FeeGrowthGlobal0X128.Clone()
	} else {
		global = s.FeeGrowthGlobal1X128.Clone()
	}

	for !res.Remaining.IsZero() && !sqrtP.Eq(limit) {
		stepStart := sqrtP.Clone()
		next, initialized := s.nextInitializedTickWithinOneWord(tick, zeroForOne)
		if next < tickmath.MinTick {
			next = tickmath.MinTick
		} else if next > tickmath.MaxTick {
			next = tickmath.MaxTick
		}
		sqrtNext, err := tickmath.SqrtRatioAtTick(next)
		if err != nil {
			return SwapResult{}, err
		}
		target := sqrtNext
		if (zeroForOne && sqrtNext.Lt(limit)) || (!zeroForOne && sqrtNext.Gt(limit)) {
			target = limit
		}

		step, err := tickmath.ComputeSwapStep(sqrtP, target, liquidity, res.Remaining, s.Fee)
		if err != nil {
			return SwapResult{}, fmt.Errorf("swap step at tick %d: %w", tick, err)
		}
		sqrtP = step.SqrtPriceNext
		consumed := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
		res.Remaining.Sub(res.Remaining, consumed)
		res.AmountIn.Add(res.AmountIn, consumed)
		res.AmountOut.Add(res.AmountOut, step.AmountOut)
		res.FeePaid.Add(res.FeePaid, step.FeeAmount)

		if !step.FeeAmount.IsZero() {
			if liquidity.IsZero() {
				return SwapResult{}, ErrFeeWithoutLiquidity
			}
			growth, err := tickmath.MulDiv(step.FeeAmount, tickmath.Q128, liquidity)
			if err != nil {
				return SwapResult{}, err
			}
			if _, overflow := global.AddOverflow(global, growth); overflow {
				return SwapResult{}, &model.OverflowError{Op: "fee growth global"}
			}
		}

		if sqrtP.Eq(sqrtNext) {
			if initialized {
				net, err := s.stageCross(crossed, next, zeroForOne, global)
				if err != nil {
					return SwapResult{}, err
				}
				if zeroForOne {
					net.Neg(net)
				}
				if liquidity, err = tickmath.AddDelta(liquidity, net); err != nil {
					return SwapResult{}, fmt.Errorf("cross tick %d: %w", next, err)
				}
				res.TicksCrossed = append(res.TicksCrossed, next)
			}
			if zeroForOne {
				tick = next - 1
			} else {
				tick = next
			}
		} else if !sqrtP.Eq(stepStart) {
			if tick, err = tickmath.TickAtSqrtRatio(sqrtP); err != nil {
				return SwapResult{}, err
			}
		}
	}

	s.SqrtPriceX96 = sqrtP
	s.Tick = tick
	s.Liquidity = liquidity
	if zeroForOne {
		s.FeeGrowthGlobal0X128 = global
	} else {
		s.FeeGrowthGlobal1X128 = global
	}
	for idx, t := range crossed {
		s.ticks[idx] = t
	}

	res.SqrtPriceX96 = sqrtP.Clone()
	res.Tick = tick
	res.LimitReached = !res.Remaining.IsZero()
	return res, nil
}

// stageCross flips the outside growth of tick idx into the staged set and
// returns a copy of its net liquidity.
func (s *State) stageCross(staged map[int32]*Tick, idx int32, zeroForOne bool, global *uint256.Int) (*uint256.Int, error) {
	cur, ok := s.ticks[idx]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTickNotInitialized, idx)
	}
	t := cur.clone()
	global0, global1 := s.FeeGrowthGlobal0X128, s.FeeGrowthGlobal1X128
	if zeroForOne {
		global0 = global
	} else {
		global1 = global
	}
	t.FeeGrowthOutside0X128.Sub(global0, t.FeeGrowthOutside0X128)
	t.FeeGrowthOutside1X128.Sub(global1, t.FeeGrowthOutside1X128)
	staged[idx] = t
	return t.LiquidityNet.Clone(), nil
}
