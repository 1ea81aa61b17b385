package pool

import (
	"fmt"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/tickmath"
)

// LiquidityChange is a validated, not yet applied liquidity modification.
type LiquidityChange struct {
	Lower int32
	Upper int32
	// Delta is signed, in two's complement.
	Delta *uint256.Int
	// Amount0 and Amount1 are owed to the pool on add (rounded up)
	// or returned on remove (rounded down).
	Amount0 *uint256.Int
	Amount1 *uint256.Int

	lowerTick *Tick
	upperTick *Tick
	liquidity *uint256.Int
}

// PrepareModify validates a liquidity delta over [lower, upper) and computes the
// resulting tick and pool state. The pool is not changed until Commit.
func (s *State) PrepareModify(lower, upper int32, delta *uint256.Int) (*LiquidityChange, error) {
	if !s.Initialized() {
		return nil, ErrNotInitialized
	}
	if err := s.CheckTicks(lower, upper); err != nil {
		return nil, err
	}
	change := &LiquidityChange{
		Lower:   lower,
		Upper:   upper,
		Delta:   delta.Clone(),
		Amount0: new(uint256.Int),
		Amount1: new(uint256.Int),
	}
	if delta.IsZero() {
		return change, nil
	}

	var err error
	if change.lowerTick, err = s.nextTickState(lower, delta, false); err != nil {
		return nil, err
	}
	if change.upperTick, err = s.nextTickState(upper, delta, true); err != nil {
		return nil, err
	}
	if s.InRange(lower, upper) {
		if change.liquidity, err = tickmath.AddDelta(s.Liquidity, delta); err != nil {
			return nil, fmt.Errorf("pool liquidity: %w", err)
		}
	}

	adding := delta.Sign() > 0
	abs := delta.Clone()
	if !adding {
		abs.Neg(delta)
	}
	sqrtLower, err := tickmath.SqrtRatioAtTick(lower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := tickmath.SqrtRatioAtTick(upper)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Tick < lower:
		change.Amount0, err = tickmath.Amount0Delta(sqrtLower, sqrtUpper, abs, adding)
	case s.Tick < upper:
		if change.Amount0, err = tickmath.Amount0Delta(s.SqrtPriceX96, sqrtUpper, abs, adding); err != nil {
			return nil, err
		}
		change.Amount1, err = tickmath.Amount1Delta(sqrtLower, s.SqrtPriceX96, abs, adding)
	default:
		change.Amount1, err = tickmath.Amount1Delta(sqrtLower, sqrtUpper, abs, adding)
	}
	if err != nil {
		return nil, err
	}
	return change, nil
}

// Commit applies a change produced by PrepareModify against the same state.
func (s *State) Commit(change *LiquidityChange) {
	if change.Delta.IsZero() {
		return
	}
	s.putTick(change.Lower, change.lowerTick)
	s.putTick(change.Upper, change.upperTick)
	if change.liquidity != nil {
		s.Liquidity = change.liquidity
	}
}
