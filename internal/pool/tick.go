package pool

import (
	"fmt"
	"slices"
	"sort"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/tickmath"
)

// Tick holds the per-boundary liquidity and fee bookkeeping.
// LiquidityNet is a signed value in two's complement.
type Tick struct {
	LiquidityGross        *uint256.Int
	LiquidityNet          *uint256.Int
	FeeGrowthOutside0X128 *uint256.Int
	FeeGrowthOutside1X128 *uint256.Int
}

func newTick() *Tick {
	return &Tick{
		LiquidityGross:        new(uint256.Int),
		LiquidityNet:          new(uint256.Int),
		FeeGrowthOutside0X128: new(uint256.Int),
		FeeGrowthOutside1X128: new(uint256.Int),
	}
}

func (t *Tick) clone() *Tick {
	return &Tick{
		LiquidityGross:        t.LiquidityGross.Clone(),
		LiquidityNet:          t.LiquidityNet.Clone(),
		FeeGrowthOutside0X128: t.FeeGrowthOutside0X128.Clone(),
		FeeGrowthOutside1X128: t.FeeGrowthOutside1X128.Clone(),
	}
}

// InitializedTicks returns the initialized tick indices in ascending order.
func (s *State) InitializedTicks() []int32 {
	return append([]int32(nil), s.sorted...)
}

// nextTickState computes the tick at idx after applying a signed liquidity delta
// without touching the pool.
func (s *State) nextTickState(idx int32, delta *uint256.Int, upper bool) (*Tick, error) {
	var t *Tick
	if cur, ok := s.ticks[idx]; ok {
		t = cur.clone()
	} else {
		t = newTick()
		// growth below the current tick is assumed to have happened below this one
		if idx <= s.Tick {
			t.FeeGrowthOutside0X128.Set(s.FeeGrowthGlobal0X128)
			t.FeeGrowthOutside1X128.Set(s.FeeGrowthGlobal1X128)
		}
	}
	gross, err := tickmath.AddDelta(t.LiquidityGross, delta)
	if err != nil {
		return nil, fmt.Errorf("tick %d gross: %w", idx, err)
	}
	t.LiquidityGross = gross
	if upper {
		t.LiquidityNet.Sub(t.LiquidityNet, delta)
	} else {
		t.LiquidityNet.Add(t.LiquidityNet, delta)
	}
	return t, nil
}

func (s *State) putTick(idx int32, t *Tick) {
	_, existed := s.ticks[idx]
	if t.LiquidityGross.IsZero() {
		if existed {
			delete(s.ticks, idx)
			if i, found := slices.BinarySearch(s.sorted, idx); found {
				s.sorted = slices.Delete(s.sorted, i, i+1)
			}
		}
		return
	}
	s.ticks[idx] = t
	if !existed {
		i, _ := slices.BinarySearch(s.sorted, idx)
		s.sorted = slices.Insert(s.sorted, i, idx)
	}
}

// nextInitializedTickWithinOneWord searches one 256-tick bitmap word for the next
// initialized tick. When lte is set it searches at or below tick, otherwise above it.
// If none is found the word boundary is returned with initialized=false.
func (s *State) nextInitializedTickWithinOneWord(tick int32, lte bool) (int32, bool) {
	compressed := tickmath.FloorTick(tick, s.TickSpacing) / s.TickSpacing
	if lte {
		word := compressed >> 8
		minimum := (word << 8) * s.TickSpacing
		i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i] > tick }) - 1
		if i >= 0 && s.sorted[i] >= minimum {
			return s.sorted[i], true
		}
		return minimum, false
	}
	word := (compressed + 1) >> 8
	maximum := ((word+1)<<8 - 1) * s.TickSpacing
	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i] > tick })
	if i < len(s.sorted) && s.sorted[i] <= maximum {
		return s.sorted[i], true
	}
	return maximum, false
}

// FeeGrowthInside returns the per-liquidity fee growth accumulated inside [lower, upper).
// Values wrap modulo 2^256; only differences are meaningful.
func (s *State) FeeGrowthInside(lower, upper int32) (*uint256.Int, *uint256.Int) {
	lo, hi := s.ticks[lower], s.ticks[upper]
	if lo == nil {
		lo = newTick()
	}
	if hi == nil {
		hi = newTick()
	}
	inside0 := growthInside(s.Tick, lower, upper, s.FeeGrowthGlobal0X128, lo.FeeGrowthOutside0X128, hi.FeeGrowthOutside0X128)
	inside1 := growthInside(s.Tick, lower, upper, s.FeeGrowthGlobal1X128, lo.FeeGrowthOutside1X128, hi.FeeGrowthOutside1X128)
	return inside0, inside1
}

func growthInside(current, lower, upper int32, global, outsideLower, outsideUpper *uint256.Int) *uint256.Int {
	below := new(uint256.Int)
	if current >= lower {
		below.Set(outsideLower)
	} else {
		below.Sub(global, outsideLower)
	}
	above := new(uint256.Int)
	if current < upper {
		above.Set(outsideUpper)
	} else {
		above.Sub(global, outsideUpper)
	}
	inside := new(uint256.Int).Sub(global, below)
	return inside.Sub(inside, above)
}
