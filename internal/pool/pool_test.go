package pool

import (
	"errors"
	"reflect"
	"testing"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/tickmath"
)

func newTestPool(t *testing.T, fee uint32, spacing, tick int32) *State {
	t.Helper()
	p, err := New(fee, spacing)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if err := p.InitializeAtTick(tick); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return p
}

func modifyLiquidity(p *State, lower, upper int32, delta *uint256.Int) (*LiquidityChange, error) {
	change, err := p.PrepareModify(lower, upper, delta)
	if err != nil {
		return nil, err
	}
	p.Commit(change)
	return change, nil
}

func tickInfo(p *State, idx int32) (Tick, bool) {
	t, ok := p.ticks[idx]
	if !ok {
		return Tick{}, false
	}
	return *t.clone(), true
}

func mint(t *testing.T, p *State, lower, upper int32, liquidity uint64) *LiquidityChange {
	t.Helper()
	change, err := modifyLiquidity(p, lower, upper, uint256.NewInt(liquidity))
	if err != nil {
		t.Fatalf("mint [%d,%d): %v", lower, upper, err)
	}
	return change
}

func ratio(t *testing.T, tick int32) *uint256.Int {
	t.Helper()
	r, err := tickmath.SqrtRatioAtTick(tick)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	return r
}

func TestSwapSingleRangeAccruesFeesInside(t *testing.T) {
	p := newTestPool(t, 3000, 1, 0)
	const l = 1_000_000_000_000_000_000
	mint(t, p, -200, 200, l)

	amount := uint256.NewInt(1_000_000)
	res, err := p.Swap(amount, true, nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !res.Remaining.IsZero() || res.LimitReached {
		t.Fatalf("expected full fill, remaining %s", res.Remaining.Dec())
	}
	if !res.AmountIn.Eq(amount) {
		t.Fatalf("amount in %s != %s", res.AmountIn.Dec(), amount.Dec())
	}
	if p.Tick >= 0 {
		t.Fatalf("tick should move down, got %d", p.Tick)
	}
	if len(res.TicksCrossed) != 0 {
		t.Fatalf("unexpected crossings %v", res.TicksCrossed)
	}

	want, err := tickmath.MulDiv(res.FeePaid, tickmath.Q128, uint256.NewInt(l))
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	if !p.FeeGrowthGlobal0X128.Eq(want) {
		t.Fatalf("global growth %s want %s", p.FeeGrowthGlobal0X128.Dec(), want.Dec())
	}
	if !p.FeeGrowthGlobal1X128.IsZero() {
		t.Fatalf("token1 growth should stay zero")
	}
	inside0, inside1 := p.FeeGrowthInside(-200, 200)
	if !inside0.Eq(p.FeeGrowthGlobal0X128) || !inside1.IsZero() {
		t.Fatalf("inside growth %s/%s, global %s", inside0.Dec(), inside1.Dec(), p.FeeGrowthGlobal0X128.Dec())
	}
}

func TestSwapAcrossBoundaryFlipsOutsideAndSplitsFees(t *testing.T) {
	p := newTestPool(t, 3000, 1, 100)
	const l = 1_000_000_000_000_000_000
	mint(t, p, -200, 0, l)
	mint(t, p, 0, 200, l)
	if !p.Liquidity.Eq(uint256.NewInt(l)) {
		t.Fatalf("active liquidity %s", p.Liquidity.Dec())
	}

	before, _ := tickInfo(p, 0)
	res, err := p.Swap(uint256.MustFromDecimal("100000000000000000"), true, ratio(t, -100))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !res.LimitReached || res.Remaining.IsZero() {
		t.Fatalf("expected partial fill at the limit")
	}
	if p.Tick != -100 {
		t.Fatalf("tick %d, want -100", p.Tick)
	}
	if !reflect.DeepEqual(res.TicksCrossed, []int32{0}) {
		t.Fatalf("crossed %v", res.TicksCrossed)
	}
	if !p.Liquidity.Eq(uint256.NewInt(l)) {
		t.Fatalf("liquidity changed across symmetric boundary: %s", p.Liquidity.Dec())
	}

	after, _ := tickInfo(p, 0)
	if after.FeeGrowthOutside0X128.Eq(before.FeeGrowthOutside0X128) {
		t.Fatalf("outside growth at crossed tick did not flip")
	}

	upper0, _ := p.FeeGrowthInside(0, 200)
	lower0, _ := p.FeeGrowthInside(-200, 0)
	if upper0.IsZero() || lower0.IsZero() {
		t.Fatalf("both ranges should earn fees: upper %s lower %s", upper0.Dec(), lower0.Dec())
	}
	sum := new(uint256.Int).Add(upper0, lower0)
	if !sum.Eq(p.FeeGrowthGlobal0X128) {
		t.Fatalf("inside growths %s do not add to global %s", sum.Dec(), p.FeeGrowthGlobal0X128.Dec())
	}
	// the two legs span 100 ticks each, so the shares are close
	hi, lo := upper0, lower0
	if hi.Lt(lo) {
		hi, lo = lo, hi
	}
	gap := new(uint256.Int).Sub(hi, lo)
	if gap.Mul(gap, uint256.NewInt(50)).Gt(hi) {
		t.Fatalf("fee shares diverge: %s vs %s", upper0.Dec(), lower0.Dec())
	}
}

func TestSwapThroughEmptyStretchConsumesNothingThere(t *testing.T) {
	p := newTestPool(t, 500, 10, 0)
	mint(t, p, -600, -300, 1_000_000_000_000)
	if !p.Liquidity.IsZero() {
		t.Fatalf("no liquidity should be active at tick 0")
	}

	res, err := p.Swap(uint256.NewInt(1_000_000), true, nil)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if res.FeePaid.IsZero() {
		t.Fatalf("swap should pay fees once it reaches liquidity")
	}
	if p.Tick >= -300 {
		t.Fatalf("price should move into the funded range, tick %d", p.Tick)
	}
	if p.Tick < -600 && res.Remaining.IsZero() {
		t.Fatalf("tick %d left range while filled", p.Tick)
	}
}

func TestSwapIntoEmptyPoolReturnsRemainder(t *testing.T) {
	p := newTestPool(t, 3000, 60, 0)
	limit := ratio(t, -120)
	res, err := p.Swap(uint256.NewInt(5000), true, limit)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !res.Remaining.Eq(uint256.NewInt(5000)) || !res.AmountIn.IsZero() {
		t.Fatalf("nothing should be consumed without liquidity")
	}
	if !p.SqrtPriceX96.Eq(limit) || p.Tick != -120 {
		t.Fatalf("price should sit at the limit, tick %d", p.Tick)
	}
}

func TestSwapWrongSideLimitLeavesStateUnchanged(t *testing.T) {
	p := newTestPool(t, 3000, 60, 0)
	mint(t, p, -600, 600, 1_000_000_000)
	before := p.Clone()

	_, err := p.Swap(uint256.NewInt(1000), true, ratio(t, 60))
	if !errors.Is(err, ErrPriceLimit) {
		t.Fatalf("expected ErrPriceLimit, got %v", err)
	}
	if !reflect.DeepEqual(before, p) {
		t.Fatalf("failed swap mutated state")
	}
}

func TestZeroSwapIsNoop(t *testing.T) {
	p := newTestPool(t, 3000, 60, 0)
	mint(t, p, -600, 600, 1_000_000_000)
	before := p.Clone()
	if _, err := p.Swap(new(uint256.Int), false, nil); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !reflect.DeepEqual(before, p) {
		t.Fatalf("zero swap mutated state")
	}
}

func TestFeeGrowthNeverDecreases(t *testing.T) {
	p := newTestPool(t, 3000, 10, 0)
	mint(t, p, -1000, 1000, 10_000_000_000)
	mint(t, p, -200, 300, 5_000_000_000)

	prev0, prev1 := p.FeeGrowthGlobal0X128.Clone(), p.FeeGrowthGlobal1X128.Clone()
	for i := 0; i < 20; i++ {
		if _, err := p.Swap(uint256.NewInt(uint64(10_000_000+i*1_000_000)), i%2 == 0, nil); err != nil {
			t.Fatalf("swap %d: %v", i, err)
		}
		if p.FeeGrowthGlobal0X128.Lt(prev0) || p.FeeGrowthGlobal1X128.Lt(prev1) {
			t.Fatalf("fee growth decreased at swap %d", i)
		}
		prev0, prev1 = p.FeeGrowthGlobal0X128.Clone(), p.FeeGrowthGlobal1X128.Clone()
	}
}

func TestLiquidityConservation(t *testing.T) {
	p := newTestPool(t, 3000, 60, 0)
	mint(t, p, -120, 120, 1000)
	mint(t, p, -60, 180, 500)
	if got := p.Liquidity.Uint64(); got != 1500 {
		t.Fatalf("active liquidity %d, want 1500", got)
	}
	if _, err := modifyLiquidity(p, -120, 120, new(uint256.Int).Neg(uint256.NewInt(400))); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := p.Liquidity.Uint64(); got != 1100 {
		t.Fatalf("active liquidity %d, want 1100", got)
	}
	if _, err := modifyLiquidity(p, -120, 120, new(uint256.Int).Neg(uint256.NewInt(600))); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if _, err := modifyLiquidity(p, -60, 180, new(uint256.Int).Neg(uint256.NewInt(500))); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if !p.Liquidity.IsZero() {
		t.Fatalf("liquidity should return to zero, got %s", p.Liquidity.Dec())
	}
	if n := len(p.InitializedTicks()); n != 0 {
		t.Fatalf("ticks should be cleared, %d remain", n)
	}
}

func TestModifyLiquidityRejectsBadRanges(t *testing.T) {
	p := newTestPool(t, 3000, 60, 0)
	if _, err := modifyLiquidity(p, -50, 60, uint256.NewInt(1)); !errors.Is(err, ErrTickNotAligned) {
		t.Fatalf("expected ErrTickNotAligned, got %v", err)
	}
	if _, err := modifyLiquidity(p, 60, 60, uint256.NewInt(1)); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	before := p.Clone()
	if _, err := modifyLiquidity(p, -60, 60, new(uint256.Int).Neg(uint256.NewInt(1))); err == nil {
		t.Fatalf("expected underflow burning from empty ticks")
	}
	if !reflect.DeepEqual(before, p) {
		t.Fatalf("failed burn mutated state")
	}
}

func TestModifyLiquidityAmounts(t *testing.T) {
	p := newTestPool(t, 3000, 60, 0)
	below := mint(t, p, -600, -60, 1_000_000_000)
	if !below.Amount0.IsZero() || below.Amount1.IsZero() {
		t.Fatalf("range below price should need only token1")
	}
	above := mint(t, p, 60, 600, 1_000_000_000)
	if above.Amount0.IsZero() || !above.Amount1.IsZero() {
		t.Fatalf("range above price should need only token0")
	}
	in := mint(t, p, -60, 60, 1_000_000_000)
	if in.Amount0.IsZero() || in.Amount1.IsZero() {
		t.Fatalf("active range should need both tokens")
	}
	out, err := modifyLiquidity(p, -60, 60, new(uint256.Int).Neg(uint256.NewInt(1_000_000_000)))
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if out.Amount0.Gt(in.Amount0) || out.Amount1.Gt(in.Amount1) {
		t.Fatalf("burn returned more than minted")
	}
}

func TestNextInitializedTickWithinOneWord(t *testing.T) {
	p := newTestPool(t, 3000, 1, 0)
	mint(t, p, -300, 10, 100)

	if next, ok := p.nextInitializedTickWithinOneWord(5, true); next != 0 || ok {
		t.Fatalf("lte from 5: %d %v", next, ok)
	}
	if next, ok := p.nextInitializedTickWithinOneWord(10, true); next != 10 || !ok {
		t.Fatalf("lte from 10: %d %v", next, ok)
	}
	if next, ok := p.nextInitializedTickWithinOneWord(0, false); next != 10 || !ok {
		t.Fatalf("gt from 0: %d %v", next, ok)
	}
	if next, ok := p.nextInitializedTickWithinOneWord(10, false); next != 255 || ok {
		t.Fatalf("gt from 10: %d %v", next, ok)
	}
	if next, ok := p.nextInitializedTickWithinOneWord(-257, true); next != -300 || !ok {
		t.Fatalf("lte from -257: %d %v", next, ok)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	p := newTestPool(t, 3000, 60, 0)
	if err := p.InitializeAtTick(10); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}
