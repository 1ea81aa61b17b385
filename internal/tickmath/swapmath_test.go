package tickmath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRatio(t *testing.T, tick int32) *uint256.Int {
	t.Helper()
	r, err := SqrtRatioAtTick(tick)
	require.NoError(t, err)
	return r
}

func TestAmountDeltasExact(t *testing.T) {
	twoQ96 := new(uint256.Int).Lsh(Q96, 1)
	l := uint256.NewInt(1_000_000_000_000_000_000)

	a1, err := Amount1Delta(Q96, twoQ96, l, false)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", a1.Dec())

	a0, err := Amount0Delta(Q96, twoQ96, l, false)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", a0.Dec())

	a0up, err := Amount0Delta(Q96, twoQ96, l, true)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", a0up.Dec())
}

func TestAmountDeltasCommutativeAndRounding(t *testing.T) {
	a, b := mustRatio(t, -1234), mustRatio(t, 4321)
	l := uint256.MustFromDecimal("123456789012345678901")

	for _, roundUp := range []bool{false, true} {
		x, err := Amount0Delta(a, b, l, roundUp)
		require.NoError(t, err)
		y, err := Amount0Delta(b, a, l, roundUp)
		require.NoError(t, err)
		assert.True(t, x.Eq(y), "amount0 not commutative")

		x, err = Amount1Delta(a, b, l, roundUp)
		require.NoError(t, err)
		y, err = Amount1Delta(b, a, l, roundUp)
		require.NoError(t, err)
		assert.True(t, x.Eq(y), "amount1 not commutative")
	}

	down, err := Amount0Delta(a, b, l, false)
	require.NoError(t, err)
	up, err := Amount0Delta(a, b, l, true)
	require.NoError(t, err)
	diff := new(uint256.Int).Sub(up, down)
	assert.True(t, diff.LtUint64(2), "rounding differs by more than one unit")
}

func TestNextSqrtPriceFromInputMovesInTradeDirection(t *testing.T) {
	p := mustRatio(t, 0)
	l := uint256.MustFromDecimal("1000000000000000000")
	amt := uint256.NewInt(1_000_000_000_000_000)

	down, err := NextSqrtPriceFromInput(p, l, amt, true)
	require.NoError(t, err)
	assert.True(t, down.Lt(p))

	up, err := NextSqrtPriceFromInput(p, l, amt, false)
	require.NoError(t, err)
	assert.True(t, up.Gt(p))

	same, err := NextSqrtPriceFromInput(p, l, new(uint256.Int), true)
	require.NoError(t, err)
	assert.True(t, same.Eq(p))

	_, err = NextSqrtPriceFromInput(p, new(uint256.Int), amt, true)
	require.ErrorIs(t, err, ErrZeroLiquidity)
}

func TestComputeSwapStepPartialConsumesAllInput(t *testing.T) {
	current := mustRatio(t, 0)
	target := mustRatio(t, -1000)
	l := uint256.MustFromDecimal("1000000000000000000000")
	remaining := uint256.NewInt(1_000_000)

	step, err := ComputeSwapStep(current, target, l, remaining, 3000)
	require.NoError(t, err)
	require.False(t, step.SqrtPriceNext.Eq(target))
	require.True(t, step.SqrtPriceNext.Lt(current))

	total := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
	assert.True(t, total.Eq(remaining), "in+fee=%s remaining=%s", total.Dec(), remaining.Dec())
	assert.True(t, step.FeeAmount.GtUint64(0))
}

func TestComputeSwapStepReachesTarget(t *testing.T) {
	current := mustRatio(t, 0)
	target := mustRatio(t, 10)
	l := uint256.NewInt(1_000_000)
	remaining := uint256.MustFromDecimal("1000000000000000000")

	step, err := ComputeSwapStep(current, target, l, remaining, 500)
	require.NoError(t, err)
	require.True(t, step.SqrtPriceNext.Eq(target))

	total := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
	assert.True(t, total.Lt(remaining))
	expectedIn, err := Amount1Delta(current, target, l, true)
	require.NoError(t, err)
	assert.True(t, step.AmountIn.Eq(expectedIn))
}

func TestComputeSwapStepZeroLiquidityJumpsToTarget(t *testing.T) {
	current := mustRatio(t, 0)
	target := mustRatio(t, -600)

	step, err := ComputeSwapStep(current, target, new(uint256.Int), uint256.NewInt(12345), 3000)
	require.NoError(t, err)
	assert.True(t, step.SqrtPriceNext.Eq(target))
	assert.True(t, step.AmountIn.IsZero())
	assert.True(t, step.AmountOut.IsZero())
	assert.True(t, step.FeeAmount.IsZero())
}

func TestLiquidityForAmountsRoundTrip(t *testing.T) {
	p := mustRatio(t, 0)
	a, b := mustRatio(t, -600), mustRatio(t, 600)
	amount0 := uint256.NewInt(1_000_000_000)
	amount1 := uint256.NewInt(1_000_000_000)

	l, err := LiquidityForAmounts(p, a, b, amount0, amount1)
	require.NoError(t, err)
	require.False(t, l.IsZero())

	got0, got1, err := AmountsForLiquidity(p, a, b, l, false)
	require.NoError(t, err)
	assert.False(t, got0.Gt(amount0))
	assert.False(t, got1.Gt(amount1))

	// below the range only token0 backs the position
	below := mustRatio(t, -1000)
	only0, only1, err := AmountsForLiquidity(below, a, b, l, false)
	require.NoError(t, err)
	assert.True(t, only1.IsZero())
	assert.False(t, only0.IsZero())
}

func TestAmountForLiquidityRoundsDown(t *testing.T) {
	a, b := mustRatio(t, -1234), mustRatio(t, 4321)
	l := uint256.MustFromDecimal("123456789012345678901")

	floor0, err := Amount0ForLiquidity(b, a, l)
	require.NoError(t, err)
	down0, err := Amount0Delta(a, b, l, false)
	require.NoError(t, err)
	assert.True(t, floor0.Eq(down0))

	floor1, err := Amount1ForLiquidity(a, b, l)
	require.NoError(t, err)
	up1, err := Amount1Delta(a, b, l, true)
	require.NoError(t, err)
	assert.False(t, floor1.Gt(up1))

	// in range the rounded-up amounts never fall below the floor ones
	p := mustRatio(t, 100)
	d0, d1, err := AmountsForLiquidity(p, a, b, l, false)
	require.NoError(t, err)
	u0, u1, err := AmountsForLiquidity(p, a, b, l, true)
	require.NoError(t, err)
	assert.False(t, d0.Gt(u0))
	assert.False(t, d1.Gt(u1))
}
