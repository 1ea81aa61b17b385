package tickmath

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"clmmBacktest/internal/model"
)

func TestSqrtRatioAtTickKnownValues(t *testing.T) {
	cases := []struct {
		tick int32
		want string
	}{
		{0, "79228162514264337593543950336"},
		{MinTick, "4295128739"},
		{MaxTick, "1461446703485210103287273052203988822378723970342"},
		{1, "79232123823359799118286999568"},
		{-1, "79224201403219477170569942574"},
	}
	for _, tc := range cases {
		got, err := SqrtRatioAtTick(tc.tick)
		require.NoError(t, err)
		require.Equal(t, tc.want, got.Dec(), "tick %d", tc.tick)
	}
}

func TestSqrtRatioAtTickRejectsOutOfRange(t *testing.T) {
	for _, tick := range []int32{MinTick - 1, MaxTick + 1} {
		if _, err := SqrtRatioAtTick(tick); !errors.Is(err, ErrTickOutOfRange) {
			t.Fatalf("tick %d: expected ErrTickOutOfRange, got %v", tick, err)
		}
	}
}

func TestTickRoundTripAndMonotonic(t *testing.T) {
	ticks := []int32{MinTick, MinTick + 1, -500000, -69082, -887, -60, -1, 0, 1, 59, 887, 69082, 500000, MaxTick - 1}
	var prev *uint256.Int
	for _, tick := range ticks {
		ratio, err := SqrtRatioAtTick(tick)
		require.NoError(t, err)
		if prev != nil && !ratio.Gt(prev) {
			t.Fatalf("sqrt ratio not increasing at tick %d", tick)
		}
		prev = ratio

		back, err := TickAtSqrtRatio(ratio)
		require.NoError(t, err)
		require.Equal(t, tick, back)

		// one below the boundary belongs to the previous tick
		if tick > MinTick {
			below := new(uint256.Int).SubUint64(ratio, 1)
			got, err := TickAtSqrtRatio(below)
			require.NoError(t, err)
			require.Equal(t, tick-1, got)
		}
	}
}

func TestTickAtSqrtRatioBounds(t *testing.T) {
	if _, err := TickAtSqrtRatio(MaxSqrtRatio); !errors.Is(err, ErrSqrtPriceOutOfRange) {
		t.Fatalf("expected out of range for max ratio, got %v", err)
	}
	below := new(uint256.Int).SubUint64(MinSqrtRatio, 1)
	if _, err := TickAtSqrtRatio(below); !errors.Is(err, ErrSqrtPriceOutOfRange) {
		t.Fatalf("expected out of range below min ratio, got %v", err)
	}
	top := new(uint256.Int).SubUint64(MaxSqrtRatio, 1)
	tick, err := TickAtSqrtRatio(top)
	require.NoError(t, err)
	require.Equal(t, MaxTick-1, tick)
}

func TestFloorTick(t *testing.T) {
	require.Equal(t, int32(-120), FloorTick(-61, 60))
	require.Equal(t, int32(-60), FloorTick(-60, 60))
	require.Equal(t, int32(0), FloorTick(59, 60))
	require.Equal(t, int32(887220), MaxUsableTick(60))
	require.Equal(t, int32(-887220), MinUsableTick(60))
}

func TestMulDivOverflowAndZeroDenominator(t *testing.T) {
	var overflow *model.OverflowError
	_, err := MulDiv(MaxUint256, MaxUint256, uint256.NewInt(1))
	require.ErrorAs(t, err, &overflow)

	_, err = MulDiv(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int))
	require.ErrorAs(t, err, &overflow)

	got, err := MulDiv(MaxUint256, MaxUint256, MaxUint256)
	require.NoError(t, err)
	require.True(t, got.Eq(MaxUint256))
}

func TestMulDivRoundingUp(t *testing.T) {
	got, err := MulDivRoundingUp(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, uint64(11), got.Uint64())

	got, err = MulDivRoundingUp(uint256.NewInt(8), uint256.NewInt(3), uint256.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, uint64(12), got.Uint64())
}

func TestAddDelta(t *testing.T) {
	l, err := AddDelta(uint256.NewInt(10), new(uint256.Int).Neg(uint256.NewInt(4)))
	require.NoError(t, err)
	require.Equal(t, uint64(6), l.Uint64())

	var overflow *model.OverflowError
	_, err = AddDelta(uint256.NewInt(3), new(uint256.Int).Neg(uint256.NewInt(4)))
	require.ErrorAs(t, err, &overflow)
	_, err = AddDelta(MaxUint128, uint256.NewInt(1))
	require.ErrorAs(t, err, &overflow)
}
