package tickmath

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	MinTick int32 = -887272
	MaxTick int32 = -MinTick

	// FeeDenominator is the unit of fee pips: 3000 pips is 0.3%.
	FeeDenominator uint64 = 1_000_000
)

// Shared constants. Callers must not mutate them.
var (
	MinSqrtRatio = uint256.NewInt(4295128739)
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	Q96        = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	Q128       = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	MaxUint128 = new(uint256.Int).SubUint64(Q128, 1)
	MaxUint160 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 160), 1)
	MaxUint256 = new(uint256.Int).SetAllOne()

	one = uint256.NewInt(1)
)

var (
	ErrTickOutOfRange      = errors.New("tick out of range")
	ErrSqrtPriceOutOfRange = errors.New("sqrt price out of range")
	ErrZeroLiquidity       = errors.New("zero liquidity")
	ErrZeroPrice           = errors.New("zero sqrt price")
	ErrInvalidFee          = errors.New("fee must be below 1e6 pips")
)
