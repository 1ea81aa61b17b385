package tickmath

import (
	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
)

// MulDiv computes floor(a*b/d) with a 512-bit intermediate product.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, &model.OverflowError{Op: "mulDiv: zero denominator"}
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, &model.OverflowError{Op: "mulDiv"}
	}
	return z, nil
}

// MulDivRoundingUp computes ceil(a*b/d).
func MulDivRoundingUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(a, b, d).IsZero() {
		if z.Eq(MaxUint256) {
			return nil, &model.OverflowError{Op: "mulDivRoundingUp"}
		}
		z.Add(z, one)
	}
	return z, nil
}

// DivRoundingUp computes ceil(x/y).
func DivRoundingUp(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, &model.OverflowError{Op: "divRoundingUp: zero denominator"}
	}
	z := new(uint256.Int).Div(x, y)
	if !new(uint256.Int).Mod(x, y).IsZero() {
		z.Add(z, one)
	}
	return z, nil
}

// AddDelta applies a signed two's-complement liquidity delta to a uint128 liquidity value.
func AddDelta(x, delta *uint256.Int) (*uint256.Int, error) {
	if delta.Sign() < 0 {
		abs := new(uint256.Int).Neg(delta)
		if abs.Gt(x) {
			return nil, &model.OverflowError{Op: "liquidity underflow"}
		}
		return new(uint256.Int).Sub(x, abs), nil
	}
	z := new(uint256.Int).Add(x, delta)
	if z.Gt(MaxUint128) {
		return nil, &model.OverflowError{Op: "liquidity overflow"}
	}
	return z, nil
}
