package tickmath

import (
	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
)

func toUint128(x *uint256.Int, op string) (*uint256.Int, error) {
	if x.Gt(MaxUint128) {
		return nil, &model.OverflowError{Op: op}
	}
	return x, nil
}

// LiquidityForAmount0 is the liquidity that amount0 buys across [sqrtA, sqrtB].
func LiquidityForAmount0(sqrtA, sqrtB, amount0 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.Eq(sqrtB) {
		return new(uint256.Int), nil
	}
	intermediate, err := MulDiv(sqrtA, sqrtB, Q96)
	if err != nil {
		return nil, err
	}
	l, err := MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtB, sqrtA))
	if err != nil {
		return nil, err
	}
	return toUint128(l, "liquidityForAmount0")
}

// LiquidityForAmount1 is the liquidity that amount1 buys across [sqrtA, sqrtB].
func LiquidityForAmount1(sqrtA, sqrtB, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.Eq(sqrtB) {
		return new(uint256.Int), nil
	}
	l, err := MulDiv(amount1, Q96, new(uint256.Int).Sub(sqrtB, sqrtA))
	if err != nil {
		return nil, err
	}
	return toUint128(l, "liquidityForAmount1")
}

// LiquidityForAmounts is the largest liquidity that amount0 and amount1 can fund
// for the range at the current price. Rounds down.
func LiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	switch {
	case !sqrtP.Gt(sqrtA):
		return LiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtP.Lt(sqrtB):
		l0, err := LiquidityForAmount0(sqrtP, sqrtB, amount0)
		if err != nil {
			return nil, err
		}
		l1, err := LiquidityForAmount1(sqrtA, sqrtP, amount1)
		if err != nil {
			return nil, err
		}
		if l0.Lt(l1) {
			return l0, nil
		}
		return l1, nil
	default:
		return LiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

// Amount0ForLiquidity is the token0 that liquidity holds across [sqrtA, sqrtB], rounded down.
func Amount0ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error) {
	return Amount0Delta(sqrtA, sqrtB, liquidity, false)
}

// Amount1ForLiquidity is the token1 that liquidity holds across [sqrtA, sqrtB], rounded down.
func Amount1ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error) {
	return Amount1Delta(sqrtA, sqrtB, liquidity, false)
}

type amountFunc func(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error)

func roundingUp(delta func(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error)) amountFunc {
	return func(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error) {
		return delta(sqrtA, sqrtB, liquidity, true)
	}
}

// AmountsForLiquidity returns the token amounts backing liquidity over [sqrtA, sqrtB]
// at price sqrtP.
func AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, *uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	var amount0Of, amount1Of amountFunc = Amount0ForLiquidity, Amount1ForLiquidity
	if roundUp {
		amount0Of, amount1Of = roundingUp(Amount0Delta), roundingUp(Amount1Delta)
	}
	amount0, amount1 := new(uint256.Int), new(uint256.Int)
	var err error
	switch {
	case !sqrtP.Gt(sqrtA):
		amount0, err = amount0Of(sqrtA, sqrtB, liquidity)
	case sqrtP.Lt(sqrtB):
		if amount0, err = amount0Of(sqrtP, sqrtB, liquidity); err != nil {
			return nil, nil, err
		}
		amount1, err = amount1Of(sqrtA, sqrtP, liquidity)
	default:
		amount1, err = amount1Of(sqrtA, sqrtB, liquidity)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
