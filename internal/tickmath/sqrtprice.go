package tickmath

import (
	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
)

func sortRatios(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

func checkLiquidity(liquidity *uint256.Int) error {
	if liquidity.Gt(MaxUint128) {
		return &model.OverflowError{Op: "liquidity exceeds uint128"}
	}
	return nil
}

// Amount0Delta is the token0 amount between two sqrt prices for the given liquidity.
// The price order does not matter.
func Amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		return nil, ErrZeroPrice
	}
	if err := checkLiquidity(liquidity); err != nil {
		return nil, err
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		partial, err := MulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return DivRoundingUp(partial, sqrtA)
	}
	partial, err := MulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return partial.Div(partial, sqrtA), nil
}

// Amount1Delta is the token1 amount between two sqrt prices for the given liquidity.
func Amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if err := checkLiquidity(liquidity); err != nil {
		return nil, err
	}
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}

// NextSqrtPriceFromInput is the price after adding amountIn of the input token.
func NextSqrtPriceFromInput(sqrtP, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtP.IsZero() {
		return nil, ErrZeroPrice
	}
	if liquidity.IsZero() {
		return nil, ErrZeroLiquidity
	}
	if zeroForOne {
		return nextFromAmount0RoundingUp(sqrtP, liquidity, amountIn, true)
	}
	return nextFromAmount1RoundingDown(sqrtP, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput is the price after removing amountOut of the output token.
func NextSqrtPriceFromOutput(sqrtP, liquidity, amountOut *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtP.IsZero() {
		return nil, ErrZeroPrice
	}
	if liquidity.IsZero() {
		return nil, ErrZeroLiquidity
	}
	if zeroForOne {
		return nextFromAmount1RoundingDown(sqrtP, liquidity, amountOut, false)
	}
	return nextFromAmount0RoundingUp(sqrtP, liquidity, amountOut, false)
}

func nextFromAmount0RoundingUp(sqrtP, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if amount.IsZero() {
		return sqrtP.Clone(), nil
	}
	if err := checkLiquidity(liquidity); err != nil {
		return nil, err
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	product, mulOverflow := new(uint256.Int).MulOverflow(amount, sqrtP)

	if add {
		if !mulOverflow {
			denominator, addOverflow := new(uint256.Int).AddOverflow(numerator1, product)
			if !addOverflow {
				return MulDivRoundingUp(numerator1, sqrtP, denominator)
			}
		}
		denominator, addOverflow := new(uint256.Int).AddOverflow(new(uint256.Int).Div(numerator1, sqrtP), amount)
		if addOverflow {
			return nil, &model.OverflowError{Op: "nextSqrtPriceFromAmount0"}
		}
		return DivRoundingUp(numerator1, denominator)
	}

	if mulOverflow || !numerator1.Gt(product) {
		return nil, &model.OverflowError{Op: "nextSqrtPriceFromAmount0: output exceeds reserves"}
	}
	denominator := new(uint256.Int).Sub(numerator1, product)
	next, err := MulDivRoundingUp(numerator1, sqrtP, denominator)
	if err != nil {
		return nil, err
	}
	if next.Gt(MaxUint160) {
		return nil, &model.OverflowError{Op: "nextSqrtPriceFromAmount0: uint160"}
	}
	return next, nil
}

func nextFromAmount1RoundingDown(sqrtP, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	var (
		quotient *uint256.Int
		err      error
	)
	fitsShift := !amount.Gt(MaxUint160)

	if add {
		if fitsShift {
			quotient = new(uint256.Int).Lsh(amount, 96)
			quotient.Div(quotient, liquidity)
		} else if quotient, err = MulDiv(amount, Q96, liquidity); err != nil {
			return nil, err
		}
		next, overflow := new(uint256.Int).AddOverflow(sqrtP, quotient)
		if overflow || next.Gt(MaxUint160) {
			return nil, &model.OverflowError{Op: "nextSqrtPriceFromAmount1: uint160"}
		}
		return next, nil
	}

	if fitsShift {
		quotient, err = DivRoundingUp(new(uint256.Int).Lsh(amount, 96), liquidity)
	} else {
		quotient, err = MulDivRoundingUp(amount, Q96, liquidity)
	}
	if err != nil {
		return nil, err
	}
	if !sqrtP.Gt(quotient) {
		return nil, &model.OverflowError{Op: "nextSqrtPriceFromAmount1: output exceeds reserves"}
	}
	return new(uint256.Int).Sub(sqrtP, quotient), nil
}
