package tickmath

import (
	"github.com/holiman/uint256"
)

// SwapStep is the outcome of one exact-input step toward a target price.
type SwapStep struct {
	SqrtPriceNext *uint256.Int
	AmountIn      *uint256.Int
	AmountOut     *uint256.Int
	FeeAmount     *uint256.Int
}

// ComputeSwapStep swaps amountRemaining (fee inclusive) from current toward target
// within a single liquidity range. The fee is taken from the input.
// With zero liquidity the price moves to target and nothing is consumed.
func ComputeSwapStep(current, target, liquidity, amountRemaining *uint256.Int, feePips uint32) (SwapStep, error) {
	if uint64(feePips) >= FeeDenominator {
		return SwapStep{}, ErrInvalidFee
	}
	zeroForOne := !current.Lt(target)
	denom := uint256.NewInt(FeeDenominator)
	feeRate := uint256.NewInt(uint64(feePips))
	lessFeeRate := uint256.NewInt(FeeDenominator - uint64(feePips))

	remainingLessFee, err := MulDiv(amountRemaining, lessFeeRate, denom)
	if err != nil {
		return SwapStep{}, err
	}

	var amountIn, amountOut *uint256.Int
	if zeroForOne {
		amountIn, err = Amount0Delta(target, current, liquidity, true)
	} else {
		amountIn, err = Amount1Delta(current, target, liquidity, true)
	}
	if err != nil {
		return SwapStep{}, err
	}

	var next *uint256.Int
	if !remainingLessFee.Lt(amountIn) {
		next = target.Clone()
	} else {
		next, err = NextSqrtPriceFromInput(current, liquidity, remainingLessFee, zeroForOne)
		if err != nil {
			return SwapStep{}, err
		}
	}

	reached := next.Eq(target)
	if zeroForOne {
		if !reached {
			if amountIn, err = Amount0Delta(next, current, liquidity, true); err != nil {
				return SwapStep{}, err
			}
		}
		amountOut, err = Amount1Delta(next, current, liquidity, false)
	} else {
		if !reached {
			if amountIn, err = Amount1Delta(current, next, liquidity, true); err != nil {
				return SwapStep{}, err
			}
		}
		amountOut, err = Amount0Delta(current, next, liquidity, false)
	}
	if err != nil {
		return SwapStep{}, err
	}

	var feeAmount *uint256.Int
	if !reached {
		// the rest of the input is the fee
		feeAmount = new(uint256.Int).Sub(amountRemaining, amountIn)
	} else if feeAmount, err = MulDivRoundingUp(amountIn, feeRate, lessFeeRate); err != nil {
		return SwapStep{}, err
	}

	return SwapStep{
		SqrtPriceNext: next,
		AmountIn:      amountIn,
		AmountOut:     amountOut,
		FeeAmount:     feeAmount,
	}, nil
}
