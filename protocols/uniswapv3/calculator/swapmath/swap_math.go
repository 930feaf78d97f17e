package swapmath

import (
	"errors"
	"math/big"

	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/sqrtpricemath"
)

// FeeDenominator is 100% in pips.
const FeeDenominator = 1_000_000

var ErrInvalidFee = errors.New("fee must be below 100%")

// Step is the outcome of swapping within one price segment.
type Step struct {
	SqrtRatioNextX96 *big.Int
	AmountIn         *big.Int
	AmountOut        *big.Int
	FeeAmount        *big.Int
}

// ComputeSwapStep swaps toward sqrtRatioTargetX96 using at most amountRemaining.
// A positive amountRemaining is exact input, a negative one exact output.
// Direction is implied by the target: a lower target sells token0.
func ComputeSwapStep(
	sqrtRatioCurrentX96 *big.Int,
	sqrtRatioTargetX96 *big.Int,
	liquidity *big.Int,
	amountRemaining *big.Int,
	feePips uint64,
) (Step, error) {
	if feePips >= FeeDenominator {
		return Step{}, ErrInvalidFee
	}

	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0
	fee := new(big.Int).SetUint64(feePips)
	feeComplement := new(big.Int).SetUint64(FeeDenominator - feePips)
	denominator := big.NewInt(FeeDenominator)

	step := Step{
		SqrtRatioNextX96: new(big.Int),
		AmountIn:         new(big.Int),
		AmountOut:        new(big.Int),
		FeeAmount:        new(big.Int),
	}

	// amountIn/amountOut to reach the target, given the direction
	inToTarget := func(dest *big.Int, from, to *big.Int) error {
		if zeroForOne {
			return sqrtpricemath.GetAmount0Delta(dest, to, from, liquidity, true)
		}
		sqrtpricemath.GetAmount1Delta(dest, from, to, liquidity, true)
		return nil
	}
	outToTarget := func(dest *big.Int, from, to *big.Int) error {
		if zeroForOne {
			sqrtpricemath.GetAmount1Delta(dest, to, from, liquidity, false)
			return nil
		}
		return sqrtpricemath.GetAmount0Delta(dest, from, to, liquidity, false)
	}

	remaining := new(big.Int).Abs(amountRemaining)
	if exactIn {
		lessFee := sqrtpricemath.MulDiv(new(big.Int), remaining, feeComplement, denominator)
		if err := inToTarget(step.AmountIn, sqrtRatioCurrentX96, sqrtRatioTargetX96); err != nil {
			return Step{}, err
		}
		if lessFee.Cmp(step.AmountIn) >= 0 {
			step.SqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromInput(step.SqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, lessFee, zeroForOne); err != nil {
			return Step{}, err
		}
	} else {
		if err := outToTarget(step.AmountOut, sqrtRatioCurrentX96, sqrtRatioTargetX96); err != nil {
			return Step{}, err
		}
		if remaining.Cmp(step.AmountOut) >= 0 {
			step.SqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromOutput(step.SqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, remaining, zeroForOne); err != nil {
			return Step{}, err
		}
	}

	reachedTarget := sqrtRatioTargetX96.Cmp(step.SqrtRatioNextX96) == 0

	// recompute for the segment actually traversed
	if !(reachedTarget && exactIn) {
		if err := inToTarget(step.AmountIn, sqrtRatioCurrentX96, step.SqrtRatioNextX96); err != nil {
			return Step{}, err
		}
	}
	if !(reachedTarget && !exactIn) {
		if err := outToTarget(step.AmountOut, sqrtRatioCurrentX96, step.SqrtRatioNextX96); err != nil {
			return Step{}, err
		}
	}

	if !exactIn && step.AmountOut.Cmp(remaining) > 0 {
		step.AmountOut.Set(remaining)
	}

	if exactIn && !reachedTarget {
		// the remainder of the input is kept as fee
		step.FeeAmount.Sub(remaining, step.AmountIn)
	} else {
		sqrtpricemath.MulDivRoundingUp(step.FeeAmount, step.AmountIn, fee, feeComplement)
	}
	return step, nil
}
