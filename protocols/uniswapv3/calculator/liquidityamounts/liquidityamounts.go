// Package liquidityamounts converts between token amounts and position
// liquidity for a price range.
package liquidityamounts

import (
	"errors"
	"math/big"

	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/sqrtpricemath"
)

var ErrLiquidityOverflow = errors.New("liquidity exceeds uint128")

func ordered(a, b *big.Int) (*big.Int, *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

// LiquidityForAmount0 is amount0 * (sqrtA*sqrtB/2^96) / (sqrtB - sqrtA), rounded down.
func LiquidityForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0 *big.Int) *big.Int {
	a, b := ordered(sqrtRatioAX96, sqrtRatioBX96)
	if a.Cmp(b) == 0 {
		return new(big.Int)
	}
	intermediate := sqrtpricemath.MulDiv(new(big.Int), a, b, sqrtpricemath.Q96)
	return sqrtpricemath.MulDiv(new(big.Int), amount0, intermediate, new(big.Int).Sub(b, a))
}

// LiquidityForAmount1 is amount1 * 2^96 / (sqrtB - sqrtA), rounded down.
func LiquidityForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1 *big.Int) *big.Int {
	a, b := ordered(sqrtRatioAX96, sqrtRatioBX96)
	if a.Cmp(b) == 0 {
		return new(big.Int)
	}
	return sqrtpricemath.MulDiv(new(big.Int), amount1, sqrtpricemath.Q96, new(big.Int).Sub(b, a))
}

// LiquidityForAmounts returns the largest liquidity that amount0 and amount1
// can fund over [sqrtA, sqrtB] at the current price sqrtP.
func LiquidityForAmounts(sqrtPX96, sqrtRatioAX96, sqrtRatioBX96, amount0, amount1 *big.Int) (*big.Int, error) {
	a, b := ordered(sqrtRatioAX96, sqrtRatioBX96)

	var liquidity *big.Int
	switch {
	case sqrtPX96.Cmp(a) <= 0:
		liquidity = LiquidityForAmount0(a, b, amount0)
	case sqrtPX96.Cmp(b) < 0:
		l0 := LiquidityForAmount0(sqrtPX96, b, amount0)
		l1 := LiquidityForAmount1(a, sqrtPX96, amount1)
		liquidity = l0
		if l1.Cmp(l0) < 0 {
			liquidity = l1
		}
	default:
		liquidity = LiquidityForAmount1(a, b, amount1)
	}

	if liquidity.Cmp(liquiditymath.MaxUint128) > 0 {
		return nil, ErrLiquidityOverflow
	}
	return liquidity, nil
}

// AmountsForLiquidity returns the token amounts represented by liquidity over
// [sqrtA, sqrtB] at price sqrtP. Deposits quote with roundUp, withdrawals without.
func AmountsForLiquidity(sqrtPX96, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) (amount0, amount1 *big.Int, err error) {
	a, b := ordered(sqrtRatioAX96, sqrtRatioBX96)
	amount0, amount1 = new(big.Int), new(big.Int)

	switch {
	case sqrtPX96.Cmp(a) < 0:
		err = sqrtpricemath.GetAmount0Delta(amount0, a, b, liquidity, roundUp)
	case sqrtPX96.Cmp(b) < 0:
		err = sqrtpricemath.GetAmount0Delta(amount0, sqrtPX96, b, liquidity, roundUp)
		sqrtpricemath.GetAmount1Delta(amount1, a, sqrtPX96, liquidity, roundUp)
	default:
		sqrtpricemath.GetAmount1Delta(amount1, a, b, liquidity, roundUp)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
