package sqrtpricemath

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// Q96 is 1.0 in Q64.96.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	ErrLiquidityZero       = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero       = errors.New("sqrt price must be greater than zero")
	ErrPriceUnderflow      = errors.New("sqrt price would underflow")
	ErrDenominatorOverflow = errors.New("amount exceeds available token0 depth")

	one = big.NewInt(1)
)

type scratch struct {
	num1  *big.Int
	num2  *big.Int
	den   *big.Int
	prod  *big.Int
	quot  *big.Int
	rem   *big.Int
	inter *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			num1:  new(big.Int),
			num2:  new(big.Int),
			den:   new(big.Int),
			prod:  new(big.Int),
			quot:  new(big.Int),
			rem:   new(big.Int),
			inter: new(big.Int),
		}
	},
}

// MulDiv writes floor(a*b/c) into dest.
func MulDiv(dest, a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return dest.Quo(p, c)
}

// MulDivRoundingUp writes ceil(a*b/c) into dest.
func MulDivRoundingUp(dest, a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	r := new(big.Int)
	dest.QuoRem(p, c, r)
	if r.Sign() > 0 {
		dest.Add(dest, one)
	}
	return dest
}

func (s *scratch) mulDiv(dest, a, b, c *big.Int, roundUp bool) {
	s.prod.Mul(a, b)
	dest.QuoRem(s.prod, c, s.rem)
	if roundUp && s.rem.Sign() > 0 {
		dest.Add(dest, one)
	}
}

func (s *scratch) div(dest, a, b *big.Int, roundUp bool) {
	dest.QuoRem(a, b, s.rem)
	if roundUp && s.rem.Sign() > 0 {
		dest.Add(dest, one)
	}
}

// GetAmount0Delta writes the token0 amount spanned by liquidity between two prices:
// L * 2^96 * (sqrtB - sqrtA) / (sqrtB * sqrtA).
func GetAmount0Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.num1.Lsh(liquidity, 96)
	s.num2.Sub(sqrtRatioBX96, sqrtRatioAX96)
	s.mulDiv(s.inter, s.num1, s.num2, sqrtRatioBX96, roundUp)
	s.div(dest, s.inter, sqrtRatioAX96, roundUp)
	return nil
}

// GetAmount1Delta writes the token1 amount spanned by liquidity between two prices:
// L * (sqrtB - sqrtA) / 2^96.
func GetAmount1Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.num1.Sub(sqrtRatioBX96, sqrtRatioAX96)
	s.mulDiv(dest, liquidity, s.num1, Q96, roundUp)
}

// GetNextSqrtPriceFromInput writes the price after adding amountIn of the input token.
func GetNextSqrtPriceFromInput(dest, sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) error {
	if sqrtPX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if zeroForOne {
		return nextFromAmount0(dest, sqrtPX96, liquidity, amountIn, true)
	}
	return nextFromAmount1(dest, sqrtPX96, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput writes the price after removing amountOut of the output token.
func GetNextSqrtPriceFromOutput(dest, sqrtPX96, liquidity, amountOut *big.Int, zeroForOne bool) error {
	if sqrtPX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if zeroForOne {
		return nextFromAmount1(dest, sqrtPX96, liquidity, amountOut, false)
	}
	return nextFromAmount0(dest, sqrtPX96, liquidity, amountOut, false)
}

// nextFromAmount0 computes L*sqrtP / (L ± amount*sqrtP), rounding up.
func nextFromAmount0(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	if amount.Sign() == 0 {
		dest.Set(sqrtPX96)
		return nil
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.num1.Lsh(liquidity, 96)
	s.num2.Mul(amount, sqrtPX96)
	if add {
		s.den.Add(s.num1, s.num2)
	} else {
		if s.num1.Cmp(s.num2) <= 0 {
			return ErrDenominatorOverflow
		}
		s.den.Sub(s.num1, s.num2)
	}
	s.mulDiv(dest, s.num1, sqrtPX96, s.den, true)
	return nil
}

// nextFromAmount1 computes sqrtP ± amount/L, rounding down.
func nextFromAmount1(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	if add {
		s.mulDiv(s.quot, amount, Q96, liquidity, false)
		dest.Add(sqrtPX96, s.quot)
		return nil
	}
	s.mulDiv(s.quot, amount, Q96, liquidity, true)
	if sqrtPX96.Cmp(s.quot) <= 0 {
		return ErrPriceUnderflow
	}
	dest.Sub(sqrtPX96, s.quot)
	return nil
}
