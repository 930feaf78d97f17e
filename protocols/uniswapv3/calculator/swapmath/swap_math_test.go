package swapmath

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqrtPriceX96(reserve1, reserve0 int64) *big.Int {
	num := new(big.Int).Lsh(big.NewInt(reserve1), 192)
	num.Div(num, big.NewInt(reserve0))
	return num.Sqrt(num)
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestComputeSwapStep(t *testing.T) {
	t.Run("exact input capped at the target", func(t *testing.T) {
		target := sqrtPriceX96(101, 100)
		step, err := ComputeSwapStep(sqrtPriceX96(1, 1), target, ether(2), ether(1), 600)
		require.NoError(t, err)
		assert.Equal(t, "9975124224178055", step.AmountIn.String())
		assert.Equal(t, "5988667735148", step.FeeAmount.String())
		assert.Equal(t, "9925619580021728", step.AmountOut.String())
		assert.Zero(t, step.SqrtRatioNextX96.Cmp(target))
	})

	t.Run("exact input fully spent before the target", func(t *testing.T) {
		target := sqrtPriceX96(1000, 100)
		step, err := ComputeSwapStep(sqrtPriceX96(1, 1), target, ether(2), ether(1), 600)
		require.NoError(t, err)
		assert.Equal(t, "999400000000000000", step.AmountIn.String())
		assert.Equal(t, "600000000000000", step.FeeAmount.String())
		assert.Equal(t, "666399946655997866", step.AmountOut.String())
		assert.Equal(t, -1, step.SqrtRatioNextX96.Cmp(target))
	})

	t.Run("rejects a fee of 100%", func(t *testing.T) {
		_, err := ComputeSwapStep(sqrtPriceX96(1, 1), sqrtPriceX96(2, 1), ether(1), ether(1), FeeDenominator)
		assert.ErrorIs(t, err, ErrInvalidFee)
	})
}

func TestComputeSwapStepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	bits := func(n uint) *big.Int {
		return new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), n))
	}

	for i := 0; i < 1000; i++ {
		price := bits(160)
		target := bits(160)
		if price.Sign() == 0 {
			price.SetInt64(1)
		}
		if target.Sign() == 0 {
			target.SetInt64(1)
		}
		liquidity := bits(128)
		remaining := bits(200)
		if i%2 == 1 {
			remaining.Neg(remaining)
		}
		fee := uint64(rng.Int63n(FeeDenominator-1) + 1)

		step, err := ComputeSwapStep(price, target, liquidity, remaining, fee)
		if err != nil {
			continue
		}

		spent := new(big.Int).Add(step.AmountIn, step.FeeAmount)
		if remaining.Sign() < 0 {
			assert.LessOrEqual(t, step.AmountOut.Cmp(new(big.Int).Neg(remaining)), 0)
		} else {
			assert.LessOrEqual(t, spent.Cmp(remaining), 0)
		}

		if step.SqrtRatioNextX96.Cmp(target) != 0 {
			if remaining.Sign() < 0 {
				assert.Zero(t, step.AmountOut.Cmp(new(big.Int).Neg(remaining)))
			} else {
				assert.Zero(t, spent.Cmp(remaining))
			}
		}

		if target.Cmp(price) <= 0 {
			assert.LessOrEqual(t, step.SqrtRatioNextX96.Cmp(price), 0)
			assert.GreaterOrEqual(t, step.SqrtRatioNextX96.Cmp(target), 0)
		} else {
			assert.GreaterOrEqual(t, step.SqrtRatioNextX96.Cmp(price), 0)
			assert.LessOrEqual(t, step.SqrtRatioNextX96.Cmp(target), 0)
		}
	}
}
