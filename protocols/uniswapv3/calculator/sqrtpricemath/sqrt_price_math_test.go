package sqrtpricemath

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	priceOne       = new(big.Int).Set(Q96)
	priceOnePoint1 = func() *big.Int { n, _ := new(big.Int).SetString("87150978765690771352898345369", 10); return n }()
	oneEther       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func randBits(rng *rand.Rand, bits uint) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), bits)
	return new(big.Int).Rand(rng, max)
}

func TestGetAmount0Delta(t *testing.T) {
	t.Run("zero liquidity", func(t *testing.T) {
		out := new(big.Int)
		require.NoError(t, GetAmount0Delta(out, priceOne, priceOnePoint1, big.NewInt(0), true))
		assert.Zero(t, out.Sign())
	})

	t.Run("equal prices", func(t *testing.T) {
		out := new(big.Int)
		require.NoError(t, GetAmount0Delta(out, priceOne, priceOne, oneEther, true))
		assert.Zero(t, out.Sign())
	})

	t.Run("one to 1.1 rounds in the requested direction", func(t *testing.T) {
		up, down := new(big.Int), new(big.Int)
		require.NoError(t, GetAmount0Delta(up, priceOne, priceOnePoint1, oneEther, true))
		require.NoError(t, GetAmount0Delta(down, priceOnePoint1, priceOne, oneEther, false))
		assert.Equal(t, "90909090909090910", up.String())
		assert.Equal(t, "90909090909090909", down.String())
	})

	t.Run("zero price", func(t *testing.T) {
		assert.ErrorIs(t, GetAmount0Delta(new(big.Int), big.NewInt(0), priceOne, oneEther, true), ErrSqrtPriceZero)
	})
}

func TestGetAmount1Delta(t *testing.T) {
	up, down := new(big.Int), new(big.Int)
	GetAmount1Delta(up, priceOne, priceOnePoint1, oneEther, true)
	GetAmount1Delta(down, priceOnePoint1, priceOne, oneEther, false)
	assert.Equal(t, "100000000000000000", up.String())
	assert.Equal(t, "99999999999999999", down.String())
}

func TestRoundingGap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	two := big.NewInt(2)
	for i := 0; i < 500; i++ {
		a := randBits(rng, 160)
		b := randBits(rng, 160)
		liq := randBits(rng, 128)
		if a.Sign() == 0 {
			a.SetInt64(1)
		}
		if b.Sign() == 0 {
			b.SetInt64(1)
		}

		up0, down0 := new(big.Int), new(big.Int)
		require.NoError(t, GetAmount0Delta(up0, a, b, liq, true))
		require.NoError(t, GetAmount0Delta(down0, a, b, liq, false))
		assert.LessOrEqual(t, down0.Cmp(up0), 0)
		assert.Equal(t, -1, new(big.Int).Sub(up0, down0).Cmp(two))

		up1, down1 := new(big.Int), new(big.Int)
		GetAmount1Delta(up1, a, b, liq, true)
		GetAmount1Delta(down1, a, b, liq, false)
		assert.LessOrEqual(t, down1.Cmp(up1), 0)
		assert.Equal(t, -1, new(big.Int).Sub(up1, down1).Cmp(two))
	}
}

func TestGetNextSqrtPriceFromInput(t *testing.T) {
	t.Run("rejects zero liquidity", func(t *testing.T) {
		err := GetNextSqrtPriceFromInput(new(big.Int), priceOne, big.NewInt(0), big.NewInt(1), true)
		assert.ErrorIs(t, err, ErrLiquidityZero)
	})

	t.Run("zero input keeps the price", func(t *testing.T) {
		out := new(big.Int)
		require.NoError(t, GetNextSqrtPriceFromInput(out, priceOne, oneEther, big.NewInt(0), true))
		assert.Equal(t, priceOne.String(), out.String())
	})

	t.Run("input never undershoots the spanned amount", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		for i := 0; i < 200; i++ {
			price := randBits(rng, 150)
			price.Add(price, big.NewInt(1))
			liq := randBits(rng, 100)
			liq.Add(liq, big.NewInt(1))
			in := randBits(rng, 90)
			zeroForOne := i%2 == 0

			next := new(big.Int)
			require.NoError(t, GetNextSqrtPriceFromInput(next, price, liq, in, zeroForOne))
			spanned := new(big.Int)
			if zeroForOne {
				assert.LessOrEqual(t, next.Cmp(price), 0)
				require.NoError(t, GetAmount0Delta(spanned, next, price, liq, true))
			} else {
				assert.GreaterOrEqual(t, next.Cmp(price), 0)
				GetAmount1Delta(spanned, price, next, liq, true)
			}
			assert.GreaterOrEqual(t, in.Cmp(spanned), 0)
		}
	})
}

func TestGetNextSqrtPriceFromOutput(t *testing.T) {
	t.Run("cannot drain all of token1", func(t *testing.T) {
		// reserves at price 1 with liquidity 1024 hold exactly 1024 of token1
		err := GetNextSqrtPriceFromOutput(new(big.Int), priceOne, big.NewInt(1024), big.NewInt(1024), true)
		assert.ErrorIs(t, err, ErrPriceUnderflow)
	})

	t.Run("cannot drain all of token0", func(t *testing.T) {
		err := GetNextSqrtPriceFromOutput(new(big.Int), priceOne, big.NewInt(1024), big.NewInt(1024), false)
		assert.ErrorIs(t, err, ErrDenominatorOverflow)
	})

	t.Run("partial output moves the price", func(t *testing.T) {
		out := new(big.Int)
		require.NoError(t, GetNextSqrtPriceFromOutput(out, priceOne, big.NewInt(1024), big.NewInt(262), true))
		assert.Equal(t, -1, out.Cmp(priceOne))
	})
}

func TestMulDiv(t *testing.T) {
	assert.Equal(t, "3", MulDiv(new(big.Int), big.NewInt(7), big.NewInt(3), big.NewInt(6)).String())
	assert.Equal(t, "4", MulDivRoundingUp(new(big.Int), big.NewInt(7), big.NewInt(3), big.NewInt(6)).String())
	assert.Equal(t, "4", MulDivRoundingUp(new(big.Int), big.NewInt(8), big.NewInt(3), big.NewInt(6)).String())
}
