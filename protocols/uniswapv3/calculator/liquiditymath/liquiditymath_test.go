package liquiditymath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDelta(t *testing.T) {
	t.Run("adds and subtracts", func(t *testing.T) {
		out := new(big.Int)
		require.NoError(t, AddDelta(out, big.NewInt(1), big.NewInt(1)))
		assert.Equal(t, int64(2), out.Int64())
		require.NoError(t, AddDelta(out, out, big.NewInt(-2)))
		assert.Zero(t, out.Sign())
	})

	t.Run("underflow leaves dest untouched", func(t *testing.T) {
		out := big.NewInt(7)
		err := AddDelta(out, big.NewInt(1), big.NewInt(-2))
		assert.ErrorIs(t, err, ErrLiquidityUnderflow)
		assert.Equal(t, int64(7), out.Int64())
	})

	t.Run("overflow past uint128", func(t *testing.T) {
		err := AddDelta(new(big.Int), MaxUint128, big.NewInt(1))
		assert.ErrorIs(t, err, ErrLiquidityOverflow)
	})
}
