package liquiditymath

import (
	"errors"
	"math/big"
)

var (
	// MaxUint128 bounds every liquidity value held by a pool or position.
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta writes x + y into dest, where y may be negative.
// dest is left untouched when the result would leave [0, 2^128).
func AddDelta(dest, x, y *big.Int) error {
	sum := new(big.Int).Add(x, y)
	switch {
	case sum.Sign() < 0:
		return ErrLiquidityUnderflow
	case sum.Cmp(MaxUint128) > 0:
		return ErrLiquidityOverflow
	}
	dest.Set(sum)
	return nil
}
