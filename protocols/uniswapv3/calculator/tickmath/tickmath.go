package tickmath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick whose price is representable.
	MinTick int64 = -887272
	// MaxTick is the highest tick whose price is representable.
	MaxTick int64 = 887272
)

var (
	// MinSqrtRatio is SqrtRatioAtTick(MinTick).
	MinSqrtRatio, _ = new(big.Int).SetString("4295128739", 10)
	// MaxSqrtRatio is SqrtRatioAtTick(MaxTick).
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")
	ErrInvalidTickSpacing   = errors.New("tick spacing must be positive")
	ErrTicksMisordered      = errors.New("lower tick must be below upper tick")
	ErrTickMisaligned       = errors.New("tick is not a multiple of the tick spacing")

	maxUint256 = new(uint256.Int).SetAllOne()
	lowMask    = uint256.NewInt(0xffffffff)
	q128       = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	// bitFactors[i] is 2^128 / sqrt(1.0001^(2^i)) for bit i of |tick|.
	bitFactors = func() [20]*uint256.Int {
		hex := [20]string{
			"0xfffcb933bd6fad37aa2d162d1a594001",
			"0xfff97272373d413259a46990580e213a",
			"0xfff2e50f5f656932ef12357cf3c7fdcc",
			"0xffe5caca7e10e4e61c3624eaa0941cd0",
			"0xffcb9843d60f6159c9db58835c926644",
			"0xff973b41fa98c081472e6896dfb254c0",
			"0xff2ea16466c96a3843ec78b326b52861",
			"0xfe5dee046a99a2a811c461f1969c3053",
			"0xfcbe86c7900a88aedcffc83b479aa3a4",
			"0xf987a7253ac413176f2b074cf7815e54",
			"0xf3392b0822b70005940c7a398e4b70f3",
			"0xe7159475a2c29b7443b29c7fa6e889d9",
			"0xd097f3bdfd2022b8845ad8f792aa5825",
			"0xa9f746462d870fdf8a65dc1f90e061e5",
			"0x70d869a156d2a1b890bb3df62baf32f7",
			"0x31be135f97d08fd981231505542fcfa6",
			"0x9aa508b5b7a84e1c677de54f3e99bc9",
			"0x5d6af8dedb81196699c329225ee604",
			"0x2216e584f5fa1ea926041bedfe98",
			"0x48a170391f7dc42444e8fa2",
		}
		var out [20]*uint256.Int
		for i, h := range hex {
			out[i] = uint256.MustFromHex(h)
		}
		return out
	}()
)

type scratch struct {
	ratio *uint256.Int
	rem   *uint256.Int
	probe *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
			probe: new(big.Int),
		}
	},
}

// GetSqrtRatioAtTick writes sqrt(1.0001^tick) * 2^96 into dest, rounded up.
func GetSqrtRatioAtTick(dest *big.Int, tick int64) error {
	if tick < MinTick || tick > MaxTick {
		return ErrTickOutOfBounds
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	abs := tick
	if abs < 0 {
		abs = -abs
	}

	s.ratio.Set(q128)
	for bit := 0; bit < len(bitFactors); bit++ {
		if abs&(1<<bit) == 0 {
			continue
		}
		s.ratio.Mul(s.ratio, bitFactors[bit])
		s.ratio.Rsh(s.ratio, 128)
	}

	if tick > 0 {
		s.ratio.Div(maxUint256, s.ratio)
	}

	// Q128.128 -> Q64.96, rounding up
	s.rem.And(s.ratio, lowMask)
	s.ratio.Rsh(s.ratio, 32)
	if !s.rem.IsZero() {
		s.ratio.AddUint64(s.ratio, 1)
	}

	dest.Set(s.ratio.ToBig())
	return nil
}

// SqrtRatioAtTick is the allocating form of GetSqrtRatioAtTick.
func SqrtRatioAtTick(tick int64) (*big.Int, error) {
	out := new(big.Int)
	if err := GetSqrtRatioAtTick(out, tick); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
func GetTickAtSqrtRatio(sqrtPriceX96 *big.Int) (int64, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	lo, hi := MinTick, MaxTick
	best := MinTick
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if err := GetSqrtRatioAtTick(s.probe, mid); err != nil {
			return 0, err
		}
		if s.probe.Cmp(sqrtPriceX96) <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, nil
}

// MinUsableTick is the lowest multiple of spacing that is >= MinTick.
func MinUsableTick(spacing int64) int64 {
	return -MaxUsableTick(spacing)
}

// MaxUsableTick is the highest multiple of spacing that is <= MaxTick.
func MaxUsableTick(spacing int64) int64 {
	if spacing <= 0 {
		return 0
	}
	return (MaxTick / spacing) * spacing
}

// ValidateRange checks that lower < upper and that both ticks are in bounds and
// aligned to spacing.
func ValidateRange(lower, upper, spacing int64) error {
	if spacing <= 0 {
		return ErrInvalidTickSpacing
	}
	if lower >= upper {
		return ErrTicksMisordered
	}
	if lower < MinTick || upper > MaxTick {
		return ErrTickOutOfBounds
	}
	if lower%spacing != 0 || upper%spacing != 0 {
		return ErrTickMisaligned
	}
	return nil
}
