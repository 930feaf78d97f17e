package uniswapv3

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Standard fee tiers (pips) and the tick spacing each one is enabled with.
const (
	FeeLow    uint64 = 500
	FeeMedium uint64 = 3000
	FeeHigh   uint64 = 10000
)

// DefaultFeeTickSpacing mirrors the tiers enabled on a fresh V3 factory.
func DefaultFeeTickSpacing() map[uint64]int64 {
	return map[uint64]int64{
		FeeLow:    10,
		FeeMedium: 60,
		FeeHigh:   200,
	}
}

// PayFunc settles tokens owed to a pool during a callback. Positive amounts
// are owed to the pool; the pool checks its balances after the call returns.
type PayFunc func(amount0, amount1 *big.Int) error

// TickInfo is the state stored at an initialized tick.
// A tick is initialized iff LiquidityGross is non-zero.
type TickInfo struct {
	Index          int64    `json:"index"`
	LiquidityGross *big.Int `json:"liquidityGross"`
	LiquidityNet   *big.Int `json:"liquidityNet"`
	// fee growth on the side of the tick away from the current price, mod 2^256
	FeeGrowthOutside0X128 *uint256.Int `json:"feeGrowthOutside0X128"`
	FeeGrowthOutside1X128 *uint256.Int `json:"feeGrowthOutside1X128"`
}

// Clone returns a deep copy.
func (t TickInfo) Clone() TickInfo {
	return TickInfo{
		Index:                 t.Index,
		LiquidityGross:        new(big.Int).Set(t.LiquidityGross),
		LiquidityNet:          new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutside0X128: t.FeeGrowthOutside0X128.Clone(),
		FeeGrowthOutside1X128: t.FeeGrowthOutside1X128.Clone(),
	}
}

// PositionInfo is a liquidity position as seen by its owner.
type PositionInfo struct {
	Liquidity                *big.Int     `json:"liquidity"`
	FeeGrowthInside0LastX128 *uint256.Int `json:"feeGrowthInside0LastX128"`
	FeeGrowthInside1LastX128 *uint256.Int `json:"feeGrowthInside1LastX128"`
	// TokensOwed holds principal from burns plus fees credited at the last update.
	TokensOwed0 *big.Int `json:"tokensOwed0"`
	TokensOwed1 *big.Int `json:"tokensOwed1"`
}

// EmptyPosition is the zero position.
func EmptyPosition() PositionInfo {
	return PositionInfo{
		Liquidity:                new(big.Int),
		FeeGrowthInside0LastX128: new(uint256.Int),
		FeeGrowthInside1LastX128: new(uint256.Int),
		TokensOwed0:              new(big.Int),
		TokensOwed1:              new(big.Int),
	}
}

// Clone returns a deep copy.
func (p PositionInfo) Clone() PositionInfo {
	return PositionInfo{
		Liquidity:                new(big.Int).Set(p.Liquidity),
		FeeGrowthInside0LastX128: p.FeeGrowthInside0LastX128.Clone(),
		FeeGrowthInside1LastX128: p.FeeGrowthInside1LastX128.Clone(),
		TokensOwed0:              new(big.Int).Set(p.TokensOwed0),
		TokensOwed1:              new(big.Int).Set(p.TokensOwed1),
	}
}

// PoolView is a point-in-time snapshot of a pool.
type PoolView struct {
	Address              common.Address `json:"address"`
	Token0               common.Address `json:"token0"`
	Token1               common.Address `json:"token1"`
	Fee                  uint64         `json:"fee"`
	TickSpacing          int64          `json:"tickSpacing"`
	Tick                 int64          `json:"tick"`
	Liquidity            *big.Int       `json:"liquidity"`
	SqrtPriceX96         *big.Int       `json:"sqrtPriceX96"`
	FeeGrowthGlobal0X128 *uint256.Int   `json:"feeGrowthGlobal0X128"`
	FeeGrowthGlobal1X128 *uint256.Int   `json:"feeGrowthGlobal1X128"`
	Ticks                []TickInfo     `json:"ticks"`
}
