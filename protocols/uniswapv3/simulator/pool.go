// Package simulator is an in-memory concentrated liquidity pool and pool
// factory with Uniswap V3 accounting: ticks, fee growth and owed tokens.
package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/liquidityamounts"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickbitmap"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickmath"
)

var (
	ErrLocked              = errors.New("pool is locked")
	ErrAlreadyInitialized  = errors.New("pool already initialized")
	ErrNotInitialized      = errors.New("pool not initialized")
	ErrInvalidTicks        = errors.New("invalid tick range")
	ErrNoPosition          = errors.New("position has no liquidity")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrZeroAmount          = errors.New("amount must be non-zero")
	ErrInvalidPriceLimit   = errors.New("invalid sqrt price limit")

	q128 = new(big.Int).Lsh(big.NewInt(1), 128)
)

// Token is the part of a token ledger the pool settles through.
type Token interface {
	Address() common.Address
	BalanceOf(holder common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// PositionKey identifies a position by owner and range.
type PositionKey [32]byte

func positionKey(owner common.Address, lower, upper int64) PositionKey {
	var buf [common.AddressLength + 16]byte
	copy(buf[:], owner.Bytes())
	binary.BigEndian.PutUint64(buf[common.AddressLength:], uint64(lower))
	binary.BigEndian.PutUint64(buf[common.AddressLength+8:], uint64(upper))
	return blake3.Sum256(buf[:])
}

type poolState struct {
	initialized          bool
	sqrtPriceX96         *big.Int
	tick                 int64
	liquidity            *big.Int
	feeGrowthGlobal0X128 *uint256.Int
	feeGrowthGlobal1X128 *uint256.Int
	ticks                []uniswapv3.TickInfo
	positions            map[PositionKey]uniswapv3.PositionInfo
}

func (s *poolState) clone() poolState {
	ticks := make([]uniswapv3.TickInfo, len(s.ticks))
	for i, t := range s.ticks {
		ticks[i] = t.Clone()
	}
	positions := make(map[PositionKey]uniswapv3.PositionInfo, len(s.positions))
	for k, p := range s.positions {
		positions[k] = p.Clone()
	}
	return poolState{
		initialized:          s.initialized,
		sqrtPriceX96:         new(big.Int).Set(s.sqrtPriceX96),
		tick:                 s.tick,
		liquidity:            new(big.Int).Set(s.liquidity),
		feeGrowthGlobal0X128: s.feeGrowthGlobal0X128.Clone(),
		feeGrowthGlobal1X128: s.feeGrowthGlobal1X128.Clone(),
		ticks:                ticks,
		positions:            positions,
	}
}

// Pool is a single token pair at one fee tier.
type Pool struct {
	engine      *engine.Engine
	address     common.Address
	token0      Token
	token1      Token
	fee         uint64
	tickSpacing int64

	state  poolState
	locked bool
}

func newPool(e *engine.Engine, address common.Address, token0, token1 Token, fee uint64, tickSpacing int64) *Pool {
	return &Pool{
		engine:      e,
		address:     address,
		token0:      token0,
		token1:      token1,
		fee:         fee,
		tickSpacing: tickSpacing,
		state: poolState{
			sqrtPriceX96:         new(big.Int),
			liquidity:            new(big.Int),
			feeGrowthGlobal0X128: new(uint256.Int),
			feeGrowthGlobal1X128: new(uint256.Int),
			positions:            make(map[PositionKey]uniswapv3.PositionInfo),
		},
	}
}

func (p *Pool) Address() common.Address { return p.address }
func (p *Pool) Token0() common.Address  { return p.token0.Address() }
func (p *Pool) Token1() common.Address  { return p.token1.Address() }
func (p *Pool) Fee() uint64             { return p.fee }
func (p *Pool) TickSpacing() int64      { return p.tickSpacing }

// Slot0 returns the current sqrt price and tick.
func (p *Pool) Slot0() (*big.Int, int64) {
	return new(big.Int).Set(p.state.sqrtPriceX96), p.state.tick
}

// Liquidity is the in-range liquidity.
func (p *Pool) Liquidity() *big.Int {
	return new(big.Int).Set(p.state.liquidity)
}

// Position returns a copy of owner's position over [lower, upper).
func (p *Pool) Position(owner common.Address, lower, upper int64) uniswapv3.PositionInfo {
	if pos, ok := p.state.positions[positionKey(owner, lower, upper)]; ok {
		return pos.Clone()
	}
	return uniswapv3.EmptyPosition()
}

// View snapshots the pool.
func (p *Pool) View() uniswapv3.PoolView {
	s := p.state.clone()
	return uniswapv3.PoolView{
		Address:              p.address,
		Token0:               p.Token0(),
		Token1:               p.Token1(),
		Fee:                  p.fee,
		TickSpacing:          p.tickSpacing,
		Tick:                 s.tick,
		Liquidity:            s.liquidity,
		SqrtPriceX96:         s.sqrtPriceX96,
		FeeGrowthGlobal0X128: s.feeGrowthGlobal0X128,
		FeeGrowthGlobal1X128: s.feeGrowthGlobal1X128,
		Ticks:                s.ticks,
	}
}

// Initialize sets the starting price. It can only be called once.
func (p *Pool) Initialize(sqrtPriceX96 *big.Int) error {
	return p.engine.Atomic(func() error {
		if p.state.initialized {
			return ErrAlreadyInitialized
		}
		tick, err := tickmath.GetTickAtSqrtRatio(sqrtPriceX96)
		if err != nil {
			return err
		}
		p.checkpoint()
		p.state.initialized = true
		p.state.sqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
		p.state.tick = tick
		return nil
	})
}

// ModifyLiquidity adds (delta > 0) or removes (delta < 0) liquidity from
// owner's position. A zero delta only credits accrued fees to TokensOwed.
//
// Adding calls pay with the token amounts owed, rounded up, and fails unless
// the pool's balances grew by at least that much. Removing credits the amounts,
// rounded down, to the position's TokensOwed; Collect pays them out.
// The returned amounts are always non-negative.
func (p *Pool) ModifyLiquidity(owner common.Address, lower, upper int64, delta *big.Int, pay uniswapv3.PayFunc) (amount0, amount1 *big.Int, err error) {
	err = p.engine.Atomic(func() error {
		return p.lock(func() error {
			if err := tickmath.ValidateRange(lower, upper, p.tickSpacing); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidTicks, err)
			}
			p.checkpoint()

			key := positionKey(owner, lower, upper)
			pos, ok := p.state.positions[key]
			if !ok {
				pos = uniswapv3.EmptyPosition()
			}
			if delta.Sign() == 0 && pos.Liquidity.Sign() == 0 {
				return ErrNoPosition
			}

			if delta.Sign() != 0 {
				if err := p.updateTick(lower, delta, false); err != nil {
					return err
				}
				if err := p.updateTick(upper, delta, true); err != nil {
					return err
				}
			}

			inside0, inside1 := p.feeGrowthInside(lower, upper)
			nextLiquidity := new(big.Int)
			if err := liquiditymath.AddDelta(nextLiquidity, pos.Liquidity, delta); err != nil {
				return err
			}
			pos.TokensOwed0.Add(pos.TokensOwed0, owedFees(inside0, pos.FeeGrowthInside0LastX128, pos.Liquidity))
			pos.TokensOwed1.Add(pos.TokensOwed1, owedFees(inside1, pos.FeeGrowthInside1LastX128, pos.Liquidity))
			pos.FeeGrowthInside0LastX128 = inside0
			pos.FeeGrowthInside1LastX128 = inside1
			pos.Liquidity = nextLiquidity

			sqrtLower, _ := tickmath.SqrtRatioAtTick(lower)
			sqrtUpper, _ := tickmath.SqrtRatioAtTick(upper)
			size := new(big.Int).Abs(delta)
			amount0, amount1, err = liquidityamounts.AmountsForLiquidity(p.state.sqrtPriceX96, sqrtLower, sqrtUpper, size, delta.Sign() > 0)
			if err != nil {
				return err
			}
			if p.state.tick >= lower && p.state.tick < upper {
				if err := liquiditymath.AddDelta(p.state.liquidity, p.state.liquidity, delta); err != nil {
					return err
				}
			}

			if delta.Sign() < 0 {
				pos.TokensOwed0.Add(pos.TokensOwed0, amount0)
				pos.TokensOwed1.Add(pos.TokensOwed1, amount1)
				p.clearTickIfEmpty(lower)
				p.clearTickIfEmpty(upper)
			}
			p.state.positions[key] = pos

			if delta.Sign() > 0 {
				return p.collectPayment(amount0, amount1, pay)
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Collect pays out up to max0/max1 of the position's owed tokens to recipient.
func (p *Pool) Collect(owner, recipient common.Address, lower, upper int64, max0, max1 *big.Int) (amount0, amount1 *big.Int, err error) {
	err = p.engine.Atomic(func() error {
		return p.lock(func() error {
			key := positionKey(owner, lower, upper)
			pos, ok := p.state.positions[key]
			if !ok {
				amount0, amount1 = new(big.Int), new(big.Int)
				return nil
			}
			p.checkpoint()
			pos = pos.Clone()

			amount0 = minBig(max0, pos.TokensOwed0)
			amount1 = minBig(max1, pos.TokensOwed1)
			pos.TokensOwed0.Sub(pos.TokensOwed0, amount0)
			pos.TokensOwed1.Sub(pos.TokensOwed1, amount1)
			p.state.positions[key] = pos

			if err := p.pay(p.token0, recipient, amount0); err != nil {
				return err
			}
			return p.pay(p.token1, recipient, amount1)
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func (p *Pool) lock(fn func() error) error {
	if !p.state.initialized {
		return ErrNotInitialized
	}
	if p.locked {
		return ErrLocked
	}
	p.locked = true
	defer func() { p.locked = false }()
	return fn()
}

// checkpoint journals the whole pool state so a failed operation restores it.
func (p *Pool) checkpoint() {
	saved := p.state.clone()
	p.engine.Journal().Append(func() { p.state = saved })
}

func (p *Pool) updateTick(index int64, delta *big.Int, upper bool) error {
	i, ok := tickbitmap.Find(p.state.ticks, index)
	var info uniswapv3.TickInfo
	if ok {
		info = p.state.ticks[i]
	} else {
		info = uniswapv3.TickInfo{
			Index:                 index,
			LiquidityGross:        new(big.Int),
			LiquidityNet:          new(big.Int),
			FeeGrowthOutside0X128: new(uint256.Int),
			FeeGrowthOutside1X128: new(uint256.Int),
		}
		// growth below a freshly initialized tick is assumed to have happened below it
		if index <= p.state.tick {
			info.FeeGrowthOutside0X128.Set(p.state.feeGrowthGlobal0X128)
			info.FeeGrowthOutside1X128.Set(p.state.feeGrowthGlobal1X128)
		}
	}

	if err := liquiditymath.AddDelta(info.LiquidityGross, info.LiquidityGross, delta); err != nil {
		return err
	}
	if upper {
		info.LiquidityNet.Sub(info.LiquidityNet, delta)
	} else {
		info.LiquidityNet.Add(info.LiquidityNet, delta)
	}

	if ok {
		p.state.ticks[i] = info
	} else {
		p.state.ticks = tickbitmap.Insert(p.state.ticks, info)
	}
	return nil
}

func (p *Pool) clearTickIfEmpty(index int64) {
	i, ok := tickbitmap.Find(p.state.ticks, index)
	if ok && p.state.ticks[i].LiquidityGross.Sign() == 0 {
		p.state.ticks = tickbitmap.Remove(p.state.ticks, index)
	}
}

func (p *Pool) tickOrEmpty(index int64) uniswapv3.TickInfo {
	if i, ok := tickbitmap.Find(p.state.ticks, index); ok {
		return p.state.ticks[i]
	}
	return uniswapv3.TickInfo{
		Index:                 index,
		FeeGrowthOutside0X128: new(uint256.Int),
		FeeGrowthOutside1X128: new(uint256.Int),
	}
}

// feeGrowthInside is global - below(lower) - above(upper), all mod 2^256.
func (p *Pool) feeGrowthInside(lower, upper int64) (*uint256.Int, *uint256.Int) {
	lo, hi := p.tickOrEmpty(lower), p.tickOrEmpty(upper)
	inside := func(global, loOutside, hiOutside *uint256.Int) *uint256.Int {
		below := loOutside
		if p.state.tick < lower {
			below = new(uint256.Int).Sub(global, loOutside)
		}
		above := hiOutside
		if p.state.tick >= upper {
			above = new(uint256.Int).Sub(global, hiOutside)
		}
		out := new(uint256.Int).Sub(global, below)
		return out.Sub(out, above)
	}
	return inside(p.state.feeGrowthGlobal0X128, lo.FeeGrowthOutside0X128, hi.FeeGrowthOutside0X128),
		inside(p.state.feeGrowthGlobal1X128, lo.FeeGrowthOutside1X128, hi.FeeGrowthOutside1X128)
}

// owedFees is (inside - last) * liquidity / 2^128 with the growth delta taken mod 2^256.
func owedFees(inside, last *uint256.Int, liquidity *big.Int) *big.Int {
	growth := new(uint256.Int).Sub(inside, last).ToBig()
	growth.Mul(growth, liquidity)
	return growth.Rsh(growth, 128)
}

func (p *Pool) collectPayment(amount0, amount1 *big.Int, pay uniswapv3.PayFunc) error {
	if amount0.Sign() == 0 && amount1.Sign() == 0 {
		return nil
	}
	if pay == nil {
		return ErrInsufficientPayment
	}
	before0 := p.token0.BalanceOf(p.address).ToBig()
	before1 := p.token1.BalanceOf(p.address).ToBig()
	if err := pay(new(big.Int).Set(amount0), new(big.Int).Set(amount1)); err != nil {
		return err
	}
	if p.token0.BalanceOf(p.address).ToBig().Cmp(before0.Add(before0, amount0)) < 0 {
		return fmt.Errorf("%w: token0", ErrInsufficientPayment)
	}
	if p.token1.BalanceOf(p.address).ToBig().Cmp(before1.Add(before1, amount1)) < 0 {
		return fmt.Errorf("%w: token1", ErrInsufficientPayment)
	}
	return nil
}

func (p *Pool) pay(token Token, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("transfer amount %s overflows uint256", amount)
	}
	return token.Transfer(p.address, to, v)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func (p *Pool) emit(payload events.Payload) {
	p.engine.Emit(p.address, payload)
}
