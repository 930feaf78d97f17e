package simulator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/metapool-go/events"
	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/swapmath"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickbitmap"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickmath"
)

type swapState struct {
	amountRemaining  *big.Int
	amountCalculated *big.Int
	sqrtPriceX96     *big.Int
	tick             int64
	feeGrowthGlobal  *uint256.Int
	liquidity        *big.Int
}

// Swap trades against the pool. A positive amountSpecified is exact input,
// a negative one exact output. A nil sqrtPriceLimitX96 lets the price run to
// the boundary of the tick domain.
//
// The returned deltas are from the pool's point of view: positive amounts are
// paid in by pay, negative amounts are sent to recipient before pay runs.
func (p *Pool) Swap(sender, recipient common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int, pay uniswapv3.PayFunc) (amount0, amount1 *big.Int, err error) {
	err = p.engine.Atomic(func() error {
		return p.lock(func() error {
			if amountSpecified.Sign() == 0 {
				return ErrZeroAmount
			}
			limit, err := p.priceLimit(zeroForOne, sqrtPriceLimitX96)
			if err != nil {
				return err
			}
			p.checkpoint()

			amount0, amount1, err = p.swap(zeroForOne, amountSpecified, limit)
			if err != nil {
				return err
			}

			if zeroForOne {
				if err := p.pay(p.token1, recipient, new(big.Int).Neg(amount1)); err != nil {
					return err
				}
				if err := p.collectSwapPayment(p.token0, amount0, amount0, amount1, pay); err != nil {
					return err
				}
			} else {
				if err := p.pay(p.token0, recipient, new(big.Int).Neg(amount0)); err != nil {
					return err
				}
				if err := p.collectSwapPayment(p.token1, amount1, amount0, amount1, pay); err != nil {
					return err
				}
			}

			p.emit(events.Swap{
				Sender:       sender,
				Recipient:    recipient,
				Amount0:      new(big.Int).Set(amount0),
				Amount1:      new(big.Int).Set(amount1),
				SqrtPriceX96: new(big.Int).Set(p.state.sqrtPriceX96),
				Liquidity:    new(big.Int).Set(p.state.liquidity),
				Tick:         p.state.tick,
			})
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func (p *Pool) priceLimit(zeroForOne bool, limit *big.Int) (*big.Int, error) {
	if limit == nil {
		if zeroForOne {
			return new(big.Int).Add(tickmath.MinSqrtRatio, big.NewInt(1)), nil
		}
		return new(big.Int).Sub(tickmath.MaxSqrtRatio, big.NewInt(1)), nil
	}
	price := p.state.sqrtPriceX96
	if zeroForOne {
		if limit.Cmp(price) >= 0 || limit.Cmp(tickmath.MinSqrtRatio) <= 0 {
			return nil, ErrInvalidPriceLimit
		}
	} else if limit.Cmp(price) <= 0 || limit.Cmp(tickmath.MaxSqrtRatio) >= 0 {
		return nil, ErrInvalidPriceLimit
	}
	return limit, nil
}

// swap walks initialized ticks until the amount is used up or the price
// reaches limit, then writes the final price, tick, liquidity and fee growth.
func (p *Pool) swap(zeroForOne bool, amountSpecified, limit *big.Int) (amount0, amount1 *big.Int, err error) {
	exactIn := amountSpecified.Sign() > 0
	s := swapState{
		amountRemaining:  new(big.Int).Set(amountSpecified),
		amountCalculated: new(big.Int),
		sqrtPriceX96:     new(big.Int).Set(p.state.sqrtPriceX96),
		tick:             p.state.tick,
		liquidity:        new(big.Int).Set(p.state.liquidity),
	}
	if zeroForOne {
		s.feeGrowthGlobal = p.state.feeGrowthGlobal0X128.Clone()
	} else {
		s.feeGrowthGlobal = p.state.feeGrowthGlobal1X128.Clone()
	}

	for s.amountRemaining.Sign() != 0 && s.sqrtPriceX96.Cmp(limit) != 0 {
		start := new(big.Int).Set(s.sqrtPriceX96)

		next, initialized := tickbitmap.NextInitializedTick(p.state.ticks, s.tick, zeroForOne)
		sqrtNext, err := tickmath.SqrtRatioAtTick(next)
		if err != nil {
			return nil, nil, err
		}

		target := sqrtNext
		if (zeroForOne && sqrtNext.Cmp(limit) < 0) || (!zeroForOne && sqrtNext.Cmp(limit) > 0) {
			target = limit
		}

		step, err := swapmath.ComputeSwapStep(s.sqrtPriceX96, target, s.liquidity, s.amountRemaining, p.fee)
		if err != nil {
			return nil, nil, fmt.Errorf("swap step at tick %d: %w", s.tick, err)
		}
		s.sqrtPriceX96 = step.SqrtRatioNextX96

		if exactIn {
			s.amountRemaining.Sub(s.amountRemaining, step.AmountIn)
			s.amountRemaining.Sub(s.amountRemaining, step.FeeAmount)
			s.amountCalculated.Sub(s.amountCalculated, step.AmountOut)
		} else {
			s.amountRemaining.Add(s.amountRemaining, step.AmountOut)
			s.amountCalculated.Add(s.amountCalculated, step.AmountIn)
			s.amountCalculated.Add(s.amountCalculated, step.FeeAmount)
		}

		if s.liquidity.Sign() > 0 && step.FeeAmount.Sign() > 0 {
			growth := new(big.Int).Lsh(step.FeeAmount, 128)
			growth.Quo(growth, s.liquidity)
			g, _ := uint256.FromBig(growth)
			s.feeGrowthGlobal.Add(s.feeGrowthGlobal, g)
		}

		switch {
		case s.sqrtPriceX96.Cmp(sqrtNext) == 0:
			if initialized {
				net := p.crossTick(next, zeroForOne, s.feeGrowthGlobal)
				if zeroForOne {
					net.Neg(net)
				}
				if err := liquiditymath.AddDelta(s.liquidity, s.liquidity, net); err != nil {
					return nil, nil, err
				}
			}
			if zeroForOne {
				s.tick = next - 1
			} else {
				s.tick = next
			}
		case s.sqrtPriceX96.Cmp(start) != 0:
			if s.tick, err = tickmath.GetTickAtSqrtRatio(s.sqrtPriceX96); err != nil {
				return nil, nil, err
			}
		}
	}

	p.state.sqrtPriceX96 = s.sqrtPriceX96
	p.state.tick = s.tick
	p.state.liquidity = s.liquidity
	if zeroForOne {
		p.state.feeGrowthGlobal0X128 = s.feeGrowthGlobal
	} else {
		p.state.feeGrowthGlobal1X128 = s.feeGrowthGlobal
	}

	used := new(big.Int).Sub(amountSpecified, s.amountRemaining)
	if zeroForOne == exactIn {
		return used, s.amountCalculated, nil
	}
	return s.amountCalculated, used, nil
}

// crossTick flips the tick's outside fee growth and returns its net liquidity.
func (p *Pool) crossTick(index int64, zeroForOne bool, swapGrowth *uint256.Int) *big.Int {
	i, ok := tickbitmap.Find(p.state.ticks, index)
	if !ok {
		return new(big.Int)
	}
	global0, global1 := p.state.feeGrowthGlobal0X128, p.state.feeGrowthGlobal1X128
	if zeroForOne {
		global0 = swapGrowth
	} else {
		global1 = swapGrowth
	}
	info := &p.state.ticks[i]
	info.FeeGrowthOutside0X128 = new(uint256.Int).Sub(global0, info.FeeGrowthOutside0X128)
	info.FeeGrowthOutside1X128 = new(uint256.Int).Sub(global1, info.FeeGrowthOutside1X128)
	return new(big.Int).Set(info.LiquidityNet)
}

func (p *Pool) collectSwapPayment(token Token, owed, amount0, amount1 *big.Int, pay uniswapv3.PayFunc) error {
	if owed.Sign() <= 0 {
		return nil
	}
	if pay == nil {
		return ErrInsufficientPayment
	}
	before := token.BalanceOf(p.address).ToBig()
	if err := pay(new(big.Int).Set(amount0), new(big.Int).Set(amount1)); err != nil {
		return err
	}
	if token.BalanceOf(p.address).ToBig().Cmp(before.Add(before, owed)) < 0 {
		return ErrInsufficientPayment
	}
	return nil
}
