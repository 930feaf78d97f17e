// Package metapool manages a single concentrated liquidity position on behalf
// of many depositors, issuing fungible shares that track liquidity units.
package metapool

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
	"github.com/defistate/metapool-go/protocols/erc20"
	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/liquidityamounts"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickmath"
)

// Params is a range and fee tier a manager can be moved to.
type Params struct {
	LowerTick int64  `json:"lowerTick"`
	UpperTick int64  `json:"upperTick"`
	FeeTier   uint64 `json:"feeTier"`
}

// RebalanceResult reports what a rebalance harvested and redeployed.
type RebalanceResult struct {
	Fees0             *big.Int
	Fees1             *big.Int
	LiquidityRemoved  *big.Int
	LiquidityDeployed *big.Int
	Dust0             *big.Int
	Dust1             *big.Int
	Migrated          bool
}

// Config holds the manager's dependencies and initial configuration.
type Config struct {
	Engine   *engine.Engine
	Address  common.Address
	Owner    common.Address
	Token0   Token
	Token1   Token
	Pool     Pool
	Registry PoolRegistry
	// Initial active range. Both ticks must be aligned to Pool's spacing.
	LowerTick int64
	UpperTick int64
	Metrics   *Metrics
	Logger    Logger
}

func (c *Config) validate() error {
	switch {
	case c.Engine == nil:
		return errors.New("config: Engine cannot be nil")
	case c.Token0 == nil || c.Token1 == nil:
		return errors.New("config: Token0 and Token1 are required")
	case c.Pool == nil:
		return errors.New("config: Pool cannot be nil")
	case c.Registry == nil:
		return errors.New("config: Registry cannot be nil")
	case c.Metrics == nil:
		return errors.New("config: Metrics cannot be nil")
	case c.Logger == nil:
		return errors.New("config: Logger cannot be nil")
	}
	if c.Pool.Token0() != c.Token0.Address() || c.Pool.Token1() != c.Token1.Address() {
		return fmt.Errorf("config: pool %s does not trade %s/%s", c.Pool.Address().Hex(), c.Token0.Address().Hex(), c.Token1.Address().Hex())
	}
	if err := tickmath.ValidateRange(c.LowerTick, c.UpperTick, c.Pool.TickSpacing()); err != nil {
		return fmt.Errorf("config: %w: %w", ErrInvalidRange, err)
	}
	return nil
}

// active is the configuration liquidity is currently deployed with.
type active struct {
	pool      Pool
	lowerTick int64
	upperTick int64
	feeTier   uint64
}

// Manager owns one liquidity position and the share ledger over it.
//
// Every mutating method runs as a single engine transaction: it either
// completes or leaves shares, balances and configuration untouched.
type Manager struct {
	engine   *engine.Engine
	address  common.Address
	owner    common.Address
	token0   Token
	token1   Token
	registry PoolRegistry
	shares   *erc20.Token

	active  active
	pending *Params
	locked  bool

	metrics *Metrics
	logger  Logger
}

// New validates cfg and returns a manager over the configured pool and range.
// The share token is created at the manager's own address.
func New(cfg *Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		engine:   cfg.Engine,
		address:  cfg.Address,
		owner:    cfg.Owner,
		token0:   cfg.Token0,
		token1:   cfg.Token1,
		registry: cfg.Registry,
		active: active{
			pool:      cfg.Pool,
			lowerTick: cfg.LowerTick,
			upperTick: cfg.UpperTick,
			feeTier:   cfg.Pool.Fee(),
		},
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	m.shares = erc20.New(cfg.Engine, erc20.Metadata{
		Address:  cfg.Address,
		Name:     "MetaPool Share",
		Symbol:   "MPS",
		Decimals: 18,
	})
	return m, nil
}

// Address is the manager's own address, where its share token also lives.
func (m *Manager) Address() common.Address { return m.address }

// Owner is the account allowed to stage new parameters.
func (m *Manager) Owner() common.Address { return m.owner }

// Token0 and Token1 are the sorted pair the manager provides liquidity for.
func (m *Manager) Token0() common.Address { return m.token0.Address() }
func (m *Manager) Token1() common.Address { return m.token1.Address() }

// Shares is the share token. Holders transfer and approve shares through it.
func (m *Manager) Shares() *erc20.Token { return m.shares }

// CurrentPool is the pool holding the active position.
func (m *Manager) CurrentPool() common.Address { return m.active.pool.Address() }

// CurrentLowerTick and CurrentUpperTick bound the active range.
func (m *Manager) CurrentLowerTick() int64 { return m.active.lowerTick }
func (m *Manager) CurrentUpperTick() int64 { return m.active.upperTick }

// CurrentUniswapFee is the fee tier of the active pool.
func (m *Manager) CurrentUniswapFee() uint64 { return m.active.feeTier }

// PendingParams returns the staged configuration, if any.
func (m *Manager) PendingParams() (Params, bool) {
	if m.pending == nil {
		return Params{}, false
	}
	return *m.pending, true
}

// TotalShares is the share token supply.
func (m *Manager) TotalShares() *uint256.Int {
	return m.shares.TotalSupply()
}

// ShareBalanceOf returns the shares held by holder.
func (m *Manager) ShareBalanceOf(holder common.Address) *uint256.Int {
	return m.shares.BalanceOf(holder)
}

// PositionLiquidity is the liquidity deployed in the active range.
func (m *Manager) PositionLiquidity() *big.Int {
	return m.position().Liquidity
}

// IdleBalances are the underlying tokens held by the manager and not deployed.
func (m *Manager) IdleBalances() (*uint256.Int, *uint256.Int) {
	return m.token0.BalanceOf(m.address), m.token1.BalanceOf(m.address)
}

// Mint deposits liquidity units into the active range on behalf of caller and
// issues the same number of shares. The caller pays the token amounts the
// pool requires, rounded up, and must have approved the manager for them.
// Fees the position earned before the deposit are harvested into the idle
// balances first, so new shares only ever claim fees accrued after them.
func (m *Manager) Mint(caller common.Address, liquidity *big.Int) (amount0, amount1 *big.Int, err error) {
	err = m.run("mint", func() error {
		if liquidity == nil || liquidity.Sign() <= 0 {
			return ErrZeroAmount
		}
		if liquidity.Cmp(liquiditymath.MaxUint128) > 0 {
			return liquiditymath.ErrLiquidityOverflow
		}

		cfg := m.active
		if _, _, err := m.harvest(cfg); err != nil {
			return err
		}
		sqrtP, _ := cfg.pool.Slot0()
		sqrtA, sqrtB, err := rangePrices(cfg.lowerTick, cfg.upperTick)
		if err != nil {
			return err
		}
		quote0, quote1, err := liquidityamounts.AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity, true)
		if err != nil {
			return err
		}

		if err := m.shares.Mint(caller, uint256.MustFromBig(liquidity)); err != nil {
			return err
		}

		amount0, amount1, err = cfg.pool.ModifyLiquidity(m.address, cfg.lowerTick, cfg.upperTick, liquidity, func(owed0, owed1 *big.Int) error {
			if owed0.Cmp(quote0) > 0 || owed1.Cmp(quote1) > 0 {
				return fmt.Errorf("%w: quoted %s/%s, requested %s/%s", ErrPaymentExceedsQuote, quote0, quote1, owed0, owed1)
			}
			if err := m.pull(m.token0, caller, cfg.pool.Address(), owed0); err != nil {
				return err
			}
			return m.pull(m.token1, caller, cfg.pool.Address(), owed1)
		})
		if err != nil {
			return err
		}

		m.engine.Emit(m.address, events.Deposit{
			Holder:  caller,
			Shares:  new(big.Int).Set(liquidity),
			Amount0: new(big.Int).Set(amount0),
			Amount1: new(big.Int).Set(amount1),
		})
		m.logger.Debug("deposit", "manager", m.address, "holder", caller, "liquidity", liquidity, "amount0", amount0, "amount1", amount1)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	m.observeLiquidity()
	return amount0, amount1, nil
}

// Burn redeems shares for caller. It removes floor(shares * L / totalShares)
// of the deployed liquidity and pays out that principal together with the
// same fraction of the fees owed by the pool. Fees owed to the remaining
// liquidity stay in the pool. Idle balances wait for the next Rebalance,
// except on the burn of the last outstanding shares, which sweeps them.
func (m *Manager) Burn(caller common.Address, shares *big.Int) (amount0, amount1 *big.Int, err error) {
	err = m.run("burn", func() error {
		if shares == nil || shares.Sign() <= 0 {
			return ErrZeroAmount
		}
		s, overflow := uint256.FromBig(shares)
		if overflow || m.shares.BalanceOf(caller).Lt(s) {
			return ErrInsufficientShares
		}

		cfg := m.active
		total := m.shares.TotalSupply().ToBig()
		last := shares.Cmp(total) == 0

		if err := m.shares.Burn(caller, s); err != nil {
			return err
		}

		liquidity := m.position().Liquidity
		removed := proRata(liquidity, shares, total)
		principal0, principal1 := new(big.Int), new(big.Int)
		if liquidity.Sign() > 0 {
			var err error
			principal0, principal1, err = cfg.pool.ModifyLiquidity(m.address, cfg.lowerTick, cfg.upperTick, new(big.Int).Neg(removed), nil)
			if err != nil {
				return err
			}
		}

		owed := m.position()
		want0 := new(big.Int).Add(principal0, proRata(new(big.Int).Sub(owed.TokensOwed0, principal0), shares, total))
		want1 := new(big.Int).Add(principal1, proRata(new(big.Int).Sub(owed.TokensOwed1, principal1), shares, total))
		amount0, amount1 = new(big.Int), new(big.Int)
		if want0.Sign() > 0 || want1.Sign() > 0 {
			var err error
			if amount0, amount1, err = cfg.pool.Collect(m.address, caller, cfg.lowerTick, cfg.upperTick, want0, want1); err != nil {
				return err
			}
		}

		if last {
			idle0, idle1 := m.IdleBalances()
			if err := m.send(m.token0, caller, idle0.ToBig()); err != nil {
				return err
			}
			if err := m.send(m.token1, caller, idle1.ToBig()); err != nil {
				return err
			}
			amount0.Add(amount0, idle0.ToBig())
			amount1.Add(amount1, idle1.ToBig())
		}

		m.engine.Emit(m.address, events.Withdrawal{
			Holder:           caller,
			Shares:           new(big.Int).Set(shares),
			LiquidityRemoved: new(big.Int).Set(removed),
			Amount0:          new(big.Int).Set(amount0),
			Amount1:          new(big.Int).Set(amount1),
		})
		m.logger.Debug("withdrawal", "manager", m.address, "holder", caller, "shares", shares, "liquidity", removed, "amount0", amount0, "amount1", amount1)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	m.observeLiquidity()
	return amount0, amount1, nil
}

// Rebalance harvests fees, withdraws all liquidity, adopts any staged
// parameters and redeploys as much liquidity as the manager's balances allow.
// Anyone may call it. Shares are never minted or burned.
func (m *Manager) Rebalance(caller common.Address) (RebalanceResult, error) {
	start := time.Now()
	res := RebalanceResult{
		Fees0:             new(big.Int),
		Fees1:             new(big.Int),
		LiquidityRemoved:  new(big.Int),
		LiquidityDeployed: new(big.Int),
	}

	err := m.run("rebalance", func() error {
		cfg := m.active

		// 1. realize and collect everything the pool owes
		var err error
		if res.Fees0, res.Fees1, err = m.harvest(cfg); err != nil {
			return err
		}
		pos := m.position()

		// 2. withdraw all deployed liquidity
		if pos.Liquidity.Sign() > 0 {
			res.LiquidityRemoved.Set(pos.Liquidity)
			principal0, principal1, err := cfg.pool.ModifyLiquidity(m.address, cfg.lowerTick, cfg.upperTick, new(big.Int).Neg(pos.Liquidity), nil)
			if err != nil {
				return err
			}
			if _, _, err := cfg.pool.Collect(m.address, m.address, cfg.lowerTick, cfg.upperTick, principal0, principal1); err != nil {
				return err
			}
		}

		// 3. adopt staged parameters
		if m.pending != nil {
			next := *m.pending
			pool, ok := m.registry.GetPool(m.token0.Address(), m.token1.Address(), next.FeeTier)
			if !ok {
				return fmt.Errorf("%w: fee tier %d", ErrTargetPoolMissing, next.FeeTier)
			}
			m.setActive(active{pool: pool, lowerTick: next.LowerTick, upperTick: next.UpperTick, feeTier: next.FeeTier})
			m.setPending(nil)
			res.Migrated = true
			cfg = m.active
		}

		// 4. size the new position from current balances
		bal0, bal1 := m.IdleBalances()
		sqrtP, _ := cfg.pool.Slot0()
		sqrtA, sqrtB, err := rangePrices(cfg.lowerTick, cfg.upperTick)
		if err != nil {
			return err
		}
		liquidity, err := liquidityamounts.LiquidityForAmounts(sqrtP, sqrtA, sqrtB, bal0.ToBig(), bal1.ToBig())
		if err != nil {
			return err
		}

		// 5. deploy, leaving any dust with the manager
		if liquidity.Sign() > 0 {
			pool := cfg.pool.Address()
			_, _, err := cfg.pool.ModifyLiquidity(m.address, cfg.lowerTick, cfg.upperTick, liquidity, func(owed0, owed1 *big.Int) error {
				if err := m.send(m.token0, pool, owed0); err != nil {
					return err
				}
				return m.send(m.token1, pool, owed1)
			})
			if err != nil {
				return err
			}
			res.LiquidityDeployed.Set(liquidity)
		}

		dust0, dust1 := m.IdleBalances()
		res.Dust0, res.Dust1 = dust0.ToBig(), dust1.ToBig()

		m.engine.Emit(m.address, events.Rebalanced{
			Caller:    caller,
			Pool:      cfg.pool.Address(),
			LowerTick: cfg.lowerTick,
			UpperTick: cfg.upperTick,
			FeeTier:   cfg.feeTier,
			Fees0:     new(big.Int).Set(res.Fees0),
			Fees1:     new(big.Int).Set(res.Fees1),
			Liquidity: new(big.Int).Set(liquidity),
			Migrated:  res.Migrated,
		})
		return nil
	})
	if err != nil {
		return RebalanceResult{}, err
	}

	m.metrics.RebalanceDuration.Observe(time.Since(start).Seconds())
	if res.Migrated {
		m.metrics.Migrations.Inc()
	}
	m.observeLiquidity()
	m.logger.Info("rebalanced",
		"manager", m.address,
		"pool", m.active.pool.Address(),
		"fees0", res.Fees0,
		"fees1", res.Fees1,
		"liquidity", res.LiquidityDeployed,
		"migrated", res.Migrated,
	)
	return res, nil
}

// AdjustParams stages a new range and fee tier for the next Rebalance.
// Staging the active configuration clears anything pending.
func (m *Manager) AdjustParams(caller common.Address, lowerTick, upperTick int64, feeTier uint64) error {
	return m.run("adjust_params", func() error {
		if caller != m.owner {
			return ErrUnauthorized
		}
		spacing, ok := m.registry.FeeAmountTickSpacing(feeTier)
		if !ok {
			return fmt.Errorf("%w: fee tier %d is not enabled", ErrInvalidRange, feeTier)
		}
		if err := tickmath.ValidateRange(lowerTick, upperTick, spacing); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRange, err)
		}

		next := Params{LowerTick: lowerTick, UpperTick: upperTick, FeeTier: feeTier}
		cleared := next == m.activeParams()
		if cleared {
			m.setPending(nil)
		} else {
			m.setPending(&next)
		}
		m.engine.Emit(m.address, events.ParamsStaged{
			LowerTick: lowerTick,
			UpperTick: upperTick,
			FeeTier:   feeTier,
			Cleared:   cleared,
		})
		m.logger.Info("params staged", "manager", m.address, "lower", lowerTick, "upper", upperTick, "fee", feeTier, "cleared", cleared)
		return nil
	})
}

// harvest realizes the fees owed to the position in cfg and collects them
// into the manager's idle balances.
func (m *Manager) harvest(cfg active) (*big.Int, *big.Int, error) {
	pos := cfg.pool.Position(m.address, cfg.lowerTick, cfg.upperTick)
	if pos.Liquidity.Sign() > 0 {
		if _, _, err := cfg.pool.ModifyLiquidity(m.address, cfg.lowerTick, cfg.upperTick, new(big.Int), nil); err != nil {
			return nil, nil, err
		}
		pos = cfg.pool.Position(m.address, cfg.lowerTick, cfg.upperTick)
	}
	if pos.TokensOwed0.Sign() == 0 && pos.TokensOwed1.Sign() == 0 {
		return new(big.Int), new(big.Int), nil
	}
	return cfg.pool.Collect(m.address, m.address, cfg.lowerTick, cfg.upperTick, pos.TokensOwed0, pos.TokensOwed1)
}

// run executes fn as one transaction under the reentrancy lock.
func (m *Manager) run(op string, fn func() error) error {
	err := m.engine.Atomic(func() error {
		if m.locked {
			return ErrReentrancy
		}
		m.locked = true
		defer func() { m.locked = false }()
		return fn()
	})
	if err != nil {
		m.metrics.Operations.WithLabelValues(op, "error").Inc()
		m.logger.Warn("operation rejected", "manager", m.address, "op", op, "error", err)
		return &OperationError{Op: op, Manager: m.address, Err: err}
	}
	m.metrics.Operations.WithLabelValues(op, "ok").Inc()
	return nil
}

func (m *Manager) position() uniswapv3.PositionInfo {
	cfg := m.active
	return cfg.pool.Position(m.address, cfg.lowerTick, cfg.upperTick)
}

func (m *Manager) activeParams() Params {
	return Params{LowerTick: m.active.lowerTick, UpperTick: m.active.upperTick, FeeTier: m.active.feeTier}
}

func (m *Manager) setActive(next active) {
	prev := m.active
	m.active = next
	m.engine.Journal().Append(func() { m.active = prev })
}

func (m *Manager) setPending(next *Params) {
	prev := m.pending
	m.pending = next
	m.engine.Journal().Append(func() { m.pending = prev })
}

// pull moves amount of token from a depositor to pool using the manager's allowance.
func (m *Manager) pull(token Token, from, pool common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	v, overflow := uint256.FromBig(amount)
	if overflow || token.BalanceOf(from).Lt(v) || token.Allowance(from, m.address).Lt(v) {
		return fmt.Errorf("%w: %s of %s from %s", ErrInsufficientAllowanceOrBalance, amount, token.Address().Hex(), from.Hex())
	}
	return token.TransferFrom(m.address, from, pool, v)
}

// send moves amount of the manager's own token balance to to.
func (m *Manager) send(token Token, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("amount %s overflows uint256", amount)
	}
	return token.Transfer(m.address, to, v)
}

func (m *Manager) observeLiquidity() {
	f, _ := new(big.Float).SetInt(m.PositionLiquidity()).Float64()
	m.metrics.DeployedLiquidity.WithLabelValues(m.address.Hex()).Set(f)
}

func rangePrices(lower, upper int64) (*big.Int, *big.Int, error) {
	sqrtA, err := tickmath.SqrtRatioAtTick(lower)
	if err != nil {
		return nil, nil, err
	}
	sqrtB, err := tickmath.SqrtRatioAtTick(upper)
	if err != nil {
		return nil, nil, err
	}
	return sqrtA, sqrtB, nil
}

// proRata is floor(amount * shares / total).
func proRata(amount, shares, total *big.Int) *big.Int {
	if total.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, shares)
	return out.Quo(out, total)
}
