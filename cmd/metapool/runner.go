package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/defistate/metapool-go/cmd/metapool/config"
	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
	"github.com/defistate/metapool-go/events/postgres"
	"github.com/defistate/metapool-go/factory"
	"github.com/defistate/metapool-go/metapool"
	"github.com/defistate/metapool-go/protocols/erc20"
	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickmath"
	"github.com/defistate/metapool-go/protocols/uniswapv3/simulator"
)

// poolFactoryAddr hosts the simulated V3 pools.
var poolFactoryAddr = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")

type runnerConfig struct {
	EventsOut string
	PGDSN     string
	RunID     string
	Registry  prometheus.Registerer
	Logger    *zap.Logger
}

type stepResult struct {
	Index   int
	Step    config.Step
	Amount0 *big.Int
	Amount1 *big.Int
	Err     error
}

// runner builds the world a scenario describes and replays its steps, one
// engine transaction per step.
type runner struct {
	scenario *config.Scenario
	engine   *engine.Engine
	memory   *events.MemorySink
	pg       *postgres.Sink

	tokens   *erc20.Registry
	symbols  map[string]*erc20.Token
	accounts map[string]common.Address
	pools    *simulator.Factory
	factory  *factory.Factory

	results []stepResult
	logger  *zap.Logger
}

func newRunner(ctx context.Context, sc *config.Scenario, cfg runnerConfig) (*runner, error) {
	r := &runner{
		scenario: sc,
		memory:   events.NewMemorySink(),
		tokens:   erc20.NewRegistry(),
		symbols:  make(map[string]*erc20.Token, len(sc.Tokens)),
		accounts: map[string]common.Address{config.OwnerAccount: sc.Owner},
		logger:   cfg.Logger,
	}

	sinks := events.MultiSink{r.memory}
	if cfg.EventsOut != "" {
		sinks = append(sinks, events.NewJSONLSink(cfg.EventsOut))
	}
	if cfg.PGDSN != "" {
		pg, err := postgres.NewSink(ctx, cfg.PGDSN, cfg.RunID)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		r.pg = pg
		sinks = append(sinks, pg)
	}

	log := newSugared(cfg.Logger)
	e, err := engine.New(&engine.Config{Sink: sinks, Registry: cfg.Registry, Logger: log})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.engine = e
	r.pools = simulator.NewFactory(e, poolFactoryAddr)

	r.factory, err = factory.New(&factory.Config{
		Engine:     e,
		Address:    sc.Factory,
		Owner:      sc.Owner,
		Registry:   metapool.NewRegistry(r.pools.GetPool, r.pools.FeeAmountTickSpacing),
		Tokens:     metapool.NewTokenLookup(r.tokens.Get),
		Registerer: cfg.Registry,
		Logger:     log,
	})
	if err != nil {
		r.Close()
		return nil, err
	}

	if err := e.Submit(ctx, r.setup); err != nil {
		r.Close()
		return nil, fmt.Errorf("setup: %w", err)
	}
	return r, nil
}

func (r *runner) Close() {
	if r.pg != nil {
		r.pg.Close()
	}
}

// setup deploys tokens, pools and managers, then funds the accounts and
// approves every manager to spend their balances.
func (r *runner) setup() error {
	for _, spec := range r.scenario.Tokens {
		tok := erc20.New(r.engine, erc20.Metadata{
			Address:  spec.Address,
			Name:     spec.Symbol,
			Symbol:   spec.Symbol,
			Decimals: spec.Decimals,
		})
		if err := r.tokens.Add(tok); err != nil {
			return err
		}
		r.symbols[spec.Symbol] = tok
	}

	for _, spec := range r.scenario.Pools {
		fee := spec.Fee
		if fee == 0 {
			fee = uniswapv3.FeeMedium
		}
		sqrtPrice, err := tickmath.SqrtRatioAtTick(spec.Tick)
		if err != nil {
			return fmt.Errorf("pool %s/%s: %w", spec.Token0, spec.Token1, err)
		}
		if _, err := r.pools.CreateAndInitializePool(r.symbols[spec.Token0], r.symbols[spec.Token1], fee, sqrtPrice); err != nil {
			return fmt.Errorf("pool %s/%s: %w", spec.Token0, spec.Token1, err)
		}
	}

	for _, pair := range r.scenario.Managers {
		a, b := r.pair(pair)
		if _, err := r.factory.CreateManager(a, b); err != nil {
			return fmt.Errorf("manager %s/%s: %w", pair[0], pair[1], err)
		}
	}

	unlimited := new(uint256.Int).SetAllOne()
	for _, acct := range r.scenario.Accounts {
		r.accounts[acct.Name] = acct.Address
		for sym, amount := range acct.Balances {
			v, overflow := uint256.FromBig(amount.Value())
			if overflow {
				return fmt.Errorf("account %s: %s balance overflows", acct.Name, sym)
			}
			if err := r.symbols[sym].Mint(acct.Address, v); err != nil {
				return fmt.Errorf("account %s: %w", acct.Name, err)
			}
		}
		for _, m := range r.factory.AllManagers() {
			for _, tok := range []*erc20.Token{r.mustToken(m.Token0()), r.mustToken(m.Token1())} {
				if err := tok.Approve(acct.Address, m.Address(), unlimited); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Run replays every step. A step that fails without expecting to stops the run.
func (r *runner) Run(ctx context.Context) error {
	for i, st := range r.scenario.Steps {
		res := stepResult{Index: i, Step: st}
		res.Err = r.engine.Submit(ctx, func() error {
			var err error
			res.Amount0, res.Amount1, err = r.apply(st)
			return err
		})
		r.results = append(r.results, res)

		fields := []zap.Field{
			zap.Int("step", i),
			zap.String("action", string(st.Action)),
			zap.String("account", st.Account),
		}
		switch {
		case res.Err != nil && st.ExpectError:
			r.logger.Info("step reverted as expected", append(fields, zap.Error(res.Err))...)
		case res.Err != nil:
			r.logger.Error("step failed", append(fields, zap.Error(res.Err))...)
			return fmt.Errorf("step %d (%s): %w", i, st.Action, res.Err)
		case st.ExpectError:
			return fmt.Errorf("step %d (%s): expected an error", i, st.Action)
		default:
			r.logger.Debug("step applied", fields...)
		}
	}
	return nil
}

func (r *runner) apply(st config.Step) (*big.Int, *big.Int, error) {
	caller := r.accounts[st.Account]
	if st.Action == config.ActionSwap {
		return r.swap(caller, st)
	}

	a, b := r.pair(st.Pair)
	m, ok := r.factory.GetManager(a, b)
	if !ok {
		return nil, nil, fmt.Errorf("no manager for %s/%s", st.Pair[0], st.Pair[1])
	}

	switch st.Action {
	case config.ActionMint:
		return m.Mint(caller, st.Amount.Value())
	case config.ActionBurn:
		return m.Burn(caller, st.Amount.Value())
	case config.ActionRebalance:
		res, err := m.Rebalance(caller)
		if err != nil {
			return nil, nil, err
		}
		return res.Fees0, res.Fees1, nil
	case config.ActionAdjust:
		return nil, nil, m.AdjustParams(caller, st.Lower, st.Upper, st.Fee)
	default:
		return nil, nil, fmt.Errorf("unknown action %q", st.Action)
	}
}

// swap trades an exact input from caller against the pair's pool.
func (r *runner) swap(caller common.Address, st config.Step) (*big.Int, *big.Int, error) {
	fee := st.Fee
	if fee == 0 {
		fee = uniswapv3.FeeMedium
	}
	a, b := r.pair(st.Pair)
	pool, ok := r.pools.GetPool(a, b, fee)
	if !ok {
		return nil, nil, fmt.Errorf("no pool for %s/%s at fee %d", st.Pair[0], st.Pair[1], fee)
	}

	pay := func(amount0, amount1 *big.Int) error {
		if amount0.Sign() > 0 {
			if err := r.mustToken(pool.Token0()).Transfer(caller, pool.Address(), uint256.MustFromBig(amount0)); err != nil {
				return err
			}
		}
		if amount1.Sign() > 0 {
			return r.mustToken(pool.Token1()).Transfer(caller, pool.Address(), uint256.MustFromBig(amount1))
		}
		return nil
	}
	return pool.Swap(caller, caller, st.ZeroForOne, st.Amount.Value(), nil, pay)
}

func (r *runner) pair(p [2]string) (common.Address, common.Address) {
	return r.symbols[p[0]].Address(), r.symbols[p[1]].Address()
}

// mustToken resolves a token the scenario deployed. Callers only pass
// addresses read back from pools or managers built over those tokens.
func (r *runner) mustToken(addr common.Address) *erc20.Token {
	tok, ok := r.tokens.Get(addr)
	if !ok {
		panic(fmt.Sprintf("token %s not deployed", addr.Hex()))
	}
	return tok
}

func (r *runner) symbol(addr common.Address) string {
	if tok, ok := r.tokens.Get(addr); ok {
		return tok.Metadata().Symbol
	}
	return addr.Hex()
}
