// Package factory deploys one metapool manager per token pair at an address
// derived only from the factory and the pair.
package factory

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
	"github.com/defistate/metapool-go/metapool"
	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/tickmath"
)

var (
	ErrPairAlreadyManaged = errors.New("pair already managed")
	ErrNoUnderlyingPool   = errors.New("no underlying pool at the discovery fee tier")
	ErrIdenticalTokens    = errors.New("identical tokens")
	ErrZeroAddress        = errors.New("zero address")
	ErrUnknownToken       = errors.New("unknown token")

	// DefaultInitCodeHash stands in for the manager contract's init code hash.
	DefaultInitCodeHash = crypto.Keccak256Hash([]byte("metapool-go/metapool.Manager"))
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the factory's dependencies.
type Config struct {
	Engine   *engine.Engine       // Required.
	Address  common.Address       // Factory identity; part of every manager address.
	Owner    common.Address       // Owner of every manager the factory creates.
	Registry metapool.PoolRegistry // Required.
	Tokens   metapool.TokenLookup  // Required.
	// DiscoveryFee is the fee tier new managers start on. Defaults to 3000.
	DiscoveryFee uint64
	// InitCodeHash defaults to DefaultInitCodeHash.
	InitCodeHash common.Hash
	Registerer   prometheus.Registerer // Required for metrics.
	Logger       Logger                // Required for logging.
}

func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("config: Engine cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Tokens == nil {
		return errors.New("config: Tokens cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Factory creates and indexes managers.
type Factory struct {
	engine       *engine.Engine
	address      common.Address
	owner        common.Address
	registry     metapool.PoolRegistry
	tokens       metapool.TokenLookup
	discoveryFee uint64
	initCodeHash common.Hash

	managers map[Pair]*metapool.Manager
	byAddr   map[common.Address]*metapool.Manager
	all      []*metapool.Manager

	managerMetrics *metapool.Metrics
	metrics        *Metrics
	logger         Logger
}

// New validates cfg and returns a factory with no managers.
func New(cfg *Config) (*Factory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f := &Factory{
		engine:         cfg.Engine,
		address:        cfg.Address,
		owner:          cfg.Owner,
		registry:       cfg.Registry,
		tokens:         cfg.Tokens,
		discoveryFee:   cfg.DiscoveryFee,
		initCodeHash:   cfg.InitCodeHash,
		managers:       make(map[Pair]*metapool.Manager),
		byAddr:         make(map[common.Address]*metapool.Manager),
		managerMetrics: metapool.NewMetrics(cfg.Registerer),
		metrics:        NewMetrics(cfg.Registerer),
		logger:         cfg.Logger,
	}
	if f.discoveryFee == 0 {
		f.discoveryFee = uniswapv3.FeeMedium
	}
	if f.initCodeHash == (common.Hash{}) {
		f.initCodeHash = DefaultInitCodeHash
	}
	return f, nil
}

// Address is the factory's address, used in manager address derivation.
func (f *Factory) Address() common.Address { return f.address }

// Owner becomes the owner of every manager the factory creates.
func (f *Factory) Owner() common.Address { return f.owner }

// DiscoveryFee is the fee tier new managers start on.
func (f *Factory) DiscoveryFee() uint64 { return f.discoveryFee }

// CalculateManagerAddress returns the address the pair's manager has, or
// will have once created.
func (f *Factory) CalculateManagerAddress(tokenA, tokenB common.Address) (common.Address, error) {
	pair, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	return f.managerAddress(pair), nil
}

// CreateManager deploys the manager for a pair over the widest range the
// discovery-tier pool's tick spacing allows. Exactly one PairCreated event is
// emitted per successful call.
func (f *Factory) CreateManager(tokenA, tokenB common.Address) (*metapool.Manager, error) {
	var m *metapool.Manager
	err := f.engine.Atomic(func() error {
		pair, err := SortTokens(tokenA, tokenB)
		if err != nil {
			return err
		}
		if _, ok := f.managers[pair]; ok {
			return fmt.Errorf("%w: %s/%s", ErrPairAlreadyManaged, pair.Token0.Hex(), pair.Token1.Hex())
		}
		pool, ok := f.registry.GetPool(pair.Token0, pair.Token1, f.discoveryFee)
		if !ok {
			return fmt.Errorf("%w: %s/%s fee %d", ErrNoUnderlyingPool, pair.Token0.Hex(), pair.Token1.Hex(), f.discoveryFee)
		}
		token0, ok := f.tokens.Token(pair.Token0)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownToken, pair.Token0.Hex())
		}
		token1, ok := f.tokens.Token(pair.Token1)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownToken, pair.Token1.Hex())
		}

		spacing := pool.TickSpacing()
		m, err = metapool.New(&metapool.Config{
			Engine:    f.engine,
			Address:   f.managerAddress(pair),
			Owner:     f.owner,
			Token0:    token0,
			Token1:    token1,
			Pool:      pool,
			Registry:  f.registry,
			LowerTick: tickmath.MinUsableTick(spacing),
			UpperTick: tickmath.MaxUsableTick(spacing),
			Metrics:   f.managerMetrics,
			Logger:    f.logger,
		})
		if err != nil {
			return err
		}
		f.register(pair, m)

		f.engine.Emit(f.address, events.PairCreated{
			Token0:  pair.Token0,
			Token1:  pair.Token1,
			Manager: m.Address(),
		})
		return nil
	})
	if err != nil {
		f.metrics.CreateErrors.WithLabelValues(reason(err)).Inc()
		return nil, err
	}

	f.metrics.ManagersCreated.Inc()
	f.metrics.Managers.Set(float64(len(f.all)))
	f.logger.Info("manager created",
		"manager", m.Address(),
		"token0", m.Token0(),
		"token1", m.Token1(),
		"pool", m.CurrentPool(),
		"lower", m.CurrentLowerTick(),
		"upper", m.CurrentUpperTick(),
	)
	return m, nil
}

// GetManager returns the manager for a pair in either order.
func (f *Factory) GetManager(tokenA, tokenB common.Address) (*metapool.Manager, bool) {
	pair, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return nil, false
	}
	m, ok := f.managers[pair]
	return m, ok
}

// ManagerAt returns the manager deployed at addr.
func (f *Factory) ManagerAt(addr common.Address) (*metapool.Manager, bool) {
	m, ok := f.byAddr[addr]
	return m, ok
}

// AllManagers lists managers in creation order.
func (f *Factory) AllManagers() []*metapool.Manager {
	out := make([]*metapool.Manager, len(f.all))
	copy(out, f.all)
	return out
}

// ManagersForToken lists the managers whose pair includes token.
func (f *Factory) ManagersForToken(token common.Address) []*metapool.Manager {
	var out []*metapool.Manager
	for _, m := range f.all {
		if m.Token0() == token || m.Token1() == token {
			out = append(out, m)
		}
	}
	return out
}

func (f *Factory) managerAddress(pair Pair) common.Address {
	return ManagerAddress(f.address, pair, f.initCodeHash)
}

// ManagerAddress is keccak256(0xff ++ factory ++ keccak256(token0 ++ token1) ++ initCodeHash)[12:].
func ManagerAddress(factory common.Address, pair Pair, initCodeHash common.Hash) common.Address {
	salt := crypto.Keccak256Hash(pair.Token0.Bytes(), pair.Token1.Bytes())
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}

func (f *Factory) register(pair Pair, m *metapool.Manager) {
	f.managers[pair] = m
	f.byAddr[m.Address()] = m
	f.all = append(f.all, m)
	f.engine.Journal().Append(func() {
		delete(f.managers, pair)
		delete(f.byAddr, m.Address())
		f.all = f.all[:len(f.all)-1]
	})
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrPairAlreadyManaged):
		return "already_managed"
	case errors.Is(err, ErrNoUnderlyingPool):
		return "no_pool"
	case errors.Is(err, ErrIdenticalTokens), errors.Is(err, ErrZeroAddress):
		return "invalid_pair"
	case errors.Is(err, ErrUnknownToken):
		return "unknown_token"
	default:
		return "other"
	}
}
