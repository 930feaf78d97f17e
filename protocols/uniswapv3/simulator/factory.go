package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/swapmath"
)

var (
	ErrIdenticalTokens   = errors.New("identical tokens")
	ErrFeeNotEnabled     = errors.New("fee amount not enabled")
	ErrFeeAlreadyEnabled = errors.New("fee amount already enabled")
	ErrInvalidFee        = errors.New("invalid fee amount")
	ErrInvalidSpacing    = errors.New("tick spacing must be in (0, 16384)")
	ErrPoolExists        = errors.New("pool already exists")

	// PoolInitCodeHash stands in for the pool contract's init code hash.
	PoolInitCodeHash = crypto.Keccak256Hash([]byte("metapool-go/simulator.Pool"))
)

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint64
}

// Factory deploys pools and tracks which fee tiers are enabled.
type Factory struct {
	engine      *engine.Engine
	address     common.Address
	feeSpacings map[uint64]int64
	pools       map[poolKey]*Pool
	all         []*Pool
}

// NewFactory returns a factory with the standard fee tiers enabled.
func NewFactory(e *engine.Engine, address common.Address) *Factory {
	return &Factory{
		engine:      e,
		address:     address,
		feeSpacings: uniswapv3.DefaultFeeTickSpacing(),
		pools:       make(map[poolKey]*Pool),
	}
}

func (f *Factory) Address() common.Address { return f.address }

// FeeAmountTickSpacing returns the tick spacing for an enabled fee tier.
func (f *Factory) FeeAmountTickSpacing(fee uint64) (int64, bool) {
	spacing, ok := f.feeSpacings[fee]
	return spacing, ok
}

// EnableFeeAmount enables a new fee tier. Tiers cannot be changed once enabled.
func (f *Factory) EnableFeeAmount(fee uint64, tickSpacing int64) error {
	if fee >= swapmath.FeeDenominator {
		return ErrInvalidFee
	}
	if tickSpacing <= 0 || tickSpacing >= 16384 {
		return ErrInvalidSpacing
	}
	return f.engine.Atomic(func() error {
		if _, ok := f.feeSpacings[fee]; ok {
			return fmt.Errorf("%w: %d", ErrFeeAlreadyEnabled, fee)
		}
		f.feeSpacings[fee] = tickSpacing
		f.engine.Journal().Append(func() { delete(f.feeSpacings, fee) })
		return nil
	})
}

// GetPool looks up a pool by its pair and fee. Token order does not matter.
func (f *Factory) GetPool(tokenA, tokenB common.Address, fee uint64) (*Pool, bool) {
	token0, token1 := sortAddresses(tokenA, tokenB)
	p, ok := f.pools[poolKey{token0, token1, fee}]
	return p, ok
}

// Pools returns every pool in creation order.
func (f *Factory) Pools() []*Pool {
	out := make([]*Pool, len(f.all))
	copy(out, f.all)
	return out
}

// CreatePool deploys an uninitialized pool for the pair at fee.
func (f *Factory) CreatePool(tokenA, tokenB Token, fee uint64) (*Pool, error) {
	if tokenA.Address() == tokenB.Address() {
		return nil, ErrIdenticalTokens
	}
	token0, token1 := tokenA, tokenB
	if bytes.Compare(token0.Address().Bytes(), token1.Address().Bytes()) > 0 {
		token0, token1 = token1, token0
	}

	var pool *Pool
	err := f.engine.Atomic(func() error {
		spacing, ok := f.feeSpacings[fee]
		if !ok {
			return fmt.Errorf("%w: %d", ErrFeeNotEnabled, fee)
		}
		key := poolKey{token0.Address(), token1.Address(), fee}
		if _, exists := f.pools[key]; exists {
			return ErrPoolExists
		}

		pool = newPool(f.engine, f.poolAddress(key), token0, token1, fee, spacing)
		f.pools[key] = pool
		f.all = append(f.all, pool)
		f.engine.Journal().Append(func() {
			delete(f.pools, key)
			f.all = f.all[:len(f.all)-1]
		})

		f.engine.Emit(f.address, events.PoolCreated{
			Token0:      key.token0,
			Token1:      key.token1,
			Fee:         fee,
			TickSpacing: spacing,
			Pool:        pool.address,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// CreateAndInitializePool deploys a pool and sets its starting price in one step.
func (f *Factory) CreateAndInitializePool(tokenA, tokenB Token, fee uint64, sqrtPriceX96 *big.Int) (*Pool, error) {
	var pool *Pool
	err := f.engine.Atomic(func() error {
		var err error
		if pool, err = f.CreatePool(tokenA, tokenB, fee); err != nil {
			return err
		}
		return pool.Initialize(sqrtPriceX96)
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (f *Factory) poolAddress(key poolKey) common.Address {
	fee := common.BigToHash(new(big.Int).SetUint64(key.fee))
	salt := crypto.Keccak256Hash(key.token0.Bytes(), key.token1.Bytes(), fee.Bytes())
	return crypto.CreateAddress2(f.address, salt, PoolInitCodeHash.Bytes())
}

func sortAddresses(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}
