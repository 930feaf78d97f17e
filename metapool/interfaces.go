package metapool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pool is the concentrated liquidity pool a manager deploys into.
type Pool interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address
	Fee() uint64
	TickSpacing() int64
	Slot0() (sqrtPriceX96 *big.Int, tick int64)
	Position(owner common.Address, lower, upper int64) uniswapv3.PositionInfo
	// ModifyLiquidity returns non-negative token amounts. For a positive
	// delta the pool calls pay with the amounts it requires.
	ModifyLiquidity(owner common.Address, lower, upper int64, delta *big.Int, pay uniswapv3.PayFunc) (amount0, amount1 *big.Int, err error)
	Collect(owner, recipient common.Address, lower, upper int64, max0, max1 *big.Int) (amount0, amount1 *big.Int, err error)
}

// PoolRegistry resolves pools by pair and fee tier.
type PoolRegistry interface {
	GetPool(tokenA, tokenB common.Address, fee uint64) (Pool, bool)
	FeeAmountTickSpacing(fee uint64) (int64, bool)
}

// Token is an underlying asset held by a manager.
type Token interface {
	Address() common.Address
	BalanceOf(holder common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// TokenLookup resolves token addresses.
type TokenLookup interface {
	Token(addr common.Address) (Token, bool)
}

type registry[P Pool] struct {
	getPool     func(tokenA, tokenB common.Address, fee uint64) (P, bool)
	tickSpacing func(fee uint64) (int64, bool)
}

// NewRegistry adapts a concrete pool factory to PoolRegistry.
func NewRegistry[P Pool](getPool func(tokenA, tokenB common.Address, fee uint64) (P, bool), tickSpacing func(fee uint64) (int64, bool)) PoolRegistry {
	return &registry[P]{getPool: getPool, tickSpacing: tickSpacing}
}

func (r *registry[P]) GetPool(tokenA, tokenB common.Address, fee uint64) (Pool, bool) {
	p, ok := r.getPool(tokenA, tokenB, fee)
	if !ok {
		return nil, false
	}
	return p, true
}

func (r *registry[P]) FeeAmountTickSpacing(fee uint64) (int64, bool) {
	return r.tickSpacing(fee)
}

type lookup[T Token] func(common.Address) (T, bool)

// NewTokenLookup adapts a concrete token index to TokenLookup.
func NewTokenLookup[T Token](get func(common.Address) (T, bool)) TokenLookup {
	return lookup[T](get)
}

func (l lookup[T]) Token(addr common.Address) (Token, bool) {
	t, ok := l(addr)
	if !ok {
		return nil, false
	}
	return t, true
}
