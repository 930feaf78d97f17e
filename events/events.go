// Package events defines the records emitted by committed operations and the
// sinks that persist them.
package events

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindPairCreated  Kind = "PairCreated"
	KindTransfer     Kind = "Transfer"
	KindApproval     Kind = "Approval"
	KindDeposit      Kind = "Deposit"
	KindWithdrawal   Kind = "Withdrawal"
	KindRebalanced   Kind = "Rebalanced"
	KindParamsStaged Kind = "ParamsStaged"
	KindPoolCreated  Kind = "PoolCreated"
	KindSwap         Kind = "Swap"
)

// Payload is the typed body of a record.
type Payload interface {
	Kind() Kind
}

// Record is a committed event. Seq is assigned at commit and is gap free.
type Record struct {
	Seq         uint64         `json:"seq"`
	Emitter     common.Address `json:"emitter"`
	Kind        Kind           `json:"kind"`
	Payload     Payload        `json:"payload"`
	CommittedAt time.Time      `json:"committedAt"`
}

// Sink receives batches of committed records in commit order.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// PairCreated is emitted once per manager created by the factory.
type PairCreated struct {
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	Manager common.Address `json:"manager"`
}

func (PairCreated) Kind() Kind { return KindPairCreated }

type Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

func (Transfer) Kind() Kind { return KindTransfer }

type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *big.Int       `json:"value"`
}

func (Approval) Kind() Kind { return KindApproval }

type Deposit struct {
	Holder  common.Address `json:"holder"`
	Shares  *big.Int       `json:"shares"`
	Amount0 *big.Int       `json:"amount0"`
	Amount1 *big.Int       `json:"amount1"`
}

func (Deposit) Kind() Kind { return KindDeposit }

type Withdrawal struct {
	Holder           common.Address `json:"holder"`
	Shares           *big.Int       `json:"shares"`
	LiquidityRemoved *big.Int       `json:"liquidityRemoved"`
	Amount0          *big.Int       `json:"amount0"`
	Amount1          *big.Int       `json:"amount1"`
}

func (Withdrawal) Kind() Kind { return KindWithdrawal }

type Rebalanced struct {
	Caller    common.Address `json:"caller"`
	Pool      common.Address `json:"pool"`
	LowerTick int64          `json:"lowerTick"`
	UpperTick int64          `json:"upperTick"`
	FeeTier   uint64         `json:"feeTier"`
	Fees0     *big.Int       `json:"fees0"`
	Fees1     *big.Int       `json:"fees1"`
	Liquidity *big.Int       `json:"liquidity"`
	Migrated  bool           `json:"migrated"`
}

func (Rebalanced) Kind() Kind { return KindRebalanced }

type ParamsStaged struct {
	LowerTick int64  `json:"lowerTick"`
	UpperTick int64  `json:"upperTick"`
	FeeTier   uint64 `json:"feeTier"`
	// Cleared is set when the staged values equal the active ones.
	Cleared bool `json:"cleared"`
}

func (ParamsStaged) Kind() Kind { return KindParamsStaged }

type PoolCreated struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Fee         uint64         `json:"fee"`
	TickSpacing int64          `json:"tickSpacing"`
	Pool        common.Address `json:"pool"`
}

func (PoolCreated) Kind() Kind { return KindPoolCreated }

type Swap struct {
	Sender       common.Address `json:"sender"`
	Recipient    common.Address `json:"recipient"`
	Amount0      *big.Int       `json:"amount0"`
	Amount1      *big.Int       `json:"amount1"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Liquidity    *big.Int       `json:"liquidity"`
	Tick         int64          `json:"tick"`
}

func (Swap) Kind() Kind { return KindSwap }
