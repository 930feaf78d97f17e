package metapool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAmount         = errors.New("amount must be greater than zero")
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrInsufficientAllowanceOrBalance is returned when a depositor has not
	// approved the manager for, or does not hold, the tokens a mint needs.
	ErrInsufficientAllowanceOrBalance = errors.New("insufficient allowance or balance")
	ErrUnauthorized                   = errors.New("caller is not the owner")
	ErrInvalidRange                   = errors.New("invalid tick range")
	// ErrTargetPoolMissing is returned by Rebalance when the staged fee tier
	// has no pool for the pair.
	ErrTargetPoolMissing   = errors.New("no pool for staged fee tier")
	ErrReentrancy          = errors.New("reentrant call")
	ErrPaymentExceedsQuote = errors.New("pool requested more than quoted")
)

// OperationError records which manager operation failed and why.
type OperationError struct {
	Op      string
	Manager common.Address
	Err     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("metapool %s: %s: %v", e.Manager.Hex(), e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
