// Package erc20 is an in-memory fungible token ledger with ERC-20 semantics.
package erc20

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
)

var (
	// ErrInsufficientAllowanceOrBalance is returned when a debit exceeds the
	// holder's balance or the spender's allowance.
	ErrInsufficientAllowanceOrBalance = errors.New("insufficient allowance or balance")
	ErrSupplyOverflow                 = errors.New("total supply overflow")
	ErrZeroAddress                    = errors.New("zero address")

	maxUint256 = new(uint256.Int).SetAllOne()
)

// Metadata describes a token.
type Metadata struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// TransferHook runs after every balance move. An error aborts the enclosing operation.
type TransferHook func(from, to common.Address, amount *uint256.Int) error

// Token is a journaled balance and allowance ledger.
type Token struct {
	engine      *engine.Engine
	meta        Metadata
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	hook        TransferHook
}

// New returns an empty token journaled by e.
func New(e *engine.Engine, meta Metadata) *Token {
	return &Token{
		engine:      e,
		meta:        meta,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *Token) Address() common.Address { return t.meta.Address }
func (t *Token) Metadata() Metadata      { return t.meta }

// SetTransferHook installs fn to run after each transfer, mint and burn.
func (t *Token) SetTransferHook(fn TransferHook) {
	t.hook = fn
}

func (t *Token) TotalSupply() *uint256.Int {
	return t.totalSupply.Clone()
}

func (t *Token) BalanceOf(holder common.Address) *uint256.Int {
	if b, ok := t.balances[holder]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	return t.engine.Atomic(func() error {
		t.setAllowance(owner, spender, amount.Clone())
		t.engine.Emit(t.meta.Address, events.Approval{Owner: owner, Spender: spender, Value: amount.ToBig()})
		return nil
	})
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.engine.Atomic(func() error {
		return t.move(from, to, amount)
	})
}

// TransferFrom moves amount on behalf of from, spending spender's allowance.
// An allowance of 2^256-1 is treated as unlimited.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	return t.engine.Atomic(func() error {
		allowed := t.Allowance(from, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s allowance %s of %s, need %s",
				ErrInsufficientAllowanceOrBalance, t.meta.Symbol, allowed.Dec(), spender.Hex(), amount.Dec())
		}
		if !allowed.Eq(maxUint256) {
			t.setAllowance(from, spender, allowed.Sub(allowed, amount))
		}
		return t.move(from, to, amount)
	})
}

// Mint creates amount new tokens for to.
func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	return t.engine.Atomic(func() error {
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		supply, overflow := new(uint256.Int).AddOverflow(t.totalSupply, amount)
		if overflow {
			return ErrSupplyOverflow
		}
		t.setSupply(supply)
		t.setBalance(to, new(uint256.Int).Add(t.BalanceOf(to), amount))
		t.engine.Emit(t.meta.Address, events.Transfer{To: to, Value: amount.ToBig()})
		return t.runHook(common.Address{}, to, amount)
	})
}

// Burn destroys amount of from's tokens.
func (t *Token) Burn(from common.Address, amount *uint256.Int) error {
	return t.engine.Atomic(func() error {
		bal := t.BalanceOf(from)
		if bal.Lt(amount) {
			return fmt.Errorf("%w: %s balance %s, burning %s", ErrInsufficientAllowanceOrBalance, t.meta.Symbol, bal.Dec(), amount.Dec())
		}
		t.setBalance(from, bal.Sub(bal, amount))
		t.setSupply(new(uint256.Int).Sub(t.totalSupply, amount))
		t.engine.Emit(t.meta.Address, events.Transfer{From: from, Value: amount.ToBig()})
		return t.runHook(from, common.Address{}, amount)
	})
}

func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	bal := t.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s balance of %s is %s, need %s",
			ErrInsufficientAllowanceOrBalance, t.meta.Symbol, from.Hex(), bal.Dec(), amount.Dec())
	}
	if from != to {
		t.setBalance(from, bal.Sub(bal, amount))
		t.setBalance(to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	}
	t.engine.Emit(t.meta.Address, events.Transfer{From: from, To: to, Value: amount.ToBig()})
	return t.runHook(from, to, amount)
}

func (t *Token) runHook(from, to common.Address, amount *uint256.Int) error {
	if t.hook == nil {
		return nil
	}
	return t.hook(from, to, amount.Clone())
}

func (t *Token) setBalance(holder common.Address, v *uint256.Int) {
	prev, had := t.balances[holder]
	if v.IsZero() {
		delete(t.balances, holder)
	} else {
		t.balances[holder] = v
	}
	t.engine.Journal().Append(func() {
		if had {
			t.balances[holder] = prev
		} else {
			delete(t.balances, holder)
		}
	})
}

func (t *Token) setAllowance(owner, spender common.Address, v *uint256.Int) {
	inner, ok := t.allowances[owner]
	if !ok {
		inner = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = inner
	}
	prev, had := inner[spender]
	inner[spender] = v
	t.engine.Journal().Append(func() {
		if had {
			inner[spender] = prev
		} else {
			delete(inner, spender)
		}
	})
}

func (t *Token) setSupply(v *uint256.Int) {
	prev := t.totalSupply
	t.totalSupply = v
	t.engine.Journal().Append(func() { t.totalSupply = prev })
}
