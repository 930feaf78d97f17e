package erc20

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTokenExists   = errors.New("token already registered")
	ErrTokenNotFound = errors.New("token not found")
)

// Registry indexes deployed tokens by address.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
	order  []common.Address
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*Token)}
}

// Add registers t. Registering the same address twice fails.
func (r *Registry) Add(t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := t.Address()
	if _, ok := r.tokens[addr]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, addr.Hex())
	}
	r.tokens[addr] = t
	r.order = append(r.order, addr)
	return nil
}

// Get returns the token deployed at addr.
func (r *Registry) Get(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// Lookup is Get with an error for unknown addresses.
func (r *Registry) Lookup(addr common.Address) (*Token, error) {
	t, ok := r.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, addr.Hex())
	}
	return t, nil
}

// All lists token metadata in registration order.
func (r *Registry) All() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.tokens[addr].Metadata())
	}
	return out
}
