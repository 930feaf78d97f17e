package factory

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is an unordered token pair in canonical order.
type Pair struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
}

// SortTokens puts a and b in canonical (byte-wise ascending) order.
func SortTokens(a, b common.Address) (Pair, error) {
	if a == b {
		return Pair{}, ErrIdenticalTokens
	}
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	if a == (common.Address{}) {
		return Pair{}, ErrZeroAddress
	}
	return Pair{Token0: a, Token1: b}, nil
}
