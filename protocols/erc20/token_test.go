package erc20

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func setup(t *testing.T) (*engine.Engine, *events.MemorySink, *Token) {
	t.Helper()
	sink := events.NewMemorySink()
	e, err := engine.New(&engine.Config{
		Sink:     sink,
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	tok := New(e, Metadata{Address: common.HexToAddress("0x7070"), Name: "Test", Symbol: "TST", Decimals: 18})
	return e, sink, tok
}

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func TestMintBurn(t *testing.T) {
	_, sink, tok := setup(t)

	require.NoError(t, tok.Mint(alice, u(100)))
	assert.Equal(t, uint64(100), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(100), tok.TotalSupply().Uint64())

	require.NoError(t, tok.Burn(alice, u(40)))
	assert.Equal(t, uint64(60), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(60), tok.TotalSupply().Uint64())

	err := tok.Burn(alice, u(61))
	assert.ErrorIs(t, err, ErrInsufficientAllowanceOrBalance)
	assert.Equal(t, uint64(60), tok.TotalSupply().Uint64())

	assert.ErrorIs(t, tok.Mint(common.Address{}, u(1)), ErrZeroAddress)
	assert.ErrorIs(t, tok.Mint(alice, new(uint256.Int).SetAllOne()), ErrSupplyOverflow)

	assert.Len(t, sink.OfKind(events.KindTransfer, nil), 2)
}

func TestTransfer(t *testing.T) {
	_, _, tok := setup(t)
	require.NoError(t, tok.Mint(alice, u(50)))

	require.NoError(t, tok.Transfer(alice, bob, u(20)))
	assert.Equal(t, uint64(30), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(20), tok.BalanceOf(bob).Uint64())

	err := tok.Transfer(alice, bob, u(31))
	assert.ErrorIs(t, err, ErrInsufficientAllowanceOrBalance)
	assert.Equal(t, uint64(30), tok.BalanceOf(alice).Uint64())

	require.NoError(t, tok.Transfer(alice, alice, u(30)))
	assert.Equal(t, uint64(30), tok.BalanceOf(alice).Uint64())
	assert.ErrorIs(t, tok.Transfer(alice, common.Address{}, u(1)), ErrZeroAddress)
}

func TestTransferFrom(t *testing.T) {
	_, _, tok := setup(t)
	require.NoError(t, tok.Mint(alice, u(100)))

	t.Run("requires allowance", func(t *testing.T) {
		err := tok.TransferFrom(bob, alice, carol, u(1))
		assert.ErrorIs(t, err, ErrInsufficientAllowanceOrBalance)
	})

	t.Run("spends allowance", func(t *testing.T) {
		require.NoError(t, tok.Approve(alice, bob, u(30)))
		require.NoError(t, tok.TransferFrom(bob, alice, carol, u(10)))
		assert.Equal(t, uint64(20), tok.Allowance(alice, bob).Uint64())
		assert.Equal(t, uint64(10), tok.BalanceOf(carol).Uint64())
	})

	t.Run("allowance above balance still fails on balance", func(t *testing.T) {
		require.NoError(t, tok.Approve(alice, bob, u(1000)))
		err := tok.TransferFrom(bob, alice, carol, u(500))
		assert.ErrorIs(t, err, ErrInsufficientAllowanceOrBalance)
		assert.Equal(t, uint64(1000), tok.Allowance(alice, bob).Uint64(), "failed transfer must not spend allowance")
	})

	t.Run("unlimited allowance is not decremented", func(t *testing.T) {
		max := new(uint256.Int).SetAllOne()
		require.NoError(t, tok.Approve(alice, bob, max))
		require.NoError(t, tok.TransferFrom(bob, alice, carol, u(5)))
		assert.True(t, tok.Allowance(alice, bob).Eq(max))
	})
}

func TestTransferHook(t *testing.T) {
	e, sink, tok := setup(t)
	require.NoError(t, tok.Mint(alice, u(10)))

	var seen []common.Address
	tok.SetTransferHook(func(from, to common.Address, amount *uint256.Int) error {
		seen = append(seen, to)
		if to == carol {
			return errors.New("carol rejects tokens")
		}
		return nil
	})

	require.NoError(t, tok.Transfer(alice, bob, u(1)))
	before := len(sink.Records())

	err := e.Atomic(func() error {
		if err := tok.Transfer(alice, bob, u(1)); err != nil {
			return err
		}
		return tok.Transfer(alice, carol, u(1))
	})
	require.Error(t, err)
	assert.Equal(t, uint64(9), tok.BalanceOf(alice).Uint64(), "both transfers in the failed transaction are undone")
	assert.Equal(t, uint64(1), tok.BalanceOf(bob).Uint64())
	assert.Zero(t, tok.BalanceOf(carol).Uint64())
	assert.Len(t, sink.Records(), before)
	assert.Equal(t, []common.Address{bob, bob, carol}, seen)
}

func TestRegistry(t *testing.T) {
	_, _, tok := setup(t)
	reg := NewRegistry()
	require.NoError(t, reg.Add(tok))
	assert.ErrorIs(t, reg.Add(tok), ErrTokenExists)

	got, ok := reg.Get(tok.Address())
	require.True(t, ok)
	assert.Same(t, tok, got)

	_, err := reg.Lookup(alice)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "TST", all[0].Symbol)
}
