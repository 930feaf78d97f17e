package factory

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/metapool-go/engine"
	"github.com/defistate/metapool-go/events"
	"github.com/defistate/metapool-go/metapool"
	"github.com/defistate/metapool-go/protocols/erc20"
	uniswapv3 "github.com/defistate/metapool-go/protocols/uniswapv3"
	"github.com/defistate/metapool-go/protocols/uniswapv3/calculator/sqrtpricemath"
	"github.com/defistate/metapool-go/protocols/uniswapv3/simulator"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	admin       = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice       = common.HexToAddress("0x000000000000000000000000000000000000a11c")

	addrA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	addrC = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

type env struct {
	e       *engine.Engine
	sink    *events.MemorySink
	tokens  *erc20.Registry
	pools   *simulator.Factory
	factory *Factory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	sink := events.NewMemorySink()
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := engine.New(&engine.Config{Sink: sink, Registry: reg, Logger: logger})
	require.NoError(t, err)

	v := &env{
		e:      e,
		sink:   sink,
		tokens: erc20.NewRegistry(),
		pools:  simulator.NewFactory(e, common.HexToAddress("0x00000000000000000000000000000000000000fa")),
	}
	for i, addr := range []common.Address{addrA, addrB, addrC} {
		tok := erc20.New(e, erc20.Metadata{Address: addr, Symbol: string(rune('A' + i)), Decimals: 18})
		require.NoError(t, v.tokens.Add(tok))
	}

	v.factory, err = New(&Config{
		Engine:     e,
		Address:    factoryAddr,
		Owner:      admin,
		Registry:   metapool.NewRegistry(v.pools.GetPool, v.pools.FeeAmountTickSpacing),
		Tokens:     metapool.NewTokenLookup(v.tokens.Get),
		Registerer: reg,
		Logger:     logger,
	})
	require.NoError(t, err)
	return v
}

func (v *env) token(t *testing.T, addr common.Address) *erc20.Token {
	t.Helper()
	tok, err := v.tokens.Lookup(addr)
	require.NoError(t, err)
	return tok
}

func (v *env) createPool(t *testing.T, a, b common.Address, fee uint64) *simulator.Pool {
	t.Helper()
	p, err := v.pools.CreateAndInitializePool(v.token(t, a), v.token(t, b), fee, new(big.Int).Set(sqrtpricemath.Q96))
	require.NoError(t, err)
	return p
}

func TestNewValidation(t *testing.T) {
	v := newEnv(t)
	_, err := New(&Config{Engine: v.e, Registerer: prometheus.NewRegistry(), Logger: slog.Default()})
	assert.Error(t, err)
	_, err = New(&Config{Engine: v.e, Registry: v.factory.registry, Tokens: v.factory.tokens, Logger: slog.Default()})
	assert.Error(t, err)
	assert.Equal(t, uniswapv3.FeeMedium, v.factory.DiscoveryFee())
}

func TestSortTokens(t *testing.T) {
	cases := []struct {
		name string
		a, b common.Address
		want Pair
		err  error
	}{
		{"ordered", addrA, addrB, Pair{addrA, addrB}, nil},
		{"reversed", addrB, addrA, Pair{addrA, addrB}, nil},
		{"identical", addrA, addrA, Pair{}, ErrIdenticalTokens},
		{"zero", common.Address{}, addrA, Pair{}, ErrZeroAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SortTokens(tc.a, tc.b)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCreateManager(t *testing.T) {
	v := newEnv(t)
	pool := v.createPool(t, addrB, addrA, uniswapv3.FeeMedium)

	predicted, err := v.factory.CalculateManagerAddress(addrB, addrA)
	require.NoError(t, err)

	m, err := v.factory.CreateManager(addrB, addrA)
	require.NoError(t, err)
	assert.Equal(t, predicted, m.Address())
	assert.Equal(t, addrA, m.Token0())
	assert.Equal(t, addrB, m.Token1())
	assert.Equal(t, pool.Address(), m.CurrentPool())
	assert.Equal(t, int64(-887220), m.CurrentLowerTick())
	assert.Equal(t, int64(887220), m.CurrentUpperTick())
	assert.Equal(t, uniswapv3.FeeMedium, m.CurrentUniswapFee())
	assert.Equal(t, admin, m.Owner())

	after, err := v.factory.CalculateManagerAddress(addrA, addrB)
	require.NoError(t, err)
	assert.Equal(t, predicted, after)

	created := v.sink.OfKind(events.KindPairCreated, &factoryAddr)
	require.Len(t, created, 1)
	assert.Equal(t, events.PairCreated{Token0: addrA, Token1: addrB, Manager: m.Address()}, created[0].Payload)

	got, ok := v.factory.GetManager(addrB, addrA)
	require.True(t, ok)
	assert.Same(t, m, got)
	got, ok = v.factory.ManagerAt(m.Address())
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(v.factory.metrics.ManagersCreated))
}

func TestManagerAddressPreimage(t *testing.T) {
	v := newEnv(t)
	got, err := v.factory.CalculateManagerAddress(addrA, addrB)
	require.NoError(t, err)

	salt := crypto.Keccak256(addrA.Bytes(), addrB.Bytes())
	raw := crypto.Keccak256([]byte{0xff}, factoryAddr.Bytes(), salt, DefaultInitCodeHash.Bytes())
	assert.Equal(t, common.BytesToAddress(raw[12:]), got)
	assert.Equal(t, got, ManagerAddress(factoryAddr, Pair{Token0: addrA, Token1: addrB}, DefaultInitCodeHash))

	other, err := v.factory.CalculateManagerAddress(addrA, addrC)
	require.NoError(t, err)
	assert.NotEqual(t, got, other)

	_, err = v.factory.CalculateManagerAddress(addrA, addrA)
	assert.ErrorIs(t, err, ErrIdenticalTokens)
}

func TestCreateManagerErrors(t *testing.T) {
	t.Run("no double creation", func(t *testing.T) {
		v := newEnv(t)
		v.createPool(t, addrA, addrB, uniswapv3.FeeMedium)
		_, err := v.factory.CreateManager(addrA, addrB)
		require.NoError(t, err)

		_, err = v.factory.CreateManager(addrB, addrA)
		assert.ErrorIs(t, err, ErrPairAlreadyManaged)
		assert.Len(t, v.factory.AllManagers(), 1)
		assert.Len(t, v.sink.OfKind(events.KindPairCreated, nil), 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(v.factory.metrics.CreateErrors.WithLabelValues("already_managed")))
	})

	t.Run("needs a pool at the discovery tier", func(t *testing.T) {
		v := newEnv(t)
		v.createPool(t, addrA, addrB, uniswapv3.FeeLow)
		_, err := v.factory.CreateManager(addrA, addrB)
		assert.ErrorIs(t, err, ErrNoUnderlyingPool)
		_, ok := v.factory.GetManager(addrA, addrB)
		assert.False(t, ok)
		assert.Empty(t, v.sink.OfKind(events.KindPairCreated, nil))
	})

	t.Run("unknown token", func(t *testing.T) {
		v := newEnv(t)
		stranger := common.HexToAddress("0x00000000000000000000000000000000000000dd")
		tok := erc20.New(v.e, erc20.Metadata{Address: stranger})
		_, err := v.pools.CreatePool(v.token(t, addrA), tok, uniswapv3.FeeMedium)
		require.NoError(t, err)
		_, err = v.factory.CreateManager(addrA, stranger)
		assert.ErrorIs(t, err, ErrUnknownToken)
	})

	t.Run("degenerate pairs", func(t *testing.T) {
		v := newEnv(t)
		_, err := v.factory.CreateManager(addrA, addrA)
		assert.ErrorIs(t, err, ErrIdenticalTokens)
		_, err = v.factory.CreateManager(common.Address{}, addrA)
		assert.ErrorIs(t, err, ErrZeroAddress)
	})

	t.Run("rolled back with the enclosing transaction", func(t *testing.T) {
		v := newEnv(t)
		v.createPool(t, addrA, addrB, uniswapv3.FeeMedium)
		boom := errors.New("boom")
		err := v.e.Atomic(func() error {
			if _, err := v.factory.CreateManager(addrA, addrB); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, v.factory.AllManagers())
		assert.Empty(t, v.sink.OfKind(events.KindPairCreated, nil))

		_, err = v.factory.CreateManager(addrA, addrB)
		assert.NoError(t, err)
	})
}

func TestManagersForToken(t *testing.T) {
	v := newEnv(t)
	v.createPool(t, addrA, addrB, uniswapv3.FeeMedium)
	v.createPool(t, addrA, addrC, uniswapv3.FeeMedium)
	v.createPool(t, addrB, addrC, uniswapv3.FeeMedium)
	for _, pair := range [][2]common.Address{{addrA, addrB}, {addrA, addrC}, {addrB, addrC}} {
		_, err := v.factory.CreateManager(pair[0], pair[1])
		require.NoError(t, err)
	}

	assert.Len(t, v.factory.AllManagers(), 3)
	assert.Len(t, v.factory.ManagersForToken(addrA), 2)
	assert.Len(t, v.factory.ManagersForToken(addrC), 2)
	assert.Empty(t, v.factory.ManagersForToken(alice))
	assert.Equal(t, 3.0, testutil.ToFloat64(v.factory.metrics.Managers))
}

func TestCreatedManagerIsUsable(t *testing.T) {
	v := newEnv(t)
	pool := v.createPool(t, addrA, addrB, uniswapv3.FeeMedium)
	m, err := v.factory.CreateManager(addrA, addrB)
	require.NoError(t, err)

	for _, addr := range []common.Address{addrA, addrB} {
		tok := v.token(t, addr)
		require.NoError(t, tok.Mint(alice, uint256.NewInt(1_000_000)))
		require.NoError(t, tok.Approve(alice, m.Address(), uint256.NewInt(1_000_000)))
	}
	_, _, err = m.Mint(alice, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "1000", v.token(t, addrA).BalanceOf(pool.Address()).Dec())
	assert.Equal(t, "1000", v.token(t, addrB).BalanceOf(pool.Address()).Dec())
	assert.Equal(t, "1000", m.TotalShares().Dec())

	assert.ErrorIs(t, m.AdjustParams(alice, -600, 600, uniswapv3.FeeLow), metapool.ErrUnauthorized)
	assert.NoError(t, m.AdjustParams(admin, -600, 600, uniswapv3.FeeLow))
}
