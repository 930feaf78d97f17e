package events

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	manager = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func sampleRecords() []Record {
	return []Record{
		{Seq: 1, Emitter: manager, Kind: KindPairCreated, Payload: PairCreated{Token0: tokenA, Token1: tokenB, Manager: manager}},
		{Seq: 2, Emitter: tokenA, Kind: KindTransfer, Payload: Transfer{From: tokenA, To: manager, Value: big.NewInt(42)}},
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Write(context.Background(), sampleRecords()))

	assert.Len(t, sink.Records(), 2)
	assert.Len(t, sink.OfKind(KindTransfer, nil), 1)
	assert.Len(t, sink.OfKind(KindTransfer, &manager), 0)
	assert.Len(t, sink.OfKind(KindPairCreated, &manager), 1)
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	sink := NewJSONLSink(path)

	require.NoError(t, sink.Write(context.Background(), sampleRecords()))
	require.NoError(t, sink.Write(context.Background(), nil))
	require.NoError(t, sink.Write(context.Background(), sampleRecords()[:1]))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := ReadJSONL(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, KindPairCreated, records[0].Kind)
	var created PairCreated
	require.NoError(t, json.Unmarshal(records[0].Payload, &created))
	assert.Equal(t, manager, created.Manager)

	var transfer Transfer
	require.NoError(t, json.Unmarshal(records[1].Payload, &transfer))
	assert.Equal(t, int64(42), transfer.Value.Int64())
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, []Record) error { return f.err }

func TestMultiSink(t *testing.T) {
	first, last := NewMemorySink(), NewMemorySink()
	require.NoError(t, MultiSink{first, Discard, last}.Write(context.Background(), sampleRecords()))
	assert.Len(t, first.Records(), 2)
	assert.Len(t, last.Records(), 2)

	boom := assert.AnError
	err := MultiSink{failingSink{boom}, last}.Write(context.Background(), sampleRecords())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, last.Records(), 2)
}
