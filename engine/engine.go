// Package engine is the host ledger that every stateful component runs on.
//
// Components record undo entries in a shared Journal. Atomic runs a function
// against that journal and rewinds every participant if it fails, so an
// operation either applies completely or leaves no trace. Events emitted inside
// a transaction are buffered and only reach the sink once the outermost
// transaction commits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/metapool-go/events"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the engine's dependencies.
type Config struct {
	Sink     events.Sink           // Optional, defaults to events.Discard.
	Registry prometheus.Registerer // Required for metrics.
	Logger   Logger                // Required for logging.
	Clock    func() time.Time      // Optional, defaults to time.Now.
}

func (c *Config) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Engine serializes transactions and owns the shared journal.
type Engine struct {
	mu      sync.Mutex
	journal Journal
	depth   int
	pending []events.Record
	seq     uint64
	ctx     context.Context

	sink    events.Sink
	clock   func() time.Time
	logger  Logger
	metrics *Metrics
}

// New validates cfg and returns an engine with an empty journal.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		sink:    cfg.Sink,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: NewMetrics(cfg.Registry),
	}
	if e.sink == nil {
		e.sink = events.Discard
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e, nil
}

// Journal is the undo log participants append to while a transaction runs.
func (e *Engine) Journal() *Journal {
	return &e.journal
}

// InTransaction reports whether an Atomic call is running.
func (e *Engine) InTransaction() bool {
	return e.depth > 0
}

// Submit runs fn as one top-level transaction. Submissions from different
// goroutines are applied one at a time.
func (e *Engine) Submit(ctx context.Context, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	e.ctx = ctx
	defer func() { e.ctx = nil }()

	return e.Atomic(fn)
}

// Atomic runs fn. If fn returns an error or panics, every change journaled
// since the call started is undone and its events are dropped. Calls nest;
// only the outermost one commits.
func (e *Engine) Atomic(fn func() error) (err error) {
	snap := e.journal.Snapshot()
	pending := len(e.pending)
	e.depth++

	defer func() {
		e.depth--
		r := recover()
		if r != nil || err != nil {
			e.journal.RevertToSnapshot(snap)
			e.pending = e.pending[:pending]
			if e.depth == 0 {
				e.metrics.Transactions.WithLabelValues("reverted").Inc()
			}
			if r != nil {
				panic(r)
			}
			return
		}
		if e.depth == 0 {
			e.commit()
		}
	}()

	return fn()
}

// Emit buffers an event for delivery when the outermost transaction commits.
// Emitting outside a transaction is a programming error.
func (e *Engine) Emit(emitter common.Address, payload events.Payload) {
	if e.depth == 0 {
		panic(fmt.Sprintf("engine: %s emitted outside a transaction", payload.Kind()))
	}
	e.pending = append(e.pending, events.Record{
		Emitter: emitter,
		Kind:    payload.Kind(),
		Payload: payload,
	})
}

func (e *Engine) commit() {
	e.metrics.Transactions.WithLabelValues("committed").Inc()
	e.metrics.JournalLength.Observe(float64(e.journal.Length()))
	e.journal.reset()

	if len(e.pending) == 0 {
		return
	}
	batch := make([]events.Record, len(e.pending))
	now := e.clock()
	for i, r := range e.pending {
		e.seq++
		r.Seq = e.seq
		r.CommittedAt = now
		batch[i] = r
		e.metrics.EventsEmitted.WithLabelValues(string(r.Kind)).Inc()
	}
	e.pending = e.pending[:0]

	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// State is already final; a sink failure is reported but not rolled back.
	if err := e.sink.Write(ctx, batch); err != nil {
		e.metrics.SinkErrors.Inc()
		e.logger.Error("failed to write events", "error", err, "first_seq", batch[0].Seq, "count", len(batch))
	}
}
