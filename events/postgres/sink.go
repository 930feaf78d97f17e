// Package postgres persists committed event records to Postgres.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defistate/metapool-go/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS metapool_events (
	run_id       TEXT        NOT NULL,
	seq          BIGINT      NOT NULL,
	emitter      TEXT        NOT NULL,
	kind         TEXT        NOT NULL,
	payload      JSONB       NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, seq)
)`

// Sink writes records into metapool_events, keyed by run and sequence.
type Sink struct {
	pool  *pgxpool.Pool
	runID string
}

func NewSink(ctx context.Context, dsn, runID string) (*Sink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, runID: runID}, nil
}

func (s *Sink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the events table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Write inserts the batch. Replaying a run is idempotent.
func (s *Sink) Write(ctx context.Context, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows, err := toRows(s.runID, records)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO metapool_events (run_id, seq, emitter, kind, payload, committed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (run_id, seq) DO NOTHING
		`, r.runID, r.seq, r.emitter, r.kind, r.payload, r.committedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Count returns how many records were stored for the run.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	var n int64
	row := s.pool.QueryRow(ctx, `SELECT count(*) FROM metapool_events WHERE run_id=$1`, s.runID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
