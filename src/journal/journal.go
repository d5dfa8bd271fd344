// Package journal keeps a durable Postgres copy of ledger events for
// indexers and history queries.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// DBTX is the subset of *pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	DB DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{DB: db}
}

// Connect opens a connection pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
  seq          BIGINT PRIMARY KEY,
  kind         TEXT NOT NULL,
  batch_id     BIGINT,
  participant  TEXT,
  counterparty TEXT,
  payload      JSONB NOT NULL,
  occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_events_batch_idx ON ledger_events(batch_id, seq);
`

// Migrate creates the journal table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Append stores ev. Re-appending an event with a known sequence number is a
// no-op, so replays after a restart are safe.
func (s *Store) Append(ctx context.Context, ev ledger.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var batchID any
	if ev.BatchID != 0 {
		batchID = int64(ev.BatchID)
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO ledger_events(seq,kind,batch_id,participant,counterparty,payload,occurred_at)
VALUES($1,$2,$3,$4,$5,$6::jsonb,$7)
ON CONFLICT (seq) DO NOTHING
`, int64(ev.Seq), string(ev.Kind), batchID, nullable(string(ev.Participant)), nullable(string(ev.Counterparty)),
		string(payload), ev.At.UTC())
	if err != nil {
		return fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	return nil
}

// Since returns up to limit events with seq greater than seq, oldest first.
func (s *Store) Since(ctx context.Context, seq uint64, limit int) ([]ledger.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.Query(ctx, `
SELECT payload
FROM ledger_events
WHERE seq > $1
ORDER BY seq
LIMIT $2
`, int64(seq), limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ForBatch returns the full event history of a batch.
func (s *Store) ForBatch(ctx context.Context, batchID uint64) ([]ledger.Event, error) {
	rows, err := s.DB.Query(ctx, `
SELECT payload
FROM ledger_events
WHERE batch_id=$1
ORDER BY seq
`, int64(batchID))
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]ledger.Event, error) {
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Event, 0, len(payloads))
	for _, p := range payloads {
		var ev ledger.Event
		if err := json.Unmarshal(p, &ev); err != nil {
			return nil, fmt.Errorf("decode journal payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
