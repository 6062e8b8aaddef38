// Package store is the durable SQLite-backed persistence layer for
// providers, models, jobs, attempts, rate counters, and provider backoff.
// Every mutating method runs in a single transaction on the underlying
// engine. The database runs in WAL mode, but the handle is limited to one
// open connection, so reads and writes are serialized through it and a
// reader can delay a writer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/interfaces"
)

// Store is the SQLite-backed implementation of interfaces.Store.
type Store struct {
	db     *sql.DB
	logger *common.Logger
}

var _ interfaces.Store = (*Store)(nil)

// Open opens (or creates) the SQLite database at path, applies engine
// pragmas (WAL journaling, full fsync, foreign keys, busy timeout), and
// runs the schema migration.
func Open(ctx context.Context, path string, busyTimeout time.Duration, logger *common.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows only one writer; a single shared connection avoids
	// SQLITE_BUSY storms from the driver's own pool.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS providers (
  id TEXT PRIMARY KEY, name TEXT NOT NULL, credential TEXT NOT NULL,
  priority INTEGER NOT NULL, enabled INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS models (
  id TEXT PRIMARY KEY, provider_id TEXT NOT NULL REFERENCES providers(id),
  model_name TEXT NOT NULL, per_minute_limit INTEGER NOT NULL,
  per_day_limit INTEGER NOT NULL, enabled INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_models_enabled_provider ON models(enabled, provider_id);
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY, file_id TEXT NOT NULL, dedupe_key TEXT NOT NULL,
  content_hash TEXT NOT NULL, payload TEXT NOT NULL, priority INTEGER NOT NULL,
  state TEXT NOT NULL, attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL, error TEXT, result TEXT,
  created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL,
  locked_at DATETIME, worker_id TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedupe_active ON jobs(dedupe_key, content_hash)
  WHERE state IN ('queued','processing');
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_priority ON jobs(priority DESC, created_at ASC);
CREATE TABLE IF NOT EXISTS job_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT, job_id TEXT NOT NULL REFERENCES jobs(id),
  attempt_no INTEGER NOT NULL, provider_id TEXT, model_id TEXT,
  started_at DATETIME NOT NULL, finished_at DATETIME,
  success INTEGER NOT NULL, error TEXT
);
CREATE TABLE IF NOT EXISTS rate_counters (
  model_id TEXT NOT NULL, period TEXT NOT NULL, window_start DATETIME NOT NULL,
  used_count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (model_id, period, window_start)
);
CREATE INDEX IF NOT EXISTS idx_rate_counters_lookup ON rate_counters(model_id, period, window_start);
CREATE TABLE IF NOT EXISTS provider_backoff (
  provider_id TEXT PRIMARY KEY, until DATETIME NOT NULL, reason TEXT NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
