package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/sumqueue/internal/models"
)

// TryConsume atomically checks and increments a model's usage counter for
// one window (minute or day, UTC). If the increment would exceed the
// model's configured limit, the transaction is rolled back and allowed is
// false with no state change (spec §4.2, invariants L1-L3).
func (s *Store) TryConsume(ctx context.Context, modelID, period string) (allowed bool, used int, limit int, err error) {
	windowStart, err := windowStart(period, time.Now().UTC())
	if err != nil {
		return false, 0, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, 0, fmt.Errorf("begin tryConsume tx: %w", err)
	}
	defer tx.Rollback()

	limit, err = s.modelLimit(ctx, tx, modelID, period)
	if err != nil {
		return false, 0, 0, err
	}

	var currentUsed int
	row := tx.QueryRowContext(ctx, `
		SELECT used_count FROM rate_counters WHERE model_id = ? AND period = ? AND window_start = ?
	`, modelID, period, windowStart)
	err = row.Scan(&currentUsed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		currentUsed = 0
	case err != nil:
		return false, 0, 0, fmt.Errorf("read rate counter: %w", err)
	}

	if currentUsed >= limit {
		return false, currentUsed, limit, nil
	}

	newUsed := currentUsed + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_counters (model_id, period, window_start, used_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(model_id, period, window_start) DO UPDATE SET used_count = used_count + 1
	`, modelID, period, windowStart)
	if err != nil {
		return false, 0, 0, fmt.Errorf("increment rate counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, 0, fmt.Errorf("commit tryConsume tx: %w", err)
	}
	return true, newUsed, limit, nil
}

func (s *Store) modelLimit(ctx context.Context, tx *sql.Tx, modelID, period string) (int, error) {
	var perMinute, perDay int
	row := tx.QueryRowContext(ctx, `SELECT per_minute_limit, per_day_limit FROM models WHERE id = ?`, modelID)
	if err := row.Scan(&perMinute, &perDay); err != nil {
		return 0, fmt.Errorf("resolve limit for model %s: %w", modelID, err)
	}
	if period == models.PeriodDay {
		return perDay, nil
	}
	return perMinute, nil
}

// windowStart floors t to the start of its period bucket (UTC).
func windowStart(period string, t time.Time) (time.Time, error) {
	switch period {
	case models.PeriodMinute:
		return t.Truncate(time.Minute), nil
	case models.PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("unknown rate period %q", period)
	}
}

// PruneStaleCounters removes rate_counters rows whose window_start is older
// than twice their period, per invariant R1. Not part of the Store
// interface; the Worker's housekeeping timer calls it alongside
// RecoverStale.
func (s *Store) PruneStaleCounters(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_counters WHERE period = 'minute' AND window_start < ?
	`, now.Add(-2*time.Minute))
	if err != nil {
		return fmt.Errorf("prune minute counters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM rate_counters WHERE period = 'day' AND window_start < ?
	`, now.Add(-48*time.Hour))
	if err != nil {
		return fmt.Errorf("prune day counters: %w", err)
	}
	return nil
}
