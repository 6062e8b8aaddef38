package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/sumqueue/internal/models"
)

// Submit implements spec §4.1's enqueue algorithm: compute the content
// hash, look for an existing queued, processing or succeeded row with the same (file_id,
// content_hash), and either report its outcome or insert a new queued job.
// A concurrent unique-violation on the dedup index is recovered by
// re-reading and reporting already_queued.
func (s *Store) Submit(ctx context.Context, fileID string, payload json.RawMessage, priority, maxAttempts int) (*models.EnqueueOutcome, error) {
	hash, err := contentHash(payload)
	if err != nil {
		return nil, fmt.Errorf("compute content hash: %w", err)
	}

	if outcome, err := s.lookupExisting(ctx, fileID, hash); err != nil {
		return nil, err
	} else if outcome != nil {
		return outcome, nil
	}

	now := time.Now().UTC()
	jobID := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, file_id, dedupe_key, content_hash, payload, priority, state,
		                   attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, jobID, fileID, fileID, hash, string(payload), priority, models.JobStateQueued, maxAttempts, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race to a concurrent inserter; re-read and report.
			outcome, lookupErr := s.lookupExisting(ctx, fileID, hash)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if outcome != nil {
				return outcome, nil
			}
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return &models.EnqueueOutcome{JobID: jobID, Status: models.StatusEnqueued}, nil
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports unique constraint violations in the error
	// string; there is no typed sentinel without importing sqlite3.Error.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func (s *Store) lookupExisting(ctx context.Context, fileID, hash string) (*models.EnqueueOutcome, error) {
	var id, state string
	var result sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, result FROM jobs
		WHERE dedupe_key = ? AND content_hash = ? AND state IN ('queued','processing','succeeded')
		LIMIT 1
	`, fileID, hash)
	if err := row.Scan(&id, &state, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup existing job: %w", err)
	}

	switch state {
	case models.JobStateSucceeded:
		return &models.EnqueueOutcome{JobID: id, Status: models.StatusAlreadyCompleted, Result: result.String}, nil
	default:
		return &models.EnqueueOutcome{JobID: id, Status: models.StatusAlreadyQueued}, nil
	}
}

// ClaimNext selects the highest-priority, oldest queued job and atomically
// transitions it to processing via a compare-and-swap on state. Returns nil
// (no error) when no job is claimed, whether because the queue is empty or
// because a concurrent claimer won the race.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	var id string
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE state = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, models.JobStateQueued)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select candidate job: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, locked_at = ?, worker_id = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, models.JobStateProcessing, now, workerID, now, id, models.JobStateQueued)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job %s rows affected: %w", id, err)
	}
	if affected == 0 {
		// Lost the compare-and-swap to a concurrent claimer.
		return nil, nil
	}

	return s.getJob(ctx, id)
}

func (s *Store) getJob(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	var payload string
	var errMsg, result, workerID sql.NullString
	var lockedAt sql.NullTime
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, dedupe_key, content_hash, payload, priority, state,
		       attempts, max_attempts, error, result, created_at, updated_at, locked_at, worker_id
		FROM jobs WHERE id = ?
	`, id)
	if err := row.Scan(
		&j.ID, &j.FileID, &j.DedupeKey, &j.ContentHash, &payload, &j.Priority, &j.State,
		&j.Attempts, &j.MaxAttempts, &errMsg, &result, &j.CreatedAt, &j.UpdatedAt, &lockedAt, &workerID,
	); err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	j.Payload = []byte(payload)
	j.Error = errMsg.String
	j.Result = result.String
	j.WorkerID = workerID.String
	if lockedAt.Valid {
		t := lockedAt.Time
		j.LockedAt = &t
	}
	return &j, nil
}

// CompleteJob transitions a job to outcome, clearing lock fields. A
// transition back to queued (retry) preserves attempts and max_attempts.
func (s *Store) CompleteJob(ctx context.Context, jobID, outcome, result, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, result = ?, error = ?, locked_at = NULL, worker_id = NULL, updated_at = ?
		WHERE id = ?
	`, outcome, nullableString(result), nullableString(errMsg), now, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// IncrementAttempt increments the job's attempt counter and appends a
// JobAttempt audit row in one transaction, returning the new attempt_no.
func (s *Store) IncrementAttempt(ctx context.Context, jobID, providerID, modelID string, success bool, errMsg string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin increment attempt tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`, now, jobID)
	if err != nil {
		return 0, fmt.Errorf("increment attempts for job %s: %w", jobID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, fmt.Errorf("increment attempts for job %s: no such job", jobID)
	}

	var attemptNo int
	row := tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ?`, jobID)
	if err := row.Scan(&attemptNo); err != nil {
		return 0, fmt.Errorf("read attempts for job %s: %w", jobID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_attempts (job_id, attempt_no, provider_id, model_id, started_at, finished_at, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, jobID, attemptNo, nullableString(providerID), nullableString(modelID), now, now, success, nullableString(errMsg))
	if err != nil {
		return 0, fmt.Errorf("append job attempt for job %s: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit increment attempt tx: %w", err)
	}
	return attemptNo, nil
}

// RecoverStale transitions every job stuck in processing past timeoutSeconds
// to failed, clearing its lock. Idempotent: a second call with no stale
// jobs affects zero rows.
func (s *Store) RecoverStale(ctx context.Context, timeoutSeconds int) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(timeoutSeconds) * time.Second)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, error = ?, locked_at = NULL, worker_id = NULL, updated_at = ?
		WHERE state = ? AND locked_at < ?
	`, models.JobStateFailed, "timed out", now, models.JobStateProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs rows affected: %w", err)
	}
	return int(affected), nil
}

// QueueStats summarizes job counts per state.
func (s *Store) QueueStats(ctx context.Context) (models.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats models.QueueStats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return models.QueueStats{}, err
		}
		switch state {
		case models.JobStateQueued:
			stats.Queued = count
		case models.JobStateProcessing:
			stats.Processing = count
		case models.JobStateSucceeded:
			stats.Succeeded = count
		case models.JobStateFailed:
			stats.Failed = count
		case models.JobStateDead:
			stats.Dead = count
		}
	}
	return stats, rows.Err()
}
