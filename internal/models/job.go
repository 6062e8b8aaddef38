// Package models defines the persisted and transient entities of the
// summarization job queue: providers, models, jobs, attempts, rate
// counters, and provider backoff state.
package models

import (
	"encoding/json"
	"time"
)

// Job lifecycle states.
const (
	JobStateQueued     = "queued"
	JobStateProcessing = "processing"
	JobStateSucceeded  = "succeeded"
	JobStateFailed     = "failed"
	JobStateDead       = "dead"
)

// Rate counter windows.
const (
	PeriodMinute = "minute"
	PeriodDay    = "day"
)

// Provider is a configured AI vendor account.
type Provider struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Credential string    `json:"-"` // never logged or serialized
	Priority   int       `json:"priority"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Model is one callable (provider, model_name) pair with its own quota.
type Model struct {
	ID             string `json:"id"`
	ProviderID     string `json:"provider_id"`
	ModelName      string `json:"model_name"`
	PerMinuteLimit int    `json:"per_minute_limit"`
	PerDayLimit    int    `json:"per_day_limit"`
	Enabled        bool   `json:"enabled"`
}

// Candidate is a Model joined with its owning Provider's routing-relevant
// fields, as returned by Store.ListActiveModels.
type Candidate struct {
	Model
	ProviderName       string
	ProviderCredential string
	ProviderPriority   int
}

// Job is a durable unit of summarization work keyed by (file_id, content_hash).
type Job struct {
	ID          string          `json:"id"`
	FileID      string          `json:"file_id"`
	DedupeKey   string          `json:"dedupe_key"`
	ContentHash string          `json:"content_hash"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	State       string          `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error,omitempty"`
	Result      string          `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
}

// JobAttempt is an append-only audit row for one upstream dispatch (or
// pre-router failure) against a Job.
type JobAttempt struct {
	ID         int64      `json:"id"`
	JobID      string     `json:"job_id"`
	AttemptNo  int        `json:"attempt_no"`
	ProviderID string     `json:"provider_id,omitempty"`
	ModelID    string     `json:"model_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// RateCounter tallies usage of one model within one time window.
type RateCounter struct {
	ModelID    string    `json:"model_id"`
	Period     string    `json:"period"`
	WindowStart time.Time `json:"window_start"`
	UsedCount  int       `json:"used_count"`
}

// ProviderBackoff records the cool-down a Provider is under after an
// upstream error class, keyed by provider.
type ProviderBackoff struct {
	ProviderID string    `json:"provider_id"`
	Until      time.Time `json:"until"`
	Reason     string    `json:"reason"`
}

// EnqueueOutcome is the result of a Submit call.
type EnqueueOutcome struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"` // enqueued | already_queued | already_completed
	Result string `json:"result,omitempty"`
}

const (
	StatusEnqueued        = "enqueued"
	StatusAlreadyQueued    = "already_queued"
	StatusAlreadyCompleted = "already_completed"
)

// QueueStats summarizes job counts per state.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Dead       int `json:"dead"`
}

// JobEvent is a transient notification broadcast when a Job transitions
// state. It is never persisted — Store remains the system of record.
type JobEvent struct {
	Type       string    `json:"type"` // job_claimed | job_succeeded | job_failed (re-queued) | job_dead
	JobID      string    `json:"job_id"`
	FileID     string    `json:"file_id"`
	State      string    `json:"state"`
	QueueDepth int       `json:"queue_depth"`
	Timestamp  time.Time `json:"timestamp"`
}
