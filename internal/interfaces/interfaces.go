// Package interfaces defines the contracts between the queue/router
// components, so Router and Worker can be tested against fakes instead of
// a real SQLite database or a real upstream AI provider.
package interfaces

import (
	"context"
	"encoding/json"

	"github.com/bobmcallan/sumqueue/internal/models"
)

// Store is the durable persistence contract described in spec §4.1.
// Every mutating method is a single transaction on the underlying engine.
type Store interface {
	UpsertProvider(ctx context.Context, p *models.Provider) error
	UpsertModel(ctx context.Context, m *models.Model) error
	ListActiveModels(ctx context.Context) ([]models.Candidate, error)

	Submit(ctx context.Context, fileID string, payload json.RawMessage, priority, maxAttempts int) (*models.EnqueueOutcome, error)
	ClaimNext(ctx context.Context, workerID string) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID, outcome, result, errMsg string) error
	IncrementAttempt(ctx context.Context, jobID, providerID, modelID string, success bool, errMsg string) (int, error)
	RecoverStale(ctx context.Context, timeoutSeconds int) (int, error)
	QueueStats(ctx context.Context) (models.QueueStats, error)

	TryConsume(ctx context.Context, modelID, period string) (allowed bool, used int, limit int, err error)

	SetBackoff(ctx context.Context, providerID, reason string, untilUnixSeconds int64) error
	ListGatedProviders(ctx context.Context) (map[string]bool, error)

	Close() error
}

// RateLimiter is the component contract from spec §4.2. The durable
// implementation is backed by Store.TryConsume; a local read-through cache
// may short-circuit a refusal without touching Store.
type RateLimiter interface {
	TryConsume(ctx context.Context, modelID string, period string, limit int) (allowed bool, err error)
}

// ProviderGate is the component contract from spec §4.3.
type ProviderGate interface {
	Gated(ctx context.Context, providerID string) (bool, error)
	SetBackoff(ctx context.Context, providerID string, class string) error
}

// Generator abstracts the upstream AI provider SDK call the spec treats
// as a black box: generate(modelName, prompt, maxTokens) -> text | error.
type Generator interface {
	Generate(ctx context.Context, modelName, prompt string, maxTokens int) (string, error)
}

// Router is the component contract from spec §4.4.
type Router interface {
	Dispatch(ctx context.Context, job *models.Job, prompt string, maxTokens int) (summary string, err error)
}
