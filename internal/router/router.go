// Package router implements the candidate-walk dispatch algorithm of
// spec §4.4: for a job, enumerate (provider, model) candidates in priority
// order, gate each through RateLimiter and ProviderGate, invoke the
// upstream call, classify errors, and record attempts.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobmcallan/sumqueue/internal/interfaces"
	"github.com/bobmcallan/sumqueue/internal/models"
	"github.com/bobmcallan/sumqueue/internal/upstream"
)

// Dispatch failure kinds, per spec §4.4 and §4.5.1's retryable/non-retryable
// classification.
const (
	KindNoCandidates      = "NoCandidates"
	KindAllCandidatesFailed = "AllCandidatesFailed"
	KindInputInvalid      = "InputInvalid"
)

// Error is the typed fail(kind, message) result of a failed Dispatch.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func fail(kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// promptPreamble is prepended to every job's extracted content before it is
// sent upstream. The Router does not otherwise mutate content.
const promptPreamble = "Summarize the following content concisely, preserving key facts and figures.\n\n"

// candidateStore is the narrow slice of interfaces.Store the Router needs.
type candidateStore interface {
	ListActiveModels(ctx context.Context) ([]models.Candidate, error)
	IncrementAttempt(ctx context.Context, jobID, providerID, modelID string, success bool, errMsg string) (int, error)
}

// Router is the durable-store-backed implementation of interfaces.Router.
type Router struct {
	store       candidateStore
	limiter     interfaces.RateLimiter
	gate        interfaces.ProviderGate
	generators  map[string]upstream.Generator // keyed by Provider.ID
}

// New builds a Router. generators maps a provider's ID (as seeded by
// Registry) to the upstream.Generator that should be used to call it; it is
// built once at startup from configured credentials.
func New(store candidateStore, limiter interfaces.RateLimiter, gate interfaces.ProviderGate, generators map[string]upstream.Generator) *Router {
	return &Router{
		store:      store,
		limiter:    limiter,
		gate:       gate,
		generators: generators,
	}
}

// Dispatch implements interfaces.Router.
func (r *Router) Dispatch(ctx context.Context, job *models.Job, content string, maxTokens int) (string, error) {
	candidates, err := r.store.ListActiveModels(ctx)
	if err != nil {
		return "", fmt.Errorf("list active models: %w", err)
	}
	if len(candidates) == 0 {
		return "", fail(KindNoCandidates, "no active, ungated models available")
	}

	prompt := promptPreamble + content

	var lastErr error
	for _, candidate := range candidates {
		gated, err := r.gate.Gated(ctx, candidate.ProviderID)
		if err != nil {
			return "", fmt.Errorf("check provider gate: %w", err)
		}
		if gated {
			continue
		}

		allowed, err := r.limiter.TryConsume(ctx, candidate.ID, "minute", candidate.PerMinuteLimit)
		if err != nil {
			return "", fmt.Errorf("consume minute quota: %w", err)
		}
		if !allowed {
			continue
		}
		allowed, err = r.limiter.TryConsume(ctx, candidate.ID, "day", candidate.PerDayLimit)
		if err != nil {
			return "", fmt.Errorf("consume day quota: %w", err)
		}
		if !allowed {
			continue
		}

		gen, ok := r.generators[candidate.ProviderID]
		if !ok {
			lastErr = fmt.Errorf("no generator registered for provider %q", candidate.ProviderID)
			continue
		}

		text, genErr := gen.Generate(ctx, candidate.ModelName, prompt, maxTokens)
		if genErr == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				attemptNo, err := r.store.IncrementAttempt(ctx, job.ID, candidate.ProviderID, candidate.ID, true, "")
				if err != nil {
					return "", fmt.Errorf("record successful attempt: %w", err)
				}
				job.Attempts = attemptNo
				return text, nil
			}
			genErr = &upstream.Error{Kind: upstream.KindEmpty, Message: "upstream returned empty text"}
		}

		upErr := upstream.AsError(genErr)
		attemptNo, err := r.store.IncrementAttempt(ctx, job.ID, candidate.ProviderID, candidate.ID, false, upErr.Message)
		if err != nil {
			return "", fmt.Errorf("record failed attempt: %w", err)
		}
		job.Attempts = attemptNo

		if upErr.Kind == upstream.KindInputInvalid {
			return "", fail(KindInputInvalid, upErr.Message)
		}

		if upErr.Kind != upstream.KindEmpty {
			if err := r.gate.SetBackoff(ctx, candidate.ProviderID, string(upErr.Kind)); err != nil {
				return "", fmt.Errorf("set provider backoff: %w", err)
			}
		}

		lastErr = upErr
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all candidates skipped by rate limit or gate")
	}
	return "", fail(KindAllCandidatesFailed, lastErr.Error())
}

var _ interfaces.Router = (*Router)(nil)
