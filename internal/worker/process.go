package worker

import (
	"context"
	"strings"
	"time"

	"github.com/bobmcallan/sumqueue/internal/callback"
	"github.com/bobmcallan/sumqueue/internal/extract"
	"github.com/bobmcallan/sumqueue/internal/models"
	"github.com/bobmcallan/sumqueue/internal/router"
)

// Failure classes recognized by the job-processing task itself (as
// opposed to classes the Router returns), per spec §4.5.1 and §7.
const (
	failNoCandidates         = "NoCandidates"
	failNoExtractableContent = "NoExtractableContent"
	failCallbackFailed       = "CallbackFailed"
)

// retryable reports whether a failure class should be retried (re-queued)
// rather than marked dead, per spec §4.5.1's table.
func retryable(class string) bool {
	switch class {
	case failNoCandidates, router.KindAllCandidatesFailed, failCallbackFailed:
		return true
	default:
		return false
	}
}

// processJob implements the job-processing task of spec §4.5.1: pre-flight
// candidate check, extraction, token budget, dispatch, callback, and the
// retry/dead decision.
func (w *Worker) processJob(ctx context.Context, job *models.Job) error {
	candidates, err := w.store.ListActiveModels(ctx)
	if err != nil {
		return w.finish(ctx, job, failNoCandidates, "list active models: "+err.Error())
	}
	if len(candidates) == 0 {
		return w.finish(ctx, job, failNoCandidates, "no active models configured")
	}

	content, err := extract.PlainText(job.Payload)
	if err != nil {
		return w.finish(ctx, job, failNoExtractableContent, "extraction error: "+err.Error())
	}
	if content == "" {
		return w.finish(ctx, job, failNoExtractableContent, "payload yielded no extractable content")
	}

	maxTokens := extract.TokenBudget(content)

	start := time.Now()
	summary, dispatchErr := w.router.Dispatch(ctx, job, content, maxTokens)
	if dispatchErr != nil {
		class := router.KindAllCandidatesFailed
		if rerr, ok := dispatchErr.(*router.Error); ok {
			class = rerr.Kind
		}
		return w.finish(ctx, job, class, dispatchErr.Error())
	}

	meta := callback.Metadata{
		ContentBlocks:    1,
		TotalWords:       wordCount(content),
		MainContentWords: wordCount(content),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ProcessedAt:      time.Now(),
	}
	if err := w.callback.Send(ctx, job.FileID, summary, meta); err != nil {
		return w.finish(ctx, job, failCallbackFailed, "callback failed: "+err.Error())
	}

	if err := w.store.CompleteJob(ctx, job.ID, models.JobStateSucceeded, summary, ""); err != nil {
		return err
	}
	job.State = models.JobStateSucceeded
	w.broadcast(job, "job_succeeded")
	return nil
}

// finish applies the retry-or-dead decision of spec §4.5.1 and marks the
// job accordingly. job.Attempts reflects the post-dispatch count: Router
// mutates the shared *models.Job as it calls IncrementAttempt, so a failed
// candidate walk is already reflected here, not the claim-time snapshot.
// Failures the Router never recorded (no candidates, no extractable
// content) are recorded here as one attempt before the decision.
func (w *Worker) finish(ctx context.Context, job *models.Job, class, errMsg string) error {
	if class == failNoCandidates || class == failNoExtractableContent {
		if _, err := w.store.IncrementAttempt(ctx, job.ID, "", "", false, errMsg); err != nil {
			return err
		}
		job.Attempts++
	}

	outcome := models.JobStateDead
	if job.Attempts < job.MaxAttempts && retryable(class) {
		outcome = models.JobStateQueued
	}

	if err := w.store.CompleteJob(ctx, job.ID, outcome, "", errMsg); err != nil {
		return err
	}
	job.State = outcome

	eventType := "job_failed"
	if outcome == models.JobStateDead {
		eventType = "job_dead"
	}
	w.broadcast(job, eventType)
	return nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
