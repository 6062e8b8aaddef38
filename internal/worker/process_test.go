package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bobmcallan/sumqueue/internal/callback"
	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/models"
	"github.com/bobmcallan/sumqueue/internal/router"
)

type completion struct {
	jobID, outcome, result, errMsg string
}

type fakeStore struct {
	candidates []models.Candidate
	completed  []completion
	listErr    error
}

func (f *fakeStore) ListActiveModels(ctx context.Context) ([]models.Candidate, error) {
	return f.candidates, f.listErr
}
func (f *fakeStore) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	return nil, nil
}
func (f *fakeStore) CompleteJob(ctx context.Context, jobID, outcome, result, errMsg string) error {
	f.completed = append(f.completed, completion{jobID, outcome, result, errMsg})
	return nil
}
func (f *fakeStore) IncrementAttempt(ctx context.Context, jobID, providerID, modelID string, success bool, errMsg string) (int, error) {
	return 1, nil
}
func (f *fakeStore) RecoverStale(ctx context.Context, timeoutSeconds int) (int, error) {
	return 0, nil
}

type fakeRouter struct {
	summary string
	err     error
}

func (f *fakeRouter) Dispatch(ctx context.Context, job *models.Job, content string, maxTokens int) (string, error) {
	return f.summary, f.err
}

type fakeCallback struct {
	err   error
	calls int
}

func (f *fakeCallback) Send(ctx context.Context, fileID, summary string, meta callback.Metadata) error {
	f.calls++
	return f.err
}

func newTestWorker(store store, r *fakeRouter, cb *fakeCallback) *Worker {
	cfg := common.WorkerConfig{}
	w := New(store, r, cb, common.NewSilentLogger(), cfg, nil)
	return w
}

func oneCandidate() []models.Candidate {
	return []models.Candidate{{Model: models.Model{ID: "m1", ProviderID: "p1", ModelName: "model-1", Enabled: true}}}
}

func TestProcessJob_NoCandidatesMarksRetryableQueued(t *testing.T) {
	st := &fakeStore{candidates: nil}
	w := newTestWorker(st, &fakeRouter{}, &fakeCallback{})

	job := &models.Job{ID: "j1", Attempts: 0, MaxAttempts: 3, Payload: json.RawMessage(`{"content":"hi"}`)}
	if err := w.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if len(st.completed) != 1 || st.completed[0].outcome != models.JobStateQueued {
		t.Fatalf("expected requeue on NoCandidates, got %+v", st.completed)
	}
}

func TestProcessJob_NoCandidatesExhaustedGoesDead(t *testing.T) {
	st := &fakeStore{candidates: nil}
	w := newTestWorker(st, &fakeRouter{}, &fakeCallback{})

	job := &models.Job{ID: "j1", Attempts: 3, MaxAttempts: 3, Payload: json.RawMessage(`{"content":"hi"}`)}
	if err := w.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if len(st.completed) != 1 || st.completed[0].outcome != models.JobStateDead {
		t.Fatalf("expected dead after exhausting attempts, got %+v", st.completed)
	}
}

func TestProcessJob_EmptyPayloadIsFatalRegardlessOfAttempts(t *testing.T) {
	st := &fakeStore{candidates: oneCandidate()}
	w := newTestWorker(st, &fakeRouter{}, &fakeCallback{})

	job := &models.Job{ID: "j1", Attempts: 0, MaxAttempts: 3, Payload: json.RawMessage(`{"unrelated":"x"}`)}
	if err := w.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if len(st.completed) != 1 || st.completed[0].outcome != models.JobStateDead {
		t.Fatalf("expected dead for NoExtractableContent even with attempts remaining, got %+v", st.completed)
	}
}

func TestProcessJob_SuccessSendsCallbackAndCompletes(t *testing.T) {
	st := &fakeStore{candidates: oneCandidate()}
	cb := &fakeCallback{}
	w := newTestWorker(st, &fakeRouter{summary: "the summary"}, cb)

	job := &models.Job{ID: "j1", FileID: "f1", Attempts: 0, MaxAttempts: 3, Payload: json.RawMessage(`{"content":"real content here"}`)}
	if err := w.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if cb.calls != 1 {
		t.Fatalf("expected 1 callback call, got %d", cb.calls)
	}
	if len(st.completed) != 1 || st.completed[0].outcome != models.JobStateSucceeded || st.completed[0].result != "the summary" {
		t.Fatalf("expected succeeded completion with result, got %+v", st.completed)
	}
}

func TestProcessJob_CallbackFailureIsRetryable(t *testing.T) {
	st := &fakeStore{candidates: oneCandidate()}
	cb := &fakeCallback{err: errors.New("connection refused")}
	w := newTestWorker(st, &fakeRouter{summary: "the summary"}, cb)

	job := &models.Job{ID: "j1", FileID: "f1", Attempts: 0, MaxAttempts: 3, Payload: json.RawMessage(`{"content":"real content here"}`)}
	if err := w.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if len(st.completed) != 1 || st.completed[0].outcome != models.JobStateQueued {
		t.Fatalf("expected requeue on callback failure, got %+v", st.completed)
	}
}

func TestProcessJob_InputInvalidIsDeadImmediately(t *testing.T) {
	st := &fakeStore{candidates: oneCandidate()}
	dispatchErr := &router.Error{Kind: router.KindInputInvalid, Message: "bad prompt"}
	w := newTestWorker(st, &fakeRouter{err: dispatchErr}, &fakeCallback{})

	job := &models.Job{ID: "j1", Attempts: 0, MaxAttempts: 3, Payload: json.RawMessage(`{"content":"real content here"}`)}
	if err := w.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if len(st.completed) != 1 || st.completed[0].outcome != models.JobStateDead {
		t.Fatalf("expected dead for InputInvalid regardless of attempts, got %+v", st.completed)
	}
}

func TestProcessJob_AllCandidatesFailedIsRetryableUnderMax(t *testing.T) {
	st := &fakeStore{candidates: oneCandidate()}
	dispatchErr := &router.Error{Kind: router.KindAllCandidatesFailed, Message: "all failed"}
	w := newTestWorker(st, &fakeRouter{err: dispatchErr}, &fakeCallback{})

	job := &models.Job{ID: "j1", Attempts: 1, MaxAttempts: 3, Payload: json.RawMessage(`{"content":"real content here"}`)}
	if err := w.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if len(st.completed) != 1 || st.completed[0].outcome != models.JobStateQueued {
		t.Fatalf("expected requeue under max attempts, got %+v", st.completed)
	}
}
