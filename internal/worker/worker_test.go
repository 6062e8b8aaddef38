package worker

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/models"
)

type claimingStore struct {
	fakeStore
	jobs    []*models.Job
	claimed []string
}

func (c *claimingStore) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	c.claimed = append(c.claimed, workerID)
	if len(c.jobs) == 0 {
		return nil, nil
	}
	job := c.jobs[0]
	c.jobs = c.jobs[1:]
	return job, nil
}

func TestWorker_StartStopDrainsInFlightJobs(t *testing.T) {
	st := &claimingStore{
		fakeStore: fakeStore{candidates: oneCandidate()},
		jobs: []*models.Job{
			{ID: "j1", FileID: "f1", MaxAttempts: 3, Payload: []byte(`{"content":"hello there world"}`)},
		},
	}
	cfg := common.WorkerConfig{Concurrency: 1, PollIntervalMS: 10, HousekeepingMin: 60}
	w := New(st, &fakeRouter{summary: "done"}, &fakeCallback{}, common.NewSilentLogger(), cfg, nil)

	w.Start()
	time.Sleep(100 * time.Millisecond)
	w.Stop()

	if len(st.completed) != 1 {
		t.Fatalf("expected exactly 1 job completed before shutdown, got %d", len(st.completed))
	}
	if st.completed[0].outcome != models.JobStateSucceeded {
		t.Fatalf("expected job to succeed, got %+v", st.completed[0])
	}
}

func TestWorker_IDIsStable(t *testing.T) {
	st := &claimingStore{fakeStore: fakeStore{}}
	cfg := common.WorkerConfig{}
	w := New(st, &fakeRouter{}, &fakeCallback{}, common.NewSilentLogger(), cfg, nil)
	id1 := w.ID()
	id2 := w.ID()
	if id1 != id2 || id1 == "" {
		t.Fatalf("expected stable non-empty id, got %q and %q", id1, id2)
	}
}
