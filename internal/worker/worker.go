// Package worker implements the claim/process loop and housekeeping timer
// described in spec §4.5: claim → extract → route → report → ack.
package worker

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/sumqueue/internal/callback"
	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/interfaces"
	"github.com/bobmcallan/sumqueue/internal/models"
)

// store is the narrow slice of interfaces.Store the Worker needs directly;
// Router owns its own narrower dependency on Store for candidate listing.
type store interface {
	ListActiveModels(ctx context.Context) ([]models.Candidate, error)
	ClaimNext(ctx context.Context, workerID string) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID, outcome, result, errMsg string) error
	IncrementAttempt(ctx context.Context, jobID, providerID, modelID string, success bool, errMsg string) (int, error)
	RecoverStale(ctx context.Context, timeoutSeconds int) (int, error)
}

// callbackSender is the narrow slice of callback.Client the Worker depends on.
type callbackSender interface {
	Send(ctx context.Context, fileID, summary string, meta callback.Metadata) error
}

// Worker runs the claim loop and housekeeping timer for one process-wide
// pool of concurrent job-processing tasks.
type Worker struct {
	id       string
	store    store
	router   interfaces.Router
	callback callbackSender
	logger   *common.Logger
	cfg      common.WorkerConfig
	hub      *EventHub
	process  func(ctx context.Context, job *models.Job) error

	concurrency int
	active      chan struct{} // semaphore of size concurrency

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Worker with a stable id derived from hostname, pid, and
// start time. hub may be nil: events are simply not broadcast.
func New(store store, router interfaces.Router, cb callbackSender, logger *common.Logger, cfg common.WorkerConfig, hub *EventHub) *Worker {
	host, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())

	concurrency := cfg.GetConcurrency()
	if concurrency <= 0 {
		concurrency = 1
	}

	w := &Worker{
		id:          id,
		store:       store,
		router:      router,
		callback:    cb,
		logger:      logger,
		cfg:         cfg,
		hub:         hub,
		concurrency: concurrency,
		active:      make(chan struct{}, concurrency),
	}
	w.process = w.processJob
	return w
}

// ID returns the worker's stable identifier.
func (w *Worker) ID() string { return w.id }

// safeGo launches a goroutine with panic recovery and logging.
func (w *Worker) safeGo(name string, fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the claim loop, housekeeping timer, and event hub (if
// any). Safe to call multiple times — stops any existing loops first. An
// event hub that Stop has already stopped is not restarted: its loop exits
// at once and later events are dropped.
func (w *Worker) Start() {
	if w.cancel != nil {
		w.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	if w.hub != nil {
		w.safeGo("event-hub", func() { w.hub.Run() })
	}

	w.safeGo("claim-loop", func() { w.claimLoop(ctx) })
	w.safeGo("housekeeping", func() { w.housekeepingLoop(ctx) })

	w.logger.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.concurrency).
		Msg("worker started")
}

// Stop cancels the loops, waits for in-flight tasks to drain, and stops
// the event hub.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.hub != nil {
		w.hub.Stop()
	}
	w.wg.Wait()
	w.logger.Info().Str("worker_id", w.id).Msg("worker stopped")
}

// claimLoop implements spec §4.5's loop: wait for a free slot in the
// active semaphore when at capacity, sleep pollInterval when the queue is
// empty, otherwise claim and spawn a processing task holding that slot.
// Processing tasks run on a context that Stop does not cancel, so Stop
// lets in-flight jobs finish.
func (w *Worker) claimLoop(ctx context.Context) {
	pollInterval := w.cfg.GetPollInterval()

	for {
		select {
		case <-ctx.Done():
			return
		case w.active <- struct{}{}:
		}

		job, err := w.store.ClaimNext(ctx, w.id)
		if err != nil {
			<-w.active
			w.logger.Warn().Err(err).Msg("claim failed")
			if !sleepOrDone(ctx, pollInterval) {
				return
			}
			continue
		}
		if job == nil {
			<-w.active
			if !sleepOrDone(ctx, pollInterval) {
				return
			}
			continue
		}

		w.broadcast(job, "job_claimed")
		w.safeGo("process-"+job.ID, func() {
			defer func() { <-w.active }()
			if err := w.process(context.WithoutCancel(ctx), job); err != nil {
				w.logger.Warn().Str("job_id", job.ID).Err(err).Msg("job processing failed")
			}
		})
	}
}

// housekeepingLoop periodically recovers stale claimed jobs, per spec §4.5,
// and prunes old rate counters when the store supports it.
func (w *Worker) housekeepingLoop(ctx context.Context) {
	interval := w.cfg.GetHousekeepingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	staleTimeout := int(w.cfg.GetStaleTimeout().Seconds())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := w.store.RecoverStale(ctx, staleTimeout)
			if err != nil {
				w.logger.Warn().Err(err).Msg("housekeeping: recoverStale failed")
				continue
			}
			if count > 0 {
				w.logger.Info().Int("count", count).Msg("housekeeping: recovered stale jobs")
			}
			if p, ok := w.store.(interface {
				PruneStaleCounters(ctx context.Context) error
			}); ok {
				if err := p.PruneStaleCounters(ctx); err != nil {
					w.logger.Warn().Err(err).Msg("housekeeping: pruneStaleCounters failed")
				}
			}
		}
	}
}

func (w *Worker) broadcast(job *models.Job, eventType string) {
	if w.hub == nil {
		return
	}
	w.hub.Broadcast(models.JobEvent{
		Type:      eventType,
		JobID:     job.ID,
		FileID:    job.FileID,
		State:     job.State,
		Timestamp: time.Now(),
	})
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
