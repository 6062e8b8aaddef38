// Package ratelimit implements the read-through cache described in
// SPEC_FULL.md §4.2: a local x/time/rate limiter that skips the durable
// round-trip on an obvious local refusal, while the durable Store.TryConsume
// call remains the sole source of truth.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/sumqueue/internal/interfaces"
)

// durableConsumer is the narrow slice of interfaces.Store this package
// depends on, so tests can fake it without implementing the full Store.
type durableConsumer interface {
	TryConsume(ctx context.Context, modelID, period string) (allowed bool, used int, limit int, err error)
}

// Limiter wraps a durable Store with an in-memory read-through cache keyed
// by (modelID, period). It never substitutes for the durable check — a
// local allow still falls through to Store.TryConsume.
type Limiter struct {
	store durableConsumer

	mu     sync.Mutex
	minute map[string]*rate.Limiter
	day    map[string]*rate.Limiter
}

// New creates a Limiter backed by store.
func New(store durableConsumer) *Limiter {
	return &Limiter{
		store:  store,
		minute: make(map[string]*rate.Limiter),
		day:    make(map[string]*rate.Limiter),
	}
}

// TryConsume implements interfaces.RateLimiter. It first probes the local
// cache; a local refusal short-circuits without touching Store. Any local
// allow (or cache miss) still calls Store.TryConsume, which is authoritative.
func (l *Limiter) TryConsume(ctx context.Context, modelID string, period string, limit int) (bool, error) {
	local := l.localLimiter(modelID, period, limit)
	if !local.Allow() {
		return false, nil
	}

	allowed, _, _, err := l.store.TryConsume(ctx, modelID, period)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (l *Limiter) localLimiter(modelID, period string, limit int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	table := l.minute
	refillPerSecond := rate.Limit(float64(limit) / 60.0)
	if period == "day" {
		table = l.day
		refillPerSecond = rate.Limit(float64(limit) / 86400.0)
	}

	lim, ok := table[modelID]
	if !ok {
		lim = rate.NewLimiter(refillPerSecond, limit)
		table[modelID] = lim
	}
	return lim
}

var _ interfaces.RateLimiter = (*Limiter)(nil)
