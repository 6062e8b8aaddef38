package ratelimit

import (
	"context"
	"testing"
)

type fakeStore struct {
	calls int
	allow bool
	used  int
	limit int
}

func (f *fakeStore) TryConsume(ctx context.Context, modelID, period string) (bool, int, int, error) {
	f.calls++
	return f.allow, f.used, f.limit, nil
}

func TestLimiter_LocalRefusalSkipsStore(t *testing.T) {
	fs := &fakeStore{allow: true}
	l := New(fs)

	// Exhaust the local bucket (burst == limit == 1) before any durable call.
	ctx := context.Background()
	allowed, err := l.TryConsume(ctx, "model-1", "minute", 1)
	if err != nil {
		t.Fatalf("TryConsume 1: %v", err)
	}
	if !allowed {
		t.Fatalf("expected first call to be allowed")
	}
	if fs.calls != 1 {
		t.Fatalf("expected durable call on first allow, got %d calls", fs.calls)
	}

	allowed, err = l.TryConsume(ctx, "model-1", "minute", 1)
	if err != nil {
		t.Fatalf("TryConsume 2: %v", err)
	}
	if allowed {
		t.Fatalf("expected local refusal on second call within same burst")
	}
	if fs.calls != 1 {
		t.Fatalf("expected durable store NOT called on local refusal, got %d calls", fs.calls)
	}
}

func TestLimiter_DurableRefusalPropagates(t *testing.T) {
	fs := &fakeStore{allow: false, used: 5, limit: 5}
	l := New(fs)

	allowed, err := l.TryConsume(context.Background(), "model-2", "minute", 100)
	if err != nil {
		t.Fatalf("TryConsume: %v", err)
	}
	if allowed {
		t.Fatalf("expected durable refusal to propagate even though local cache would allow")
	}
	if fs.calls != 1 {
		t.Fatalf("expected exactly one durable call, got %d", fs.calls)
	}
}
