// Package providergate maintains provider-wide backoff state after
// upstream error classes, per spec §4.3.
package providergate

import (
	"context"
	"time"

	"github.com/bobmcallan/sumqueue/internal/interfaces"
	"github.com/bobmcallan/sumqueue/internal/upstream"
)

// Backoff durations by error kind, per spec §4.3's policy defaults.
const (
	QuotaBackoff     = 60 * time.Minute
	AuthBackoff      = 240 * time.Minute
	TransientBackoff = 15 * time.Minute
)

// backoffStore is the narrow slice of interfaces.Store this package depends
// on, so tests can fake it without implementing the full Store.
type backoffStore interface {
	SetBackoff(ctx context.Context, providerID, reason string, untilUnixSeconds int64) error
	ListGatedProviders(ctx context.Context) (map[string]bool, error)
}

// Gate is the durable-store-backed implementation of interfaces.ProviderGate.
type Gate struct {
	store backoffStore
}

// New creates a Gate backed by store.
func New(store backoffStore) *Gate {
	return &Gate{store: store}
}

// Gated reports whether providerID is currently under backoff.
func (g *Gate) Gated(ctx context.Context, providerID string) (bool, error) {
	gated, err := g.store.ListGatedProviders(ctx)
	if err != nil {
		return false, err
	}
	return gated[providerID], nil
}

// SetBackoff applies the policy backoff duration for class to providerID.
// "other" and unrecognized classes are a no-op: only attempt logging
// applies, per spec §4.3 ("Other errors: no backoff").
func (g *Gate) SetBackoff(ctx context.Context, providerID string, class string) error {
	var duration time.Duration
	switch upstream.Kind(class) {
	case upstream.KindQuota:
		duration = QuotaBackoff
	case upstream.KindAuth:
		duration = AuthBackoff
	case upstream.KindTransient:
		duration = TransientBackoff
	default:
		return nil
	}
	until := time.Now().Add(duration).Unix()
	return g.store.SetBackoff(ctx, providerID, class, until)
}

var _ interfaces.ProviderGate = (*Gate)(nil)
