// Package registry seeds providers and models from configuration, per
// spec §4.6. Registry changes are not hot-reloadable: restart re-seeds via
// upsert.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/models"
	"github.com/bobmcallan/sumqueue/internal/upstream/gemini"
)

// defaultModelSet is used when a configured provider carries no per-model
// overrides, with conservative default quotas. Keyed by provider ID so each
// provider falls back to a model name its own adapter actually recognizes;
// "default" is a last resort for providers this registry doesn't know.
var defaultModelSet = map[string]map[string]common.ModelLimit{
	"gemini": {gemini.DefaultModel: {PerMinute: 10, PerDay: 1000}},
}

var fallbackModelSet = map[string]common.ModelLimit{
	"default": {PerMinute: 10, PerDay: 1000},
}

// seedStore is the narrow slice of interfaces.Store Seed depends on, so
// tests can fake it without implementing the full Store.
type seedStore interface {
	UpsertProvider(ctx context.Context, p *models.Provider) error
	UpsertModel(ctx context.Context, m *models.Model) error
}

// Seed upserts one Provider per configured credential and one Model per
// configured (provider, model) pair, calling Store.UpsertProvider and
// Store.UpsertModel — it never writes to the store's tables directly.
func Seed(ctx context.Context, store seedStore, cfg *common.Config) error {
	for _, p := range []common.ProviderConfig{cfg.Providers.Primary, cfg.Providers.Secondary} {
		if p.Credential == "" {
			continue
		}
		if err := seedProvider(ctx, store, p); err != nil {
			return err
		}
	}
	return nil
}

func seedProvider(ctx context.Context, store seedStore, p common.ProviderConfig) error {
	providerID := strings.ToLower(p.Name)
	if providerID == "" {
		return fmt.Errorf("provider configured with empty name")
	}

	if err := store.UpsertProvider(ctx, &models.Provider{
		ID:         providerID,
		Name:       p.Name,
		Credential: p.Credential,
		Priority:   p.Priority,
		Enabled:    p.Enabled,
	}); err != nil {
		return fmt.Errorf("seed provider %s: %w", providerID, err)
	}

	modelSet := p.Models
	if len(modelSet) == 0 {
		modelSet = defaultModelSet[providerID]
	}
	if len(modelSet) == 0 {
		modelSet = fallbackModelSet
	}
	for modelName, limit := range modelSet {
		modelID := providerID + "-" + strings.ToLower(modelName)
		if err := store.UpsertModel(ctx, &models.Model{
			ID:             modelID,
			ProviderID:     providerID,
			ModelName:      modelName,
			PerMinuteLimit: limit.PerMinute,
			PerDayLimit:    limit.PerDay,
			Enabled:        true,
		}); err != nil {
			return fmt.Errorf("seed model %s: %w", modelID, err)
		}
	}
	return nil
}
