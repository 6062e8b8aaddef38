package registry

import (
	"context"
	"testing"

	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/models"
	"github.com/bobmcallan/sumqueue/internal/upstream/gemini"
)

// fakeStore records UpsertProvider/UpsertModel calls; Seed must never call
// anything else on interfaces.Store.
type fakeStore struct {
	providers []*models.Provider
	modelsSet []*models.Model
}

func (f *fakeStore) UpsertProvider(ctx context.Context, p *models.Provider) error {
	f.providers = append(f.providers, p)
	return nil
}

func (f *fakeStore) UpsertModel(ctx context.Context, m *models.Model) error {
	f.modelsSet = append(f.modelsSet, m)
	return nil
}

func TestSeed_SkipsProviderWithNoCredential(t *testing.T) {
	store := &fakeStore{}
	cfg := common.NewDefaultConfig()
	cfg.Providers.Primary.Name = "gemini"
	cfg.Providers.Primary.Credential = "key-1"
	cfg.Providers.Primary.Priority = 0
	cfg.Providers.Primary.Enabled = true
	cfg.Providers.Secondary.Credential = ""

	if err := Seed(context.Background(), store, cfg); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if len(store.providers) != 1 {
		t.Fatalf("expected exactly 1 provider seeded, got %d", len(store.providers))
	}
	if store.providers[0].ID != "gemini" {
		t.Errorf("expected provider id 'gemini', got %q", store.providers[0].ID)
	}
}

func TestSeed_DefaultModelSetWhenNoneConfigured(t *testing.T) {
	store := &fakeStore{}
	cfg := common.NewDefaultConfig()
	cfg.Providers.Primary.Name = "gemini"
	cfg.Providers.Primary.Credential = "key-1"

	if err := Seed(context.Background(), store, cfg); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if len(store.modelsSet) != 1 {
		t.Fatalf("expected 1 default model seeded, got %d", len(store.modelsSet))
	}
	got := store.modelsSet[0]
	wantID := "gemini-" + gemini.DefaultModel
	if got.ID != wantID {
		t.Errorf("expected model id %q, got %q", wantID, got.ID)
	}
	if got.ModelName != gemini.DefaultModel {
		t.Errorf("expected a real gemini model name, got %q", got.ModelName)
	}
	if got.ProviderID != "gemini" {
		t.Errorf("expected provider_id 'gemini', got %q", got.ProviderID)
	}
	if got.PerMinuteLimit != 10 || got.PerDayLimit != 1000 {
		t.Errorf("expected default limits 10/1000, got %d/%d", got.PerMinuteLimit, got.PerDayLimit)
	}
}

func TestSeed_FallbackModelSetForUnknownProvider(t *testing.T) {
	store := &fakeStore{}
	cfg := common.NewDefaultConfig()
	cfg.Providers.Primary.Name = "openai-compat"
	cfg.Providers.Primary.Credential = "key-1"

	if err := Seed(context.Background(), store, cfg); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if len(store.modelsSet) != 1 || store.modelsSet[0].ID != "openai-compat-default" {
		t.Fatalf("expected fallback 'default' model for unrecognized provider, got %+v", store.modelsSet)
	}
}

func TestSeed_ConfiguredModelsOverrideDefault(t *testing.T) {
	store := &fakeStore{}
	cfg := common.NewDefaultConfig()
	cfg.Providers.Primary.Name = "gemini"
	cfg.Providers.Primary.Credential = "key-1"
	cfg.Providers.Primary.Models = map[string]common.ModelLimit{
		"flash": {PerMinute: 15, PerDay: 1500},
		"pro":   {PerMinute: 2, PerDay: 50},
	}

	if err := Seed(context.Background(), store, cfg); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if len(store.modelsSet) != 2 {
		t.Fatalf("expected 2 configured models seeded, got %d", len(store.modelsSet))
	}
	seen := map[string]*models.Model{}
	for _, m := range store.modelsSet {
		seen[m.ID] = m
	}
	flash, ok := seen["gemini-flash"]
	if !ok {
		t.Fatalf("expected model gemini-flash to be seeded, got %+v", seen)
	}
	if flash.PerMinuteLimit != 15 || flash.PerDayLimit != 1500 {
		t.Errorf("expected flash limits 15/1500, got %d/%d", flash.PerMinuteLimit, flash.PerDayLimit)
	}
	if _, ok := seen["gemini-pro"]; !ok {
		t.Fatalf("expected model gemini-pro to be seeded, got %+v", seen)
	}
}

func TestSeed_BothProvidersSeeded(t *testing.T) {
	store := &fakeStore{}
	cfg := common.NewDefaultConfig()
	cfg.Providers.Primary.Name = "gemini"
	cfg.Providers.Primary.Credential = "key-1"
	cfg.Providers.Secondary.Name = "openai-compat"
	cfg.Providers.Secondary.Credential = "key-2"
	cfg.Providers.Secondary.Priority = 1

	if err := Seed(context.Background(), store, cfg); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if len(store.providers) != 2 {
		t.Fatalf("expected 2 providers seeded, got %d", len(store.providers))
	}
}
