package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/sumqueue/internal/models"
)

// UpsertProvider inserts or updates a Provider by id.
func (s *Store) UpsertProvider(ctx context.Context, p *models.Provider) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, credential, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			credential = excluded.credential,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Credential, p.Priority, p.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("upsert provider %s: %w", p.ID, err)
	}
	return nil
}

// UpsertModel inserts or updates a Model by id. Fails if provider_id is
// unknown (foreign key enforcement).
func (s *Store) UpsertModel(ctx context.Context, m *models.Model) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (id, provider_id, model_name, per_minute_limit, per_day_limit, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_id = excluded.provider_id,
			model_name = excluded.model_name,
			per_minute_limit = excluded.per_minute_limit,
			per_day_limit = excluded.per_day_limit,
			enabled = excluded.enabled
	`, m.ID, m.ProviderID, m.ModelName, m.PerMinuteLimit, m.PerDayLimit, m.Enabled)
	if err != nil {
		return fmt.Errorf("upsert model %s: %w", m.ID, err)
	}
	return nil
}

// ListActiveModels returns models filtered to enabled+provider-enabled and
// not currently gated, ordered by (provider.priority ASC, model.id ASC).
func (s *Store) ListActiveModels(ctx context.Context) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.provider_id, m.model_name, m.per_minute_limit, m.per_day_limit, m.enabled,
		       p.name, p.credential, p.priority
		FROM models m
		JOIN providers p ON p.id = m.provider_id
		WHERE m.enabled = 1 AND p.enabled = 1
		  AND NOT EXISTS (
		      SELECT 1 FROM provider_backoff b
		      WHERE b.provider_id = p.id AND b.until > ?
		  )
		ORDER BY p.priority ASC, m.id ASC
	`, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list active models: %w", err)
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(
			&c.ID, &c.ProviderID, &c.ModelName, &c.PerMinuteLimit, &c.PerDayLimit, &c.Enabled,
			&c.ProviderName, &c.ProviderCredential, &c.ProviderPriority,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListGatedProviders returns the set of provider ids currently under backoff.
func (s *Store) ListGatedProviders(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider_id FROM provider_backoff WHERE until > ?`, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list gated providers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// SetBackoff records (or overwrites) a provider's cool-down. Idempotent on
// provider_id: the latest call wins.
func (s *Store) SetBackoff(ctx context.Context, providerID, reason string, untilUnixSeconds int64) error {
	until := time.Unix(untilUnixSeconds, 0).UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_backoff (provider_id, until, reason)
		VALUES (?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET until = excluded.until, reason = excluded.reason
	`, providerID, until, reason)
	if err != nil {
		return fmt.Errorf("set backoff for provider %s: %w", providerID, err)
	}
	return nil
}
