package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/elicitor/internal/domain/abstention"
)

func (s *Store) GetAbstentionConfig(ctx context.Context, tenantID string) (*abstention.Config, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT config FROM abstention_config WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if err != nil {
		return nil, notFoundWrap(err, "get abstention config %s", tenantID)
	}
	// Fields missing from the stored document keep their defaults.
	cfg := abstention.DefaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode abstention config %s: %w", tenantID, err)
	}
	return &cfg, nil
}

func (s *Store) UpsertAbstentionConfig(ctx context.Context, tenantID string, cfg *abstention.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal abstention config: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO abstention_config (tenant_id, config) VALUES ($1, $2)
		 ON CONFLICT (tenant_id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		tenantID, raw)
	if err != nil {
		return fmt.Errorf("upsert abstention config %s: %w", tenantID, err)
	}
	return nil
}

func (s *Store) CreateAbstentionEvent(ctx context.Context, e *abstention.Event) error {
	scores, err := json.Marshal(e.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO abstention_events (tenant_id, model_id, prompt_hash, should_abstain, reason, scores,
			recommended_action, explanations)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		e.TenantID, e.ModelID, e.PromptHash, e.ShouldAbstain, string(e.Reason), scores,
		string(e.RecommendedAction), pgTextArray(e.Explanations),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create abstention event: %w", err)
	}
	return nil
}
