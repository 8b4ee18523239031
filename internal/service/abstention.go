package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/elicitor/internal/adapter/otel"
	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/port/database"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
	"github.com/Strob0t/elicitor/internal/port/probe"
)

// AbstentionService checks model output for signs it should not be trusted.
type AbstentionService struct {
	store    database.AbstentionStore
	defaults abstention.Config
	prober   probe.Prober
	events   *EventPublisher
	metrics  *otel.Metrics
	now      func() time.Time
}

// NewAbstentionService creates an AbstentionService. prober may be nil.
func NewAbstentionService(store database.AbstentionStore, defaults abstention.Config, prober probe.Prober, events *EventPublisher, metrics *otel.Metrics) *AbstentionService {
	return &AbstentionService{
		store:    store,
		defaults: defaults,
		prober:   prober,
		events:   events,
		metrics:  metrics,
		now:      time.Now,
	}
}

// TenantConfig returns the tenant's policy, or the service defaults when the
// tenant has none or it cannot be read.
func (s *AbstentionService) TenantConfig(ctx context.Context, tenantID string) abstention.Config {
	cfg, err := s.store.GetAbstentionConfig(ctx, tenantID)
	if err == nil {
		return *cfg
	}
	if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("abstention config unavailable, using defaults", "tenant_id", tenantID, "error", err)
	}
	return s.defaults
}

// SetTenantConfig stores a tenant override.
func (s *AbstentionService) SetTenantConfig(ctx context.Context, tenantID string, cfg abstention.Config) error {
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]: %w", domain.ErrValidation)
	}
	switch cfg.OnAbstentionAction {
	case abstention.ActionEscalate, abstention.ActionAskUser, abstention.ActionUseDefault, abstention.ActionProceed:
	case "":
		cfg.OnAbstentionAction = abstention.ActionEscalate
	default:
		return fmt.Errorf("unknown on_abstention_action %q: %w", cfg.OnAbstentionAction, domain.ErrValidation)
	}
	return s.store.UpsertAbstentionConfig(ctx, tenantID, &cfg)
}

// Check runs the tenant's enabled checks on in. The probe and persistence
// are best effort; only a missing response is an error.
func (s *AbstentionService) Check(ctx context.Context, in abstention.Input) (*abstention.Result, error) {
	if in.Response == "" {
		return nil, fmt.Errorf("response is required: %w", domain.ErrValidation)
	}
	ctx, span := otel.StartAbstentionSpan(ctx, in.TenantID, in.ModelID)
	defer span.End()

	cfg := s.TenantConfig(ctx, in.TenantID)
	res := abstention.Check(cfg, in, s.probeScore(ctx, cfg, in))

	ev := &abstention.Event{
		TenantID:          in.TenantID,
		ModelID:           in.ModelID,
		PromptHash:        promptHash(in.Prompt),
		ShouldAbstain:     res.ShouldAbstain,
		Reason:            res.Reason,
		Scores:            res.Scores,
		RecommendedAction: res.RecommendedAction,
		Explanations:      res.Explanations,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.CreateAbstentionEvent(ctx, ev); err != nil {
		slog.Warn("abstention event not recorded", "tenant_id", in.TenantID, "error", err)
	}

	if res.ShouldAbstain {
		s.metrics.RecordAbstention(ctx, string(res.Reason))
		s.events.Publish(ctx, messagequeue.SubjectAbstention, messagequeue.AbstentionPayload{
			TenantID:          in.TenantID,
			ModelID:           in.ModelID,
			Reason:            string(res.Reason),
			RecommendedAction: string(res.RecommendedAction),
			Explanations:      res.Explanations,
		})
	}
	return &res, nil
}

// probeScore asks the linear probe for self-hosted models. Any failure
// skips the probe check.
func (s *AbstentionService) probeScore(ctx context.Context, cfg abstention.Config, in abstention.Input) *float64 {
	if !cfg.LinearProbe || !in.SelfHosted || s.prober == nil {
		return nil
	}
	score, err := s.prober.Score(ctx, probe.Request{ModelID: in.ModelID, Prompt: in.Prompt, Response: in.Response})
	if err != nil {
		slog.Warn("linear probe unavailable", "dependency", "probe", "model_id", in.ModelID, "error", err)
		return nil
	}
	return &score
}

func promptHash(prompt string) string {
	if prompt == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
