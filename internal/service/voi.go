package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/elicitor/internal/adapter/otel"
	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/voi"
	"github.com/Strob0t/elicitor/internal/port/database"
)

// VOIStore is the persistence VOIService needs.
type VOIStore interface {
	database.AspectStore
	database.DecisionStore
}

// VOIService decides whether a question is worth asking and learns from answers.
type VOIService struct {
	store   VOIStore
	cfg     voi.Config
	metrics *otel.Metrics
	group   singleflight.Group
	now     func() time.Time
}

// NewVOIService creates a VOIService.
func NewVOIService(store VOIStore, cfg voi.Config, metrics *otel.Metrics) *VOIService {
	return &VOIService{store: store, cfg: cfg, metrics: metrics, now: time.Now}
}

// Config returns the engine configuration.
func (s *VOIService) Config() voi.Config { return s.cfg }

// ShouldAskQuestion evaluates req and persists the decision. The two-question
// rule is checked before any aspect is touched; in that case the returned
// aspect is nil.
func (s *VOIService) ShouldAskQuestion(ctx context.Context, req voi.Request, questionsAsked int) (*voi.Decision, *voi.Aspect, error) {
	now := s.now().UTC()

	if voi.TwoQuestionRuleApplies(questionsAsked, s.cfg) {
		d := voi.CapDecision(req, questionsAsked, s.cfg, now)
		if err := s.store.CreateVOIDecision(ctx, &d); err != nil {
			return nil, nil, fmt.Errorf("record capped decision: %w", err)
		}
		s.metrics.RecordDecision(ctx, string(d.Outcome), d.VOIScore)
		return &d, nil, nil
	}

	aspect, err := s.aspect(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	d := voi.Evaluate(aspect, req, s.cfg, now)
	if err := s.store.CreateVOIDecision(ctx, &d); err != nil {
		return nil, nil, fmt.Errorf("record voi decision: %w", err)
	}
	s.metrics.RecordDecision(ctx, string(d.Outcome), d.VOIScore)

	slog.Debug("voi decision",
		"tenant_id", req.TenantID, "aspect", req.AspectName,
		"decision", d.Outcome, "voi_score", d.VOIScore)
	return &d, aspect, nil
}

// Preview evaluates req without creating aspects or recording anything.
func (s *VOIService) Preview(ctx context.Context, req voi.Request, questionsAsked int) (*voi.Decision, error) {
	now := s.now().UTC()
	if voi.TwoQuestionRuleApplies(questionsAsked, s.cfg) {
		d := voi.CapDecision(req, questionsAsked, s.cfg, now)
		return &d, nil
	}

	aspect, err := s.store.GetAspect(ctx, req.TenantID, req.WorkflowType, req.AspectName)
	if errors.Is(err, domain.ErrNotFound) {
		a := voi.NewAspect(req, s.cfg)
		aspect = &a
	} else if err != nil {
		return nil, fmt.Errorf("get aspect: %w", err)
	}
	d := voi.Evaluate(aspect, req, s.cfg, now)
	return &d, nil
}

// aspect fetches the aspect for req, creating it on first reference.
// Concurrent callers for the same aspect share one lookup.
func (s *VOIService) aspect(ctx context.Context, req voi.Request) (*voi.Aspect, error) {
	key := req.TenantID + "|" + req.WorkflowType + "|" + req.AspectName
	v, err, _ := s.group.Do(key, func() (any, error) {
		a, err := s.store.GetAspect(ctx, req.TenantID, req.WorkflowType, req.AspectName)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("get aspect: %w", err)
		}
		fresh := voi.NewAspect(req, s.cfg)
		a, err = s.store.CreateAspect(ctx, &fresh)
		if err != nil {
			return nil, fmt.Errorf("create aspect: %w", err)
		}
		slog.Info("aspect created", "tenant_id", req.TenantID, "workflow_type", req.WorkflowType, "aspect", req.AspectName)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers may mutate the aspect; hand each its own copy.
	cp := *v.(*voi.Aspect)
	return &cp, nil
}

// LinkDecision attaches a recorded decision to the request it produced.
func (s *VOIService) LinkDecision(ctx context.Context, tenantID, decisionID, requestID string) error {
	if decisionID == "" {
		return nil
	}
	return s.store.LinkVOIDecision(ctx, tenantID, decisionID, requestID)
}

// RecordOutcome reconciles a real answer against the aspect's prior and
// updates its running counters.
func (s *VOIService) RecordOutcome(ctx context.Context, tenantID, aspectID string, answer any) (voi.OutcomeResult, error) {
	a, err := s.store.GetAspectByID(ctx, tenantID, aspectID)
	if err != nil {
		return voi.OutcomeResult{}, fmt.Errorf("get aspect %s: %w", aspectID, err)
	}
	r := voi.ReconcileAnswer(a.Prior, answer)
	if _, err := s.store.ApplyAspectOutcome(ctx, tenantID, aspectID, r, s.cfg.LearningRate); err != nil {
		return voi.OutcomeResult{}, fmt.Errorf("update aspect %s: %w", aspectID, err)
	}
	return r, nil
}
