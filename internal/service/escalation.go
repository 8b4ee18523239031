package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/elicitor/internal/adapter/otel"
	"github.com/Strob0t/elicitor/internal/config"
	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/escalation"
	"github.com/Strob0t/elicitor/internal/port/database"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
	"github.com/Strob0t/elicitor/internal/port/oncall"
)

// EscalationStore is the persistence EscalationService needs.
type EscalationStore interface {
	database.RequestStore
	database.EscalationStore
	database.DirectoryStore
}

// ResolutionHook runs after a final action closed a request.
type ResolutionHook func(ctx context.Context, req *elicitation.Request, status elicitation.Status)

// EscalationService walks requests up their escalation chains.
type EscalationService struct {
	store    EscalationStore
	oncall   oncall.Provider
	notify   *NotificationService
	events   *EventPublisher
	metrics  *otel.Metrics
	cfg      config.Escalation
	resolved ResolutionHook
	now      func() time.Time
}

// NewEscalationService creates an EscalationService. provider may be nil.
func NewEscalationService(store EscalationStore, provider oncall.Provider, notify *NotificationService, events *EventPublisher, metrics *otel.Metrics, cfg config.Escalation) *EscalationService {
	return &EscalationService{
		store:   store,
		oncall:  provider,
		notify:  notify,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
	}
}

// OnResolved registers the hook run after a final action closes a request.
func (s *EscalationService) OnResolved(h ResolutionHook) { s.resolved = h }

// RegisterChain validates and stores a chain.
func (s *EscalationService) RegisterChain(ctx context.Context, c *escalation.Chain) error {
	if err := c.Validate(); err != nil {
		return err
	}
	for i := range c.Levels {
		if c.Levels[i].TimeoutMinutes == 0 {
			c.Levels[i].TimeoutMinutes = s.cfg.DefaultTimeoutMinutes
		}
	}
	if err := s.store.CreateChain(ctx, c); err != nil {
		return fmt.Errorf("create chain: %w", err)
	}
	slog.Info("escalation chain registered", "tenant_id", c.TenantID, "chain_id", c.ID, "levels", len(c.Levels))
	return nil
}

// ListChains returns the tenant's chains in registration order.
func (s *EscalationService) ListChains(ctx context.Context, tenantID string) ([]escalation.Chain, error) {
	return s.store.ListChains(ctx, tenantID)
}

// RegisterQueue stores an escalation queue.
func (s *EscalationService) RegisterQueue(ctx context.Context, q *escalation.Queue) error {
	if q.Name == "" {
		return fmt.Errorf("queue name is required: %w", domain.ErrValidation)
	}
	if q.TimeoutMinutes <= 0 {
		q.TimeoutMinutes = s.cfg.DefaultTimeoutMinutes
	}
	return s.store.CreateQueue(ctx, q)
}

// RegisterSchedule stores an internal on-call rota entry.
func (s *EscalationService) RegisterSchedule(ctx context.Context, sc *escalation.Schedule) error {
	if sc.Name == "" || sc.UserID == "" {
		return fmt.Errorf("schedule needs a name and user_id: %w", domain.ErrValidation)
	}
	if !sc.EndsAt.After(sc.StartsAt) {
		return fmt.Errorf("schedule must end after it starts: %w", domain.ErrValidation)
	}
	return s.store.CreateSchedule(ctx, sc)
}

// Escalate moves a request from currentLevel to the next level of chainID.
// Past the last level the chain is exhausted and its final action runs,
// at most once per request, without notifying any assignee.
func (s *EscalationService) Escalate(ctx context.Context, tenantID, requestID, chainID string, currentLevel int) (*escalation.Result, error) {
	ctx, span := otel.StartEscalationSpan(ctx, tenantID, requestID)
	defer span.End()

	chain, err := s.store.GetChain(ctx, tenantID, chainID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("chain %s: %w", chainID, domain.ErrChainNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chain %s: %w", chainID, err)
	}
	req, err := s.store.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}

	step := escalation.Next(*chain, currentLevel)
	if step.Exhausted {
		return s.executeFinalAction(ctx, req, chain, step.NewLevel)
	}

	ok, err := s.store.EscalateRequest(ctx, tenantID, requestID, step.NewLevel, chain.ID)
	if err != nil {
		return nil, fmt.Errorf("escalate request %s: %w", requestID, err)
	}
	if !ok {
		// Closed or already at this level; re-running is a no-op.
		return &escalation.Result{Success: false, NewLevel: req.EscalationLevel}, nil
	}
	req.EscalationLevel = step.NewLevel
	req.Status = elicitation.StatusEscalated

	assignees, err := s.ResolveAssignees(ctx, tenantID, step.Level.Assignees)
	if err != nil {
		slog.Warn("assignee resolution incomplete", "request_id", requestID, "level", step.NewLevel, "error", err)
	}
	if len(assignees) == 0 {
		slog.Warn("escalation level has no reachable assignees", "request_id", requestID, "level", step.NewLevel)
	}
	s.notify.SendEscalationNotification(ctx, req, step.NewLevel, step.Level, assignees)

	s.metrics.RecordEscalation(ctx, step.NewLevel)
	s.events.Publish(ctx, messagequeue.SubjectEscalated, messagequeue.EscalationPayload{
		TenantID:  tenantID,
		RequestID: requestID,
		ChainID:   chain.ID,
		Level:     step.NewLevel,
		Assignees: assignees,
	})
	slog.Info("request escalated", "tenant_id", tenantID, "request_id", requestID, "level", step.NewLevel, "assignees", len(assignees))

	return &escalation.Result{Success: true, NewLevel: step.NewLevel, Assignees: assignees}, nil
}

func (s *EscalationService) executeFinalAction(ctx context.Context, req *elicitation.Request, chain *escalation.Chain, level int) (*escalation.Result, error) {
	status, response := finalOutcome(chain, req)

	claimed, err := s.store.ClaimFinalAction(ctx, req.TenantID, req.ID, status, response)
	if err != nil {
		return nil, fmt.Errorf("claim final action %s: %w", req.ID, err)
	}
	res := &escalation.Result{Success: claimed, NewLevel: level, Exhausted: true, FinalAction: chain.FinalAction}
	if !claimed {
		return res, nil
	}

	if chain.FinalAction == escalation.FinalNotifyAdmin {
		admins, err := s.store.ListTenantAdmins(ctx, req.TenantID)
		if err != nil {
			slog.Warn("list tenant admins failed", "tenant_id", req.TenantID, "error", err)
		}
		s.notify.SendAdminNotification(ctx, req, admins)
		res.Assignees = admins
	}

	s.metrics.RecordExhausted(ctx, string(chain.FinalAction))
	s.events.Publish(ctx, messagequeue.SubjectExhausted, messagequeue.EscalationPayload{
		TenantID:    req.TenantID,
		RequestID:   req.ID,
		ChainID:     chain.ID,
		Level:       req.EscalationLevel,
		FinalAction: string(chain.FinalAction),
	})
	slog.Info("escalation chain exhausted", "tenant_id", req.TenantID, "request_id", req.ID, "final_action", chain.FinalAction)

	if !status.Open() && s.resolved != nil {
		s.resolved(ctx, req, status)
	}
	return res, nil
}

// finalOutcome maps a chain's final action to the request's terminal state.
func finalOutcome(chain *escalation.Chain, req *elicitation.Request) (elicitation.Status, any) {
	value := chain.DefaultValue
	if value == nil {
		value = req.DefaultValue
	}
	switch chain.FinalAction {
	case escalation.FinalApprove:
		if value == nil {
			value = true
		}
		return elicitation.StatusApproved, value
	case escalation.FinalUseDefault:
		return elicitation.StatusDefaulted, value
	case escalation.FinalNotifyAdmin:
		// Stays open for the admins to answer.
		return elicitation.StatusEscalated, nil
	default:
		return elicitation.StatusRejected, nil
	}
}

// ResolveAssignees expands assignee references to distinct user IDs,
// preserving level order. On-call lookups that fail resolve to nobody.
func (s *EscalationService) ResolveAssignees(ctx context.Context, tenantID string, refs []escalation.Assignee) ([]string, error) {
	resolved := make([][]string, len(refs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			ids, err := s.resolveOne(gctx, tenantID, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			resolved[i] = ids
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	seen := make(map[string]bool)
	var out []string
	for _, ids := range resolved {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, err
}

func (s *EscalationService) resolveOne(ctx context.Context, tenantID string, ref escalation.Assignee) ([]string, error) {
	switch ref.Type {
	case escalation.AssigneeUser:
		return []string{ref.ID}, nil
	case escalation.AssigneeRole:
		ids, err := s.store.ListUsersByRole(ctx, tenantID, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", ref.ID, err)
		}
		return ids, nil
	case escalation.AssigneeGroup:
		ids, err := s.store.ListGroupMembers(ctx, tenantID, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", ref.ID, err)
		}
		return ids, nil
	case escalation.AssigneeOnCall:
		return s.onCall(ctx, tenantID, ref.ID), nil
	}
	return nil, fmt.Errorf("unknown assignee type %q: %w", ref.Type, domain.ErrValidation)
}

// onCall checks the internal rota first, then the external provider.
func (s *EscalationService) onCall(ctx context.Context, tenantID, schedule string) []string {
	now := s.now().UTC()
	schedules, err := s.store.ListActiveSchedules(ctx, tenantID, now)
	if err != nil {
		slog.Warn("on-call schedule lookup failed", "tenant_id", tenantID, "error", err)
	} else if sc, ok := escalation.PickOnCall(schedules, schedule, now); ok {
		return []string{sc.UserID}
	}

	if s.oncall == nil {
		return nil
	}
	ids, err := s.oncall.CurrentOnCall(ctx, tenantID, schedule)
	if err != nil {
		slog.Warn("on-call provider unavailable", "dependency", "oncall", "schedule", schedule, "error", err)
		return nil
	}
	return ids
}

// CheckTimeouts escalates every queued or chained request whose current
// level timed out. It is safe to run repeatedly.
func (s *EscalationService) CheckTimeouts(ctx context.Context) (int, error) {
	limit := s.cfg.SweepLimit
	if limit <= 0 {
		limit = 100
	}
	reqs, err := s.store.ListEscalationCandidates(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list escalation candidates: %w", err)
	}

	now := s.now().UTC()
	chainsByTenant := make(map[string][]escalation.Chain)
	escalated := 0
	var errs []error

	for i := range reqs {
		req := &reqs[i]
		chain, queue, err := s.applicable(ctx, req, chainsByTenant)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", req.ID, err))
			continue
		}
		if chain == nil {
			continue
		}

		since := req.CreatedAt
		if req.EscalatedAt != nil {
			since = *req.EscalatedAt
		}
		if now.Before(escalation.Deadline(since, *chain, req.EscalationLevel, *queue)) {
			continue
		}

		res, err := s.Escalate(ctx, req.TenantID, req.ID, chain.ID, req.EscalationLevel)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", req.ID, err))
			continue
		}
		if res.Success {
			escalated++
		}
	}
	return escalated, errors.Join(errs...)
}

// applicable finds the chain and queue governing req. The chain is nil when
// no registered chain matches. A request without a queue uses a default
// queue built from the configured timeout.
func (s *EscalationService) applicable(ctx context.Context, req *elicitation.Request, cache map[string][]escalation.Chain) (*escalation.Chain, *escalation.Queue, error) {
	queue := &escalation.Queue{TenantID: req.TenantID, TimeoutMinutes: s.cfg.DefaultTimeoutMinutes, Active: true}
	if req.QueueID != "" {
		q, err := s.store.GetQueue(ctx, req.TenantID, req.QueueID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && !q.Active) {
			return nil, nil, fmt.Errorf("queue %s: %w", req.QueueID, domain.ErrNoActiveQueue)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("get queue %s: %w", req.QueueID, err)
		}
		queue = q
	}

	if req.EscalationChainID != "" {
		c, err := s.store.GetChain(ctx, req.TenantID, req.EscalationChainID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("chain %s: %w", req.EscalationChainID, domain.ErrChainNotFound)
		}
		if err != nil {
			return nil, nil, err
		}
		return c, queue, nil
	}

	chains, ok := cache[req.TenantID]
	if !ok {
		var err error
		chains, err = s.store.ListChains(ctx, req.TenantID)
		if err != nil {
			return nil, nil, fmt.Errorf("list chains: %w", err)
		}
		cache[req.TenantID] = chains
	}
	c, found := escalation.MatchChain(chains, req.QueueID, req.RequestType, req.Priority)
	if !found {
		return nil, nil, nil
	}
	return &c, queue, nil
}
