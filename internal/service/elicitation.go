package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/elicitor/internal/adapter/otel"
	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/voi"
	"github.com/Strob0t/elicitor/internal/port/database"
	"github.com/Strob0t/elicitor/internal/port/dedup"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
	"github.com/Strob0t/elicitor/internal/port/ratelimit"
)

const (
	defaultRequestType = "question"
	systemResponder    = "system"
)

// ElicitationDeps are the collaborators of ElicitationService.
type ElicitationDeps struct {
	Requests database.RequestStore
	VOI      *VOIService
	Batches  *BatchService
	Limiter  ratelimit.Limiter
	Dedup    dedup.Cache
	Events   *EventPublisher
	Metrics  *otel.Metrics
}

// ElicitationService is the single entry point for agents that want to ask
// a human something, and for the human surface that answers.
type ElicitationService struct {
	requests   database.RequestStore
	voi        *VOIService
	batches    *BatchService
	limiter    ratelimit.Limiter
	dedup      dedup.Cache
	events     *EventPublisher
	metrics    *otel.Metrics
	sweepLimit int
	now        func() time.Time
}

// NewElicitationService creates the orchestrator.
func NewElicitationService(deps ElicitationDeps, sweepLimit int) *ElicitationService {
	if sweepLimit <= 0 {
		sweepLimit = 100
	}
	return &ElicitationService{
		requests:   deps.Requests,
		voi:        deps.VOI,
		batches:    deps.Batches,
		limiter:    deps.Limiter,
		dedup:      deps.Dedup,
		events:     deps.Events,
		metrics:    deps.Metrics,
		sweepLimit: sweepLimit,
		now:        time.Now,
	}
}

// CreateAskUserRequest runs the gate pipeline: rate limit, dedup, VOI, then
// either an assumption or a persisted, batched request. Nothing is written
// before the gates pass.
func (s *ElicitationService) CreateAskUserRequest(ctx context.Context, tenantID, userID string, req elicitation.AskUserRequest) (*elicitation.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := otel.StartAskSpan(ctx, tenantID, req.WorkflowID, req.WorkflowType)
	defer span.End()

	scope := ratelimit.Scope{TenantID: tenantID, UserID: userID, WorkflowID: req.WorkflowID}

	// 1. rate limit
	limit, err := s.limiter.Check(ctx, scope)
	if err != nil {
		slog.Warn("rate limit check failed, allowing", "tenant_id", tenantID, "error", err)
		limit = ratelimit.Decision{Allowed: true}
	}
	if !limit.Allowed {
		return s.rateLimited(ctx, tenantID, &req, limit), nil
	}

	// 2. dedup
	match, err := s.dedup.Check(ctx, tenantID, req.Question, req.Context)
	if err != nil {
		slog.Warn("dedup check failed", "dependency", "dedup", "tenant_id", tenantID, "error", err)
	} else if match.IsDuplicate {
		return s.deduplicated(ctx, tenantID, &req, match), nil
	}

	// 3. VOI
	asked := 0
	if req.WorkflowID != "" {
		asked, err = s.requests.CountWorkflowQuestions(ctx, tenantID, req.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("count workflow questions: %w", err)
		}
	}
	aspectName := req.AspectName
	if aspectName == "" {
		aspectName = elicitation.ExtractAspectName(req.Question)
	}
	vreq := voi.Request{
		TenantID:     tenantID,
		WorkflowID:   req.WorkflowID,
		WorkflowType: req.WorkflowType,
		AspectName:   aspectName,
		Category:     elicitation.InferCategory(req.Question),
		Question:     req.Question,
		Options:      req.OptionIDs(),
		Urgency:      req.Urgency,
	}
	decision, aspect, err := s.voi.ShouldAskQuestion(ctx, vreq, asked)
	if err != nil {
		return nil, err
	}

	var prior *voi.PriorBelief
	if aspect != nil {
		prior = &aspect.Prior
	}

	// 4. assumption
	if decision.Outcome != voi.OutcomeAsk {
		return s.assume(ctx, tenantID, &req, decision, prior), nil
	}

	// 5. ask
	res, err := s.ask(ctx, tenantID, userID, &req, decision, aspect, scope)
	if errors.Is(err, domain.ErrLimitReached) {
		cfg := s.voi.Config()
		capped := voi.CapDecision(vreq, cfg.MaxQuestionsPerWorkflow, cfg, s.now().UTC())
		capped.ID = decision.ID
		return s.assume(ctx, tenantID, &req, &capped, prior), nil
	}
	if err != nil {
		slog.Warn("ask failed, proceeding with default", "tenant_id", tenantID, "workflow_id", req.WorkflowID, "error", err)
		fallback := *decision
		fallback.Outcome = voi.OutcomeSkipWithDefault
		fallback.Reasoning = fmt.Sprintf("ask failed (%v); %s", err, decision.Reasoning)
		return s.assume(ctx, tenantID, &req, &fallback, prior), nil
	}
	return res, nil
}

func (s *ElicitationService) rateLimited(ctx context.Context, tenantID string, req *elicitation.AskUserRequest, d ratelimit.Decision) *elicitation.Result {
	s.metrics.RecordGateBlock(ctx, "rate_limit", d.BlockedBy)
	s.events.Publish(ctx, messagequeue.SubjectRateLimited, messagequeue.ElicitationPayload{
		TenantID:   tenantID,
		WorkflowID: req.WorkflowID,
		BlockedBy:  d.BlockedBy,
		Reasoning:  d.Reason,
	})

	res := &elicitation.Result{ShouldAsk: false, RateLimited: true, BlockedBy: d.BlockedBy, Reasoning: d.Reason}
	// Only an explicitly configured default is offered here.
	if a := elicitation.ComputeAssumption(req, nil, nil); a.Source == elicitation.SourceDefaultValue || a.Source == elicitation.SourceDefaultOption {
		a.Reasoning = d.Reason
		res.Assumption = a
	}
	return res
}

func (s *ElicitationService) deduplicated(ctx context.Context, tenantID string, req *elicitation.AskUserRequest, m dedup.Match) *elicitation.Result {
	s.metrics.RecordGateBlock(ctx, "dedup", "")
	s.events.Publish(ctx, messagequeue.SubjectDeduplicated, messagequeue.ElicitationPayload{
		TenantID:   tenantID,
		WorkflowID: req.WorkflowID,
		CacheID:    m.CacheID,
	})
	return &elicitation.Result{
		ShouldAsk:      false,
		Deduplicated:   true,
		CachedResponse: m.CachedResponse,
		CacheID:        m.CacheID,
		HitCount:       m.HitCount,
		Reasoning:      "answered before in this context",
	}
}

func (s *ElicitationService) assume(ctx context.Context, tenantID string, req *elicitation.AskUserRequest, d *voi.Decision, prior *voi.PriorBelief) *elicitation.Result {
	subject := messagequeue.SubjectSkipped
	if d.Outcome == voi.OutcomeInfer {
		subject = messagequeue.SubjectInferred
	}
	s.events.Publish(ctx, subject, messagequeue.ElicitationPayload{
		TenantID:   tenantID,
		WorkflowID: req.WorkflowID,
		Decision:   string(d.Outcome),
		VOIScore:   d.VOIScore,
		Reasoning:  d.Reasoning,
	})
	return &elicitation.Result{
		ShouldAsk:     false,
		Decision:      d.Outcome,
		VOIDecisionID: d.ID,
		VOIScore:      d.VOIScore,
		Reasoning:     d.Reasoning,
		Assumption:    elicitation.ComputeAssumption(req, d, prior),
	}
}

// ask consumes budget, persists the request and batches it. On failure
// everything it did is undone as far as possible.
func (s *ElicitationService) ask(ctx context.Context, tenantID, userID string, req *elicitation.AskUserRequest, d *voi.Decision, aspect *voi.Aspect, scope ratelimit.Scope) (*elicitation.Result, error) {
	if err := s.limiter.Consume(ctx, scope); err != nil {
		return nil, fmt.Errorf("consume rate limit: %w", err)
	}

	now := s.now().UTC()
	r := &elicitation.Request{
		TenantID:       tenantID,
		UserID:         userID,
		WorkflowID:     req.WorkflowID,
		WorkflowType:   req.WorkflowType,
		QueueID:        req.QueueID,
		RequestType:    req.RequestType,
		Priority:       string(req.Urgency),
		Question:       req.Question,
		QuestionType:   req.QuestionType,
		Options:        req.Options,
		ResponseSchema: req.ResponseSchema,
		Context:        req.Context,
		Fingerprint:    elicitation.Fingerprint(req.Question, req.Context),
		DefaultValue:   req.DefaultValue,
		Status:         elicitation.StatusPending,
		VOIDecisionID:  d.ID,
	}
	if r.RequestType == "" {
		r.RequestType = defaultRequestType
	}
	if aspect != nil {
		r.AspectID = aspect.ID
	}
	if req.TimeoutSeconds > 0 {
		exp := now.Add(time.Duration(req.TimeoutSeconds) * time.Second)
		r.ExpiresAt = &exp
	}

	if err := s.requests.CreateWorkflowRequest(ctx, r, s.voi.Config().MaxQuestionsPerWorkflow); err != nil {
		s.release(ctx, scope)
		return nil, fmt.Errorf("create request: %w", err)
	}

	assignment, err := s.batches.BatchQuestion(ctx, BatchInput{
		TenantID:  tenantID,
		UserID:    userID,
		RequestID: r.ID,
		Question:  req.Question,
		Context:   req.Context,
		Blocking:  req.Urgency == voi.UrgencyBlocking,
	})
	if err == nil {
		err = s.requests.SetRequestBatch(ctx, tenantID, r.ID, assignment.BatchID)
	}
	if err != nil {
		s.abandon(ctx, r, scope)
		return nil, fmt.Errorf("batch request: %w", err)
	}

	if err := s.voi.LinkDecision(ctx, tenantID, d.ID, r.ID); err != nil {
		slog.Warn("link voi decision failed", "request_id", r.ID, "decision_id", d.ID, "error", err)
	}

	s.events.Publish(ctx, messagequeue.SubjectAsked, messagequeue.ElicitationPayload{
		TenantID:   tenantID,
		RequestID:  r.ID,
		WorkflowID: req.WorkflowID,
		AspectName: aspectName(aspect),
		Decision:   string(d.Outcome),
		VOIScore:   d.VOIScore,
		BatchID:    assignment.BatchID,
	})
	slog.Info("question asked",
		"tenant_id", tenantID, "request_id", r.ID, "batch_id", assignment.BatchID,
		"new_batch", assignment.IsNew, "voi_score", d.VOIScore)

	return &elicitation.Result{
		ShouldAsk:     true,
		RequestID:     r.ID,
		BatchID:       assignment.BatchID,
		IsNewBatch:    assignment.IsNew,
		Decision:      d.Outcome,
		VOIDecisionID: d.ID,
		VOIScore:      d.VOIScore,
		Reasoning:     d.Reasoning,
	}, nil
}

func aspectName(a *voi.Aspect) string {
	if a == nil {
		return ""
	}
	return a.Name
}

// abandon cancels a request that could not be batched.
func (s *ElicitationService) abandon(ctx context.Context, r *elicitation.Request, scope ratelimit.Scope) {
	if _, err := s.requests.ResolveRequest(ctx, r.TenantID, r.ID, elicitation.StatusCancelled, nil, systemResponder); err != nil {
		slog.Warn("cancel abandoned request failed", "request_id", r.ID, "error", err)
	}
	s.release(ctx, scope)
}

func (s *ElicitationService) release(ctx context.Context, scope ratelimit.Scope) {
	if err := s.limiter.Release(ctx, scope); err != nil {
		slog.Warn("rate limit release failed", "tenant_id", scope.TenantID, "error", err)
	}
}

// GetRequest returns a persisted request.
func (s *ElicitationService) GetRequest(ctx context.Context, tenantID, id string) (*elicitation.Request, error) {
	return s.requests.GetRequest(ctx, tenantID, id)
}

// HandleAskUserResponse records a human reply. Accepted answers that fail
// validation leave the request open and come back as messages.
func (s *ElicitationService) HandleAskUserResponse(ctx context.Context, tenantID string, resp elicitation.AskUserResponse) (*elicitation.ResponseResult, error) {
	ctx, span := otel.StartRespondSpan(ctx, tenantID, resp.RequestID)
	defer span.End()

	status, err := elicitation.StatusForAction(resp.Action)
	if err != nil {
		return nil, err
	}
	req, err := s.requests.GetRequest(ctx, tenantID, resp.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.Open() {
		return nil, fmt.Errorf("request %s is %s: %w", req.ID, req.Status, domain.ErrConflict)
	}

	if resp.Action == elicitation.ActionAccept {
		if msgs := elicitation.ValidateAnswer(req, resp.Response); len(msgs) > 0 {
			return &elicitation.ResponseResult{RequestID: req.ID, Status: req.Status, ValidationErrors: msgs}, nil
		}
	}

	var answer any
	if resp.Action == elicitation.ActionAccept {
		answer = resp.Response
	}
	ok, err := s.requests.ResolveRequest(ctx, tenantID, req.ID, status, answer, resp.RespondedBy)
	if err != nil {
		return nil, fmt.Errorf("resolve request %s: %w", req.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("request %s already resolved: %w", req.ID, domain.ErrConflict)
	}

	if resp.Action == elicitation.ActionAccept {
		if err := s.dedup.Store(ctx, tenantID, req.Question, resp.Response, req.Context, resp.RespondedBy); err != nil {
			slog.Warn("dedup write-back failed", "dependency", "dedup", "request_id", req.ID, "error", err)
		}
	}

	completed := s.finish(ctx, req, status)

	if resp.Action == elicitation.ActionAccept && req.AspectID != "" {
		if _, err := s.voi.RecordOutcome(ctx, tenantID, req.AspectID, resp.Response); err != nil {
			slog.Warn("voi outcome not recorded", "request_id", req.ID, "aspect_id", req.AspectID, "error", err)
		}
	}

	s.events.Publish(ctx, messagequeue.SubjectResponded, messagequeue.ElicitationPayload{
		TenantID:    tenantID,
		RequestID:   req.ID,
		WorkflowID:  req.WorkflowID,
		BatchID:     req.BatchID,
		Status:      string(status),
		RespondedBy: resp.RespondedBy,
	})
	return &elicitation.ResponseResult{RequestID: req.ID, Status: status, BatchCompleted: completed}, nil
}

// Finalize is the bookkeeping for a request closed outside a human reply,
// such as an escalation final action.
func (s *ElicitationService) Finalize(ctx context.Context, req *elicitation.Request, status elicitation.Status) {
	s.finish(ctx, req, status)
}

// finish updates batch bookkeeping and returns the question budget.
// It reports whether the request's batch completed.
func (s *ElicitationService) finish(ctx context.Context, req *elicitation.Request, status elicitation.Status) bool {
	completed := false
	if req.BatchID != "" {
		skipped := status != elicitation.StatusAnswered && status != elicitation.StatusApproved
		var err error
		completed, err = s.batches.RecordAnswer(ctx, req.TenantID, req.BatchID, skipped)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("batch bookkeeping failed", "request_id", req.ID, "batch_id", req.BatchID, "error", err)
		}
	}
	s.release(ctx, ratelimit.Scope{TenantID: req.TenantID, UserID: req.UserID, WorkflowID: req.WorkflowID})
	return completed
}

// ExpireRequests resolves pending requests past their deadline with their
// default value. It is safe to run repeatedly.
func (s *ElicitationService) ExpireRequests(ctx context.Context) (int, error) {
	reqs, err := s.requests.ListExpiredRequests(ctx, s.now().UTC(), s.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list expired requests: %w", err)
	}
	expired := 0
	for i := range reqs {
		r := &reqs[i]
		ok, err := s.requests.ResolveRequest(ctx, r.TenantID, r.ID, elicitation.StatusExpired, r.DefaultValue, systemResponder)
		if err != nil {
			slog.Warn("expire request failed", "request_id", r.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		expired++
		s.finish(ctx, r, elicitation.StatusExpired)
		s.events.Publish(ctx, messagequeue.SubjectExpired, messagequeue.ElicitationPayload{
			TenantID:   r.TenantID,
			RequestID:  r.ID,
			WorkflowID: r.WorkflowID,
			BatchID:    r.BatchID,
			Status:     string(elicitation.StatusExpired),
		})
	}
	return expired, nil
}
