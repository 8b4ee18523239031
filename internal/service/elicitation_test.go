package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/batch"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/voi"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
	"github.com/Strob0t/elicitor/internal/port/ratelimit"
)

type elicitationFixture struct {
	store   *memStore
	limiter *mockLimiter
	dedup   *mockDedup
	queue   *mockQueue
	voi     *VOIService
	batches *BatchService
	svc     *ElicitationService
}

func newElicitationFixture() *elicitationFixture {
	f := &elicitationFixture{
		store:   newMemStore(),
		limiter: newMockLimiter(),
		dedup:   newMockDedup(),
		queue:   newMockQueue(),
	}
	events := NewEventPublisher(f.queue, nil)
	f.voi = NewVOIService(f.store, voi.DefaultConfig(), nil)
	f.batches = NewBatchService(f.store, nil, batch.DefaultConfig(), events, nil)
	f.svc = NewElicitationService(ElicitationDeps{
		Requests: f.store,
		VOI:      f.voi,
		Batches:  f.batches,
		Limiter:  f.limiter,
		Dedup:    f.dedup,
		Events:   events,
	}, 0)
	return f
}

func askDeploy() elicitation.AskUserRequest {
	return elicitation.AskUserRequest{
		Question:     "Should we deploy to production now?",
		QuestionType: elicitation.TypeYesNo,
		Context:      map[string]any{"workflow_id": "wf-1"},
		WorkflowType: "release",
	}
}

func TestElicitationService_AskPersistsAndBatches(t *testing.T) {
	f := newElicitationFixture()
	ctx := context.Background()

	res, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", askDeploy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldAsk || res.Decision != voi.OutcomeAsk {
		t.Fatalf("expected to ask, got %+v", res)
	}
	if res.RequestID == "" || res.BatchID == "" || !res.IsNewBatch {
		t.Fatalf("expected request and new batch, got %+v", res)
	}

	req, err := f.svc.GetRequest(ctx, "t1", res.RequestID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if req.Status != elicitation.StatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if req.WorkflowID != "wf-1" {
		t.Errorf("workflow id should come from context, got %q", req.WorkflowID)
	}
	if req.BatchID != res.BatchID {
		t.Errorf("batch id = %q, want %q", req.BatchID, res.BatchID)
	}
	if req.RequestType != "question" || req.Priority != string(voi.UrgencyNormal) {
		t.Errorf("defaults not applied: type=%q priority=%q", req.RequestType, req.Priority)
	}
	if req.AspectID == "" {
		t.Error("request should reference its aspect")
	}
	if f.store.decisions[0].RequestID != res.RequestID {
		t.Error("voi decision not linked to the request")
	}
	if f.limiter.consumed != 1 {
		t.Errorf("consumed = %d, want 1", f.limiter.consumed)
	}
	if f.queue.count(messagequeue.SubjectAsked) != 1 {
		t.Error("expected elicitation.asked event")
	}
}

func TestElicitationService_TwoQuestionRule(t *testing.T) {
	f := newElicitationFixture()
	ctx := context.Background()

	for i := range 2 {
		res, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", askDeploy())
		if err != nil {
			t.Fatalf("ask %d: %v", i, err)
		}
		if !res.ShouldAsk {
			t.Fatalf("ask %d should reach the human: %+v", i, res)
		}
	}

	third := askDeploy()
	third.DefaultValue = false
	res, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", third)
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if res.ShouldAsk {
		t.Fatal("third question in the workflow must not be asked")
	}
	if res.Decision != voi.OutcomeSkipWithDefault || res.VOIScore != -1 {
		t.Errorf("decision = %s score = %v", res.Decision, res.VOIScore)
	}
	if res.Assumption == nil || res.Assumption.Value != false || res.Assumption.Source != elicitation.SourceDefaultValue {
		t.Errorf("assumption = %+v", res.Assumption)
	}
	if len(f.store.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(f.store.requests))
	}
	if f.queue.count(messagequeue.SubjectSkipped) != 1 {
		t.Error("expected elicitation.skipped event")
	}
}

// staleCounts reports an empty workflow, as a concurrent ask would see it
// before the other's insert lands.
type staleCounts struct {
	*memStore
}

func (staleCounts) CountWorkflowQuestions(context.Context, string, string) (int, error) {
	return 0, nil
}

func TestElicitationService_WorkflowCapHoldsUnderStaleCount(t *testing.T) {
	f := newElicitationFixture()
	f.svc.requests = staleCounts{f.store}
	ctx := context.Background()

	var asked int
	for i := range 4 {
		req := askDeploy()
		req.DefaultValue = true
		res, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", req)
		if err != nil {
			t.Fatalf("ask %d: %v", i, err)
		}
		if res.ShouldAsk {
			asked++
			continue
		}
		if res.Decision != voi.OutcomeSkipWithDefault || !strings.Contains(res.Reasoning, "two-question rule") {
			t.Errorf("ask %d: decision = %s reasoning = %q", i, res.Decision, res.Reasoning)
		}
		if res.Assumption == nil || res.Assumption.Value != true {
			t.Errorf("ask %d: assumption = %+v", i, res.Assumption)
		}
	}
	if asked != 2 {
		t.Fatalf("asked = %d, want 2", asked)
	}
	if len(f.store.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(f.store.requests))
	}
	if f.limiter.released != 2 {
		t.Errorf("released = %d, want 2", f.limiter.released)
	}
}

func TestElicitationService_RateLimitedHasNoSideEffects(t *testing.T) {
	f := newElicitationFixture()
	f.limiter.decision = ratelimit.Decision{Allowed: false, BlockedBy: "user_hourly", Reason: "user u1 asked 10 questions this hour"}

	req := askDeploy()
	req.DefaultValue = true
	res, err := f.svc.CreateAskUserRequest(context.Background(), "t1", "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShouldAsk || !res.RateLimited || res.BlockedBy != "user_hourly" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Assumption == nil || res.Assumption.Value != true {
		t.Errorf("configured default should be offered, got %+v", res.Assumption)
	}
	if len(f.store.requests)+len(f.store.decisions)+len(f.store.aspects)+len(f.store.batches) != 0 {
		t.Error("rate limited question wrote state")
	}
	if f.limiter.consumed != 0 {
		t.Error("rate limited question consumed budget")
	}
	if f.queue.count(messagequeue.SubjectRateLimited) != 1 {
		t.Error("expected elicitation.rate_limited event")
	}

	res, err = f.svc.CreateAskUserRequest(context.Background(), "t1", "u1", askDeploy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Assumption != nil {
		t.Errorf("no assumption without a configured default, got %+v", res.Assumption)
	}
}

func TestElicitationService_DeduplicatedHasNoSideEffects(t *testing.T) {
	f := newElicitationFixture()
	q := askDeploy()
	f.dedup.answers["t1|"+q.Question] = true

	res, err := f.svc.CreateAskUserRequest(context.Background(), "t1", "u1", q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShouldAsk || !res.Deduplicated || res.CachedResponse != true {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.store.requests)+len(f.store.decisions)+len(f.store.aspects) != 0 {
		t.Error("deduplicated question wrote state")
	}
	if f.limiter.checked != 1 {
		t.Errorf("rate limit should be checked before dedup, checked=%d", f.limiter.checked)
	}
}

func TestElicitationService_DedupFailureContinues(t *testing.T) {
	f := newElicitationFixture()
	f.dedup.err = errBoom

	res, err := f.svc.CreateAskUserRequest(context.Background(), "t1", "u1", askDeploy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShouldAsk {
		t.Fatalf("dedup outage should not block asking: %+v", res)
	}
}

func TestElicitationService_ValidationError(t *testing.T) {
	f := newElicitationFixture()
	_, err := f.svc.CreateAskUserRequest(context.Background(), "t1", "u1", elicitation.AskUserRequest{Question: "   "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestElicitationService_AskFailureFallsBack(t *testing.T) {
	f := newElicitationFixture()
	f.store.createReqErr = errBoom

	req := askDeploy()
	req.DefaultValue = false
	res, err := f.svc.CreateAskUserRequest(context.Background(), "t1", "u1", req)
	if err != nil {
		t.Fatalf("ask failure should degrade, got %v", err)
	}
	if res.ShouldAsk || res.Decision != voi.OutcomeSkipWithDefault {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.Reasoning, "ask failed") {
		t.Errorf("reasoning = %q", res.Reasoning)
	}
	if res.Assumption == nil || res.Assumption.Value != false {
		t.Errorf("assumption = %+v", res.Assumption)
	}
	if f.limiter.consumed != 1 || f.limiter.released != 1 {
		t.Errorf("budget not returned: consumed=%d released=%d", f.limiter.consumed, f.limiter.released)
	}
}

func TestElicitationService_BatchFailureCancelsRequest(t *testing.T) {
	f := newElicitationFixture()
	f.store.createBatchErr = errBoom

	res, err := f.svc.CreateAskUserRequest(context.Background(), "t1", "u1", askDeploy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ShouldAsk {
		t.Fatal("expected fallback when batching fails")
	}
	if len(f.store.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(f.store.requests))
	}
	for _, r := range f.store.requests {
		if r.Status != elicitation.StatusCancelled {
			t.Errorf("abandoned request status = %s, want cancelled", r.Status)
		}
	}
	if f.limiter.released != 1 {
		t.Errorf("released = %d, want 1", f.limiter.released)
	}
}

func TestElicitationService_HandleResponse(t *testing.T) {
	f := newElicitationFixture()
	ctx := context.Background()

	asked, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", askDeploy())
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	bad, err := f.svc.HandleAskUserResponse(ctx, "t1", elicitation.AskUserResponse{
		RequestID: asked.RequestID, Action: elicitation.ActionAccept, Response: "maybe", RespondedBy: "u1",
	})
	if err != nil {
		t.Fatalf("invalid answer should not error: %v", err)
	}
	if len(bad.ValidationErrors) == 0 {
		t.Fatal("expected validation errors for a non-boolean answer")
	}
	if bad.Status != elicitation.StatusPending {
		t.Errorf("status = %s, want pending", bad.Status)
	}

	ok, err := f.svc.HandleAskUserResponse(ctx, "t1", elicitation.AskUserResponse{
		RequestID: asked.RequestID, Action: elicitation.ActionAccept, Response: true, RespondedBy: "u1",
	})
	if err != nil {
		t.Fatalf("HandleAskUserResponse: %v", err)
	}
	if ok.Status != elicitation.StatusAnswered || !ok.BatchCompleted {
		t.Fatalf("unexpected result %+v", ok)
	}
	if f.dedup.stored != 1 {
		t.Error("accepted answer should be cached")
	}
	if f.limiter.released != 1 {
		t.Errorf("released = %d, want 1", f.limiter.released)
	}
	req, _ := f.svc.GetRequest(ctx, "t1", asked.RequestID)
	aspect, _ := f.store.GetAspectByID(ctx, "t1", req.AspectID)
	if aspect.AskCount != 1 {
		t.Errorf("aspect ask_count = %d, want 1", aspect.AskCount)
	}
	if f.queue.count(messagequeue.SubjectResponded) != 1 {
		t.Error("expected elicitation.responded event")
	}

	_, err = f.svc.HandleAskUserResponse(ctx, "t1", elicitation.AskUserResponse{
		RequestID: asked.RequestID, Action: elicitation.ActionAccept, Response: false,
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second response: expected ErrConflict, got %v", err)
	}
}

func TestElicitationService_DeclineSkipsInBatch(t *testing.T) {
	f := newElicitationFixture()
	ctx := context.Background()

	asked, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", askDeploy())
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	res, err := f.svc.HandleAskUserResponse(ctx, "t1", elicitation.AskUserResponse{
		RequestID: asked.RequestID, Action: elicitation.ActionDecline,
	})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if res.Status != elicitation.StatusDeclined {
		t.Errorf("status = %s, want declined", res.Status)
	}
	if f.dedup.stored != 0 {
		t.Error("declined answers are not cached")
	}
	b, _ := f.store.GetBatch(ctx, "t1", asked.BatchID)
	if b.SkippedCount != 1 {
		t.Errorf("skipped_count = %d, want 1", b.SkippedCount)
	}
}

func TestElicitationService_ResponseErrors(t *testing.T) {
	f := newElicitationFixture()
	ctx := context.Background()

	_, err := f.svc.HandleAskUserResponse(ctx, "t1", elicitation.AskUserResponse{RequestID: "nope", Action: elicitation.ActionAccept})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown request: expected ErrNotFound, got %v", err)
	}
	_, err = f.svc.HandleAskUserResponse(ctx, "t1", elicitation.AskUserResponse{RequestID: "nope", Action: "shrug"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown action: expected ErrValidation, got %v", err)
	}
}

func TestElicitationService_ExpireRequests(t *testing.T) {
	f := newElicitationFixture()
	ctx := context.Background()

	req := askDeploy()
	req.TimeoutSeconds = 60
	req.DefaultValue = false
	asked, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", req)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	n, err := f.svc.ExpireRequests(ctx)
	if err != nil || n != 0 {
		t.Fatalf("nothing expired yet: n=%d err=%v", n, err)
	}

	f.svc.now = fixedClock(time.Now().UTC().Add(2 * time.Minute))
	n, err = f.svc.ExpireRequests(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireRequests: n=%d err=%v", n, err)
	}
	got, _ := f.svc.GetRequest(ctx, "t1", asked.RequestID)
	if got.Status != elicitation.StatusExpired || got.Response != false || got.RespondedBy != "system" {
		t.Errorf("expired request = status %s response %v by %q", got.Status, got.Response, got.RespondedBy)
	}
	if f.queue.count(messagequeue.SubjectExpired) != 1 {
		t.Error("expected elicitation.expired event")
	}

	n, _ = f.svc.ExpireRequests(ctx)
	if n != 0 {
		t.Errorf("second sweep expired %d requests", n)
	}
}

func TestElicitationService_FinalizeFromEscalation(t *testing.T) {
	f := newElicitationFixture()
	ctx := context.Background()

	asked, err := f.svc.CreateAskUserRequest(ctx, "t1", "u1", askDeploy())
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	esc := NewEscalationService(f.store, nil, NewNotificationService(nil, nil, ""), nil, nil, escalationConfig())
	esc.OnResolved(f.svc.Finalize)
	c := oneLevel("approve")
	c.TenantID, c.Name = "t1", "auto-approve"
	if err := esc.RegisterChain(ctx, &c); err != nil {
		t.Fatalf("RegisterChain: %v", err)
	}
	if _, err := esc.Escalate(ctx, "t1", asked.RequestID, c.ID, 1); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	b, _ := f.store.GetBatch(ctx, "t1", asked.BatchID)
	if b.Status != batch.StatusCompleted || b.AnsweredCount != 1 {
		t.Errorf("batch after approval: status=%s answered=%d", b.Status, b.AnsweredCount)
	}
	if f.limiter.released != 1 {
		t.Errorf("released = %d, want 1", f.limiter.released)
	}
}
