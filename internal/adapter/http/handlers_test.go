package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	elhttp "github.com/Strob0t/elicitor/internal/adapter/http"
	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/batch"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/escalation"
	"github.com/Strob0t/elicitor/internal/domain/voi"
	"github.com/Strob0t/elicitor/internal/middleware"
	"github.com/Strob0t/elicitor/internal/service"
)

// --- fakes ---

type fakeElicitations struct {
	requests  map[string]*elicitation.Request
	result    *elicitation.Result
	response  *elicitation.ResponseResult
	err       error
	gotTenant string
	gotUser   string
	gotAsk    elicitation.AskUserRequest
	gotResp   elicitation.AskUserResponse
}

func (f *fakeElicitations) CreateAskUserRequest(_ context.Context, tenantID, userID string, req elicitation.AskUserRequest) (*elicitation.Result, error) {
	f.gotTenant, f.gotUser, f.gotAsk = tenantID, userID, req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeElicitations) HandleAskUserResponse(_ context.Context, tenantID string, resp elicitation.AskUserResponse) (*elicitation.ResponseResult, error) {
	f.gotTenant, f.gotResp = tenantID, resp
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeElicitations) GetRequest(_ context.Context, tenantID, id string) (*elicitation.Request, error) {
	r, ok := f.requests[id]
	if !ok || r.TenantID != tenantID {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

type fakeVOI struct {
	got   voi.Request
	asked int
}

func (f *fakeVOI) Preview(_ context.Context, req voi.Request, questionsAsked int) (*voi.Decision, error) {
	f.got, f.asked = req, questionsAsked
	return &voi.Decision{TenantID: req.TenantID, VOIScore: 0.2, Outcome: voi.OutcomeAsk}, nil
}

type fakeBatches struct {
	ready   []batch.Batch
	gotUser string
	closed  map[string]*batch.Batch
}

func (f *fakeBatches) Ready(_ context.Context, _, userID string) ([]batch.Batch, error) {
	f.gotUser = userID
	return f.ready, nil
}

func (f *fakeBatches) Close(_ context.Context, _, id string) (*batch.Batch, error) {
	b, ok := f.closed[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBatches) Present(_ context.Context, _, id string) (*service.PresentedBatch, error) {
	b, ok := f.closed[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.Status != batch.StatusReady {
		return nil, fmt.Errorf("batch %s is %s: %w", id, b.Status, domain.ErrConflict)
	}
	return &service.PresentedBatch{Batch: *b}, nil
}

type fakeEscalations struct {
	chains   []escalation.Chain
	gotChain string
	gotLevel int
	err      error
}

func (f *fakeEscalations) Escalate(_ context.Context, _, _, chainID string, currentLevel int) (*escalation.Result, error) {
	f.gotChain, f.gotLevel = chainID, currentLevel
	if f.err != nil {
		return nil, f.err
	}
	return &escalation.Result{Success: true, NewLevel: currentLevel + 1, Assignees: []string{"alice"}}, nil
}

func (f *fakeEscalations) RegisterChain(_ context.Context, c *escalation.Chain) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.ID = fmt.Sprintf("chain-%d", len(f.chains)+1)
	f.chains = append(f.chains, *c)
	return nil
}

func (f *fakeEscalations) ListChains(_ context.Context, tenantID string) ([]escalation.Chain, error) {
	var out []escalation.Chain
	for i := range f.chains {
		if f.chains[i].TenantID == tenantID {
			out = append(out, f.chains[i])
		}
	}
	return out, nil
}

type fakeAbstention struct {
	got abstention.Input
}

func (f *fakeAbstention) Check(_ context.Context, in abstention.Input) (*abstention.Result, error) {
	f.got = in
	return &abstention.Result{ShouldAbstain: true, Reason: abstention.ReasonMissingInformation, RecommendedAction: abstention.ActionEscalate}, nil
}

type fixture struct {
	el  *fakeElicitations
	voi *fakeVOI
	bs  *fakeBatches
	es  *fakeEscalations
	ab  *fakeAbstention
	h   *elhttp.Handlers
	r   chi.Router
}

func newFixture() *fixture {
	f := &fixture{
		el:  &fakeElicitations{requests: map[string]*elicitation.Request{}},
		voi: &fakeVOI{},
		bs:  &fakeBatches{closed: map[string]*batch.Batch{}},
		es:  &fakeEscalations{},
		ab:  &fakeAbstention{},
	}
	f.h = &elhttp.Handlers{
		Elicitation: f.el,
		VOI:         f.voi,
		Batches:     f.bs,
		Escalations: f.es,
		Abstention:  f.ab,
	}
	r := chi.NewRouter()
	r.Use(middleware.TenantID)
	elhttp.MountRoutes(r, f.h)
	f.r = r
	return f
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// --- Elicitation ---

func TestAskUserCreated(t *testing.T) {
	f := newFixture()
	f.el.result = &elicitation.Result{ShouldAsk: true, RequestID: "req-1", BatchID: "b-1", Decision: voi.OutcomeAsk}

	w := f.do("POST", "/api/v1/ask", elicitation.AskUserRequest{
		Question:     "Deploy to production?",
		QuestionType: elicitation.TypeYesNo,
	}, "X-Tenant-ID", "t-1", "X-User-ID", "agent-7")

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[elicitation.Result](t, w)
	if res.RequestID != "req-1" {
		t.Errorf("expected req-1, got %q", res.RequestID)
	}
	if f.el.gotTenant != "t-1" || f.el.gotUser != "agent-7" {
		t.Errorf("expected tenant t-1 user agent-7, got %q %q", f.el.gotTenant, f.el.gotUser)
	}
	if f.el.gotAsk.Question != "Deploy to production?" {
		t.Errorf("question not forwarded: %q", f.el.gotAsk.Question)
	}
}

func TestAskUserSkippedReturnsOK(t *testing.T) {
	f := newFixture()
	f.el.result = &elicitation.Result{Decision: voi.OutcomeSkipWithDefault, Assumption: &elicitation.Assumption{Value: true}}

	w := f.do("POST", "/api/v1/ask", elicitation.AskUserRequest{Question: "Proceed?", QuestionType: elicitation.TypeYesNo})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if f.el.gotTenant != middleware.DefaultTenantID {
		t.Errorf("expected default tenant, got %q", f.el.gotTenant)
	}
}

func TestAskUserInvalidBody(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest("POST", "/api/v1/ask", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAskUserValidationError(t *testing.T) {
	f := newFixture()
	f.el.err = fmt.Errorf("question is required: %w", domain.ErrValidation)

	w := f.do("POST", "/api/v1/ask", elicitation.AskUserRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["error"] != "question is required" {
		t.Errorf("unexpected error message: %v", body["error"])
	}
}

func TestAskUserInternalError(t *testing.T) {
	f := newFixture()
	f.el.err = errors.New("connection refused")

	w := f.do("POST", "/api/v1/ask", elicitation.AskUserRequest{Question: "x"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("connection refused")) {
		t.Error("internal error detail leaked to client")
	}
}

func TestRespondToRequest(t *testing.T) {
	f := newFixture()
	f.el.response = &elicitation.ResponseResult{RequestID: "req-1", Status: elicitation.StatusAnswered, BatchCompleted: true}

	w := f.do("POST", "/api/v1/ask/req-1/respond", map[string]any{
		"action":   "accept",
		"response": true,
	}, "X-User-ID", "bob")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.el.gotResp.RequestID != "req-1" {
		t.Errorf("expected request id from path, got %q", f.el.gotResp.RequestID)
	}
	if f.el.gotResp.RespondedBy != "bob" {
		t.Errorf("expected responded_by to default to user, got %q", f.el.gotResp.RespondedBy)
	}
	res := decode[elicitation.ResponseResult](t, w)
	if !res.BatchCompleted {
		t.Error("expected batch_completed")
	}
}

func TestRespondToRequestSchemaMismatch(t *testing.T) {
	f := newFixture()
	f.el.response = &elicitation.ResponseResult{
		RequestID:        "req-1",
		Status:           elicitation.StatusPending,
		ValidationErrors: []string{"response must be a boolean"},
	}

	w := f.do("POST", "/api/v1/ask/req-1/respond", map[string]any{"action": "accept", "response": "maybe"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var body struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Details) != 1 || body.Details[0] != "response must be a boolean" {
		t.Errorf("unexpected details: %v", body.Details)
	}
}

func TestRespondToRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		err  error
		want int
	}{
		{"missing action", map[string]any{"response": true}, nil, http.StatusBadRequest},
		{"unknown request", map[string]any{"action": "accept"}, fmt.Errorf("request x: %w", domain.ErrNotFound), http.StatusNotFound},
		{"already resolved", map[string]any{"action": "accept"}, fmt.Errorf("request x is answered: %w", domain.ErrConflict), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.el.err = tt.err
			w := f.do("POST", "/api/v1/ask/x/respond", tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetRequestTenantScoped(t *testing.T) {
	f := newFixture()
	f.el.requests["req-1"] = &elicitation.Request{ID: "req-1", TenantID: "t-1", Status: elicitation.StatusPending}

	w := f.do("GET", "/api/v1/ask/req-1", nil, "X-Tenant-ID", "t-1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = f.do("GET", "/api/v1/ask/req-1", nil, "X-Tenant-ID", "t-2")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other tenant, got %d", w.Code)
	}
}

// --- VOI ---

func TestEvaluateVOIDefaults(t *testing.T) {
	f := newFixture()

	w := f.do("POST", "/api/v1/voi/evaluate", map[string]any{
		"aspect_name":     "deploy_target",
		"question_type":   "yes_no",
		"questions_asked": 1,
	}, "X-Tenant-ID", "t-1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.voi.got.TenantID != "t-1" {
		t.Errorf("expected tenant t-1, got %q", f.voi.got.TenantID)
	}
	if f.voi.got.WorkflowType != "default" || f.voi.got.Urgency != voi.UrgencyNormal {
		t.Errorf("defaults not applied: %+v", f.voi.got)
	}
	if f.voi.asked != 1 {
		t.Errorf("expected questions_asked 1, got %d", f.voi.asked)
	}
}

func TestEvaluateVOIMissingAspect(t *testing.T) {
	f := newFixture()
	w := f.do("POST", "/api/v1/voi/evaluate", map[string]any{"question_type": "yes_no"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// --- Abstention ---

func TestCheckAbstention(t *testing.T) {
	f := newFixture()

	w := f.do("POST", "/api/v1/abstention/check", abstention.Input{
		TenantID: "spoofed",
		Response: "I don't know which region you mean.",
	}, "X-Tenant-ID", "t-1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if f.ab.got.TenantID != "t-1" {
		t.Errorf("tenant must come from the header, got %q", f.ab.got.TenantID)
	}
	res := decode[abstention.Result](t, w)
	if !res.ShouldAbstain || res.RecommendedAction != abstention.ActionEscalate {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCheckAbstentionEmptyResponse(t *testing.T) {
	f := newFixture()
	w := f.do("POST", "/api/v1/abstention/check", abstention.Input{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// --- Batches ---

func TestListReadyBatches(t *testing.T) {
	f := newFixture()

	w := f.do("GET", "/api/v1/batches/ready", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[[]batch.Batch](t, w); len(got) != 0 {
		t.Fatalf("expected empty list, got %d", len(got))
	}

	f.bs.ready = []batch.Batch{{ID: "b-1", Status: batch.StatusReady}}
	w = f.do("GET", "/api/v1/batches/ready?user_id=alice", nil)
	if got := decode[[]batch.Batch](t, w); len(got) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(got))
	}
	if f.bs.gotUser != "alice" {
		t.Errorf("expected user filter alice, got %q", f.bs.gotUser)
	}
}

func TestBatchActions(t *testing.T) {
	f := newFixture()
	f.bs.closed["b-1"] = &batch.Batch{ID: "b-1", Status: batch.StatusReady}
	f.bs.closed["b-2"] = &batch.Batch{ID: "b-2", Status: batch.StatusCompleted}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/batches/b-1/close", http.StatusOK},
		{"/api/v1/batches/b-1/present", http.StatusOK},
		{"/api/v1/batches/b-2/present", http.StatusConflict},
		{"/api/v1/batches/missing/close", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := f.do("POST", tt.path, nil)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// --- Escalations ---

func TestCreateAndListChains(t *testing.T) {
	f := newFixture()

	chain := escalation.Chain{
		TenantID: "spoofed",
		Name:     "ops",
		Levels: []escalation.Level{
			{Assignees: []escalation.Assignee{{Type: escalation.AssigneeUser, ID: "alice"}}, TimeoutMinutes: 15},
		},
	}
	w := f.do("POST", "/api/v1/escalations/chains", chain, "X-Tenant-ID", "t-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[escalation.Chain](t, w)
	if created.TenantID != "t-1" || created.ID == "" {
		t.Errorf("unexpected chain: %+v", created)
	}

	w = f.do("GET", "/api/v1/escalations/chains", nil, "X-Tenant-ID", "t-1")
	if got := decode[[]escalation.Chain](t, w); len(got) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(got))
	}
	w = f.do("GET", "/api/v1/escalations/chains", nil, "X-Tenant-ID", "t-2")
	if got := decode[[]escalation.Chain](t, w); len(got) != 0 {
		t.Fatalf("expected no chains for other tenant, got %d", len(got))
	}
}

func TestCreateChainInvalid(t *testing.T) {
	f := newFixture()
	w := f.do("POST", "/api/v1/escalations/chains", escalation.Chain{Name: "empty"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestEscalateRequest(t *testing.T) {
	f := newFixture()
	f.el.requests["req-1"] = &elicitation.Request{
		ID:                "req-1",
		TenantID:          middleware.DefaultTenantID,
		EscalationLevel:   1,
		EscalationChainID: "chain-9",
	}

	t.Run("explicit level", func(t *testing.T) {
		w := f.do("POST", "/api/v1/escalations/req-1/escalate", map[string]any{"chain_id": "chain-1", "current_level": 0})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if f.es.gotChain != "chain-1" || f.es.gotLevel != 0 {
			t.Errorf("got chain %q level %d", f.es.gotChain, f.es.gotLevel)
		}
	})

	t.Run("stored level and chain", func(t *testing.T) {
		w := f.do("POST", "/api/v1/escalations/req-1/escalate", map[string]any{})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if f.es.gotChain != "chain-9" || f.es.gotLevel != 1 {
			t.Errorf("got chain %q level %d", f.es.gotChain, f.es.gotLevel)
		}
		res := decode[escalation.Result](t, w)
		if res.NewLevel != 2 {
			t.Errorf("expected new level 2, got %d", res.NewLevel)
		}
	})

	t.Run("unknown request", func(t *testing.T) {
		w := f.do("POST", "/api/v1/escalations/nope/escalate", map[string]any{"chain_id": "chain-1"})
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("unknown chain", func(t *testing.T) {
		f.es.err = fmt.Errorf("chain x: %w", domain.ErrChainNotFound)
		defer func() { f.es.err = nil }()
		w := f.do("POST", "/api/v1/escalations/req-1/escalate", map[string]any{"chain_id": "x", "current_level": 0})
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}

// --- Health & version ---

func TestHealthCheck(t *testing.T) {
	f := newFixture()

	w := f.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	f.h.Health = func(context.Context) map[string]string {
		return map[string]string{"postgres": "ok", "nats": "disconnected"}
	}
	w = f.do("GET", "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded, got %v", body["status"])
	}
}

func TestVersionEndpoint(t *testing.T) {
	f := newFixture()
	w := f.do("GET", "/api/v1/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w); got["version"] != elhttp.Version {
		t.Fatalf("expected version %s, got %q", elhttp.Version, got["version"])
	}
}
