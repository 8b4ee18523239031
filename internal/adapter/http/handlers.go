package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/batch"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/escalation"
	"github.com/Strob0t/elicitor/internal/domain/voi"
	"github.com/Strob0t/elicitor/internal/service"
)

// Elicitations is the orchestrator surface the handlers use.
type Elicitations interface {
	CreateAskUserRequest(ctx context.Context, tenantID, userID string, req elicitation.AskUserRequest) (*elicitation.Result, error)
	HandleAskUserResponse(ctx context.Context, tenantID string, resp elicitation.AskUserResponse) (*elicitation.ResponseResult, error)
	GetRequest(ctx context.Context, tenantID, id string) (*elicitation.Request, error)
}

// VOIPreviewer evaluates a question without recording anything.
type VOIPreviewer interface {
	Preview(ctx context.Context, req voi.Request, questionsAsked int) (*voi.Decision, error)
}

// Batches is the batch surface the handlers use.
type Batches interface {
	Ready(ctx context.Context, tenantID, userID string) ([]batch.Batch, error)
	Close(ctx context.Context, tenantID, id string) (*batch.Batch, error)
	Present(ctx context.Context, tenantID, id string) (*service.PresentedBatch, error)
}

// Escalations is the escalation surface the handlers use.
type Escalations interface {
	Escalate(ctx context.Context, tenantID, requestID, chainID string, currentLevel int) (*escalation.Result, error)
	RegisterChain(ctx context.Context, c *escalation.Chain) error
	ListChains(ctx context.Context, tenantID string) ([]escalation.Chain, error)
}

// AbstentionChecker inspects a model response.
type AbstentionChecker interface {
	Check(ctx context.Context, in abstention.Input) (*abstention.Result, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Elicitation Elicitations
	VOI         VOIPreviewer
	Batches     Batches
	Escalations Escalations
	Abstention  AbstentionChecker
	// Health reports the state of each dependency; nil means only the
	// process itself is checked.
	Health func(ctx context.Context) map[string]string
}

// --- Elicitation ---

// AskUser handles POST /api/v1/ask.
func (h *Handlers) AskUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[elicitation.AskUserRequest](w, r)
	if !ok {
		return
	}
	tenantID, userID := tenant(r)
	res, err := h.Elicitation.CreateAskUserRequest(r.Context(), tenantID, userID, req)
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	status := http.StatusOK
	if res.ShouldAsk {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// RespondToRequest handles POST /api/v1/ask/{id}/respond.
func (h *Handlers) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	resp, ok := readJSON[elicitation.AskUserResponse](w, r)
	if !ok {
		return
	}
	tenantID, userID := tenant(r)
	resp.RequestID = urlParam(r, "id")
	if !requireField(w, string(resp.Action), "action") {
		return
	}
	if resp.RespondedBy == "" {
		resp.RespondedBy = userID
	}

	res, err := h.Elicitation.HandleAskUserResponse(r.Context(), tenantID, resp)
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	if len(res.ValidationErrors) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "response does not match the expected schema",
			Details: res.ValidationErrors,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetRequest handles GET /api/v1/ask/{id}.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Elicitation.GetRequest, "request not found")(w, r)
}

// --- VOI ---

type evaluateRequest struct {
	voi.Request
	QuestionsAsked int `json:"questions_asked"`
}

// EvaluateVOI handles POST /api/v1/voi/evaluate.
func (h *Handlers) EvaluateVOI(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[evaluateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.AspectName, "aspect_name") {
		return
	}
	req.TenantID, _ = tenant(r)
	if req.WorkflowType == "" {
		req.WorkflowType = "default"
	}
	if req.Urgency == "" {
		req.Urgency = voi.UrgencyNormal
	}
	d, err := h.VOI.Preview(r.Context(), req.Request, req.QuestionsAsked)
	if err != nil {
		writeDomainError(w, err, "aspect not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- Abstention ---

// CheckAbstention handles POST /api/v1/abstention/check.
func (h *Handlers) CheckAbstention(w http.ResponseWriter, r *http.Request) {
	in, ok := readJSON[abstention.Input](w, r)
	if !ok {
		return
	}
	if !requireField(w, in.Response, "response") {
		return
	}
	in.TenantID, _ = tenant(r)
	res, err := h.Abstention.Check(r.Context(), in)
	if err != nil {
		writeDomainError(w, err, "not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Batches ---

// ListReadyBatches handles GET /api/v1/batches/ready. The optional user_id
// query parameter narrows the list to one human.
func (h *Handlers) ListReadyBatches(w http.ResponseWriter, r *http.Request) {
	handleList(func(ctx context.Context, tenantID string) ([]batch.Batch, error) {
		return h.Batches.Ready(ctx, tenantID, r.URL.Query().Get("user_id"))
	})(w, r)
}

// CloseBatch handles POST /api/v1/batches/{id}/close.
func (h *Handlers) CloseBatch(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Batches.Close, "batch not found")(w, r)
}

// PresentBatch handles POST /api/v1/batches/{id}/present.
func (h *Handlers) PresentBatch(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Batches.Present, "batch not found")(w, r)
}

// --- Escalations ---

type escalateRequest struct {
	ChainID      string `json:"chain_id"`
	CurrentLevel *int   `json:"current_level,omitempty"`
}

// EscalateRequest handles POST /api/v1/escalations/{id}/escalate. Without
// current_level the request's stored level is used, and without chain_id the
// chain it is already on.
func (h *Handlers) EscalateRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[escalateRequest](w, r)
	if !ok {
		return
	}
	tenantID, _ := tenant(r)
	id := urlParam(r, "id")

	chainID, level := body.ChainID, 0
	if body.CurrentLevel != nil {
		level = *body.CurrentLevel
	}
	if chainID == "" || body.CurrentLevel == nil {
		req, err := h.Elicitation.GetRequest(r.Context(), tenantID, id)
		if err != nil {
			writeDomainError(w, err, "request not found")
			return
		}
		if chainID == "" {
			chainID = req.EscalationChainID
		}
		if body.CurrentLevel == nil {
			level = req.EscalationLevel
		}
	}
	if !requireField(w, chainID, "chain_id") {
		return
	}

	res, err := h.Escalations.Escalate(r.Context(), tenantID, id, chainID, level)
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateChain handles POST /api/v1/escalations/chains.
func (h *Handlers) CreateChain(w http.ResponseWriter, r *http.Request) {
	c, ok := readJSON[escalation.Chain](w, r)
	if !ok {
		return
	}
	c.TenantID, _ = tenant(r)
	c.ID = ""
	if err := h.Escalations.RegisterChain(r.Context(), &c); err != nil {
		writeDomainError(w, err, "chain not found")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListChains handles GET /api/v1/escalations/chains.
func (h *Handlers) ListChains(w http.ResponseWriter, r *http.Request) {
	handleList(h.Escalations.ListChains)(w, r)
}

// --- Health ---

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	type healthStatus struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies,omitempty"`
	}
	status := healthStatus{Status: "ok"}
	code := http.StatusOK
	if h.Health != nil {
		status.Dependencies = h.Health(r.Context())
		for _, s := range status.Dependencies {
			if s != "ok" {
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, code, status)
}
