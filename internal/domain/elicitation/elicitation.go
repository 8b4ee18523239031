// Package elicitation defines the contract between an agent that needs a
// human answer and the surface that collects it.
package elicitation

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/voi"
)

// QuestionType determines how an answer is shaped and validated.
type QuestionType string

const (
	TypeYesNo          QuestionType = "yes_no"
	TypeConfirmation   QuestionType = "confirmation"
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeFreeText       QuestionType = "free_text"
	TypeNumeric        QuestionType = "numeric"
	TypeStructured     QuestionType = "structured"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeYesNo, TypeConfirmation, TypeMultipleChoice, TypeFreeText, TypeNumeric, TypeStructured:
		return true
	}
	return false
}

// Action is the human's disposition of a request.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionCancel  Action = "cancel"
)

// Status is the lifecycle state of a persisted request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEscalated Status = "escalated"
	StatusAnswered  Status = "answered"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDefaulted Status = "defaulted"
	StatusExpired   Status = "expired"
)

// Open reports whether the request still awaits a human.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusEscalated
}

// StatusForAction maps a response action to the resulting request status.
func StatusForAction(a Action) (Status, error) {
	switch a {
	case ActionAccept:
		return StatusAnswered, nil
	case ActionDecline:
		return StatusDeclined, nil
	case ActionCancel:
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown action %q: %w", a, domain.ErrValidation)
}

// Option is one selectable answer.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	IsDefault   bool   `json:"is_default,omitempty"`
}

// AskUserRequest is what an agent submits when it wants to ask a human.
type AskUserRequest struct {
	Question       string         `json:"question"`
	QuestionType   QuestionType   `json:"question_type"`
	Options        []Option       `json:"options,omitempty"`
	ResponseSchema *Schema        `json:"response_schema,omitempty"`
	Urgency        voi.Urgency    `json:"urgency,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	DefaultValue   any            `json:"default_value,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
	WorkflowType   string         `json:"workflow_type,omitempty"`
	AspectName     string         `json:"aspect_name,omitempty"`
	RequestType    string         `json:"request_type,omitempty"`
	QueueID        string         `json:"queue_id,omitempty"`
}

// Validate normalizes defaults and rejects malformed requests.
func (r *AskUserRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return fmt.Errorf("question is required: %w", domain.ErrValidation)
	}
	if len(r.Question) > 4000 {
		return fmt.Errorf("question exceeds 4000 characters: %w", domain.ErrValidation)
	}
	if r.QuestionType == "" {
		r.QuestionType = TypeFreeText
		if len(r.Options) > 0 {
			r.QuestionType = TypeMultipleChoice
		}
	}
	if !r.QuestionType.Valid() {
		return fmt.Errorf("unknown question type %q: %w", r.QuestionType, domain.ErrValidation)
	}
	if r.QuestionType == TypeMultipleChoice && len(r.Options) == 0 {
		return fmt.Errorf("multiple_choice requires options: %w", domain.ErrValidation)
	}
	if r.Urgency == "" {
		r.Urgency = voi.UrgencyNormal
	}
	switch r.Urgency {
	case voi.UrgencyBlocking, voi.UrgencyHigh, voi.UrgencyNormal, voi.UrgencyLow, voi.UrgencyOptional:
	default:
		return fmt.Errorf("unknown urgency %q: %w", r.Urgency, domain.ErrValidation)
	}
	if r.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative: %w", domain.ErrValidation)
	}
	if r.WorkflowID == "" {
		if v, ok := r.Context["workflow_id"].(string); ok {
			r.WorkflowID = v
		}
	}
	if r.WorkflowType == "" {
		r.WorkflowType = "default"
	}
	return nil
}

// OptionIDs returns the option identifiers in order.
func (r *AskUserRequest) OptionIDs() []string {
	ids := make([]string, 0, len(r.Options))
	for _, o := range r.Options {
		ids = append(ids, o.ID)
	}
	return ids
}

// AskUserResponse is the human's reply.
type AskUserResponse struct {
	RequestID   string `json:"request_id"`
	Action      Action `json:"action"`
	Response    any    `json:"response,omitempty"`
	RespondedBy string `json:"responded_by,omitempty"`
}

// Request is a persisted question awaiting or holding an answer.
type Request struct {
	ID                    string         `json:"id"`
	TenantID              string         `json:"tenant_id"`
	UserID                string         `json:"user_id,omitempty"`
	WorkflowID            string         `json:"workflow_id,omitempty"`
	WorkflowType          string         `json:"workflow_type,omitempty"`
	QueueID               string         `json:"queue_id,omitempty"`
	RequestType           string         `json:"request_type"`
	Priority              string         `json:"priority"`
	Question              string         `json:"question"`
	QuestionType          QuestionType   `json:"question_type"`
	Options               []Option       `json:"options,omitempty"`
	ResponseSchema        *Schema        `json:"response_schema,omitempty"`
	Context               map[string]any `json:"context,omitempty"`
	Fingerprint           string         `json:"fingerprint"`
	DefaultValue          any            `json:"default_value,omitempty"`
	Status                Status         `json:"status"`
	Response              any            `json:"response,omitempty"`
	RespondedBy           string         `json:"responded_by,omitempty"`
	AspectID              string         `json:"aspect_id,omitempty"`
	VOIDecisionID         string         `json:"voi_decision_id,omitempty"`
	BatchID               string         `json:"batch_id,omitempty"`
	EscalationLevel       int            `json:"escalation_level"`
	EscalationChainID     string         `json:"escalation_chain_id,omitempty"`
	EscalatedAt           *time.Time     `json:"escalated_at,omitempty"`
	FinalActionExecutedAt *time.Time     `json:"final_action_executed_at,omitempty"`
	ExpiresAt             *time.Time     `json:"expires_at,omitempty"`
	RespondedAt           *time.Time     `json:"responded_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// Assumption is the value an agent proceeds with when no human is asked.
type Assumption struct {
	Value      any     `json:"value"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Assumption sources.
const (
	SourceDefaultValue  = "default_value"
	SourceDefaultOption = "default_option"
	SourceInferred      = "inferred"
	SourceTypeDefault   = "type_default"
)

// Result is the outcome of submitting an AskUserRequest.
type Result struct {
	ShouldAsk      bool        `json:"should_ask"`
	RequestID      string      `json:"request_id,omitempty"`
	BatchID        string      `json:"batch_id,omitempty"`
	IsNewBatch     bool        `json:"is_new_batch,omitempty"`
	Decision       voi.Outcome `json:"decision,omitempty"`
	VOIDecisionID  string      `json:"voi_decision_id,omitempty"`
	VOIScore       float64     `json:"voi_score"`
	Reasoning      string      `json:"reasoning,omitempty"`
	Assumption     *Assumption `json:"assumption,omitempty"`
	RateLimited    bool        `json:"rate_limited,omitempty"`
	BlockedBy      string      `json:"blocked_by,omitempty"`
	Deduplicated   bool        `json:"deduplicated,omitempty"`
	CachedResponse any         `json:"cached_response,omitempty"`
	CacheID        string      `json:"cache_id,omitempty"`
	HitCount       int         `json:"hit_count,omitempty"`
}

// ResponseResult is the outcome of recording a human reply.
type ResponseResult struct {
	RequestID        string   `json:"request_id"`
	Status           Status   `json:"status"`
	BatchCompleted   bool     `json:"batch_completed,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}
