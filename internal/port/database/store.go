// Package database defines the persistence ports, one interface per aggregate.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/batch"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/escalation"
	"github.com/Strob0t/elicitor/internal/domain/voi"
)

// AspectStore persists VOI aspects. Aspects are never deleted.
type AspectStore interface {
	GetAspect(ctx context.Context, tenantID, workflowType, name string) (*voi.Aspect, error)
	GetAspectByID(ctx context.Context, tenantID, id string) (*voi.Aspect, error)
	// CreateAspect inserts a, or returns the existing row for the same
	// (tenant, workflow type, name).
	CreateAspect(ctx context.Context, a *voi.Aspect) (*voi.Aspect, error)
	// ApplyAspectOutcome folds r into the aspect's counters in a single
	// atomic update and returns the updated row.
	ApplyAspectOutcome(ctx context.Context, tenantID, id string, r voi.OutcomeResult, learningRate float64) (*voi.Aspect, error)
}

// DecisionStore persists VOI decisions for audit and reconciliation.
type DecisionStore interface {
	CreateVOIDecision(ctx context.Context, d *voi.Decision) error
	LinkVOIDecision(ctx context.Context, tenantID, decisionID, requestID string) error
}

// RequestStore persists approval requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *elicitation.Request) error
	// CreateWorkflowRequest inserts r unless its workflow already holds
	// maxPerWorkflow live requests, in which case it returns
	// domain.ErrLimitReached. Count and insert are atomic per workflow.
	CreateWorkflowRequest(ctx context.Context, r *elicitation.Request, maxPerWorkflow int) error
	GetRequest(ctx context.Context, tenantID, id string) (*elicitation.Request, error)
	CountWorkflowQuestions(ctx context.Context, tenantID, workflowID string) (int, error)
	SetRequestBatch(ctx context.Context, tenantID, id, batchID string) error
	ListRequestsByBatch(ctx context.Context, tenantID, batchID string) ([]elicitation.Request, error)
	// ResolveRequest moves an open request to status. It reports false when
	// the request was already resolved.
	ResolveRequest(ctx context.Context, tenantID, id string, status elicitation.Status, response any, respondedBy string) (bool, error)
	// EscalateRequest raises the escalation level. It reports false when the
	// stored level is already at or above newLevel or the request is closed.
	EscalateRequest(ctx context.Context, tenantID, id string, newLevel int, chainID string) (bool, error)
	// ClaimFinalAction marks the chain's final action as executed and applies
	// status. It reports false when the action already ran.
	ClaimFinalAction(ctx context.Context, tenantID, id string, status elicitation.Status, response any) (bool, error)
	ListEscalationCandidates(ctx context.Context, limit int) ([]elicitation.Request, error)
	ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]elicitation.Request, error)
}

// BatchStore persists question batches.
type BatchStore interface {
	// FindCollectingBatch returns the collecting batch for key or ErrNotFound.
	FindCollectingBatch(ctx context.Context, key batch.Key) (*batch.Batch, error)
	// CreateBatch inserts b. A concurrent insert for the same key yields ErrConflict.
	CreateBatch(ctx context.Context, b *batch.Batch) error
	GetBatch(ctx context.Context, tenantID, id string) (*batch.Batch, error)
	ListCollectingSemanticBatches(ctx context.Context, tenantID, userID string) ([]batch.Batch, error)
	AddQuestionToBatch(ctx context.Context, tenantID, id string, blocking bool) error
	// RecordBatchAnswer counts one answered or skipped question and completes
	// the batch once every question is resolved.
	RecordBatchAnswer(ctx context.Context, tenantID, id string, skipped bool) (*batch.Batch, error)
	// TransitionBatch moves the batch to status "to" only from one of "from".
	TransitionBatch(ctx context.Context, tenantID, id string, from []batch.Status, to batch.Status) (bool, error)
	ListReadyBatches(ctx context.Context, tenantID, userID string) ([]batch.Batch, error)
	CloseDueBatches(ctx context.Context, now time.Time, maxSize int) ([]batch.Batch, error)
	ExpireStaleBatches(ctx context.Context, cutoff time.Time) ([]batch.Batch, error)
}

// EscalationStore persists chains, queues and on-call schedules.
type EscalationStore interface {
	CreateChain(ctx context.Context, c *escalation.Chain) error
	GetChain(ctx context.Context, tenantID, id string) (*escalation.Chain, error)
	// ListChains returns chains in registration order.
	ListChains(ctx context.Context, tenantID string) ([]escalation.Chain, error)
	CreateQueue(ctx context.Context, q *escalation.Queue) error
	GetQueue(ctx context.Context, tenantID, id string) (*escalation.Queue, error)
	CreateSchedule(ctx context.Context, s *escalation.Schedule) error
	ListActiveSchedules(ctx context.Context, tenantID string, now time.Time) ([]escalation.Schedule, error)
}

// DirectoryStore resolves roles and groups to user IDs.
type DirectoryStore interface {
	ListUsersByRole(ctx context.Context, tenantID, role string) ([]string, error)
	ListGroupMembers(ctx context.Context, tenantID, groupID string) ([]string, error)
	ListTenantAdmins(ctx context.Context, tenantID string) ([]string, error)
}

// AbstentionStore persists per-tenant abstention policy and events.
type AbstentionStore interface {
	// GetAbstentionConfig returns ErrNotFound when the tenant has no override.
	GetAbstentionConfig(ctx context.Context, tenantID string) (*abstention.Config, error)
	UpsertAbstentionConfig(ctx context.Context, tenantID string, cfg *abstention.Config) error
	CreateAbstentionEvent(ctx context.Context, e *abstention.Event) error
}

// Store is the full persistence port.
type Store interface {
	AspectStore
	DecisionStore
	RequestStore
	BatchStore
	EscalationStore
	DirectoryStore
	AbstentionStore
}
