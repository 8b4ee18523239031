package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
)

const requestColumns = `id, tenant_id, user_id, workflow_id, workflow_type, queue_id, request_type, priority,
	question, question_type, options, response_schema, context, fingerprint, default_value, status,
	response, responded_by, aspect_id, voi_decision_id, batch_id, escalation_level, escalation_chain_id,
	escalated_at, final_action_executed_at, expires_at, responded_at, created_at, updated_at`

const openRequestStatuses = `('pending', 'escalated')`

func scanRequest(row scannable) (elicitation.Request, error) {
	var r elicitation.Request
	var queueID, aspectID, decisionID, batchID, chainID *string
	var options, schema, qctx, defaultValue, response []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.UserID, &r.WorkflowID, &r.WorkflowType, &queueID, &r.RequestType,
		&r.Priority, &r.Question, &r.QuestionType, &options, &schema, &qctx, &r.Fingerprint, &defaultValue,
		&r.Status, &response, &r.RespondedBy, &aspectID, &decisionID, &batchID, &r.EscalationLevel, &chainID,
		&r.EscalatedAt, &r.FinalActionExecutedAt, &r.ExpiresAt, &r.RespondedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.QueueID = derefString(queueID)
	r.AspectID = derefString(aspectID)
	r.VOIDecisionID = derefString(decisionID)
	r.BatchID = derefString(batchID)
	r.EscalationChainID = derefString(chainID)

	if err := decodeJSON(options, &r.Options); err != nil {
		return r, fmt.Errorf("decode options: %w", err)
	}
	if len(schema) > 0 {
		r.ResponseSchema = &elicitation.Schema{}
		if err := decodeJSON(schema, r.ResponseSchema); err != nil {
			return r, fmt.Errorf("decode response schema: %w", err)
		}
	}
	if err := decodeJSON(qctx, &r.Context); err != nil {
		return r, fmt.Errorf("decode context: %w", err)
	}
	if err := decodeJSON(defaultValue, &r.DefaultValue); err != nil {
		return r, fmt.Errorf("decode default value: %w", err)
	}
	if err := decodeJSON(response, &r.Response); err != nil {
		return r, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}

func collectRequests(ctx context.Context, s *Store, op, query string, args ...any) ([]elicitation.Request, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []elicitation.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRequest(ctx context.Context, r *elicitation.Request) error {
	return s.insertRequest(ctx, s.pool, r)
}

// CreateWorkflowRequest serializes inserts per workflow with a transaction
// scoped advisory lock, so concurrent asks cannot both pass the cap.
func (s *Store) CreateWorkflowRequest(ctx context.Context, r *elicitation.Request, maxPerWorkflow int) error {
	if maxPerWorkflow <= 0 || r.WorkflowID == "" {
		return s.CreateRequest(ctx, r)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text || '/' || $2::text, 0))`,
		r.TenantID, r.WorkflowID); err != nil {
		return fmt.Errorf("lock workflow %s: %w", r.WorkflowID, err)
	}
	var n int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM approval_requests
		 WHERE tenant_id = $1 AND workflow_id = $2 AND status <> 'cancelled'`,
		r.TenantID, r.WorkflowID).Scan(&n); err != nil {
		return fmt.Errorf("count workflow questions %s: %w", r.WorkflowID, err)
	}
	if n >= maxPerWorkflow {
		return fmt.Errorf("workflow %s has %d questions: %w", r.WorkflowID, n, domain.ErrLimitReached)
	}
	if err := s.insertRequest(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit request: %w", err)
	}
	return nil
}

func (s *Store) insertRequest(ctx context.Context, q querier, r *elicitation.Request) error {
	options, err := jsonValue(orEmpty(r.Options))
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	var schema []byte
	if r.ResponseSchema != nil {
		if schema, err = jsonValue(r.ResponseSchema); err != nil {
			return fmt.Errorf("marshal response schema: %w", err)
		}
	}
	qctx := r.Context
	if qctx == nil {
		qctx = map[string]any{}
	}
	ctxJSON, err := jsonValue(qctx)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	defaultValue, err := jsonValue(r.DefaultValue)
	if err != nil {
		return fmt.Errorf("marshal default value: %w", err)
	}
	if r.Status == "" {
		r.Status = elicitation.StatusPending
	}

	err = q.QueryRow(ctx,
		`INSERT INTO approval_requests (tenant_id, user_id, workflow_id, workflow_type, queue_id, request_type,
			priority, question, question_type, options, response_schema, context, fingerprint, default_value,
			status, aspect_id, voi_decision_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id, created_at, updated_at`,
		r.TenantID, r.UserID, r.WorkflowID, r.WorkflowType, nullIfEmpty(r.QueueID), r.RequestType,
		r.Priority, r.Question, string(r.QuestionType), options, schema, ctxJSON, r.Fingerprint, defaultValue,
		string(r.Status), nullIfEmpty(r.AspectID), nullIfEmpty(r.VOIDecisionID), r.ExpiresAt,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, tenantID, id string) (*elicitation.Request, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get request %s", id)
	}
	return &r, nil
}

// CountWorkflowQuestions counts questions actually put to a human in the
// workflow. Cancelled rows are requests whose ask step failed.
func (s *Store) CountWorkflowQuestions(ctx context.Context, tenantID, workflowID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM approval_requests
		 WHERE tenant_id = $1 AND workflow_id = $2 AND status <> 'cancelled'`,
		tenantID, workflowID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workflow questions %s: %w", workflowID, err)
	}
	return n, nil
}

func (s *Store) SetRequestBatch(ctx context.Context, tenantID, id, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET batch_id = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, batchID)
	return execExpectOne(tag, err, "set request batch %s", id)
}

func (s *Store) ListRequestsByBatch(ctx context.Context, tenantID, batchID string) ([]elicitation.Request, error) {
	return collectRequests(ctx, s, "list requests by batch",
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE tenant_id = $1 AND batch_id = $2 ORDER BY created_at ASC`, tenantID, batchID)
}

func (s *Store) ResolveRequest(ctx context.Context, tenantID, id string, status elicitation.Status, response any, respondedBy string) (bool, error) {
	payload, err := jsonValue(response)
	if err != nil {
		return false, fmt.Errorf("marshal response: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests
		 SET status = $3, response = $4, responded_by = $5, responded_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN `+openRequestStatuses,
		id, tenantID, string(status), payload, respondedBy)
	if err != nil {
		return false, fmt.Errorf("resolve request %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) EscalateRequest(ctx context.Context, tenantID, id string, newLevel int, chainID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests
		 SET status = 'escalated', escalation_level = $3, escalation_chain_id = $4,
		     escalated_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND escalation_level < $3
		   AND final_action_executed_at IS NULL AND status IN `+openRequestStatuses,
		id, tenantID, newLevel, nullIfEmpty(chainID))
	if err != nil {
		return false, fmt.Errorf("escalate request %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ClaimFinalAction(ctx context.Context, tenantID, id string, status elicitation.Status, response any) (bool, error) {
	payload, err := jsonValue(response)
	if err != nil {
		return false, fmt.Errorf("marshal response: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests
		 SET final_action_executed_at = now(), status = $3, response = COALESCE($4, response),
		     responded_by = CASE WHEN $3 IN ('pending', 'escalated') THEN responded_by ELSE 'system' END,
		     responded_at = CASE WHEN $3 IN ('pending', 'escalated') THEN responded_at ELSE now() END,
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND final_action_executed_at IS NULL
		   AND status IN `+openRequestStatuses,
		id, tenantID, string(status), payload)
	if err != nil {
		return false, fmt.Errorf("claim final action %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListEscalationCandidates returns open requests attached to a queue or
// chain, oldest escalation first. Deadlines are evaluated by the caller.
func (s *Store) ListEscalationCandidates(ctx context.Context, limit int) ([]elicitation.Request, error) {
	return collectRequests(ctx, s, "list escalation candidates",
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE status IN `+openRequestStatuses+`
		   AND final_action_executed_at IS NULL
		   AND (queue_id IS NOT NULL OR escalation_chain_id IS NOT NULL)
		 ORDER BY COALESCE(escalated_at, created_at) ASC
		 LIMIT $1`, limit)
}

// ListExpiredRequests returns pending requests past their deadline that no
// escalation chain will pick up.
func (s *Store) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]elicitation.Request, error) {
	return collectRequests(ctx, s, "list expired requests",
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		   AND queue_id IS NULL AND escalation_chain_id IS NULL
		 ORDER BY expires_at ASC
		 LIMIT $2`, now, limit)
}
