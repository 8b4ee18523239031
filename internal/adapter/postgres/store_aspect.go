package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/elicitor/internal/domain/voi"
)

const aspectColumns = `id, tenant_id, workflow_type, name, category, prior_belief, decision_impact_weight,
	error_cost_weight, ask_count, useful_answer_count, avg_information_gain, created_at, updated_at`

func scanAspect(row scannable) (voi.Aspect, error) {
	var a voi.Aspect
	var prior []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.WorkflowType, &a.Name, &a.Category, &prior,
		&a.DecisionImpactWeight, &a.ErrorCostWeight, &a.AskCount, &a.UsefulAnswerCount,
		&a.AvgInformationGain, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if err := decodeJSON(prior, &a.Prior); err != nil {
		return a, fmt.Errorf("decode prior belief: %w", err)
	}
	return a, nil
}

// --- Aspects ---

func (s *Store) GetAspect(ctx context.Context, tenantID, workflowType, name string) (*voi.Aspect, error) {
	a, err := scanAspect(s.pool.QueryRow(ctx,
		`SELECT `+aspectColumns+` FROM aspects
		 WHERE tenant_id = $1 AND workflow_type = $2 AND name = $3`,
		tenantID, workflowType, name))
	if err != nil {
		return nil, notFoundWrap(err, "get aspect %s/%s", workflowType, name)
	}
	return &a, nil
}

func (s *Store) GetAspectByID(ctx context.Context, tenantID, id string) (*voi.Aspect, error) {
	a, err := scanAspect(s.pool.QueryRow(ctx,
		`SELECT `+aspectColumns+` FROM aspects WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get aspect %s", id)
	}
	return &a, nil
}

// CreateAspect inserts the aspect. A concurrent insert of the same name is
// absorbed by the no-op update, which makes RETURNING yield the existing row.
func (s *Store) CreateAspect(ctx context.Context, a *voi.Aspect) (*voi.Aspect, error) {
	prior, err := json.Marshal(a.Prior)
	if err != nil {
		return nil, fmt.Errorf("marshal prior belief: %w", err)
	}
	created, err := scanAspect(s.pool.QueryRow(ctx,
		`INSERT INTO aspects (tenant_id, workflow_type, name, category, prior_belief,
			decision_impact_weight, error_cost_weight)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, workflow_type, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING `+aspectColumns,
		a.TenantID, a.WorkflowType, a.Name, a.Category, prior, a.DecisionImpactWeight, a.ErrorCostWeight))
	if err != nil {
		return nil, fmt.Errorf("create aspect %s: %w", a.Name, err)
	}
	return &created, nil
}

// ApplyAspectOutcome increments the counters in place so concurrent answers
// for one aspect never overwrite each other.
func (s *Store) ApplyAspectOutcome(ctx context.Context, tenantID, id string, r voi.OutcomeResult, learningRate float64) (*voi.Aspect, error) {
	useful := 0
	if r.Useful {
		useful = 1
	}
	a, err := scanAspect(s.pool.QueryRow(ctx,
		`UPDATE aspects SET ask_count = ask_count + 1,
			useful_answer_count = useful_answer_count + $3,
			avg_information_gain = avg_information_gain * (1 - $4::float8) + $5::float8 * $4::float8,
			updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+aspectColumns,
		id, tenantID, useful, voi.ClampLearningRate(learningRate), r.ActualInfoGain))
	if err != nil {
		return nil, notFoundWrap(err, "apply aspect outcome %s", id)
	}
	return &a, nil
}

// --- VOI decisions ---

func (s *Store) CreateVOIDecision(ctx context.Context, d *voi.Decision) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO voi_decisions (tenant_id, aspect_id, request_id, workflow_id, prior_entropy,
			expected_posterior_entropy, expected_information_gain, ask_cost, expected_decision_improvement,
			voi_score, threshold, decision, reasoning, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, COALESCE($14::timestamptz, now()))
		 RETURNING id`,
		d.TenantID, nullIfEmpty(d.AspectID), nullIfEmpty(d.RequestID), d.WorkflowID, d.PriorEntropy,
		d.ExpectedPosteriorEntropy, d.ExpectedInformationGain, d.AskCost, d.ExpectedDecisionImprovement,
		d.VOIScore, d.Threshold, string(d.Outcome), d.Reasoning, nullTime(d.CreatedAt),
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("create voi decision: %w", err)
	}
	return nil
}

func (s *Store) LinkVOIDecision(ctx context.Context, tenantID, decisionID, requestID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE voi_decisions SET request_id = $3 WHERE id = $1 AND tenant_id = $2`,
		decisionID, tenantID, requestID)
	if err := execExpectOne(tag, err, "link voi decision %s", decisionID); err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE approval_requests SET voi_decision_id = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2`,
		requestID, tenantID, decisionID)
	if err != nil {
		return fmt.Errorf("link request %s to decision: %w", requestID, err)
	}
	return nil
}
