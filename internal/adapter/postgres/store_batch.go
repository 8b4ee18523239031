package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/batch"
)

const batchColumns = `id, tenant_id, user_id, batch_type, correlation_key, status, embedding, sample_text,
	question_count, answered_count, skipped_count, has_blocking, window_start, window_end,
	presented_at, completed_at, created_at, updated_at`

func scanBatch(row scannable) (batch.Batch, error) {
	var b batch.Batch
	err := row.Scan(&b.ID, &b.TenantID, &b.UserID, &b.Type, &b.CorrelationKey, &b.Status, &b.Embedding,
		&b.SampleText, &b.QuestionCount, &b.AnsweredCount, &b.SkippedCount, &b.HasBlocking,
		&b.WindowStart, &b.WindowEnd, &b.PresentedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func collectBatches(ctx context.Context, s *Store, op, query string, args ...any) ([]batch.Batch, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []batch.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) FindCollectingBatch(ctx context.Context, key batch.Key) (*batch.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM question_batches
		 WHERE tenant_id = $1 AND user_id = $2 AND batch_type = $3 AND correlation_key = $4
		   AND status = 'collecting'
		 ORDER BY window_start DESC LIMIT 1`,
		key.TenantID, key.UserID, string(key.Type), key.CorrelationKey))
	if err != nil {
		return nil, notFoundWrap(err, "find collecting batch %s", key)
	}
	return &b, nil
}

// CreateBatch inserts b. Losing the race against another insert for the same
// key surfaces as domain.ErrConflict.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch) error {
	if b.Status == "" {
		b.Status = batch.StatusCollecting
	}
	var embedding any
	if len(b.Embedding) > 0 {
		embedding = b.Embedding
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO question_batches (tenant_id, user_id, batch_type, correlation_key, status, embedding,
			sample_text, question_count, has_blocking, window_start, window_end)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		b.TenantID, b.UserID, string(b.Type), b.CorrelationKey, string(b.Status), embedding,
		b.SampleText, b.QuestionCount, b.HasBlocking, b.WindowStart, b.WindowEnd,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create batch %s: %w", b.CorrelationKey, domain.ErrConflict)
		}
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, tenantID, id string) (*batch.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM question_batches WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get batch %s", id)
	}
	return &b, nil
}

func (s *Store) ListCollectingSemanticBatches(ctx context.Context, tenantID, userID string) ([]batch.Batch, error) {
	return collectBatches(ctx, s, "list semantic batches",
		`SELECT `+batchColumns+` FROM question_batches
		 WHERE tenant_id = $1 AND user_id = $2 AND batch_type = 'semantic' AND status = 'collecting'
		 ORDER BY window_start DESC`, tenantID, userID)
}

// AddQuestionToBatch counts one more question. It fails with ErrNotFound when
// the batch stopped collecting in the meantime.
func (s *Store) AddQuestionToBatch(ctx context.Context, tenantID, id string, blocking bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE question_batches
		 SET question_count = question_count + 1, has_blocking = has_blocking OR $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = 'collecting'`,
		id, tenantID, blocking)
	return execExpectOne(tag, err, "add question to batch %s", id)
}

func (s *Store) RecordBatchAnswer(ctx context.Context, tenantID, id string, skipped bool) (*batch.Batch, error) {
	answered, skip := 1, 0
	if skipped {
		answered, skip = 0, 1
	}
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`UPDATE question_batches
		 SET answered_count = answered_count + $3,
		     skipped_count = skipped_count + $4,
		     status = CASE WHEN answered_count + skipped_count + 1 >= question_count THEN 'completed' ELSE status END,
		     completed_at = CASE WHEN answered_count + skipped_count + 1 >= question_count THEN now() ELSE completed_at END,
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('collecting', 'ready', 'presented')
		 RETURNING `+batchColumns,
		id, tenantID, answered, skip))
	if err != nil {
		return nil, notFoundWrap(err, "record batch answer %s", id)
	}
	return &b, nil
}

func (s *Store) TransitionBatch(ctx context.Context, tenantID, id string, from []batch.Status, to batch.Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE question_batches
		 SET status = $4,
		     presented_at = CASE WHEN $4 = 'presented' THEN now() ELSE presented_at END,
		     completed_at = CASE WHEN $4 = 'completed' THEN now() ELSE completed_at END,
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = ANY($3)`,
		id, tenantID, fromStrs, string(to))
	if err != nil {
		return false, fmt.Errorf("transition batch %s to %s: %w", id, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListReadyBatches returns ready batches in presentation order. An empty
// userID lists every user in the tenant.
func (s *Store) ListReadyBatches(ctx context.Context, tenantID, userID string) ([]batch.Batch, error) {
	return collectBatches(ctx, s, "list ready batches",
		`SELECT `+batchColumns+` FROM question_batches
		 WHERE tenant_id = $1 AND ($2 = '' OR user_id = $2) AND status = 'ready'
		 ORDER BY has_blocking DESC, window_start ASC`, tenantID, userID)
}

func (s *Store) CloseDueBatches(ctx context.Context, now time.Time, maxSize int) ([]batch.Batch, error) {
	return collectBatches(ctx, s, "close due batches",
		`UPDATE question_batches SET status = 'ready', updated_at = now()
		 WHERE status = 'collecting' AND question_count > 0
		   AND (window_end <= $1 OR question_count >= $2)
		 RETURNING `+batchColumns, now, maxSize)
}

func (s *Store) ExpireStaleBatches(ctx context.Context, cutoff time.Time) ([]batch.Batch, error) {
	return collectBatches(ctx, s, "expire stale batches",
		`UPDATE question_batches SET status = 'expired', updated_at = now()
		 WHERE status IN ('collecting', 'ready') AND window_start < $1
		 RETURNING `+batchColumns, cutoff)
}
