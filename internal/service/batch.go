package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/elicitor/internal/adapter/otel"
	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/batch"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/port/database"
	"github.com/Strob0t/elicitor/internal/port/embedding"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
)

// BatchStore is the persistence BatchService needs.
type BatchStore interface {
	database.BatchStore
	ListRequestsByBatch(ctx context.Context, tenantID, batchID string) ([]elicitation.Request, error)
}

// BatchInput describes one question to route into a batch.
type BatchInput struct {
	TenantID  string
	UserID    string
	RequestID string
	Question  string
	Context   map[string]any
	Blocking  bool
}

// PresentedBatch is a batch with its questions in presentation order.
type PresentedBatch struct {
	Batch     batch.Batch      `json:"batch"`
	Questions []batch.Question `json:"questions"`
}

// BatchService groups pending questions so a human sees them together.
type BatchService struct {
	store    BatchStore
	embedder embedding.Embedder
	cfg      batch.Config
	events   *EventPublisher
	metrics  *otel.Metrics
	now      func() time.Time
}

// NewBatchService creates a BatchService. embedder may be nil, in which case
// semantic matching uses keyword overlap.
func NewBatchService(store BatchStore, embedder embedding.Embedder, cfg batch.Config, events *EventPublisher, metrics *otel.Metrics) *BatchService {
	return &BatchService{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		events:   events,
		metrics:  metrics,
		now:      time.Now,
	}
}

// BatchQuestion routes a question to a batch. Strategies are tried in order:
// correlation key, semantic similarity, then the user's time window.
func (s *BatchService) BatchQuestion(ctx context.Context, in BatchInput) (batch.Assignment, error) {
	if key := batch.CorrelationKey(in.Context, s.cfg.CorrelationKeys); key != "" {
		return s.assignKeyed(ctx, in, batch.Key{
			TenantID:       in.TenantID,
			UserID:         in.UserID,
			Type:           batch.TypeCorrelation,
			CorrelationKey: key,
		})
	}

	a, ok, err := s.assignSemantic(ctx, in)
	if err != nil {
		return batch.Assignment{}, err
	}
	if ok {
		return a, nil
	}

	return s.assignKeyed(ctx, in, batch.Key{TenantID: in.TenantID, UserID: in.UserID, Type: batch.TypeTimeWindow})
}

// assignKeyed reuses the collecting batch for key or creates it. A lost
// creation race or a batch closed underneath us is retried once.
func (s *BatchService) assignKeyed(ctx context.Context, in BatchInput, key batch.Key) (batch.Assignment, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		b, isNew, err := s.findOrCreate(ctx, in, key)
		if err != nil {
			return batch.Assignment{}, err
		}
		if !isNew {
			err = s.store.AddQuestionToBatch(ctx, in.TenantID, b.ID, in.Blocking)
			if errors.Is(err, domain.ErrNotFound) {
				lastErr = err
				continue
			}
			if err != nil {
				return batch.Assignment{}, fmt.Errorf("add question to batch %s: %w", b.ID, err)
			}
		}
		return batch.Assignment{BatchID: b.ID, IsNew: isNew, Type: key.Type}, nil
	}
	return batch.Assignment{}, fmt.Errorf("assign %s batch: %w", key.Type, lastErr)
}

func (s *BatchService) findOrCreate(ctx context.Context, in BatchInput, key batch.Key) (*batch.Batch, bool, error) {
	now := s.now().UTC()

	existing, err := s.store.FindCollectingBatch(ctx, key)
	switch {
	case err == nil:
		if s.accepts(existing, now) {
			return existing, false, nil
		}
		// Expired window or full: hand it to the human and start a new one.
		s.close(ctx, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("find batch %s: %w", key, err)
	}

	b := s.newBatch(in, key, now)
	err = s.store.CreateBatch(ctx, b)
	if errors.Is(err, domain.ErrConflict) {
		// Another request created the same batch first; join it.
		winner, ferr := s.store.FindCollectingBatch(ctx, key)
		if ferr != nil {
			return nil, false, fmt.Errorf("find batch after conflict %s: %w", key, ferr)
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create batch %s: %w", key, err)
	}
	s.metrics.RecordBatchCreated(ctx, string(key.Type))
	slog.Debug("batch created", "tenant_id", in.TenantID, "batch_id", b.ID, "batch_type", key.Type)
	return b, true, nil
}

func (s *BatchService) accepts(b *batch.Batch, now time.Time) bool {
	if b.Full(s.cfg.MaxBatchSize) {
		return false
	}
	if b.Type == batch.TypeTimeWindow {
		return batch.WindowOpen(*b, now)
	}
	return true
}

func (s *BatchService) newBatch(in BatchInput, key batch.Key, now time.Time) *batch.Batch {
	return &batch.Batch{
		TenantID:       in.TenantID,
		UserID:         in.UserID,
		Type:           key.Type,
		CorrelationKey: key.CorrelationKey,
		Status:         batch.StatusCollecting,
		SampleText:     in.Question,
		QuestionCount:  1,
		HasBlocking:    in.Blocking,
		WindowStart:    now,
		WindowEnd:      now.Add(s.cfg.Window()),
	}
}

// assignSemantic joins the most similar open semantic batch. The question is
// only embedded when there is a candidate to compare against or a batch to
// seed. A failing embedder degrades to keyword overlap.
func (s *BatchService) assignSemantic(ctx context.Context, in BatchInput) (batch.Assignment, bool, error) {
	candidates, err := s.store.ListCollectingSemanticBatches(ctx, in.TenantID, in.UserID)
	if err != nil {
		return batch.Assignment{}, false, fmt.Errorf("list semantic batches: %w", err)
	}

	now := s.now().UTC()
	open := candidates[:0]
	for _, c := range candidates {
		if s.accepts(&c, now) {
			open = append(open, c)
		}
	}
	if len(open) == 0 && !s.cfg.SeedSemanticBatches {
		return batch.Assignment{}, false, nil
	}

	var vec []float32
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, in.Question)
		if err != nil {
			slog.Warn("embedding unavailable, using keyword overlap", "dependency", "embedding", "error", err)
		} else {
			vec = v
		}
	}

	if best, score, ok := batch.BestSemanticMatch(open, in.Question, vec, s.cfg); ok {
		err := s.store.AddQuestionToBatch(ctx, in.TenantID, best.ID, in.Blocking)
		if err == nil {
			slog.Debug("semantic batch match", "batch_id", best.ID, "score", score)
			return batch.Assignment{BatchID: best.ID, Type: batch.TypeSemantic}, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return batch.Assignment{}, false, fmt.Errorf("add question to batch %s: %w", best.ID, err)
		}
	}

	if !s.cfg.SeedSemanticBatches {
		return batch.Assignment{}, false, nil
	}

	b := s.newBatch(in, batch.Key{TenantID: in.TenantID, UserID: in.UserID, Type: batch.TypeSemantic}, now)
	b.Embedding = vec
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return batch.Assignment{}, false, fmt.Errorf("create semantic batch: %w", err)
	}
	s.metrics.RecordBatchCreated(ctx, string(batch.TypeSemantic))
	return batch.Assignment{BatchID: b.ID, IsNew: true, Type: batch.TypeSemantic}, true, nil
}

// Close moves a collecting batch to ready. Closing an already ready batch is a no-op.
func (s *BatchService) Close(ctx context.Context, tenantID, id string) (*batch.Batch, error) {
	b, err := s.store.GetBatch(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case batch.StatusReady:
		return b, nil
	case batch.StatusCollecting:
	default:
		return nil, fmt.Errorf("batch %s is %s: %w", id, b.Status, domain.ErrConflict)
	}
	if !s.close(ctx, b) {
		return nil, fmt.Errorf("batch %s changed concurrently: %w", id, domain.ErrConflict)
	}
	b.Status = batch.StatusReady
	return b, nil
}

func (s *BatchService) close(ctx context.Context, b *batch.Batch) bool {
	ok, err := s.store.TransitionBatch(ctx, b.TenantID, b.ID, []batch.Status{batch.StatusCollecting}, batch.StatusReady)
	if err != nil {
		slog.Warn("close batch failed", "batch_id", b.ID, "error", err)
		return false
	}
	if ok {
		ready := *b
		ready.Status = batch.StatusReady
		s.emit(ctx, messagequeue.SubjectBatchReady, &ready)
	}
	return ok
}

// Present marks a ready batch as shown to the human and returns its
// questions in presentation order.
func (s *BatchService) Present(ctx context.Context, tenantID, id string) (*PresentedBatch, error) {
	ok, err := s.store.TransitionBatch(ctx, tenantID, id, []batch.Status{batch.StatusReady}, batch.StatusPresented)
	if err != nil {
		return nil, fmt.Errorf("present batch %s: %w", id, err)
	}
	b, err := s.store.GetBatch(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !ok && b.Status != batch.StatusPresented {
		return nil, fmt.Errorf("batch %s is %s: %w", id, b.Status, domain.ErrConflict)
	}

	reqs, err := s.store.ListRequestsByBatch(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("list batch questions: %w", err)
	}
	qs := make([]batch.Question, 0, len(reqs))
	for _, r := range reqs {
		if !r.Status.Open() {
			continue
		}
		qs = append(qs, batch.Question{
			RequestID: r.ID,
			Question:  r.Question,
			Urgency:   r.Priority,
			CreatedAt: r.CreatedAt,
		})
	}
	batch.SortQuestions(qs)
	return &PresentedBatch{Batch: *b, Questions: qs}, nil
}

// Ready lists batches awaiting presentation, blocking ones first.
func (s *BatchService) Ready(ctx context.Context, tenantID, userID string) ([]batch.Batch, error) {
	bs, err := s.store.ListReadyBatches(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list ready batches: %w", err)
	}
	batch.SortBatches(bs)
	return bs, nil
}

// RecordAnswer counts a resolved question and reports whether the batch completed.
func (s *BatchService) RecordAnswer(ctx context.Context, tenantID, id string, skipped bool) (bool, error) {
	b, err := s.store.RecordBatchAnswer(ctx, tenantID, id, skipped)
	if err != nil {
		return false, fmt.Errorf("record batch answer: %w", err)
	}
	if b.Status != batch.StatusCompleted {
		return false, nil
	}
	s.metrics.RecordBatchCompleted(ctx)
	s.emit(ctx, messagequeue.SubjectBatchCompleted, b)
	return true, nil
}

// CloseDue moves batches whose window elapsed or that are full to ready.
func (s *BatchService) CloseDue(ctx context.Context) (int, error) {
	bs, err := s.store.CloseDueBatches(ctx, s.now().UTC(), s.cfg.MaxBatchSize)
	if err != nil {
		return 0, fmt.Errorf("close due batches: %w", err)
	}
	for i := range bs {
		s.emit(ctx, messagequeue.SubjectBatchReady, &bs[i])
	}
	return len(bs), nil
}

// ExpireStale expires collecting and ready batches older than the configured age.
func (s *BatchService) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.ExpireAfter)
	bs, err := s.store.ExpireStaleBatches(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale batches: %w", err)
	}
	for i := range bs {
		s.emit(ctx, messagequeue.SubjectBatchExpired, &bs[i])
	}
	s.metrics.RecordBatchesExpired(ctx, len(bs))
	return len(bs), nil
}

func (s *BatchService) emit(ctx context.Context, subject string, b *batch.Batch) {
	s.events.Publish(ctx, subject, messagequeue.BatchPayload{
		TenantID:      b.TenantID,
		BatchID:       b.ID,
		UserID:        b.UserID,
		BatchType:     string(b.Type),
		Status:        string(b.Status),
		QuestionCount: b.QuestionCount,
		HasBlocking:   b.HasBlocking,
	})
}
