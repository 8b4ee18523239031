package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/batch"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/escalation"
	"github.com/Strob0t/elicitor/internal/domain/voi"
	"github.com/Strob0t/elicitor/internal/port/database"
	"github.com/Strob0t/elicitor/internal/port/dedup"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
	"github.com/Strob0t/elicitor/internal/port/notifier"
	"github.com/Strob0t/elicitor/internal/port/ratelimit"
)

var _ database.Store = (*memStore)(nil)

// memStore is an in-memory database.Store.
type memStore struct {
	mu sync.Mutex

	aspects     map[string]*voi.Aspect
	decisions   []voi.Decision
	requests    map[string]*elicitation.Request
	batches     map[string]*batch.Batch
	chains      []escalation.Chain
	queues      map[string]*escalation.Queue
	schedules   []escalation.Schedule
	roles       map[string][]string
	groups      map[string][]string
	admins      []string
	absConfig   map[string]*abstention.Config
	absEvents   []abstention.Event
	finalClaims int

	createBatchErr error
	createReqErr   error
	getAbsCfgErr   error
	absEventErr    error
}

func newMemStore() *memStore {
	return &memStore{
		aspects:   make(map[string]*voi.Aspect),
		requests:  make(map[string]*elicitation.Request),
		batches:   make(map[string]*batch.Batch),
		queues:    make(map[string]*escalation.Queue),
		roles:     make(map[string][]string),
		groups:    make(map[string][]string),
		absConfig: make(map[string]*abstention.Config),
	}
}

func aspectKey(tenantID, workflowType, name string) string {
	return tenantID + "|" + workflowType + "|" + name
}

func (m *memStore) GetAspect(_ context.Context, tenantID, workflowType, name string) (*voi.Aspect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.aspects[aspectKey(tenantID, workflowType, name)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAspectByID(_ context.Context, tenantID, id string) (*voi.Aspect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.aspects {
		if a.ID == id && a.TenantID == tenantID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CreateAspect(_ context.Context, a *voi.Aspect) (*voi.Aspect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := aspectKey(a.TenantID, a.WorkflowType, a.Name)
	if existing, ok := m.aspects[k]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *a
	cp.ID = uuid.NewString()
	m.aspects[k] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) ApplyAspectOutcome(_ context.Context, tenantID, id string, r voi.OutcomeResult, lr float64) (*voi.Aspect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.aspects {
		if a.ID == id && a.TenantID == tenantID {
			a.ApplyOutcome(r, lr)
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CreateVOIDecision(_ context.Context, d *voi.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.NewString()
	m.decisions = append(m.decisions, *d)
	return nil
}

func (m *memStore) LinkVOIDecision(_ context.Context, _, decisionID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.decisions {
		if m.decisions[i].ID == decisionID {
			m.decisions[i].RequestID = requestID
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) CreateRequest(_ context.Context, r *elicitation.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRequestLocked(r)
}

func (m *memStore) CreateWorkflowRequest(_ context.Context, r *elicitation.Request, maxPerWorkflow int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxPerWorkflow > 0 && r.WorkflowID != "" {
		n := 0
		for _, existing := range m.requests {
			if existing.TenantID == r.TenantID && existing.WorkflowID == r.WorkflowID && existing.Status != elicitation.StatusCancelled {
				n++
			}
		}
		if n >= maxPerWorkflow {
			return fmt.Errorf("workflow %s: %w", r.WorkflowID, domain.ErrLimitReached)
		}
	}
	return m.insertRequestLocked(r)
}

func (m *memStore) insertRequestLocked(r *elicitation.Request) error {
	if m.createReqErr != nil {
		return m.createReqErr
	}
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *memStore) GetRequest(_ context.Context, tenantID, id string) (*elicitation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.TenantID != tenantID {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) CountWorkflowQuestions(_ context.Context, tenantID, workflowID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.TenantID == tenantID && r.WorkflowID == workflowID && r.Status != elicitation.StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetRequestBatch(_ context.Context, tenantID, id, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.TenantID != tenantID {
		return domain.ErrNotFound
	}
	r.BatchID = batchID
	return nil
}

func (m *memStore) ListRequestsByBatch(_ context.Context, tenantID, batchID string) ([]elicitation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []elicitation.Request
	for _, r := range m.requests {
		if r.TenantID == tenantID && r.BatchID == batchID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ResolveRequest(_ context.Context, tenantID, id string, status elicitation.Status, response any, respondedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.TenantID != tenantID {
		return false, domain.ErrNotFound
	}
	if !r.Status.Open() {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status, r.Response, r.RespondedBy, r.RespondedAt = status, response, respondedBy, &now
	return true, nil
}

func (m *memStore) EscalateRequest(_ context.Context, tenantID, id string, newLevel int, chainID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.TenantID != tenantID {
		return false, domain.ErrNotFound
	}
	if !r.Status.Open() || r.EscalationLevel >= newLevel {
		return false, nil
	}
	now := time.Now().UTC()
	r.EscalationLevel, r.EscalationChainID, r.Status, r.EscalatedAt = newLevel, chainID, elicitation.StatusEscalated, &now
	return true, nil
}

func (m *memStore) ClaimFinalAction(_ context.Context, tenantID, id string, status elicitation.Status, response any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.TenantID != tenantID {
		return false, domain.ErrNotFound
	}
	if r.FinalActionExecutedAt != nil || !r.Status.Open() {
		return false, nil
	}
	now := time.Now().UTC()
	r.FinalActionExecutedAt = &now
	r.Status = status
	if response != nil {
		r.Response = response
	}
	m.finalClaims++
	return true, nil
}

func (m *memStore) ListEscalationCandidates(_ context.Context, limit int) ([]elicitation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []elicitation.Request
	for _, r := range m.requests {
		if r.Status.Open() && r.FinalActionExecutedAt == nil && (r.QueueID != "" || r.EscalationChainID != "") {
			out = append(out, *r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListExpiredRequests(_ context.Context, now time.Time, limit int) ([]elicitation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []elicitation.Request
	for _, r := range m.requests {
		if r.Status == elicitation.StatusPending && r.ExpiresAt != nil && !r.ExpiresAt.After(now) &&
			r.QueueID == "" && r.EscalationChainID == "" {
			out = append(out, *r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) FindCollectingBatch(_ context.Context, key batch.Key) (*batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.Status == batch.StatusCollecting && b.TenantID == key.TenantID && b.UserID == key.UserID &&
			b.Type == key.Type && b.CorrelationKey == key.CorrelationKey {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CreateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createBatchErr != nil {
		err := m.createBatchErr
		m.createBatchErr = nil
		return err
	}
	if b.Type != batch.TypeSemantic {
		for _, o := range m.batches {
			if o.Status == batch.StatusCollecting && o.TenantID == b.TenantID && o.UserID == b.UserID &&
				o.Type == b.Type && o.CorrelationKey == b.CorrelationKey {
				return domain.ErrConflict
			}
		}
	}
	b.ID = uuid.NewString()
	b.CreatedAt = time.Now().UTC()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *memStore) GetBatch(_ context.Context, tenantID, id string) (*batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ListCollectingSemanticBatches(_ context.Context, tenantID, userID string) ([]batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []batch.Batch
	for _, b := range m.batches {
		if b.TenantID == tenantID && b.UserID == userID && b.Type == batch.TypeSemantic && b.Status == batch.StatusCollecting {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) AddQuestionToBatch(_ context.Context, tenantID, id string, blocking bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.TenantID != tenantID || b.Status != batch.StatusCollecting {
		return domain.ErrNotFound
	}
	b.QuestionCount++
	b.HasBlocking = b.HasBlocking || blocking
	return nil
}

func (m *memStore) RecordBatchAnswer(_ context.Context, tenantID, id string, skipped bool) (*batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.TenantID != tenantID || !b.Status.Open() {
		return nil, domain.ErrNotFound
	}
	if skipped {
		b.SkippedCount++
	} else {
		b.AnsweredCount++
	}
	if b.Resolved() {
		b.Status = batch.StatusCompleted
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) TransitionBatch(_ context.Context, tenantID, id string, from []batch.Status, to batch.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.TenantID != tenantID {
		return false, nil
	}
	for _, f := range from {
		if b.Status == f {
			b.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListReadyBatches(_ context.Context, tenantID, userID string) ([]batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []batch.Batch
	for _, b := range m.batches {
		if b.TenantID == tenantID && (userID == "" || b.UserID == userID) && b.Status == batch.StatusReady {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) CloseDueBatches(_ context.Context, now time.Time, maxSize int) ([]batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []batch.Batch
	for _, b := range m.batches {
		if b.Status == batch.StatusCollecting && b.QuestionCount > 0 && (!now.Before(b.WindowEnd) || b.Full(maxSize)) {
			b.Status = batch.StatusReady
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) ExpireStaleBatches(_ context.Context, cutoff time.Time) ([]batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []batch.Batch
	for _, b := range m.batches {
		if (b.Status == batch.StatusCollecting || b.Status == batch.StatusReady) && b.CreatedAt.Before(cutoff) {
			b.Status = batch.StatusExpired
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) CreateChain(_ context.Context, c *escalation.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	m.chains = append(m.chains, *c)
	return nil
}

func (m *memStore) GetChain(_ context.Context, tenantID, id string) (*escalation.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chains {
		if c.ID == id && c.TenantID == tenantID {
			cp := c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ListChains(_ context.Context, tenantID string) ([]escalation.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []escalation.Chain
	for _, c := range m.chains {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) CreateQueue(_ context.Context, q *escalation.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = uuid.NewString()
	cp := *q
	m.queues[q.ID] = &cp
	return nil
}

func (m *memStore) GetQueue(_ context.Context, tenantID, id string) (*escalation.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if !ok || q.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *memStore) CreateSchedule(_ context.Context, s *escalation.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.NewString()
	m.schedules = append(m.schedules, *s)
	return nil
}

func (m *memStore) ListActiveSchedules(_ context.Context, tenantID string, now time.Time) ([]escalation.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []escalation.Schedule
	for _, s := range m.schedules {
		if s.TenantID == tenantID && s.Active(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) ListUsersByRole(_ context.Context, _, role string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[role], nil
}

func (m *memStore) ListGroupMembers(_ context.Context, _, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[groupID], nil
}

func (m *memStore) ListTenantAdmins(context.Context, string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admins, nil
}

func (m *memStore) GetAbstentionConfig(_ context.Context, tenantID string) (*abstention.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getAbsCfgErr != nil {
		return nil, m.getAbsCfgErr
	}
	c, ok := m.absConfig[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) UpsertAbstentionConfig(_ context.Context, tenantID string, cfg *abstention.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.absConfig[tenantID] = &cp
	return nil
}

func (m *memStore) CreateAbstentionEvent(_ context.Context, e *abstention.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.absEventErr != nil {
		return m.absEventErr
	}
	e.ID = uuid.NewString()
	m.absEvents = append(m.absEvents, *e)
	return nil
}

// mockLimiter implements ratelimit.Limiter.
type mockLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	consumed int
	released int
	checked  int
}

func newMockLimiter() *mockLimiter {
	return &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
}

func (l *mockLimiter) Check(context.Context, ratelimit.Scope) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checked++
	return l.decision, nil
}

func (l *mockLimiter) Consume(context.Context, ratelimit.Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumed++
	return nil
}

func (l *mockLimiter) Release(context.Context, ratelimit.Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

// mockDedup implements dedup.Cache keyed by question text.
type mockDedup struct {
	mu      sync.Mutex
	answers map[string]any
	stored  int
	err     error
}

func newMockDedup() *mockDedup { return &mockDedup{answers: make(map[string]any)} }

func (d *mockDedup) Check(_ context.Context, tenantID, question string, _ map[string]any) (dedup.Match, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return dedup.Match{}, d.err
	}
	a, ok := d.answers[tenantID+"|"+question]
	if !ok {
		return dedup.Match{}, nil
	}
	return dedup.Match{IsDuplicate: true, CachedResponse: a, CacheID: "c-1", HitCount: 1}, nil
}

func (d *mockDedup) Store(_ context.Context, tenantID, question string, answer any, _ map[string]any, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.answers[tenantID+"|"+question] = answer
	d.stored++
	return nil
}

// mockNotifier implements notifier.Notifier for testing.
type mockNotifier struct {
	mu      sync.Mutex
	name    string
	direct  bool
	sent    []notifier.Notification
	sendErr error
}

func (m *mockNotifier) Name() string { return m.name }
func (m *mockNotifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{DirectMessage: m.direct}
}
func (m *mockNotifier) Send(_ context.Context, n notifier.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockEmbedder implements embedding.Embedder with a fixed vector per text.
type mockEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   atomic.Int32
}

func (e *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

// mockQueue implements messagequeue.Queue, recording publishes.
type mockQueue struct {
	mu         sync.Mutex
	published  map[string][][]byte
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string]messagequeue.Handler),
	}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

// mockBroadcaster implements broadcast.Broadcaster.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *mockBroadcaster) BroadcastEvent(_ context.Context, tenantID, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, tenantID+":"+eventType)
}

var errBoom = errors.New("boom")
