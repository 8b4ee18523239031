// Package ratelimit implements the question rate-limiter port in process:
// token buckets per tenant and per user, and an outstanding-question
// counter per workflow.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Strob0t/elicitor/internal/config"
	"github.com/Strob0t/elicitor/internal/port/ratelimit"
)

var _ ratelimit.Limiter = (*Limiter)(nil)

// Names reported in Decision.BlockedBy.
const (
	BlockedByTenant   = "tenant"
	BlockedByUser     = "user"
	BlockedByWorkflow = "workflow"
)

type bucket struct {
	tokens    float64
	updatedAt time.Time
}

type bucketSet struct {
	capacity float64
	perSec   float64
	buckets  map[string]*bucket
}

func newBucketSet(capacity int, period time.Duration) bucketSet {
	return bucketSet{
		capacity: float64(capacity),
		perSec:   float64(capacity) / period.Seconds(),
		buckets:  make(map[string]*bucket),
	}
}

func (s *bucketSet) enabled() bool { return s.capacity > 0 }

// level returns the refilled bucket for key, creating a full one if needed.
func (s *bucketSet) level(key string, now time.Time) *bucket {
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: s.capacity, updatedAt: now}
		s.buckets[key] = b
		return b
	}
	b.tokens = math.Min(s.capacity, b.tokens+now.Sub(b.updatedAt).Seconds()*s.perSec)
	b.updatedAt = now
	return b
}

func (s *bucketSet) retryAfter(b *bucket) time.Duration {
	if s.perSec <= 0 {
		return 0
	}
	return time.Duration((1 - b.tokens) / s.perSec * float64(time.Second)).Round(time.Second)
}

func (s *bucketSet) cleanup(cutoff time.Time) {
	for k, b := range s.buckets {
		if b.updatedAt.Before(cutoff) {
			delete(s.buckets, k)
		}
	}
}

// Limiter enforces config.Questions. Limits of zero or less are disabled.
type Limiter struct {
	mu             sync.Mutex
	tenants        bucketSet
	users          bucketSet
	maxOutstanding int
	outstanding    map[string]int
	now            func() time.Time
}

// New creates a limiter from the question limits.
func New(cfg config.Questions) *Limiter {
	return &Limiter{
		tenants:        newBucketSet(cfg.TenantPerMinute, time.Minute),
		users:          newBucketSet(cfg.UserPerHour, time.Hour),
		maxOutstanding: cfg.WorkflowOutstanding,
		outstanding:    make(map[string]int),
		now:            time.Now,
	}
}

func userKey(s ratelimit.Scope) string     { return s.TenantID + "|" + s.UserID }
func workflowKey(s ratelimit.Scope) string { return s.TenantID + "|" + s.WorkflowID }

// Check reports the first limit that would block a question in scope.
func (l *Limiter) Check(_ context.Context, s ratelimit.Scope) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	if s.TenantID != "" && l.tenants.enabled() {
		if b := l.tenants.level(s.TenantID, now); b.tokens < 1 {
			return ratelimit.Decision{BlockedBy: BlockedByTenant,
				Reason: fmt.Sprintf("tenant question limit of %d per minute reached; retry in %s",
					int(l.tenants.capacity), l.tenants.retryAfter(b))}, nil
		}
	}
	if s.UserID != "" && l.users.enabled() {
		if b := l.users.level(userKey(s), now); b.tokens < 1 {
			return ratelimit.Decision{BlockedBy: BlockedByUser,
				Reason: fmt.Sprintf("user question limit of %d per hour reached; retry in %s",
					int(l.users.capacity), l.users.retryAfter(b))}, nil
		}
	}
	if s.WorkflowID != "" && l.maxOutstanding > 0 {
		if n := l.outstanding[workflowKey(s)]; n >= l.maxOutstanding {
			return ratelimit.Decision{BlockedBy: BlockedByWorkflow,
				Reason: fmt.Sprintf("workflow has %d unanswered questions (max %d)", n, l.maxOutstanding)}, nil
		}
	}
	return ratelimit.Decision{Allowed: true}, nil
}

// Consume charges one question. It does not re-check the limits: callers
// Check first, and a concurrent overdraft only delays later questions.
func (l *Limiter) Consume(_ context.Context, s ratelimit.Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	if s.TenantID != "" && l.tenants.enabled() {
		l.tenants.level(s.TenantID, now).tokens--
	}
	if s.UserID != "" && l.users.enabled() {
		l.users.level(userKey(s), now).tokens--
	}
	if s.WorkflowID != "" {
		l.outstanding[workflowKey(s)]++
	}
	return nil
}

// Release frees the workflow's outstanding slot. Time-based budgets are not refunded.
func (l *Limiter) Release(_ context.Context, s ratelimit.Scope) error {
	if s.WorkflowID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := workflowKey(s)
	if l.outstanding[k] <= 1 {
		delete(l.outstanding, k)
		return nil
	}
	l.outstanding[k]--
	return nil
}

// StartCleanup removes idle buckets every interval until the returned function is called.
func (l *Limiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (l *Limiter) cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	l.tenants.cleanup(cutoff)
	l.users.cleanup(cutoff)
}
