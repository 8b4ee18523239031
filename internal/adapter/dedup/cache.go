// Package dedup implements the answered-question cache on top of the
// tiered byte cache. Entries are keyed by tenant and question fingerprint.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/port/cache"
	"github.com/Strob0t/elicitor/internal/port/dedup"
)

var _ dedup.Cache = (*Cache)(nil)

type entry struct {
	Answer      any       `json:"answer"`
	RespondedBy string    `json:"responded_by,omitempty"`
	HitCount    int       `json:"hit_count"`
	StoredAt    time.Time `json:"stored_at"`
}

// Cache remembers accepted answers for ttl.
type Cache struct {
	store cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// New creates a dedup cache over store.
func New(store cache.Cache, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

func key(tenantID, fingerprint string) string {
	return "dedup:" + tenantID + ":" + fingerprint
}

// Check looks up a previous answer to the same question in the same context.
// A hit bumps the entry's hit counter; failing to persist the bump is logged only.
func (c *Cache) Check(ctx context.Context, tenantID, question string, qctx map[string]any) (dedup.Match, error) {
	fp := elicitation.Fingerprint(question, qctx)
	k := key(tenantID, fp)

	raw, ok, err := c.store.Get(ctx, k)
	if err != nil {
		return dedup.Match{}, fmt.Errorf("dedup lookup: %w", err)
	}
	if !ok {
		return dedup.Match{}, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("dedup: corrupt cache entry", "key", k, "error", err)
		_ = c.store.Delete(ctx, k)
		return dedup.Match{}, nil
	}

	e.HitCount++
	if updated, err := json.Marshal(e); err == nil {
		if err := c.store.Set(ctx, k, updated, c.remaining(e)); err != nil {
			slog.Warn("dedup: hit count update failed", "key", k, "error", err)
		}
	}

	return dedup.Match{
		IsDuplicate:    true,
		CachedResponse: e.Answer,
		CacheID:        fp,
		HitCount:       e.HitCount,
	}, nil
}

// Store records an accepted answer.
func (c *Cache) Store(ctx context.Context, tenantID, question string, answer any, qctx map[string]any, respondedBy string) error {
	raw, err := json.Marshal(entry{Answer: answer, RespondedBy: respondedBy, StoredAt: c.now()})
	if err != nil {
		return fmt.Errorf("marshal dedup entry: %w", err)
	}
	if err := c.store.Set(ctx, key(tenantID, elicitation.Fingerprint(question, qctx)), raw, c.ttl); err != nil {
		return fmt.Errorf("dedup store: %w", err)
	}
	return nil
}

// remaining keeps hit-count rewrites from extending an entry's lifetime.
func (c *Cache) remaining(e entry) time.Duration {
	left := c.ttl - c.now().Sub(e.StoredAt)
	if left < time.Second {
		return time.Second
	}
	return left
}
