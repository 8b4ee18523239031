// Package dedup defines the port for the answered-question cache.
package dedup

import "context"

// Match is the outcome of a cache lookup.
type Match struct {
	IsDuplicate    bool   `json:"is_duplicate"`
	CachedResponse any    `json:"cached_response,omitempty"`
	CacheID        string `json:"cache_id,omitempty"`
	HitCount       int    `json:"hit_count,omitempty"`
}

// Cache remembers answers by question fingerprint within a tenant.
type Cache interface {
	Check(ctx context.Context, tenantID, question string, qctx map[string]any) (Match, error)
	Store(ctx context.Context, tenantID, question string, answer any, qctx map[string]any, respondedBy string) error
}
