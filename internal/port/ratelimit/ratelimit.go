// Package ratelimit defines the port for per-question rate limiting.
package ratelimit

import "context"

// Scope identifies who a question counts against. Empty fields are not limited.
type Scope struct {
	TenantID   string
	UserID     string
	WorkflowID string
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	BlockedBy string `json:"blocked_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Limiter checks, consumes and releases question budget.
type Limiter interface {
	// Check reports whether a question may be asked without consuming budget.
	Check(ctx context.Context, s Scope) (Decision, error)
	// Consume charges one question against every limit in scope.
	Consume(ctx context.Context, s Scope) error
	// Release returns outstanding-question budget once a question resolves.
	Release(ctx context.Context, s Scope) error
}
