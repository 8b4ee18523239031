package middleware

import (
	"context"
	"net/http"

	"github.com/Strob0t/elicitor/internal/logger"
)

// DefaultTenantID is the single-tenant default used when no X-Tenant-ID header is set.
const DefaultTenantID = "00000000-0000-0000-0000-000000000000"

const (
	headerTenantID = "X-Tenant-ID"
	headerUserID   = "X-User-ID"
)

type (
	tenantCtxKey struct{}
	userCtxKey   struct{}
)

// TenantID is middleware that extracts the tenant ID from the X-Tenant-ID header
// and stores it in the request context. Falls back to DefaultTenantID if absent.
// The optional X-User-ID header identifies the human or agent acting in the tenant.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(headerTenantID)
		if tid == "" {
			tid = DefaultTenantID
		}
		ctx := context.WithValue(r.Context(), tenantCtxKey{}, tid)
		ctx = logger.WithTenantID(ctx, tid)
		if uid := r.Header.Get(headerUserID); uid != "" {
			ctx = context.WithValue(ctx, userCtxKey{}, uid)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantIDFromContext returns the tenant ID stored in ctx, or DefaultTenantID if absent.
func TenantIDFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(tenantCtxKey{}).(string); ok {
		return tid
	}
	return DefaultTenantID
}

// UserIDFromContext returns the acting user ID, or "" if none was given.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userCtxKey{}).(string)
	return uid
}

// WithTenant returns ctx carrying tenant and user IDs, for callers outside
// the HTTP stack such as MCP tool handlers.
func WithTenant(ctx context.Context, tenantID, userID string) context.Context {
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	ctx = context.WithValue(ctx, tenantCtxKey{}, tenantID)
	ctx = logger.WithTenantID(ctx, tenantID)
	if userID != "" {
		ctx = context.WithValue(ctx, userCtxKey{}, userID)
	}
	return ctx
}
