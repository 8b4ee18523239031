package http

import (
	"context"
	"net/http"
)

// ---------------------------------------------------------------------------
// Generic tenant-scoped handler factories
// ---------------------------------------------------------------------------

// handleList creates a handler that lists the tenant's resources and returns JSON.
func handleList[T any](listFn func(ctx context.Context, tenantID string) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := tenant(r)
		items, err := listFn(r.Context(), tenantID)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleGet creates a handler that retrieves a single resource by URL param "id".
func handleGet[T any](getFn func(ctx context.Context, tenantID, id string) (*T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := tenant(r)
		item, err := getFn(r.Context(), tenantID, urlParam(r, "id"))
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleAction creates a handler that runs a body-less action on the resource
// named by URL param "id".
func handleAction[T any](actFn func(ctx context.Context, tenantID, id string) (*T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := tenant(r)
		res, err := actFn(r.Context(), tenantID, urlParam(r, "id"))
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
