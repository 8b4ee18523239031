// Package oncall defines the port for external on-call providers.
package oncall

import "context"

// Provider returns the user IDs currently on call for a schedule.
type Provider interface {
	CurrentOnCall(ctx context.Context, tenantID, schedule string) ([]string, error)
}
