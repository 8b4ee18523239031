// Package broadcast defines the port for pushing real-time events to connected UI clients.
package broadcast

import "context"

// Broadcaster sends events to the clients of one tenant.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any)
}
