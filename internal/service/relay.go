package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/elicitor/internal/port/broadcast"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
)

// EventRelay forwards UI-facing bus events to the broadcaster of this
// instance, so clients connected to any replica see every event.
type EventRelay struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster

	mu      sync.Mutex
	cancels []func()
}

// NewEventRelay creates a relay from queue to hub.
func NewEventRelay(queue messagequeue.Queue, hub broadcast.Broadcaster) *EventRelay {
	return &EventRelay{queue: queue, hub: hub}
}

// Start subscribes to the pushed subjects.
func (r *EventRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for subject := range pushedSubjects {
		cancel, err := r.queue.Subscribe(ctx, subject, r.forward)
		if err != nil {
			for _, c := range r.cancels {
				c()
			}
			r.cancels = nil
			return fmt.Errorf("relay subscribe %s: %w", subject, err)
		}
		r.cancels = append(r.cancels, cancel)
	}
	slog.Info("event relay started", "subjects", len(r.cancels))
	return nil
}

// Stop cancels all subscriptions.
func (r *EventRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cancels {
		c()
	}
	r.cancels = nil
}

func (r *EventRelay) forward(ctx context.Context, subject string, data []byte) error {
	var envelope struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode %s: %w", subject, err)
	}
	r.hub.BroadcastEvent(ctx, envelope.TenantID, subject, json.RawMessage(data))
	return nil
}
