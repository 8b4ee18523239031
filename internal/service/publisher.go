package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/elicitor/internal/port/broadcast"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
)

// pushedSubjects are forwarded to connected UI clients.
var pushedSubjects = map[string]bool{
	messagequeue.SubjectBatchReady: true,
	messagequeue.SubjectEscalated:  true,
}

// EventPublisher emits lifecycle events on the message bus. Without a bus,
// UI-facing events go straight to the broadcaster. Failures are logged and
// never returned. A nil *EventPublisher drops everything.
type EventPublisher struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewEventPublisher creates a publisher. Either argument may be nil.
func NewEventPublisher(queue messagequeue.Queue, hub broadcast.Broadcaster) *EventPublisher {
	return &EventPublisher{queue: queue, hub: hub}
}

// Publish sends payload on subject.
func (p *EventPublisher) Publish(ctx context.Context, subject string, payload any) {
	if p == nil {
		return
	}

	if p.queue != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("marshal event", "subject", subject, "error", err)
			return
		}
		err = p.queue.Publish(ctx, subject, data)
		if err == nil {
			return
		}
		slog.Warn("event publish failed", "dependency", "nats", "subject", subject, "error", err)
	}

	// No bus, or the bus is down: push directly so the UI still hears about it.
	if p.hub != nil && pushedSubjects[subject] {
		if tenantID := tenantOf(payload); tenantID != "" {
			p.hub.BroadcastEvent(ctx, tenantID, subject, payload)
		}
	}
}

func tenantOf(payload any) string {
	switch v := payload.(type) {
	case messagequeue.BatchPayload:
		return v.TenantID
	case *messagequeue.BatchPayload:
		return v.TenantID
	case messagequeue.EscalationPayload:
		return v.TenantID
	case *messagequeue.EscalationPayload:
		return v.TenantID
	case messagequeue.ElicitationPayload:
		return v.TenantID
	case messagequeue.AbstentionPayload:
		return v.TenantID
	}
	return ""
}
