package service

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/Strob0t/elicitor/internal/port/messagequeue"
)

func TestEventPublisher_PublishesToQueue(t *testing.T) {
	q := newMockQueue()
	hub := &mockBroadcaster{}
	p := NewEventPublisher(q, hub)

	p.Publish(context.Background(), messagequeue.SubjectBatchReady, messagequeue.BatchPayload{TenantID: "t1", BatchID: "b1"})

	if q.count(messagequeue.SubjectBatchReady) != 1 {
		t.Fatal("expected event on the bus")
	}
	var got messagequeue.BatchPayload
	if err := json.Unmarshal(q.published[messagequeue.SubjectBatchReady][0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.BatchID != "b1" {
		t.Errorf("batch id = %q", got.BatchID)
	}
	if len(hub.events) != 0 {
		t.Error("hub should hear about it through the relay, not directly")
	}
}

func TestEventPublisher_FallsBackToHub(t *testing.T) {
	tests := []struct {
		name  string
		queue *mockQueue
	}{
		{"no bus", nil},
		{"bus down", &mockQueue{publishErr: errBoom, published: map[string][][]byte{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &mockBroadcaster{}
			var p *EventPublisher
			if tt.queue == nil {
				p = NewEventPublisher(nil, hub)
			} else {
				p = NewEventPublisher(tt.queue, hub)
			}

			p.Publish(context.Background(), messagequeue.SubjectEscalated, messagequeue.EscalationPayload{TenantID: "t1", RequestID: "r1"})
			p.Publish(context.Background(), messagequeue.SubjectAsked, messagequeue.ElicitationPayload{TenantID: "t1"})

			if !slices.Equal(hub.events, []string{"t1:" + messagequeue.SubjectEscalated}) {
				t.Fatalf("hub events = %v", hub.events)
			}
		})
	}
}

func TestEventPublisher_NilSafe(t *testing.T) {
	var p *EventPublisher
	p.Publish(context.Background(), messagequeue.SubjectAsked, nil)
}

func TestEventRelay_ForwardsPushedSubjects(t *testing.T) {
	q := newMockQueue()
	hub := &mockBroadcaster{}
	r := NewEventRelay(q, hub)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(q.handlers) != len(pushedSubjects) {
		t.Fatalf("subscriptions = %d, want %d", len(q.handlers), len(pushedSubjects))
	}

	data, _ := json.Marshal(messagequeue.BatchPayload{TenantID: "t7", BatchID: "b1"})
	if err := q.handlers[messagequeue.SubjectBatchReady](ctx, messagequeue.SubjectBatchReady, data); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !slices.Equal(hub.events, []string{"t7:" + messagequeue.SubjectBatchReady}) {
		t.Fatalf("hub events = %v", hub.events)
	}

	if err := q.handlers[messagequeue.SubjectBatchReady](ctx, messagequeue.SubjectBatchReady, []byte("{")); err == nil {
		t.Error("expected decode error for malformed payload")
	}

	r.Stop()
	if len(q.handlers) != 0 {
		t.Errorf("subscriptions left after Stop: %d", len(q.handlers))
	}
}
