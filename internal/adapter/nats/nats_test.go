package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/elicitor/internal/logger"
	"github.com/Strob0t/elicitor/internal/port/messagequeue"
)

const testStream = "ELICITOR_TEST"

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, testStream)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// uniqueSubject returns a batch.* subject private to the test.
func uniqueSubject(t *testing.T) string {
	t.Helper()
	return "batch.test." + t.Name()
}

func batchPayload(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(messagequeue.BatchPayload{TenantID: "t1", BatchID: "b1", BatchType: "correlation", Status: "ready"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// dlqListener captures the first message on subject+".dlq".
func dlqListener(t *testing.T, q *Queue, subject string) <-chan []byte {
	t.Helper()
	consumer, err := q.js.CreateOrUpdateConsumer(context.Background(), q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject + ".dlq",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create DLQ consumer: %v", err)
	}
	out := make(chan []byte, 1)
	var once sync.Once
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		once.Do(func() { out <- msg.Data() })
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume DLQ: %v", err)
	}
	t.Cleanup(sub.Stop)
	return out
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t)

	got := make(chan messagequeue.BatchPayload, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(_ context.Context, _ string, d []byte) error {
		var p messagequeue.BatchPayload
		if err := json.Unmarshal(d, &p); err != nil {
			return err
		}
		got <- p
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(context.Background(), subject, batchPayload(t)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case p := <-got:
		if p.BatchID != "b1" || p.TenantID != "t1" {
			t.Errorf("unexpected payload %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestQueue_PublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t)
	err := q.Publish(context.Background(), messagequeue.SubjectBatchReady, []byte(`{"batch_id":"b1"}`))
	if err == nil {
		t.Fatal("expected validation error for payload without tenant_id")
	}
}

func TestQueue_RequestIDPropagation(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t)

	const wantReqID = "req-abc-123"
	got := make(chan string, 1)

	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, _ []byte) error {
		got <- logger.RequestID(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), wantReqID)
	if err := q.Publish(ctx, subject, batchPayload(t)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case id := <-got:
		if id != wantReqID {
			t.Errorf("request ID = %q, want %q", id, wantReqID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestQueue_InvalidPayloadGoesToDLQ(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t)
	dlq := dlqListener(t, q, subject)

	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		t.Error("handler must not see invalid payloads")
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	// Bypass Publish validation to simulate a foreign producer.
	if _, err := q.js.Publish(context.Background(), subject, []byte("not-json")); err != nil {
		t.Fatalf("raw publish: %v", err)
	}

	select {
	case data := <-dlq:
		if string(data) != "not-json" {
			t.Errorf("DLQ data = %q", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for DLQ message")
	}
}

func TestQueue_RetryExhaustionGoesToDLQ(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t)
	dlq := dlqListener(t, q, subject)

	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		return errors.New("handler always fails")
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	msg := &nats.Msg{Subject: subject, Data: batchPayload(t), Header: nats.Header{}}
	msg.Header.Set(headerRetryCount, "3")
	if _, err := q.js.PublishMsg(context.Background(), msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	select {
	case <-dlq:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for DLQ message after retry exhaustion")
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}

func TestRetryCount(t *testing.T) {
	h := nats.Header{}
	if retryCount(h) != 0 {
		t.Fatal("missing header should count as 0")
	}
	h.Set(headerRetryCount, "2")
	if retryCount(h) != 2 {
		t.Fatal("expected 2")
	}
	h.Set(headerRetryCount, "garbage")
	if retryCount(h) != 0 {
		t.Fatal("garbage should count as 0")
	}
}
