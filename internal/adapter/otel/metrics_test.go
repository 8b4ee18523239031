package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordDecision(ctx, "ask", 0.4)
	m.RecordDecision(ctx, "infer", -0.2)
	m.RecordGateBlock(ctx, "rate_limit", "tenant")
	m.RecordAbstention(ctx, "refusal")
	m.RecordEscalation(ctx, 2)
	m.RecordExhausted(ctx, "reject")
	m.RecordBatchCreated(ctx, "correlation")
	m.RecordBatchCompleted(ctx)
	m.RecordBatchesExpired(ctx, 3)
	m.RecordBatchesExpired(ctx, 0)

	got := collect(t, reader)
	for name, want := range map[string]int64{
		"elicitor.voi.decisions":         2,
		"elicitor.gate.blocked":          1,
		"elicitor.abstentions":           1,
		"elicitor.escalations":           1,
		"elicitor.escalations.exhausted": 1,
		"elicitor.batches.created":       1,
		"elicitor.batches.completed":     1,
		"elicitor.batches.expired":       3,
	} {
		data, ok := got[name]
		if !ok {
			t.Fatalf("metric %s not recorded", name)
		}
		if v := sumOf(t, data); v != want {
			t.Fatalf("%s = %d, want %d", name, v, want)
		}
	}

	h, ok := got["elicitor.voi.score"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected float64 histogram, got %T", got["elicitor.voi.score"])
	}
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Fatalf("expected 2 score observations, got %d", count)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordDecision(ctx, "ask", 1)
	m.RecordGateBlock(ctx, "dedup", "")
	m.RecordAbstention(ctx, "x")
	m.RecordEscalation(ctx, 1)
	m.RecordExhausted(ctx, "approve")
	m.RecordBatchCreated(ctx, "semantic")
	m.RecordBatchCompleted(ctx)
	m.RecordBatchesExpired(ctx, 1)
}
