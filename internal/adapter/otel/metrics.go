package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "elicitor"

// Metrics holds all elicitor metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	Decisions        metric.Int64Counter
	VOIScore         metric.Float64Histogram
	GateBlocks       metric.Int64Counter
	Abstentions      metric.Int64Counter
	Escalations      metric.Int64Counter
	ChainsExhausted  metric.Int64Counter
	BatchesCreated   metric.Int64Counter
	BatchesCompleted metric.Int64Counter
	BatchesExpired   metric.Int64Counter
}

// NewMetrics creates all metric instruments on mp, or on the global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Decisions, err = meter.Int64Counter("elicitor.voi.decisions",
		metric.WithDescription("VOI decisions by outcome"))
	if err != nil {
		return nil, err
	}

	m.VOIScore, err = meter.Float64Histogram("elicitor.voi.score",
		metric.WithDescription("VOI score of evaluated questions"),
		metric.WithExplicitBucketBoundaries(-1, -0.5, -0.1, 0, 0.05, 0.1, 0.2, 0.5, 1, 2))
	if err != nil {
		return nil, err
	}

	m.GateBlocks, err = meter.Int64Counter("elicitor.gate.blocked",
		metric.WithDescription("Questions stopped by the dedup or rate-limit gates"))
	if err != nil {
		return nil, err
	}

	m.Abstentions, err = meter.Int64Counter("elicitor.abstentions",
		metric.WithDescription("Abstentions by reason"))
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("elicitor.escalations",
		metric.WithDescription("Escalations to a higher chain level"))
	if err != nil {
		return nil, err
	}

	m.ChainsExhausted, err = meter.Int64Counter("elicitor.escalations.exhausted",
		metric.WithDescription("Escalation chains that ran out of levels"))
	if err != nil {
		return nil, err
	}

	m.BatchesCreated, err = meter.Int64Counter("elicitor.batches.created",
		metric.WithDescription("Question batches created"))
	if err != nil {
		return nil, err
	}

	m.BatchesCompleted, err = meter.Int64Counter("elicitor.batches.completed",
		metric.WithDescription("Question batches fully answered"))
	if err != nil {
		return nil, err
	}

	m.BatchesExpired, err = meter.Int64Counter("elicitor.batches.expired",
		metric.WithDescription("Question batches expired as stale"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDecision counts one VOI decision and observes its score.
func (m *Metrics) RecordDecision(ctx context.Context, outcome string, score float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Decisions.Add(ctx, 1, attrs)
	m.VOIScore.Record(ctx, score, attrs)
}

// RecordGateBlock counts a question stopped by gate ("dedup" or "rate_limit").
func (m *Metrics) RecordGateBlock(ctx context.Context, gate, detail string) {
	if m == nil {
		return
	}
	m.GateBlocks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gate", gate),
		attribute.String("detail", detail),
	))
}

// RecordAbstention counts an abstention by reason.
func (m *Metrics) RecordAbstention(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Abstentions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEscalation counts a move to the given chain level.
func (m *Metrics) RecordEscalation(ctx context.Context, level int) {
	if m == nil {
		return
	}
	m.Escalations.Add(ctx, 1, metric.WithAttributes(attribute.Int("level", level)))
}

// RecordExhausted counts a chain that ran out of levels.
func (m *Metrics) RecordExhausted(ctx context.Context, finalAction string) {
	if m == nil {
		return
	}
	m.ChainsExhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("final_action", finalAction)))
}

// RecordBatchCreated counts a new batch of the given type.
func (m *Metrics) RecordBatchCreated(ctx context.Context, batchType string) {
	if m == nil {
		return
	}
	m.BatchesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("batch_type", batchType)))
}

// RecordBatchCompleted counts a fully answered batch.
func (m *Metrics) RecordBatchCompleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.BatchesCompleted.Add(ctx, 1)
}

// RecordBatchesExpired counts n batches expired by a sweep.
func (m *Metrics) RecordBatchesExpired(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BatchesExpired.Add(ctx, int64(n))
}
