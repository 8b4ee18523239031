package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "elicitor"

// StartAskSpan starts a span for one createAskUserRequest call.
func StartAskSpan(ctx context.Context, tenantID, workflowID, workflowType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "elicitation.ask",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.type", workflowType),
		),
	)
}

// StartRespondSpan starts a span for handling a human response.
func StartRespondSpan(ctx context.Context, tenantID, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "elicitation.respond",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("request.id", requestID),
		),
	)
}

// StartAbstentionSpan starts a span for an abstention check.
func StartAbstentionSpan(ctx context.Context, tenantID, modelID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "abstention.check",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("model.id", modelID),
		),
	)
}

// StartEscalationSpan starts a span for escalating a request.
func StartEscalationSpan(ctx context.Context, tenantID, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "escalation.escalate",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("request.id", requestID),
		),
	)
}

// StartSweepSpan starts a span for one run of a periodic sweep.
func StartSweepSpan(ctx context.Context, sweep string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sweep."+sweep)
}
