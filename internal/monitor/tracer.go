package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "prologd-judge"

// Tracer wraps OpenTelemetry tracing for the judge.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider. Without a
// configured provider every span is a no-op.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context. Names are
// dotted by component, e.g. "judge.testing" or "sandbox.run".
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for judge tracing.
var (
	AttrExecID     = attribute.Key("judge.execution.id")
	AttrRuntime    = attribute.Key("judge.runtime")
	AttrCodeHash   = attribute.Key("judge.code_hash")
	AttrExitCode   = attribute.Key("judge.exit_code")
	AttrDurationMS = attribute.Key("judge.duration_ms")
	AttrStatus     = attribute.Key("judge.status")
	AttrCases      = attribute.Key("judge.cases")
	AttrPassed     = attribute.Key("judge.passed")
	AttrErrorCode  = attribute.Key("judge.error_code")
)
