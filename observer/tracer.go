package observer

import (
	"context"
	"fmt"

	aikit "github.com/takatoshi-maeda/ai-kit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// otelTracer adapts the engine's tracing capability onto OpenTelemetry.
// The engine opens one span per turn ("agent.turn") and relies on the
// span's Error/End contract; tool executions and model calls nest under
// the turn span through the returned child context.
type otelTracer struct {
	inner trace.Tracer
}

// NewTracer returns an aikit.Tracer backed by the global OTEL
// TracerProvider. Call Init first to install an exporting provider;
// without it the returned tracer records nothing.
func NewTracer() aikit.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...aikit.SpanAttr) (context.Context, aikit.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

// otelSpan wraps one OTEL span behind the engine's Span interface.
type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...aikit.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...aikit.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

// Error marks the span failed. The engine calls this for aborted turns;
// the span still needs its End.
func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.inner.End()
}

func toOTELAttrs(attrs []aikit.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

// toOTELAttr maps one engine attribute to a typed OTEL attribute; values
// outside the typed set are stringified.
func toOTELAttr(a aikit.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}

// compile-time checks
var (
	_ aikit.Tracer = (*otelTracer)(nil)
	_ aikit.Span   = (*otelSpan)(nil)
)
