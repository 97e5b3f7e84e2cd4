// Package tracing records structured spans and events for synthesis runs.
// A Tracer is injected into the components that emit traces; the core logic
// behaves identically with Nop.
package tracing

import (
	"context"
)

// Fields carries span inputs and event payloads.
type Fields map[string]any

// Tracer starts spans and records point events.
type Tracer interface {
	// StartSpan opens a span as a child of any span carried by ctx.
	StartSpan(ctx context.Context, name string, inputs Fields) (context.Context, Span)
	LogEvent(ctx context.Context, name string, data Fields)
}

// Span is closed exactly once with its outputs or failure.
type Span interface {
	End(outputs any, err error)
}

// Nop returns a tracer that records nothing.
func Nop() Tracer { return nopTracer{} }

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string, _ Fields) (context.Context, Span) {
	return ctx, nopSpan{}
}

func (nopTracer) LogEvent(context.Context, string, Fields) {}

type nopSpan struct{}

func (nopSpan) End(any, error) {}

// OrNop returns t, or Nop when t is nil.
func OrNop(t Tracer) Tracer {
	if t == nil {
		return Nop()
	}
	return t
}

// ctxKey scopes span state to the tracer that created it, so tracers
// combined with Multi do not see each other's spans.
type ctxKey struct{ owner any }

type spanRef struct {
	traceID string
	spanID  string
}

func spanFrom(ctx context.Context, owner any) (spanRef, bool) {
	ref, ok := ctx.Value(ctxKey{owner}).(spanRef)
	return ref, ok
}

func withSpan(ctx context.Context, owner any, ref spanRef) context.Context {
	return context.WithValue(ctx, ctxKey{owner}, ref)
}

func errString(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
