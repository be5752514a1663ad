package task

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// Tracer starts a new span for a task invocation; it is the boundary to
// whatever span processor the executor is wired to.
type Tracer interface {
	StartSpan(name string) trace.Span
}

// Tracing wraps a task with a span that stays open across Deferred,
// Requeued and Terminate outcomes, so a task that pauses for a gRPC call
// or hands off to a follow-up task is still attributed to one span. The
// span only ends on Done or Failed.
type Tracing struct {
	Inner    Task
	SpanName string
	Tracer   Tracer

	span trace.Span
}

func (t *Tracing) ID() (string, bool) { return t.Inner.ID() }

func (t *Tracing) Dependencies() []string { return t.Inner.Dependencies() }

func (t *Tracing) PausesFilter() bool { return t.Inner.PausesFilter() }

func (t *Tracing) Apply(ctx *pctx.Context) Outcome {
	span := t.span
	if span == nil {
		span = t.Tracer.StartSpan(t.SpanName)
	}
	ctx.EnterSpan(span)
	outcome := t.Inner.Apply(ctx)
	ctx.ExitSpan()
	return t.wrap(span, outcome)
}

func (t *Tracing) wrap(span trace.Span, outcome Outcome) Outcome {
	switch outcome.Kind {
	case KindDone, KindFailed:
		span.End()
		return outcome
	case KindDeferred:
		wrapped := &Tracing{Inner: outcome.Pending, SpanName: t.SpanName, Tracer: t.Tracer, span: span}
		return DeferredOutcome(outcome.Token, wrapped)
	case KindRequeued:
		next := make([]Task, len(outcome.Next))
		for i, n := range outcome.Next {
			next[i] = &Tracing{Inner: n, SpanName: t.SpanName, Tracer: t.Tracer, span: span}
		}
		return Requeued(next...)
	case KindTerminate:
		wrapped := &Tracing{Inner: outcome.Terminal, SpanName: t.SpanName, Tracer: t.Tracer, span: span}
		return TerminateOutcome(wrapped)
	default:
		return outcome
	}
}
