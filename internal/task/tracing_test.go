package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeTracer struct {
	started int
}

func (f *fakeTracer) StartSpan(name string) trace.Span {
	f.started++
	_, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), name)
	return span
}

func TestTracingStartsSpanOnceAcrossDeferredResume(t *testing.T) {
	ctx := newTestContext()
	tracer := &fakeTracer{}
	pendingInner := &fakeTask{id: "auth", outcome: Done()}
	inner := &fakeTask{id: "auth", outcome: DeferredOutcome(3, pendingInner)}
	tr := &Tracing{Inner: inner, SpanName: "auth", Tracer: tracer}

	outcome := tr.Apply(ctx)
	require.Equal(t, KindDeferred, outcome.Kind)
	require.Equal(t, 1, tracer.started)

	wrapped, ok := outcome.Pending.(*Tracing)
	require.True(t, ok)
	require.Same(t, pendingInner, wrapped.Inner)

	resumed := wrapped.Apply(ctx)
	require.Equal(t, KindDone, resumed.Kind)
	require.Equal(t, 1, tracer.started, "resumed span must reuse the original, not start a second one")
}

func TestTracingEndsSpanOnDone(t *testing.T) {
	ctx := newTestContext()
	tracer := &fakeTracer{}
	inner := &fakeTask{id: "noop", outcome: Done()}
	tr := &Tracing{Inner: inner, SpanName: "noop", Tracer: tracer}

	outcome := tr.Apply(ctx)
	require.Equal(t, KindDone, outcome.Kind)
	require.Equal(t, 1, tracer.started)
}

func TestTracingRewrapsRequeuedNextTasks(t *testing.T) {
	ctx := newTestContext()
	tracer := &fakeTracer{}
	next := &fakeTask{id: "followup", outcome: Done()}
	inner := &fakeTask{id: "first", outcome: Requeued(next)}
	tr := &Tracing{Inner: inner, SpanName: "first", Tracer: tracer}

	outcome := tr.Apply(ctx)
	require.Equal(t, KindRequeued, outcome.Kind)
	require.Len(t, outcome.Next, 1)
	wrapped, ok := outcome.Next[0].(*Tracing)
	require.True(t, ok)
	require.Same(t, next, wrapped.Inner)
}

func TestTracingRewrapsTerminal(t *testing.T) {
	ctx := newTestContext()
	tracer := &fakeTracer{}
	terminal := &fakeTask{id: "terminal", outcome: Done()}
	inner := &fakeTask{id: "first", outcome: TerminateOutcome(terminal)}
	tr := &Tracing{Inner: inner, SpanName: "first", Tracer: tracer}

	outcome := tr.Apply(ctx)
	require.Equal(t, KindTerminate, outcome.Kind)
	wrapped, ok := outcome.Terminal.(*Tracing)
	require.True(t, ok)
	require.Same(t, terminal, wrapped.Inner)
}
