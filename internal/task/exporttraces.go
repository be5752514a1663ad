package task

import (
	"log/slog"
	"time"

	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// SpanDrainer hands over a pending batch of finished spans, already encoded
// as an OTLP ExportTraceServiceRequest. TakePendingSpans returns nil when the
// buffer is empty.
type SpanDrainer interface {
	TakePendingSpans() []byte
}

// ExportTraces runs at teardown: it closes the request's own span, then
// drains and exports whatever span batch has accumulated. It never pauses
// the filter, since it only runs after the response has already been sent.
type ExportTraces struct {
	TaskID   string
	Deps     []string
	Upstream string
	Timeout  time.Duration
	Drainer  SpanDrainer
	Logger   *slog.Logger
}

func (e *ExportTraces) ID() (string, bool) { return e.TaskID, e.TaskID != "" }

func (e *ExportTraces) Dependencies() []string { return e.Deps }

func (e *ExportTraces) PausesFilter() bool { return false }

func (e *ExportTraces) Apply(ctx *pctx.Context) Outcome {
	if span := ctx.ExitSpan(); span != nil {
		span.End()
	}

	batch := e.Drainer.TakePendingSpans()
	if len(batch) == 0 {
		return Done()
	}

	token := ctx.DispatchGRPC(e.Upstream, "opentelemetry.proto.collector.trace.v1.TraceService", "Export", batch, e.Timeout)
	pending := PendingTask{
		TaskID: e.TaskID,
		Deps:   e.Deps,
		Paused: false,
		Resume: e.resume,
	}
	return DeferredOutcome(token, pending)
}

// resume never fails the request: a trace export problem is an
// observability concern, not a traffic-affecting one.
func (e *ExportTraces) resume(ctx *pctx.Context) Outcome {
	if status := ctx.GRPCResponseStatus(); status < 0 && e.Logger != nil {
		e.Logger.Warn("span export failed", slog.String("upstream", e.Upstream))
	}
	return Done()
}
