// Package tracing implements the buffering span processor: spans are
// accumulated in a bounded FIFO instead of exported on a background
// goroutine, because the pipeline's concurrency model has no background
// threads (only the per-request executor, cooperatively scheduled by host
// callbacks). Export is driven by the task.ExportTraces task at request
// teardown, which dispatches through the same per-request gRPC dispatcher
// every other task uses.
package tracing

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

const (
	defaultCapacity = 100
)

// Processor is a bounded FIFO of finished spans. OnEnd pushes; once full it
// drops the oldest entry and logs a warning rather than blocking or growing
// unbounded. TakePendingSpans drains up to batchSize spans atomically and
// encodes them as an OTLP ExportTraceServiceRequest, satisfying
// task.SpanDrainer.
type Processor struct {
	mu        sync.Mutex
	buf       []sdktrace.ReadOnlySpan
	capacity  int
	batchSize int
	logger    *slog.Logger
}

// NewProcessor builds a Processor with the given buffer capacity and
// per-drain batch size. A non-positive capacity falls back to 100; a
// non-positive batchSize drains the whole buffer on every call.
func NewProcessor(capacity, batchSize int, logger *slog.Logger) *Processor {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Processor{capacity: capacity, batchSize: batchSize, logger: logger}
}

func (p *Processor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) >= p.capacity {
		p.buf = p.buf[1:]
		if p.logger != nil {
			p.logger.Warn("span buffer full, dropping oldest span", slog.Int("capacity", p.capacity))
		}
	}
	p.buf = append(p.buf, s)
}

func (p *Processor) Shutdown(context.Context) error { return nil }

func (p *Processor) ForceFlush(context.Context) error { return nil }

// Pending reports how many spans are currently buffered, for tests and
// admin diagnostics.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// TakePendingSpans drains up to batchSize spans and encodes them through
// the real OTLP transform (via an otlptrace.Exporter wired to a capturing
// Client) instead of hand-rolling the proto conversion.
func (p *Processor) TakePendingSpans() []byte {
	spans := p.drain()
	if len(spans) == 0 {
		return nil
	}

	client := &captureClient{}
	exporter := otlptrace.NewUnstarted(client)
	if err := exporter.ExportSpans(context.Background(), spans); err != nil {
		if p.logger != nil {
			p.logger.Warn("failed to encode span batch", slog.Any("error", err))
		}
		return nil
	}
	return client.take()
}

func (p *Processor) drain() []sdktrace.ReadOnlySpan {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.buf)
	if p.batchSize > 0 && n > p.batchSize {
		n = p.batchSize
	}
	spans := p.buf[:n:n]
	p.buf = p.buf[n:]
	return spans
}

// captureClient is an otlptrace.Client that never dials out: it marshals
// whatever ResourceSpans the exporter hands it and holds the bytes for
// TakePendingSpans to return, so the actual gRPC call goes through the
// pipeline's own per-request dispatcher rather than a client-owned conn.
type captureClient struct {
	mu    sync.Mutex
	bytes []byte
}

func (c *captureClient) Start(context.Context) error { return nil }

func (c *captureClient) Stop(context.Context) error { return nil }

func (c *captureClient) UploadTraces(_ context.Context, protoSpans []*tracepb.ResourceSpans) error {
	req := &coltracepb.ExportTraceServiceRequest{ResourceSpans: protoSpans}
	b, err := proto.Marshal(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.bytes = b
	c.mu.Unlock()
	return nil
}

func (c *captureClient) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}
