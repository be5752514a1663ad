package tracing

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewProvider builds a TracerProvider wired only to processor: no batcher,
// no network exporter underneath it, since export is driven by
// task.ExportTraces rather than a background span processor goroutine.
func NewProvider(ctx context.Context, serviceName string, processor sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	if serviceName == "" {
		serviceName = "policy-pipeline"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
	), nil
}

// Tracer adapts an otel TracerProvider to the task.Tracer boundary. Every
// StartSpan call begins a fresh root span: ext_proc carries no inbound
// trace context across the proxy boundary for this pipeline to continue.
type Tracer struct {
	tracer oteltrace.Tracer
}

// NewTracer builds a Tracer from provider under the given instrumentation
// name.
func NewTracer(provider oteltrace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: provider.Tracer(name)}
}

func (t *Tracer) StartSpan(name string) oteltrace.Span {
	_, span := t.tracer.Start(context.Background(), name)
	return span
}
