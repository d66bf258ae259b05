package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zjrosen/forkpool"

// Span names.
const (
	SpanProcStart   = "proc.start"
	SpanProcStop    = "proc.stop"
	SpanChildRun    = "proc.child"
	SpanWorkerRun   = "worker.run"
	SpanTaskStart   = "task.start"
	SpanPoolHarvest = "pool.harvest"
)

// Attribute keys.
const (
	AttrEntry      = "proc.entry"
	AttrPID        = "proc.pid"
	AttrSignal     = "proc.signal"
	AttrWorkerID   = "worker.id"
	AttrWorkerMode = "worker.mode"
	AttrTaskID     = "task.id"
	AttrTaskCount  = "task.count"
	AttrHandles    = "pool.handles"
	AttrMessages   = "pool.messages"
)

// Event names.
const (
	EventMessageReceived = "message.received"
	EventResultsSent     = "results.sent"
	EventChildExited     = "child.exited"
)

// Start starts a span on the global tracer provider. It is a no-op span until
// a provider is installed.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
