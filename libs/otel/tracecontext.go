package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the serialized W3C trace context stored next to outbox rows
// so the publisher can continue the trace that wrote them.
type TraceContext struct {
	Parent string
	State  string
}

func (tc TraceContext) Empty() bool {
	return tc.Parent == "" && tc.State == ""
}

// CaptureTraceContext serializes the span context carried by ctx.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Parent: carrier["traceparent"], State: carrier["tracestate"]}
}

// ResumeTraceContext returns ctx carrying the remote span context in tc.
func ResumeTraceContext(ctx context.Context, tc TraceContext) context.Context {
	if tc.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": tc.Parent,
		"tracestate":  tc.State,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
