package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "book")
	defer span.End()

	tc := CaptureTraceContext(ctx)
	if tc.Parent == "" {
		t.Fatal("expected traceparent to be captured")
	}

	resumed := ResumeTraceContext(context.Background(), tc)
	got := trace.SpanContextFromContext(resumed)
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("trace id mismatch: %s vs %s", got.TraceID(), span.SpanContext().TraceID())
	}
}

func TestResumeEmptyTraceContext(t *testing.T) {
	ctx := context.Background()
	if ResumeTraceContext(ctx, TraceContext{}) != ctx {
		t.Fatal("expected ctx to be returned unchanged")
	}
}
