package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/jorge-barreto/synthflow/internal/config"
)

func TestSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, parent := StartSpan(context.Background(), "pipeline.run", attribute.String("run.id", "r1"))
	_, child := StartSpan(ctx, "evidence.stage")
	End(child, errors.New("evidence absent"))
	End(parent, nil)

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	ev, run := spans[0], spans[1]
	if ev.Name() != "evidence.stage" || run.Name() != "pipeline.run" {
		t.Fatalf("got spans %q, %q", ev.Name(), run.Name())
	}
	if ev.Parent().SpanID() != run.SpanContext().SpanID() {
		t.Fatal("stage span is not a child of the run span")
	}
	if ev.Status().Code != codes.Error || ev.Status().Description != "evidence absent" {
		t.Fatalf("got status %+v", ev.Status())
	}
	if run.Status().Code != codes.Unset {
		t.Fatalf("got run status %+v", run.Status())
	}
	if got := run.Attributes(); len(got) != 1 || got[0].Value.AsString() != "r1" {
		t.Fatalf("got attributes %v", got)
	}
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Tracing{}, "dev", zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
