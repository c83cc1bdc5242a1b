package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabledReturnsNoopHook(t *testing.T) {
	hook, shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected a non-nil shutdown func even when disabled")
	}
	hook("llm", "round-1", time.Now(), nil) // must not panic
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSpanHookRecordsErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	hook := newSpanHook(tracer)
	hook("tool", "bash", time.Now().Add(-time.Second), errors.New("boom"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one recorded span, got %d", len(spans))
	}
	if spans[0].Name() != "tool:bash" {
		t.Fatalf("expected span name tool:bash, got %q", spans[0].Name())
	}
	if len(spans[0].Events()) == 0 {
		t.Fatalf("expected an exception event recorded for the error")
	}
}

func TestSpanHookRecordsSuccess(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	hook := newSpanHook(tracer)
	hook("llm", "round-1", time.Now(), nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one recorded span, got %d", len(spans))
	}
	if len(spans[0].Events()) != 0 {
		t.Fatalf("expected no error events on a successful call")
	}
}
