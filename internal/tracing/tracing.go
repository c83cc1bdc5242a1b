// Package tracing implements the optional OTLP span export named in
// SPEC_FULL.md §4.17: one span per LLM round and per tool call, off by
// default, mirroring the teacher's tracing.Collector hook points in
// internal/agent (emitLLMSpan, emitToolSpan) — here backed by a real OTel
// SDK exporter rather than the teacher's Postgres-backed span store, since
// msgcode has no managed-mode database.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config is the `telemetry.*` key group of the global config, per
// SPEC_FULL.md §4.17 ("When telemetry.enabled=true in the global config").
type Config struct {
	Enabled     bool   `json:"enabled"`
	Protocol    string `json:"protocol"` // "grpc" (default) or "http"
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"serviceName"`
}

// Hook matches internal/agent.Loop's TraceHook signature structurally
// (func(kind, name string, start time.Time, err error)) without importing
// internal/agent, keeping this package free of a dependency on the agent
// loop's internals.
type Hook func(kind, name string, start time.Time, err error)

// Setup builds an OTLP exporter and tracer provider from cfg. When
// cfg.Enabled is false, it returns a no-op Hook and a no-op shutdown func so
// callers can unconditionally defer the shutdown.
func Setup(ctx context.Context, cfg Config) (hook Hook, shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return noopHook, func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "msgcode"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	tracer := provider.Tracer("github.com/42atom/msgcode/internal/tracing")

	return newSpanHook(tracer), provider.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

func noopHook(kind, name string, start time.Time, err error) {}

// newSpanHook produces a Hook that records one span per call, with an
// explicit start timestamp (the hook fires once, after the operation
// completes, so both start and end are backfilled onto the span).
func newSpanHook(tracer trace.Tracer) Hook {
	return func(kind, name string, start time.Time, err error) {
		_, span := tracer.Start(context.Background(), kind+":"+name,
			trace.WithTimestamp(start),
			trace.WithAttributes(
				attribute.String("msgcode.kind", kind),
				attribute.String("msgcode.name", name),
			),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End(trace.WithTimestamp(time.Now()))
	}
}
