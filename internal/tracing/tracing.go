// Package tracing wires the object runtime's OpenTelemetry spans
// (object.tracer) to a real SDK TracerProvider instead of the global
// no-op default, so a deployed directoryd actually emits the
// Call/Result/Error facts object.MetaCall records as spans rather than
// discarding them (spec §4.4/§7 "the same dispatch is visible in any
// OTel-compatible backend").
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// slogExporter forwards finished spans to a structured logger. It stands
// in for a real OTLP/Jaeger exporter so the SDK pipeline (batching,
// resource attributes, shutdown draining) is exercised end to end without
// pulling in a collector dependency nothing else in this module needs.
type slogExporter struct {
	log *slog.Logger
}

func (e *slogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.log.Info("span",
			"name", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"status", s.Status().Code.String(),
			"duration", s.EndTime().Sub(s.StartTime()).String(),
		)
	}
	return nil
}

func (e *slogExporter) Shutdown(ctx context.Context) error { return nil }

// Install installs a batching TracerProvider that logs every finished
// span through log, and returns a shutdown function the caller must run
// before exit to flush the final batch. It replaces the global
// TracerProvider, which object.MetaCall's tracer resolves lazily on each
// call, so installing it before serving traffic is enough.
func Install(log *slog.Logger) func(context.Context) error {
	exp := &slogExporter{log: log}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
