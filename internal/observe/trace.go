package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// scope is the instrumentation scope of every hearken span.
const scope = "github.com/MrWong99/hearken"

// Span attribute keys shared by the recognizer, the transcriber guard and the
// HTTP layer.
const (
	AttrEventKind = attribute.Key("hearken.event.kind")
	AttrCommandID = attribute.Key("hearken.command.id")
	AttrProvider  = attribute.Key("hearken.provider")
	AttrSamples   = attribute.Key("hearken.audio.samples")
)

// Tracer returns the hearken tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartEventSpan starts the span that covers delivery of one recognizer
// event to its handler.
func StartEventSpan(ctx context.Context, kind string, commandID int) (context.Context, trace.Span) {
	return StartSpan(ctx, "recognizer.event",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrEventKind.String(kind), AttrCommandID.Int(commandID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the hex trace ID of the span in ctx, or "" when ctx
// carries no sampled trace. HTTP responses echo it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
