package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/duct-ipc/duct-go"

// Tracer returns the library tracer from the global provider. With no
// provider configured this is a no-op tracer, so instrumented paths cost
// nothing by default.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartDialSpan opens a span covering one dial of the given URI.
func StartDialSpan(ctx context.Context, uri string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "duct.Dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("duct.uri", uri)))
}

// StartListenSpan opens a span covering the bind of a listener.
func StartListenSpan(ctx context.Context, uri string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "duct.Listen",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("duct.uri", uri)))
}

// EndSpan finishes span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
