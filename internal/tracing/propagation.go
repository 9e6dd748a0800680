package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/polysync/rnr/internal/rnrerr"
)

// Inject writes the span context of ctx into fields using the global
// propagator. Keys are lower case so they can travel as gRPC metadata.
func Inject(ctx context.Context, fields map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(fields))
}

// Extract returns ctx with the remote span context found in fields
func Extract(ctx context.Context, fields map[string]string) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(fields))
}

// Tracer returns the named tracer from the global provider
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// EndSpan ends span, marking it failed with the rnr error kind when err is set
func EndSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(err)
		span.SetAttributes(attribute.String(AttrErrorKind, string(rnrerr.KindOf(err))))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
