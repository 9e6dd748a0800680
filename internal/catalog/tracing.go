package catalog

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polysync/rnr/internal/tracing"
)

func startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	ctx, span := tracing.Tracer("rnr.catalog").Start(ctx, "catalog."+op,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String(tracing.AttrOperation, op))
	if id != "" {
		span.SetAttributes(attribute.String(tracing.AttrSessionID, id))
	}
	return ctx, span
}
