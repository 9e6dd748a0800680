package logfile

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polysync/rnr/internal/tracing"
)

const tracerName = "rnr.logfile"

// StartOpenSpan starts a span around opening a log file
func StartOpenSpan(ctx context.Context, path, access string) (context.Context, trace.Span) {
	return tracing.Tracer(tracerName).Start(ctx, "logfile.open",
		trace.WithAttributes(
			attribute.String(tracing.AttrLogPath, path),
			attribute.String(tracing.AttrLogAccess, access),
		),
	)
}

// EndSpan ends a logfile span, recording err if set
func EndSpan(span trace.Span, err error) {
	tracing.EndSpan(span, err)
}
