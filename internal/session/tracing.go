package session

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polysync/rnr/internal/tracing"
)

// startSpan starts a span for one control call
func (c *Controller) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	return tracing.Tracer("rnr.session").Start(ctx, "session."+op,
		trace.WithAttributes(
			attribute.String(tracing.AttrOperation, op),
			attribute.String(tracing.AttrMode, string(state.Mode)),
			attribute.Bool(tracing.AttrEnabled, state.Enabled),
			attribute.String(tracing.AttrSessionID, state.SessionID.String()),
		),
	)
}
