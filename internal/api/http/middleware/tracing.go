package middleware

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/polysync/rnr/internal/tracing"
)

// Tracing opens a server span per request, continuing a W3C trace context
// found in the request headers. Spans are named after the route pattern.
func Tracing() func(http.Handler) http.Handler {
	tracer := tracing.Tracer("rnr.http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			route := r.Pattern
			if route == "" {
				route = r.Method + " unmatched"
			}
			ctx, span := tracer.Start(ctx, route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String(tracing.AttrHTTPMethod, r.Method),
					attribute.String(tracing.AttrHTTPRoute, route),
					attribute.String("http.target", r.URL.RequestURI()),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("net.peer.addr", r.RemoteAddr),
				),
			)
			defer span.End()

			ww := wrapResponseWriter(w)
			next.ServeHTTP(ww, r.WithContext(ctx))

			span.SetAttributes(attribute.Int(tracing.AttrHTTPStatusCode, ww.statusCode))
			switch {
			case ww.statusCode >= 500:
				span.SetStatus(codes.Error, fmt.Sprintf("status %d", ww.statusCode))
			case ww.statusCode >= 400:
				// unset for client errors
			default:
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}
