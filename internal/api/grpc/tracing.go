package grpc

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/polysync/rnr/internal/tracing"
)

// tracingInterceptor opens one server span per control call. A trace
// context sent by the client in metadata becomes the parent.
func (s *Server) tracingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = otel.GetTextMapPropagator().Extract(ctx, mdCarrier(md))

	service, method, ok := strings.Cut(strings.TrimPrefix(info.FullMethod, "/"), "/")
	if !ok {
		service, method = "", info.FullMethod
	}

	ctx, span := tracing.Tracer("rnr.grpc").Start(ctx, "control "+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String(tracing.AttrRPCService, service),
			attribute.String(tracing.AttrRPCMethod, method),
		),
	)
	defer span.End()

	resp, err := handler(ctx, req)

	st := status.Convert(err)
	span.SetAttributes(attribute.String(tracing.AttrRPCStatus, st.Code().String()))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return resp, nil
	}

	kind, op := KindFromStatus(st)
	span.SetAttributes(attribute.String(tracing.AttrErrorKind, string(kind)))
	if op != "" {
		span.SetAttributes(attribute.String(tracing.AttrOperation, op))
	}
	span.SetStatus(codes.Error, st.Message())
	return resp, err
}

// mdCarrier lets the otel propagator read incoming gRPC metadata
type mdCarrier metadata.MD

func (c mdCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c mdCarrier) Set(key, value string) {
	if c != nil {
		metadata.MD(c).Set(key, value)
	}
}

func (c mdCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
