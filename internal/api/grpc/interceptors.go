package grpc

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/polysync/rnr/internal/api/auth"
)

// interceptors returns the unary chain, outermost first. Everything below
// observe returns gRPC statuses, so metrics and spans see final codes.
func (s *Server) interceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		s.tracingInterceptor,
		s.observe,
		s.authenticate,
		statusErrors,
	)
}

// observe records the call in the API metrics and the log
func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	elapsed := time.Since(start)

	code := status.Code(err)
	s.metrics.RecordAPIRequest("grpc", info.FullMethod, code.String(), elapsed)

	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("method", info.FullMethod).
		Str("code", code.String()).
		Dur("duration", elapsed).
		Msg("gRPC call")
	return resp, err
}

// authenticate requires a bearer token when a store is configured. Health
// checks stay open.
func (s *Server) authenticate(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if s.tokenStore == nil || strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
		return next(ctx, req)
	}

	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if v := md.Get("authorization"); len(v) > 0 {
		header = v[0]
	}

	principal, err := auth.Authenticate(s.tokenStore, header)
	if err != nil {
		return nil, convertToGRPCStatus(err)
	}
	if err := auth.Authorize(principal, info.FullMethod, requiredPermission(info.FullMethod)); err != nil {
		return nil, convertToGRPCStatus(err)
	}
	return next(auth.WithPrincipal(ctx, principal), req)
}

func requiredPermission(fullMethod string) auth.Permission {
	if fullMethod == FullMethod(MethodGetStatus) {
		return auth.PermissionRead
	}
	return auth.PermissionControl
}

// statusErrors converts handler and auth errors to gRPC statuses
func statusErrors(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	resp, err := next(ctx, req)
	if err != nil {
		return nil, convertToGRPCStatus(err)
	}
	return resp, nil
}
