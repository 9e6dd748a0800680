package grpc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/polysync/rnr/internal/api/auth"
	"github.com/polysync/rnr/internal/rnrerr"
)

// ErrorDomain marks ErrorInfo details produced by this service
const ErrorDomain = "rnr"

// MetadataOp is the ErrorInfo metadata key carrying the failed operation
const MetadataOp = "op"

// codeForKind maps an error kind to a gRPC status code
func codeForKind(kind rnrerr.Kind) codes.Code {
	switch kind {
	case rnrerr.KindUsage:
		return codes.FailedPrecondition
	case rnrerr.KindConfig:
		return codes.InvalidArgument
	case rnrerr.KindNotFound:
		return codes.NotFound
	case rnrerr.KindOutOfRange:
		return codes.OutOfRange
	case rnrerr.KindFormat:
		return codes.DataLoss
	case rnrerr.KindIO:
		return codes.Unavailable
	case rnrerr.KindMemory:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// convertToGRPCStatus converts an error to a gRPC status carrying the
// error kind and operation as ErrorInfo
func convertToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}

	// Check if it's already a gRPC status
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}

	// Check for auth errors
	var unauthorized auth.UnauthorizedError
	if errors.As(err, &unauthorized) {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	var forbidden auth.ForbiddenError
	if errors.As(err, &forbidden) {
		return status.Error(codes.PermissionDenied, err.Error())
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	kind := rnrerr.KindOf(err)
	st := status.New(codeForKind(kind), err.Error())
	info := &errdetails.ErrorInfo{
		Reason: string(kind),
		Domain: ErrorDomain,
	}
	if op := rnrerr.OpOf(err); op != "" {
		info.Metadata = map[string]string{MetadataOp: op}
	}
	if detailed, derr := st.WithDetails(info); derr == nil {
		st = detailed
	}
	return st.Err()
}

// KindFromStatus recovers the error kind and operation from a status
// produced by convertToGRPCStatus
func KindFromStatus(st *status.Status) (rnrerr.Kind, string) {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return rnrerr.Kind(info.GetReason()), info.GetMetadata()[MetadataOp]
		}
	}
	return rnrerr.KindUnknown, ""
}
