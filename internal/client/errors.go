package client

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcapi "github.com/polysync/rnr/internal/api/grpc"
	"github.com/polysync/rnr/internal/rnrerr"
)

// Error represents a failed control call. It carries the error kind
// reported by the node.
type Error struct {
	Code    codes.Code
	ErrKind rnrerr.Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind implements rnrerr.Kinded
func (e *Error) Kind() rnrerr.Kind {
	if e.ErrKind == "" {
		return rnrerr.KindUnknown
	}
	return e.ErrKind
}

// IsNotFound returns true if the error is a not found error
func (e *Error) IsNotFound() bool {
	return e.Code == codes.NotFound
}

// IsUnauthenticated returns true if the error is an authentication error
func (e *Error) IsUnauthenticated() bool {
	return e.Code == codes.Unauthenticated
}

// IsUnavailable returns true if the node could not be reached
func (e *Error) IsUnavailable() bool {
	return e.Code == codes.Unavailable && e.ErrKind == ""
}

// wrapError wraps a gRPC error into an Error tied to the failed operation
func wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return rnrerr.WithOp(operation, &Error{
			Code:    codes.Unknown,
			Message: fmt.Sprintf("%s failed: %v", operation, err),
			Err:     err,
		})
	}

	e := &Error{
		Code:    st.Code(),
		Message: st.Message(),
		Err:     err,
	}
	kind, op := grpcapi.KindFromStatus(st)
	if op == "" {
		op = operation
	} else {
		e.Message = strings.TrimPrefix(e.Message, op+": ")
	}
	if kind != rnrerr.KindUnknown {
		e.ErrKind = kind
	}
	return rnrerr.WithOp(op, e)
}
