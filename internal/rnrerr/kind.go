// Package rnrerr classifies record/replay errors into a small set of kinds.
//
// Packages declare their own typed error structs and attach a kind by
// implementing Kinded. Callers that only care about the category (the CLI
// exit path, the gRPC status mapping, the HTTP error writer) use KindOf.
package rnrerr

import (
	"errors"
	"fmt"
)

// Kind is the category of a record/replay error
type Kind string

const (
	// KindUnknown is returned for errors that carry no kind
	KindUnknown Kind = "Error"
	// KindIO covers file open, write and flush failures
	KindIO Kind = "IOError"
	// KindFormat covers corrupt or unrecognised file contents and payload type mismatches
	KindFormat Kind = "FormatError"
	// KindNotFound covers missing files and sessions
	KindNotFound Kind = "NotFoundError"
	// KindOutOfRange covers seeks beyond the record count
	KindOutOfRange Kind = "OutOfRangeError"
	// KindConfig covers contradictory filters and invalid mode transitions
	KindConfig Kind = "ConfigError"
	// KindUsage covers calls made in the wrong order
	KindUsage Kind = "UsageError"
	// KindMemory covers record buffers that cannot be allocated
	KindMemory Kind = "MemoryError"
)

// Kinded is implemented by errors that know their kind
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the kind of the first error in err's chain that has one
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// OpError ties an error to the operation that produced it
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Kind returns the kind of the wrapped error
func (e *OpError) Kind() Kind {
	return KindOf(e.Err)
}

// WithOp wraps err with an operation name; nil stays nil
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// OpOf returns the outermost operation name recorded on err
func OpOf(err error) string {
	var op *OpError
	if errors.As(err, &op) {
		return op.Op
	}
	return ""
}

// UsageError reports a call made before its prerequisite
type UsageError struct {
	Reason string
}

func (e UsageError) Error() string {
	return fmt.Sprintf("usage error: %s", e.Reason)
}

// Kind implements Kinded
func (e UsageError) Kind() Kind { return KindUsage }

// ConfigError reports contradictory or invalid configuration
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Kind implements Kinded
func (e ConfigError) Kind() Kind { return KindConfig }

// IOError wraps a filesystem failure
type IOError struct {
	Path string
	Err  error
}

func (e IOError) Error() string {
	return fmt.Sprintf("i/o error on %s: %v", e.Path, e.Err)
}

func (e IOError) Unwrap() error { return e.Err }

// Kind implements Kinded
func (e IOError) Kind() Kind { return KindIO }
