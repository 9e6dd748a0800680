package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/polysync/rnr/internal/rnrerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran and failed (missing file, node error, ...)
	ExitCommandError = 2 // Command error (unknown flag, missing argument, ...)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// fail marks err as a failure of the operation itself
func fail(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: ExitFailure, Err: err}
}

// usageErr reports invalid command input for op
func usageErr(op, format string, args ...any) error {
	return &ExitError{
		Code: ExitCommandError,
		Err:  rnrerr.WithOp(op, rnrerr.UsageError{Reason: fmt.Sprintf(format, args...)}),
	}
}

// GetExitCode extracts the exit code from an error. Errors that never went
// through a command body come from argument parsing and count as command
// errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// FormatError renders err as "error [<kind>] <op>: <msg>"
func FormatError(err error) string {
	kind := rnrerr.KindOf(err)
	if kind == rnrerr.KindUnknown && GetExitCode(err) == ExitCommandError {
		kind = rnrerr.KindUsage
	}

	var opErr *rnrerr.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("error [%s] %s: %v", kind, opErr.Op, opErr.Err)
	}
	return fmt.Sprintf("error [%s] %v", kind, err)
}

// writeJSON writes v as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// field writes one aligned "label: value" line
func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%-10s %v\n", label+":", value)
}
