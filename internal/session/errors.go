package session

import (
	"fmt"

	"github.com/polysync/rnr/internal/rnrerr"
)

// InvalidModeError indicates an unknown mode name
type InvalidModeError struct {
	Mode string
}

func (e InvalidModeError) Error() string {
	return fmt.Sprintf("invalid mode %q (expected off, write or replay)", e.Mode)
}

// Kind implements rnrerr.Kinded
func (e InvalidModeError) Kind() rnrerr.Kind { return rnrerr.KindConfig }

// InvalidTransitionError indicates a mode change that must pass through off
type InvalidTransitionError struct {
	From Mode
	To   Mode
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s: switch to off first", e.From, e.To)
}

// Kind implements rnrerr.Kinded
func (e InvalidTransitionError) Kind() rnrerr.Kind { return rnrerr.KindConfig }

// BackgroundError reports a failure of the recorder or scheduler that
// forced the controller off. It keeps the kind of the underlying error.
type BackgroundError struct {
	Mode Mode
	Err  error
}

func (e BackgroundError) Error() string {
	return fmt.Sprintf("%s task failed and the node was switched off: %v", e.Mode, e.Err)
}

func (e BackgroundError) Unwrap() error { return e.Err }

// Kind implements rnrerr.Kinded
func (e BackgroundError) Kind() rnrerr.Kind { return rnrerr.KindOf(e.Err) }

// ClosedError indicates a call after Close
type ClosedError struct{}

func (e ClosedError) Error() string {
	return "controller is closed"
}

// Kind implements rnrerr.Kinded
func (e ClosedError) Kind() rnrerr.Kind { return rnrerr.KindUsage }
