package replay

import (
	"fmt"

	"github.com/polysync/rnr/internal/rnrerr"
)

// InvalidDeliveryError indicates an unknown delivery mode or a missing target
type InvalidDeliveryError struct {
	Delivery Delivery
	Reason   string
}

func (e InvalidDeliveryError) Error() string {
	return fmt.Sprintf("invalid delivery %q: %s", e.Delivery, e.Reason)
}

// Kind implements rnrerr.Kinded
func (e InvalidDeliveryError) Kind() rnrerr.Kind { return rnrerr.KindConfig }

// InvalidStateError indicates a scheduler call in the wrong lifecycle state
type InvalidStateError struct {
	Current Status
	Op      string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s replay in state %s", e.Op, e.Current)
}

// Kind implements rnrerr.Kinded
func (e InvalidStateError) Kind() rnrerr.Kind { return rnrerr.KindUsage }

// QueueClosedError indicates a push to, or pop from an empty, closed queue
type QueueClosedError struct{}

func (e QueueClosedError) Error() string {
	return "replay queue is closed"
}

// Kind implements rnrerr.Kinded
func (e QueueClosedError) Kind() rnrerr.Kind { return rnrerr.KindUsage }

// QueueOwnedError indicates the queue already has a consumer
type QueueOwnedError struct{}

func (e QueueOwnedError) Error() string {
	return "replay queue already has a consumer"
}

// Kind implements rnrerr.Kinded
func (e QueueOwnedError) Kind() rnrerr.Kind { return rnrerr.KindUsage }
