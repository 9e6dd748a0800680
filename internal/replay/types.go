package replay

import (
	"time"

	"github.com/polysync/rnr/internal/msgtype"
)

// Delivery selects where replayed records go
type Delivery string

const (
	// DeliverySubscriber dispatches records to the registered Listeners
	DeliverySubscriber Delivery = "subscriber"
	// DeliveryQueue pushes records into a Queue
	DeliveryQueue Delivery = "queue"
)

// Status represents the lifecycle of a scheduler
type Status string

const (
	// StatusCreated indicates the scheduler was configured but not started
	StatusCreated Status = "created"
	// StatusActive indicates records are being emitted
	StatusActive Status = "active"
	// StatusStopped indicates Stop was called before the file was exhausted
	StatusStopped Status = "stopped"
	// StatusCompleted indicates every record was emitted
	StatusCompleted Status = "completed"
	// StatusError indicates emission ended on a read or delivery error
	StatusError Status = "error"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusError
}

// StartReference anchors the first emitted record on the wall clock. A
// relative reference waits Relative after Start; an absolute one waits until
// At, or not at all when At has passed.
type StartReference struct {
	Relative time.Duration
	At       time.Time
	Absolute bool
}

// StartAfter returns a relative start reference
func StartAfter(d time.Duration) StartReference {
	return StartReference{Relative: d}
}

// StartAt returns an absolute start reference
func StartAt(t time.Time) StartReference {
	return StartReference{At: t, Absolute: true}
}

// StartFromMicros builds a reference from the control surface encoding:
// microseconds, relative to now unless absolute is set (UTC epoch).
func StartFromMicros(micros uint64, absolute bool) StartReference {
	if absolute {
		return StartAt(time.UnixMicro(int64(micros)).UTC())
	}
	return StartAfter(time.Duration(micros) * time.Microsecond)
}

// Delay returns how long to wait from now before the first record
func (r StartReference) Delay(now time.Time) time.Duration {
	if r.Absolute {
		if d := r.At.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	if r.Relative < 0 {
		return 0
	}
	return r.Relative
}

// Options tunes a scheduler
type Options struct {
	// Speed scales the replay clock: 1 is real time, 2 twice as fast, 0 as fast
	// as possible. Use DefaultOptions for real time.
	Speed float64
	// StartIndex skips records before this index
	StartIndex uint64
	// StartTimestamp skips records older than this timestamp (0 = unset); wins over StartIndex
	StartTimestamp uint64
	// Clock overrides the wall clock
	Clock Clock
	// Hooks observe delivery
	Hooks Hooks
}

// DefaultOptions replays in real time from the first record
func DefaultOptions() Options {
	return Options{Speed: 1}
}

// Hooks are optional observers called on the scheduler goroutine
type Hooks struct {
	// OnDeliver is called after a record was handed to its target
	OnDeliver func(msg msgtype.Message, lag time.Duration)
	// OnSuppress is called for records removed by the filters
	OnSuppress func(msg msgtype.Message)
	// OnFinish is called once after the run ended and Done is closed, so it
	// may call Stop
	OnFinish func(status Status, err error)
}

// Progress is a snapshot of a running replay
type Progress struct {
	Status      Status
	Delivered   uint64
	Suppressed  uint64
	Index       uint64
	Total       uint64
	Lag         time.Duration
	StartedAt   *time.Time
	CompletedAt *time.Time
}
