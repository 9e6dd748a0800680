package replay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/rs/zerolog"
)

// Scheduler re-emits the records of a log file with their original spacing.
// Record i is emitted at start + (ts_i - ts_0) / speed, in stored order.
type Scheduler struct {
	reader    *logfile.Reader
	listeners *Listeners
	queue     *Queue
	opts      Options
	clock     Clock

	mu         sync.Mutex
	delivery   Delivery
	filters    msgtype.Filter
	configured bool
	status     Status
	progress   Progress
	err        error
	cancel     context.CancelFunc
	done       chan struct{}

	log zerolog.Logger
}

// NewScheduler creates a scheduler over reader. listeners and queue are the
// delivery targets; either may be nil if that delivery mode is never used.
func NewScheduler(reader *logfile.Reader, listeners *Listeners, queue *Queue, opts Options) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		reader:    reader,
		listeners: listeners,
		queue:     queue,
		opts:      opts,
		clock:     clock,
		status:    StatusCreated,
		done:      make(chan struct{}),
		log:       logger.WithComponent("replay.scheduler").With().Str("path", reader.Path()).Logger(),
	}
}

// Configure sets the delivery mode and filters. It may be called again
// until Start.
func (s *Scheduler) Configure(delivery Delivery, filters msgtype.Filter) error {
	if err := filters.Validate(); err != nil {
		return err
	}
	switch delivery {
	case DeliverySubscriber:
		if s.listeners == nil {
			return InvalidDeliveryError{Delivery: delivery, Reason: "no listener registry"}
		}
	case DeliveryQueue:
		if s.queue == nil {
			return InvalidDeliveryError{Delivery: delivery, Reason: "no queue"}
		}
	default:
		return InvalidDeliveryError{Delivery: delivery, Reason: "unknown delivery mode"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCreated {
		return InvalidStateError{Current: s.status, Op: "configure"}
	}
	s.delivery = delivery
	s.filters = filters
	s.configured = true
	return nil
}

// Start launches the emission goroutine. The first record is emitted after
// the delay given by ref.
func (s *Scheduler) Start(ctx context.Context, ref StartReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return rnrerr.UsageError{Reason: "replay started before configure"}
	}
	if s.status != StatusCreated {
		return InvalidStateError{Current: s.status, Op: "start"}
	}
	if s.opts.Speed < 0 {
		return rnrerr.ConfigError{Reason: "replay speed must not be negative"}
	}

	first := s.opts.StartIndex
	if s.opts.StartTimestamp > 0 {
		idx, err := s.reader.FindByTimestamp(s.opts.StartTimestamp)
		if err != nil {
			return err
		}
		first = idx
	}
	it, err := s.reader.IteratorAt(first)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	startAt := now.Add(ref.Delay(now))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.status = StatusActive
	s.progress = Progress{
		Status:    StatusActive,
		Index:     first,
		Total:     s.reader.Attributes().DataCount,
		StartedAt: &startAt,
	}

	go s.run(runCtx, it, startAt)

	s.log.Info().
		Str("delivery", string(s.delivery)).
		Uint64("start_index", first).
		Time("start_at", startAt).
		Float64("speed", s.opts.Speed).
		Msg("Replay started")
	return nil
}

func (s *Scheduler) run(ctx context.Context, it *logfile.Iterator, startAt time.Time) {
	status, err := s.emit(ctx, it, startAt)

	s.mu.Lock()
	s.status = status
	s.err = err
	s.progress.Status = status
	now := s.clock.Now()
	s.progress.CompletedAt = &now
	progress := s.progress
	s.cancel()
	s.mu.Unlock()

	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.Str("status", string(status)).
		Uint64("delivered", progress.Delivered).
		Uint64("suppressed", progress.Suppressed).
		Msg("Replay finished")

	close(s.done)

	if s.opts.Hooks.OnFinish != nil {
		s.opts.Hooks.OnFinish(status, err)
	}
}

// emit runs the schedule and returns the terminal status
func (s *Scheduler) emit(ctx context.Context, it *logfile.Iterator, startAt time.Time) (Status, error) {
	if err := s.clock.Sleep(ctx, startAt.Sub(s.clock.Now())); err != nil {
		return StatusStopped, nil
	}

	var ts0 uint64
	haveFirst := false

	for {
		if ctx.Err() != nil {
			return StatusStopped, nil
		}

		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			return StatusCompleted, nil
		}
		if err != nil {
			return StatusError, err
		}
		if !haveFirst {
			ts0 = rec.Timestamp
			haveFirst = true
		}
		msg := rec.Message()

		if !s.filters.Allows(rec.Type) {
			s.mu.Lock()
			s.progress.Suppressed++
			s.progress.Index = rec.Index + 1
			s.mu.Unlock()
			if s.opts.Hooks.OnSuppress != nil {
				s.opts.Hooks.OnSuppress(msg)
			}
			continue
		}

		due := startAt.Add(s.offset(rec.Timestamp - ts0))
		if err := s.clock.Sleep(ctx, due.Sub(s.clock.Now())); err != nil {
			return StatusStopped, nil
		}

		// the record is in flight from here on
		if err := s.deliver(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return StatusStopped, nil
			}
			return StatusError, err
		}
		lag := s.clock.Now().Sub(due)

		s.mu.Lock()
		s.progress.Delivered++
		s.progress.Index = rec.Index + 1
		s.progress.Lag = lag
		s.mu.Unlock()

		if s.opts.Hooks.OnDeliver != nil {
			s.opts.Hooks.OnDeliver(msg, lag)
		}
	}
}

// offset converts a timestamp delta in microseconds into wall time
func (s *Scheduler) offset(deltaMicros uint64) time.Duration {
	if s.opts.Speed == 0 {
		return 0
	}
	d := time.Duration(deltaMicros) * time.Microsecond
	if s.opts.Speed == 1 {
		return d
	}
	return time.Duration(float64(d) / s.opts.Speed)
}

func (s *Scheduler) deliver(ctx context.Context, msg msgtype.Message) error {
	if s.delivery == DeliveryQueue {
		return s.queue.Push(ctx, msg)
	}
	s.listeners.Dispatch(msg)
	return nil
}

// Stop ends the replay. A record already being delivered to listeners is
// completed first; a push blocked on a full queue is abandoned. Stop waits for
// the emission goroutine and is a no-op when the run already ended.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	switch {
	case s.status == StatusCreated:
		s.status = StatusStopped
		s.progress.Status = StatusStopped
		close(s.done)
		s.mu.Unlock()
		return nil
	case s.status.Terminal():
		s.mu.Unlock()
		<-s.done
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.done
	return nil
}

// Done is closed when the run has ended
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the run ends or ctx is done and returns the run error
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

// Err returns the terminal error, nil while running or after a clean end
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Status returns the lifecycle state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Progress returns a snapshot of the run
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}
