// Package record drains published messages into a log file on a background
// goroutine.
package record

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the number of messages buffered ahead of the writer
const DefaultBufferSize = 1024

// Options configures a Recorder
type Options struct {
	// BufferSize bounds the in-memory buffer (default DefaultBufferSize)
	BufferSize int
	// Filter drops messages before they are buffered
	Filter msgtype.Filter
	// OnFailure is called once on the first write error, after the writer
	// goroutine has exited, so it may call Stop
	OnFailure func(err error)
	// OnWrite is called after every committed record
	OnWrite func(msg msgtype.Message, latency time.Duration)
	// Now stamps messages published without a timestamp (tests)
	Now func() time.Time
}

// Stats counts recorder activity
type Stats struct {
	Written  uint64
	Filtered uint64
	Bytes    uint64
	Buffered int
}

// Recorder owns a logfile.Writer for the duration of a recording
type Recorder struct {
	writer *logfile.Writer
	opts   Options
	buf    chan msgtype.Message

	// mu guards the lifecycle; Publish holds it shared while enqueueing
	mu       sync.RWMutex
	started  bool
	stopping bool

	// orderMu serializes enqueueing so timestamps reach the buffer in order
	orderMu    sync.Mutex
	lastQueued uint64
	haveQueued bool

	errMu     sync.Mutex
	err       error
	failed    chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	stopErr   error

	written  atomic.Uint64
	filtered atomic.Uint64
	bytes    atomic.Uint64

	log zerolog.Logger
}

// NewRecorder wraps writer. The recorder closes the writer on Stop.
func NewRecorder(writer *logfile.Writer, opts Options) (*Recorder, error) {
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		writer: writer,
		opts:   opts,
		buf:    make(chan msgtype.Message, opts.BufferSize),
		failed: make(chan struct{}),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		log:    logger.WithComponent("record").With().Str("path", writer.Path()).Logger(),
	}, nil
}

// Start launches the writer goroutine
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return rnrerr.UsageError{Reason: "recorder already started"}
	}
	r.started = true
	go r.run()
	r.log.Info().Int("buffer", r.opts.BufferSize).Msg("Recorder started")
	return nil
}

// Publish buffers msg for writing. It blocks only while the buffer is full.
// A message without a timestamp is stamped with the current time. Messages
// older than the previous one are rejected with a TimestampOrderError.
func (r *Recorder) Publish(ctx context.Context, msg msgtype.Message) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.Err(); err != nil {
		return err
	}
	if !r.started || r.stopping {
		return rnrerr.UsageError{Reason: "recorder is not running"}
	}
	if !r.opts.Filter.Allows(msg.Type) {
		r.filtered.Add(1)
		return nil
	}

	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	if msg.Timestamp == 0 {
		msg.Timestamp = uint64(r.opts.Now().UnixMicro())
		if r.haveQueued && msg.Timestamp < r.lastQueued {
			msg.Timestamp = r.lastQueued
		}
	}
	if r.haveQueued && msg.Timestamp < r.lastQueued {
		return logfile.TimestampOrderError{Previous: r.lastQueued, Got: msg.Timestamp}
	}

	select {
	case r.buf <- msg:
		r.lastQueued = msg.Timestamp
		r.haveQueued = true
		return nil
	case <-r.failed:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	r.loop()
	close(r.done)

	if err := r.Err(); err != nil && r.opts.OnFailure != nil {
		r.opts.OnFailure(err)
	}
}

func (r *Recorder) loop() {
	for {
		select {
		case msg := <-r.buf:
			if !r.write(msg) {
				return
			}
		case <-r.stopCh:
			for {
				select {
				case msg := <-r.buf:
					if !r.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// write commits one message and reports whether the loop may continue
func (r *Recorder) write(msg msgtype.Message) bool {
	start := time.Now()
	_, err := r.writer.WriteRecord(msg.Type, msg.Timestamp, msg.Payload)
	if err != nil {
		r.fail(err)
		return false
	}
	r.written.Add(1)
	r.bytes.Add(uint64(len(msg.Payload)))
	if r.opts.OnWrite != nil {
		r.opts.OnWrite(msg, time.Since(start))
	}
	return true
}

func (r *Recorder) fail(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
	close(r.failed)

	r.log.Error().Err(err).Uint64("written", r.written.Load()).Msg("Recorder write failed")
}

// Err returns the sticky write error, if any
func (r *Recorder) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Failed is closed when a write error stopped the recorder
func (r *Recorder) Failed() <-chan struct{} {
	return r.failed
}

// Stop drains buffered messages, closes the writer and returns the sticky
// write error or the close error. If ctx ends first, Stop returns ctx.Err()
// and a later call completes the shutdown.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.stopping {
		r.stopping = true
		if r.started {
			close(r.stopCh)
		} else {
			close(r.done)
		}
	}
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.closeOnce.Do(func() {
		closeErr := r.writer.Close()

		r.errMu.Lock()
		r.stopErr = r.err
		if r.stopErr == nil {
			r.stopErr = closeErr
		}
		r.errMu.Unlock()

		r.log.Info().
			Uint64("written", r.written.Load()).
			Uint64("filtered", r.filtered.Load()).
			Msg("Recorder stopped")
	})

	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.stopErr
}

// Stats returns activity counters
func (r *Recorder) Stats() Stats {
	return Stats{
		Written:  r.written.Load(),
		Filtered: r.filtered.Load(),
		Bytes:    r.bytes.Load(),
		Buffered: len(r.buf),
	}
}

// Path returns the log file path
func (r *Recorder) Path() string {
	return r.writer.Path()
}
