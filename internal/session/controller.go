// Package session implements the OFF/WRITE/REPLAY state machine that owns
// the node's log file.
//
// A controller is driven through SetMode and SetState. Enabling WRITE opens
// a logfile.Writer behind a record.Recorder; enabling REPLAY opens a
// logfile.Reader behind a replay.Scheduler. Only one of them exists at a
// time, so WRITE and REPLAY never share a file handle.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/catalog"
	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/metrics"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/record"
	"github.com/polysync/rnr/internal/replay"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/tracing"
)

// Options configures a Controller
type Options struct {
	// Writer is applied to every recording; SessionID is set per session
	Writer logfile.WriterOptions
	// BufferSize bounds the recorder buffer (default record.DefaultBufferSize)
	BufferSize int
	// Delivery selects listeners or the queue for replayed records
	Delivery replay.Delivery
	// QueueCapacity bounds the replay queue (0 = unbounded)
	QueueCapacity int
	// Replay is applied to every replay; the controller adds its own hooks
	Replay replay.Options
	// ResolvePath maps the configured file path to a filesystem path and
	// rejects paths the node must not open
	ResolvePath func(string) (string, error)
	// Catalog records every session when set
	Catalog *catalog.Catalog
	// Registry names message types for metrics (default msgtype.DefaultRegistry)
	Registry *msgtype.Registry
	// RnR and Node receive metrics; both may be nil
	RnR  *metrics.RnRMetrics
	Node *metrics.NodeMetrics
	// Now is the wall clock for catalog timestamps
	Now func() time.Time
}

// DefaultOptions returns options for queue delivery at real-time speed
func DefaultOptions() Options {
	return Options{
		BufferSize:    record.DefaultBufferSize,
		Delivery:      replay.DeliveryQueue,
		QueueCapacity: 1024,
		Replay:        replay.DefaultOptions(),
	}
}

// Controller owns the session state and the active background task. All
// state is mutated under one mutex. Replay listeners run on the scheduler
// goroutine and must not call back into the controller.
type Controller struct {
	opts      Options
	listeners *replay.Listeners
	queue     *replay.Queue

	mu       sync.Mutex
	state    SessionState
	modeSet  bool
	closed   bool
	pending  error
	recorder *record.Recorder
	sched    *replay.Scheduler
	reader   *logfile.Reader
	last     *replay.Progress
	entry    *catalog.Entry

	log zerolog.Logger
}

// NewController creates a controller in OFF with no mode set
func NewController(opts Options) *Controller {
	if opts.Delivery == "" {
		opts.Delivery = replay.DeliveryQueue
	}
	if opts.Registry == nil {
		opts.Registry = msgtype.DefaultRegistry()
	}
	if opts.ResolvePath == nil {
		opts.ResolvePath = func(p string) (string, error) { return p, nil }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		opts:      opts,
		listeners: replay.NewListeners(),
		queue:     replay.NewQueue(opts.QueueCapacity),
		state:     SessionState{Mode: ModeOff, SessionID: InvalidSessionID},
		log:       logger.WithComponent("session"),
	}
}

// Listeners returns the registry used for subscriber delivery
func (c *Controller) Listeners() *replay.Listeners {
	return c.listeners
}

// QueueConsumer hands out the single consumer of the replay queue
func (c *Controller) QueueConsumer() (*replay.QueueConsumer, error) {
	return c.queue.Consumer()
}

// Delivery returns the replay delivery mode
func (c *Controller) Delivery() replay.Delivery {
	return c.opts.Delivery
}

// call runs one control operation under the lock. A pending background
// error is reported instead of running fn.
func (c *Controller) call(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	ctx, span := c.startSpan(ctx, op)
	defer func() {
		tracing.EndSpan(span, err)
		status := "ok"
		if err != nil {
			status = string(rnrerr.KindOf(err))
		}
		c.opts.Node.RecordControlCall(op, status)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return rnrerr.WithOp(op, ClosedError{})
	}
	if c.pending != nil {
		err, c.pending = c.pending, nil
		return rnrerr.WithOp(op, err)
	}
	return rnrerr.WithOp(op, fn(ctx))
}

// SetMode selects OFF, WRITE or REPLAY. OFF is always accepted and drains
// the active task; WRITE and REPLAY are only reachable from OFF. A nil
// session id with WRITE or REPLAY gets a fresh one.
func (c *Controller) SetMode(ctx context.Context, mode Mode, id uuid.UUID) error {
	return c.call(ctx, "set_mode", func(ctx context.Context) error {
		return c.setModeLocked(ctx, mode, id)
	})
}

func (c *Controller) setModeLocked(ctx context.Context, mode Mode, id uuid.UUID) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	prev := c.state.Mode

	if mode == ModeOff {
		err := c.teardownLocked(ctx, nil)
		c.state.Mode = ModeOff
		c.state.Enabled = false
		c.state.SessionID = InvalidSessionID
		c.modeSet = true
		c.publishModeLocked()
		c.log.Info().Str("prev_mode", string(prev)).Msg("Mode set to off")
		return err
	}

	if prev != ModeOff && prev != mode {
		return InvalidTransitionError{From: prev, To: mode}
	}
	if prev == mode {
		if id == InvalidSessionID || id == c.state.SessionID {
			return nil
		}
		if c.state.Enabled {
			return rnrerr.UsageError{Reason: "disable the session before changing its id"}
		}
		c.state.SessionID = id
		c.last = nil
		return nil
	}

	if id == InvalidSessionID {
		id = uuid.New()
	}
	c.state.Mode = mode
	c.state.Enabled = false
	c.state.SessionID = id
	c.modeSet = true
	c.last = nil
	c.publishModeLocked()

	c.log.Info().Str("mode", string(mode)).Str("session_id", id.String()).Msg("Mode set")
	return nil
}

// SetState enables or disables the selected mode. It fails with a
// UsageError before the first SetMode and is a no-op while OFF.
func (c *Controller) SetState(ctx context.Context, enabled bool) error {
	return c.call(ctx, "set_state", func(ctx context.Context) error {
		return c.setStateLocked(ctx, enabled)
	})
}

func (c *Controller) setStateLocked(ctx context.Context, enabled bool) error {
	if !c.modeSet {
		return rnrerr.UsageError{Reason: "set_state called before set_mode"}
	}
	if c.state.Mode == ModeOff || enabled == c.state.Enabled {
		return nil
	}

	if !enabled {
		err := c.teardownLocked(ctx, nil)
		c.state.Enabled = false
		c.publishModeLocked()
		c.log.Info().Str("mode", string(c.state.Mode)).Msg("Session disabled")
		return err
	}

	var err error
	switch c.state.Mode {
	case ModeWrite:
		err = c.startRecordingLocked(ctx)
	case ModeReplay:
		err = c.startReplayLocked(ctx)
	}
	if err != nil {
		return err
	}

	c.state.Enabled = true
	c.publishModeLocked()
	c.opts.Node.RecordSessionStarted(string(c.state.Mode))
	c.log.Info().
		Str("mode", string(c.state.Mode)).
		Str("session_id", c.state.SessionID.String()).
		Str("path", c.state.FilePath).
		Msg("Session enabled")
	return nil
}

// SetFilePath sets the log file used by the next enable
func (c *Controller) SetFilePath(ctx context.Context, path string) error {
	return c.call(ctx, "set_file_path", func(context.Context) error {
		if c.state.Enabled {
			return rnrerr.UsageError{Reason: "cannot change the file path while enabled"}
		}
		if _, err := c.opts.ResolvePath(path); err != nil {
			return err
		}
		c.state.FilePath = path
		return nil
	})
}

// SetTypeFilters sets the include and exclude lists used by the next enable
func (c *Controller) SetTypeFilters(ctx context.Context, include, exclude []msgtype.Type) error {
	return c.call(ctx, "set_type_filters", func(context.Context) error {
		f := msgtype.Filter{Include: include, Exclude: exclude}
		if err := f.Validate(); err != nil {
			return err
		}
		if c.state.Enabled {
			return rnrerr.UsageError{Reason: "cannot change type filters while enabled"}
		}
		c.state.Include = slices.Clone(include)
		c.state.Exclude = slices.Clone(exclude)
		return nil
	})
}

// SetStartTime sets the replay start reference in microseconds, relative to
// the enable call or an absolute UTC time
func (c *Controller) SetStartTime(ctx context.Context, micros uint64, absolute bool) error {
	return c.call(ctx, "set_start_time", func(context.Context) error {
		if c.state.Enabled {
			return rnrerr.UsageError{Reason: "cannot change the start time while enabled"}
		}
		c.state.StartTime = micros
		c.state.StartTimeIsAbsolute = absolute
		return nil
	})
}

// Publish hands an inbound message to the recorder. It blocks only while the
// recorder buffer is full.
func (c *Controller) Publish(ctx context.Context, msg msgtype.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ClosedError{}
	}
	rec := c.recorder
	c.mu.Unlock()

	if rec == nil {
		return rnrerr.UsageError{Reason: "publish requires write mode to be enabled"}
	}
	return rec.Publish(ctx, msg)
}

// Status returns a snapshot of the controller
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	state.Include = slices.Clone(c.state.Include)
	state.Exclude = slices.Clone(c.state.Exclude)

	st := Status{
		State:      state,
		ModeSet:    c.modeSet,
		Delivery:   c.opts.Delivery,
		QueueDepth: c.queue.Len(),
	}
	if c.recorder != nil {
		stats := c.recorder.Stats()
		st.Recorder = &stats
	}
	switch {
	case c.sched != nil:
		p := c.sched.Progress()
		st.Replay = &p
	case c.last != nil && c.state.Mode == ModeReplay:
		p := *c.last
		st.Replay = &p
	}
	if c.pending != nil {
		st.PendingError = c.pending.Error()
	}
	return st
}

// WaitReplay blocks until the running replay ends or ctx is done. It
// returns nil immediately when no replay is running.
func (c *Controller) WaitReplay(ctx context.Context) error {
	c.mu.Lock()
	s := c.sched
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Wait(ctx)
}

// Sessions lists cataloged sessions, newest first
func (c *Controller) Sessions(ctx context.Context, opts catalog.ListOptions) ([]catalog.Entry, error) {
	if c.opts.Catalog == nil {
		return nil, nil
	}
	return c.opts.Catalog.List(ctx, opts)
}

// Session returns one cataloged session
func (c *Controller) Session(ctx context.Context, id uuid.UUID) (catalog.Entry, error) {
	if c.opts.Catalog == nil {
		return catalog.Entry{}, catalog.SessionNotFoundError{ID: id}
	}
	return c.opts.Catalog.Get(ctx, id)
}

// Close switches the controller off, closes the replay queue and rejects
// further calls. It returns the teardown error or a pending background error.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	err := c.teardownLocked(ctx, nil)
	if err == nil {
		err = c.pending
	}
	c.pending = nil
	c.state.Mode = ModeOff
	c.state.Enabled = false
	c.state.SessionID = InvalidSessionID
	c.closed = true
	c.queue.Close()
	c.publishModeLocked()

	c.log.Info().Msg("Controller closed")
	return err
}

// path resolves the configured file path
func (c *Controller) pathLocked() (string, error) {
	if c.state.FilePath == "" {
		return "", rnrerr.UsageError{Reason: "no file path set"}
	}
	return c.opts.ResolvePath(c.state.FilePath)
}

func (c *Controller) startRecordingLocked(ctx context.Context) error {
	path, err := c.pathLocked()
	if err != nil {
		return err
	}

	wopts := c.opts.Writer
	wopts.SessionID = c.state.SessionID
	w, err := logfile.Open(ctx, path, wopts)
	if err != nil {
		return err
	}

	var rec *record.Recorder
	rec, err = record.NewRecorder(w, record.Options{
		BufferSize: c.opts.BufferSize,
		Filter:     c.state.Filter(),
		OnFailure:  func(err error) { c.recorderFailed(rec, err) },
		OnWrite: func(msg msgtype.Message, latency time.Duration) {
			c.opts.RnR.RecordWrite(c.opts.Registry.Name(msg.Type), len(msg.Payload), latency)
			c.opts.RnR.UpdateRecorderBuffered(rec.Stats().Buffered)
		},
	})
	if err != nil {
		//nolint:errcheck // Ignore close error, the recorder error is reported
		_ = w.Close()
		return err
	}
	if err := rec.Start(); err != nil {
		//nolint:errcheck // Ignore stop error, the start error is reported
		_ = rec.Stop(context.WithoutCancel(ctx))
		return err
	}

	c.recorder = rec
	c.beginEntryLocked(ctx, path)
	return nil
}

func (c *Controller) startReplayLocked(ctx context.Context) error {
	path, err := c.pathLocked()
	if err != nil {
		return err
	}

	r, err := logfile.OpenForRead(ctx, path)
	if err != nil {
		return err
	}

	var s *replay.Scheduler
	ropts := c.opts.Replay
	user := ropts.Hooks
	ropts.Hooks = replay.Hooks{
		OnDeliver: func(msg msgtype.Message, lag time.Duration) {
			c.opts.RnR.RecordReplayed(c.opts.Registry.Name(msg.Type), string(c.opts.Delivery), lag)
			c.opts.RnR.UpdateQueueDepth(c.queue.Len())
			if user.OnDeliver != nil {
				user.OnDeliver(msg, lag)
			}
		},
		OnSuppress: func(msg msgtype.Message) {
			c.opts.RnR.RecordSuppressed(c.opts.Registry.Name(msg.Type))
			if user.OnSuppress != nil {
				user.OnSuppress(msg)
			}
		},
		OnFinish: func(status replay.Status, err error) {
			c.replayFinished(s, status, err)
			if user.OnFinish != nil {
				user.OnFinish(status, err)
			}
		},
	}

	s = replay.NewScheduler(r, c.listeners, c.queue, ropts)
	if err := s.Configure(c.opts.Delivery, c.state.Filter()); err != nil {
		//nolint:errcheck // Ignore close error, the configure error is reported
		_ = r.Close()
		return err
	}

	if n := c.queue.Drain(); n > 0 {
		c.log.Warn().Int("dropped", n).Msg("Discarded replay messages left from the previous session")
	}

	ref := replay.StartFromMicros(c.state.StartTime, c.state.StartTimeIsAbsolute)
	// the run outlives the request that enabled it
	if err := s.Start(context.WithoutCancel(ctx), ref); err != nil {
		//nolint:errcheck // Ignore close error, the start error is reported
		_ = r.Close()
		return err
	}

	c.sched = s
	c.reader = r
	c.last = nil
	c.beginEntryLocked(ctx, path)
	return nil
}

// teardownLocked stops the active task and waits for it to drain. cause is
// the background error that ended the session, if any.
func (c *Controller) teardownLocked(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)

	if rec := c.recorder; rec != nil {
		c.recorder = nil
		err := rec.Stop(ctx)
		stats := rec.Stats()
		c.opts.RnR.RecordFiltered(stats.Filtered)
		c.opts.RnR.UpdateRecorderBuffered(0)
		c.endEntryLocked(ctx, catalog.StatusStopped, stats.Written, stats.Bytes, firstErr(cause, err))
		return err
	}

	if s := c.sched; s != nil {
		c.sched = nil
		//nolint:errcheck // Stop always returns nil
		_ = s.Stop()
		p := s.Progress()
		c.last = &p

		cerr := c.reader.Close()
		c.reader = nil
		err := firstErr(s.Err(), cerr)
		c.endEntryLocked(ctx, catalog.StatusStopped, p.Delivered, 0, firstErr(cause, err))
		return err
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// recorderFailed runs on the recorder goroutine after it stopped writing
func (c *Controller) recorderFailed(rec *record.Recorder, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorder != rec {
		return
	}
	c.failLocked(ModeWrite, err)
}

// replayFinished runs on the scheduler goroutine after the run ended
func (c *Controller) replayFinished(s *replay.Scheduler, status replay.Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sched != s {
		return
	}

	switch status {
	case replay.StatusCompleted:
		c.sched = nil
		p := s.Progress()
		c.last = &p
		if cerr := c.reader.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Msg("Failed to close replay file")
		}
		c.reader = nil
		c.endEntryLocked(context.Background(), catalog.StatusCompleted, p.Delivered, 0, nil)
		c.state.Enabled = false
		c.publishModeLocked()
		c.log.Info().Uint64("delivered", p.Delivered).Msg("Replay completed")
	case replay.StatusError:
		c.failLocked(ModeReplay, err)
	}
}

// failLocked records a sticky background error and forces OFF
func (c *Controller) failLocked(mode Mode, err error) {
	c.log.Error().Err(err).Str("mode", string(mode)).Msg("Background task failed, switching off")
	c.opts.Node.RecordBackgroundError(string(mode), string(rnrerr.KindOf(err)))

	if terr := c.teardownLocked(context.Background(), err); terr != nil && !errors.Is(terr, err) {
		c.log.Warn().Err(terr).Msg("Teardown after background failure")
	}
	c.pending = BackgroundError{Mode: mode, Err: err}
	c.state.Mode = ModeOff
	c.state.Enabled = false
	c.state.SessionID = InvalidSessionID
	c.publishModeLocked()
}

func (c *Controller) publishModeLocked() {
	c.opts.Node.SetMode(string(c.state.Mode), c.state.Enabled)
}

func (c *Controller) beginEntryLocked(ctx context.Context, path string) {
	if c.opts.Catalog == nil {
		return
	}
	e := catalog.Entry{
		ID:        c.state.SessionID,
		Mode:      string(c.state.Mode),
		Path:      path,
		StartedAt: c.opts.Now().UTC(),
		Status:    catalog.StatusActive,
	}
	if err := c.opts.Catalog.Put(ctx, e); err != nil {
		c.log.Warn().Err(err).Str("session_id", e.ID.String()).Msg("Failed to catalog session")
		return
	}
	c.entry = &e
}

func (c *Controller) endEntryLocked(ctx context.Context, status catalog.Status, records, bytes uint64, cause error) {
	e := c.entry
	c.entry = nil
	if c.opts.Catalog == nil || e == nil {
		return
	}

	stopped := c.opts.Now().UTC()
	e.StoppedAt = &stopped
	e.Records = records
	e.Bytes = bytes
	e.Status = status
	if cause != nil {
		e.Status = catalog.StatusFailed
		e.Error = cause.Error()
	}
	if err := c.opts.Catalog.Put(ctx, *e); err != nil {
		c.log.Warn().Err(err).Str("session_id", e.ID.String()).Msg("Failed to update cataloged session")
	}
}
