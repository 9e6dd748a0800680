package logfile

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/rnrerr"
)

// FsyncPolicy selects when a writer syncs the file to stable storage
type FsyncPolicy string

const (
	// FsyncAlways syncs after every record
	FsyncAlways FsyncPolicy = "always"
	// FsyncInterval leaves syncing to an FsyncScheduler
	FsyncInterval FsyncPolicy = "interval"
	// FsyncOnClose syncs once, when the writer is closed
	FsyncOnClose FsyncPolicy = "close"
)

// DefaultFsyncInterval is used when a scheduler is created with no interval
const DefaultFsyncInterval = 100 * time.Millisecond

// ParseFsyncPolicy validates a policy name; empty means close
func ParseFsyncPolicy(s string) (FsyncPolicy, error) {
	p := FsyncPolicy(strings.ToLower(s))
	switch p {
	case "":
		return FsyncOnClose, nil
	case FsyncAlways, FsyncInterval, FsyncOnClose:
		return p, nil
	}
	return "", rnrerr.ConfigError{Reason: fmt.Sprintf("invalid fsync policy: %s", s)}
}

// FsyncScheduler syncs the open interval-policy writers on a ticker.
// Writers that appended nothing since their last sync are skipped.
type FsyncScheduler struct {
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	writers map[*Writer]struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewFsyncScheduler creates a stopped scheduler
func NewFsyncScheduler(interval time.Duration) *FsyncScheduler {
	if interval <= 0 {
		interval = DefaultFsyncInterval
	}
	return &FsyncScheduler{
		interval: interval,
		writers:  make(map[*Writer]struct{}),
		log:      logger.WithComponent("logfile.fsync"),
	}
}

// Start launches the sync loop; starting a running scheduler is a no-op
func (fs *FsyncScheduler) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.stop != nil {
		return
	}
	fs.stop, fs.done = make(chan struct{}), make(chan struct{})
	go fs.loop(fs.stop, fs.done)
}

// Stop ends the loop after a last sync pass. It may be started again.
func (fs *FsyncScheduler) Stop() {
	fs.mu.Lock()
	stop, done := fs.stop, fs.done
	fs.stop, fs.done = nil, nil
	fs.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Register adds w to the sync set
func (fs *FsyncScheduler) Register(w *Writer) {
	fs.mu.Lock()
	fs.writers[w] = struct{}{}
	fs.mu.Unlock()
}

// Unregister removes w from the sync set
func (fs *FsyncScheduler) Unregister(w *Writer) {
	fs.mu.Lock()
	delete(fs.writers, w)
	fs.mu.Unlock()
}

func (fs *FsyncScheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(fs.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			fs.syncAll()
		case <-stop:
			fs.syncAll()
			return
		}
	}
}

func (fs *FsyncScheduler) syncAll() {
	fs.mu.Lock()
	writers := make([]*Writer, 0, len(fs.writers))
	for w := range fs.writers {
		writers = append(writers, w)
	}
	fs.mu.Unlock()

	for _, w := range writers {
		if err := w.syncIfDirty(); err != nil {
			fs.log.Warn().Err(err).Str("path", w.Path()).Msg("Interval fsync failed")
		}
	}
}

// syncIfDirty syncs when records were appended since the last interval sync
func (w *Writer) syncIfDirty() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.count == w.synced {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return rnrerr.IOError{Path: w.path, Err: err}
	}
	w.synced = w.count
	return nil
}
