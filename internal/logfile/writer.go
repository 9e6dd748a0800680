package logfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/rs/zerolog"
)

// WriterOptions configures a Writer
type WriterOptions struct {
	// FsyncPolicy controls when records are synced (default FsyncOnClose)
	FsyncPolicy FsyncPolicy
	// Scheduler receives the writer when FsyncPolicy is FsyncInterval
	Scheduler *FsyncScheduler
	// DisableChecksums omits the per-record CRC32 trailer
	DisableChecksums bool
	// SessionID is stamped into the header
	SessionID uuid.UUID
	// Now overrides the creation clock (tests)
	Now func() time.Time
}

// Writer appends records to a log file. It is safe for concurrent use, but
// records from concurrent callers are ordered by lock acquisition.
type Writer struct {
	mu            sync.Mutex
	file          *os.File
	path          string
	offset        int64
	count         uint64
	synced        uint64 // count at the last interval sync
	lastSize      uint32
	lastTimestamp uint64
	checksum      bool
	policy        FsyncPolicy
	scheduler     *FsyncScheduler
	closed        bool
	buf           []byte
	writeAt       func(p []byte, off int64) (int, error)
	log           zerolog.Logger
}

// Open creates or truncates the log file at path and writes an empty header
func Open(ctx context.Context, path string, opts WriterOptions) (w *Writer, err error) {
	_, span := StartOpenSpan(ctx, path, "write")
	defer func() { EndSpan(span, err) }()

	if opts.FsyncPolicy == "" {
		opts.FsyncPolicy = FsyncOnClose
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rnrerr.IOError{Path: path, Err: err}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, rnrerr.IOError{Path: path, Err: err}
	}

	hdr := fileHeader{
		Version:    FormatVersion,
		CreatedAt:  uint64(now().UnixMicro()),
		SessionTag: SessionTag(opts.SessionID),
	}
	if !opts.DisableChecksums {
		hdr.Flags |= FlagChecksum
	}

	if _, err := file.WriteAt(hdr.encode(), 0); err != nil {
		//nolint:errcheck // Ignore close error, the write error is reported
		_ = file.Close()
		return nil, rnrerr.IOError{Path: path, Err: err}
	}

	w = &Writer{
		file:      file,
		path:      path,
		offset:    HeaderSize,
		checksum:  !opts.DisableChecksums,
		policy:    opts.FsyncPolicy,
		scheduler: opts.Scheduler,
		log:       logger.WithComponent("logfile.writer"),
	}
	w.writeAt = file.WriteAt

	if w.policy == FsyncInterval && w.scheduler != nil {
		w.scheduler.Register(w)
	}

	w.log.Debug().Str("path", path).Str("fsync", string(w.policy)).Msg("Log file opened for write")
	return w, nil
}

// SessionTag folds a session id into the 8 header bytes reserved for it
func SessionTag(id uuid.UUID) uint64 {
	if id == uuid.Nil {
		return 0
	}
	return binary.LittleEndian.Uint64(id[8:16])
}

// WriteRecord appends a record and returns its index. A failed write leaves
// the file truncated to the end of the last committed record.
func (w *Writer) WriteRecord(msgType msgtype.Type, timestamp uint64, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ClosedError{Path: w.path}
	}
	if len(payload) > MaxPayloadSize {
		return 0, RecordTooLargeError{Size: len(payload), Max: MaxPayloadSize}
	}
	if w.count > 0 && timestamp < w.lastTimestamp {
		return 0, TimestampOrderError{Previous: w.lastTimestamp, Got: timestamp}
	}

	size := uint32(len(payload))
	w.buf = appendRecord(w.buf[:0], recordHeader{
		Size:      size,
		PrevSize:  w.lastSize,
		Timestamp: timestamp,
		Type:      msgType,
	}, payload, w.checksum)

	if err := w.commitLocked(w.buf); err != nil {
		return 0, err
	}

	index := w.count
	w.offset += int64(len(w.buf))
	w.count++
	w.lastSize = size
	w.lastTimestamp = timestamp

	// keep one large payload from pinning memory for the rest of the session
	if cap(w.buf) > 1024*1024 {
		w.buf = nil
	}

	return index, nil
}

// commitLocked writes one encoded record at the committed offset
func (w *Writer) commitLocked(rec []byte) error {
	n, err := w.writeAt(rec, w.offset)
	if err == nil && n != len(rec) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(rec))
	}
	if err == nil && w.policy == FsyncAlways {
		err = w.file.Sync()
	}
	if err != nil {
		if terr := w.file.Truncate(w.offset); terr != nil {
			w.log.Error().Err(terr).Str("path", w.path).Int64("offset", w.offset).Msg("Failed to truncate after write error")
		}
		return rnrerr.IOError{Path: w.path, Err: err}
	}
	return nil
}

// Flush syncs written records to disk
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return rnrerr.IOError{Path: w.path, Err: err}
	}
	return nil
}

// Close writes the final record count, syncs and closes the file. Closing an
// already closed writer is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.scheduler != nil {
		w.scheduler.Unregister(w)
	}

	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], w.count)

	var errs []error
	if _, err := w.file.WriteAt(count[:], dataCountOffset); err != nil {
		errs = append(errs, err)
	}
	if err := w.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	w.file = nil
	w.buf = nil

	if len(errs) > 0 {
		return rnrerr.IOError{Path: w.path, Err: errors.Join(errs...)}
	}

	w.log.Debug().Str("path", w.path).Uint64("records", w.count).Msg("Log file closed")
	return nil
}

// Count returns the number of committed records
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Offset returns the end offset of the last committed record
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Path returns the file path
func (w *Writer) Path() string {
	return w.path
}
