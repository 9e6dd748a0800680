package logfile

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/rs/zerolog"
)

// DefaultIndexInterval is the number of records between sparse index entries
const DefaultIndexInterval = 64

// indexEntry is one sparse index point
type indexEntry struct {
	Index     uint64
	Offset    int64
	Timestamp uint64
}

// Reader gives sequential and random access to a log file without loading
// payloads into memory. Record positions are kept in a sparse index built
// by a header-only scan at open time.
type Reader struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	attrs    Attributes
	checksum bool
	end      int64
	lastSize uint32
	index    []indexEntry
	interval uint64
	consumed bool
	closed   bool
	log      zerolog.Logger
}

// OpenForRead opens an existing log file
func OpenForRead(ctx context.Context, path string) (r *Reader, err error) {
	_, span := StartOpenSpan(ctx, path, "read")
	defer func() { EndSpan(span, err) }()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, FileNotFoundError{Path: path}
		}
		return nil, rnrerr.IOError{Path: path, Err: err}
	}

	r = &Reader{
		file:     file,
		path:     path,
		interval: DefaultIndexInterval,
		log:      logger.WithComponent("logfile.reader"),
	}

	if err := r.load(); err != nil {
		//nolint:errcheck // Ignore close error, the load error is reported
		_ = file.Close()
		return nil, err
	}

	return r, nil
}

// load reads the header and scans record headers to build the sparse index
func (r *Reader) load() error {
	stat, err := r.file.Stat()
	if err != nil {
		return rnrerr.IOError{Path: r.path, Err: err}
	}
	fileSize := stat.Size()

	buf := make([]byte, HeaderSize)
	if _, err := r.file.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return InvalidHeaderError{Path: r.path, Reason: "file shorter than header"}
		}
		return rnrerr.IOError{Path: r.path, Err: err}
	}
	hdr, err := decodeFileHeader(r.path, buf)
	if err != nil {
		return err
	}

	r.attrs = hdr.attributes(r.path)
	r.checksum = r.attrs.Checksums

	var (
		count    uint64
		offset   int64 = HeaderSize
		prevSize uint32
		hbuf     = make([]byte, RecordHeaderSize)
		scanErr  error
	)

	for offset+RecordHeaderSize <= fileSize {
		if _, err := r.file.ReadAt(hbuf, offset); err != nil {
			return rnrerr.IOError{Path: r.path, Err: err}
		}
		rh := decodeRecordHeader(hbuf)

		if rh.Size > MaxPayloadSize {
			scanErr = CorruptRecordError{Index: count, Offset: offset, Reason: "size exceeds maximum"}
			break
		}
		if rh.PrevSize != prevSize {
			scanErr = CorruptRecordError{Index: count, Offset: offset, Reason: "prev_size does not match preceding record"}
			break
		}
		n := recordLen(rh.Size, r.checksum)
		if offset+n > fileSize {
			scanErr = CorruptRecordError{Index: count, Offset: offset, Reason: "truncated record"}
			break
		}

		if count%r.interval == 0 {
			r.index = append(r.index, indexEntry{Index: count, Offset: offset, Timestamp: rh.Timestamp})
		}
		if count == 0 {
			r.attrs.FirstTimestamp = rh.Timestamp
		}
		r.attrs.LastTimestamp = rh.Timestamp

		prevSize = rh.Size
		offset += n
		count++
	}

	if scanErr == nil && offset < fileSize {
		scanErr = CorruptRecordError{Index: count, Offset: offset, Reason: "trailing partial record header"}
	}

	r.attrs.DataCount = count
	r.end = offset
	r.lastSize = prevSize

	switch {
	case count == hdr.DataCount:
		// clean file
	case hdr.DataCount == 0:
		// writer never closed: trust the scan
		r.attrs.Recovered = true
		ev := r.log.Warn().Str("path", r.path).Uint64("scanned", count)
		if scanErr != nil {
			ev = ev.AnErr("scan_error", scanErr)
		}
		ev.Msg("Log file header count is stale, recovered records from scan")
	case count < hdr.DataCount:
		if scanErr != nil {
			return scanErr
		}
		return CorruptRecordError{Index: count, Offset: offset, Reason: "file ends before declared data_count"}
	default:
		r.log.Warn().
			Str("path", r.path).
			Uint64("declared", hdr.DataCount).
			Uint64("scanned", count).
			Msg("Log file holds records past declared data_count, ignoring them")
		if err := r.truncateTo(hdr.DataCount); err != nil {
			return err
		}
	}

	if r.attrs.DataCount == 0 {
		r.attrs.FirstTimestamp, r.attrs.LastTimestamp = 0, 0
	}
	return nil
}

// truncateTo limits the visible records to the first n (n > 0)
func (r *Reader) truncateTo(n uint64) error {
	keep := (n + r.interval - 1) / r.interval
	if keep < uint64(len(r.index)) {
		r.index = r.index[:keep]
	}
	r.attrs.DataCount = n

	off, err := r.locate(n - 1)
	if err != nil {
		return err
	}
	last, _, err := r.readAt(off, n-1)
	if err != nil {
		return err
	}
	r.end = off + recordLen(last.Size, r.checksum)
	r.lastSize = last.Size
	r.attrs.LastTimestamp = last.Timestamp
	return nil
}

// Attributes returns file-level metadata
func (r *Reader) Attributes() Attributes {
	return r.attrs
}

// Path returns the file path
func (r *Reader) Path() string {
	return r.path
}

// ForEach invokes visitor for every record in order. An empty file invokes
// the visitor once with a nil record. A visitor error stops the iteration and
// is returned, except ErrStopIteration which ends it cleanly. ForEach is
// single pass: a second call returns ConsumedError.
func (r *Reader) ForEach(visitor Visitor) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ClosedError{Path: r.path}
	}
	if r.consumed {
		r.mu.Unlock()
		return ConsumedError{Path: r.path}
	}
	r.consumed = true
	r.mu.Unlock()

	if r.attrs.DataCount == 0 {
		err := visitor(r.attrs, 0, nil)
		if errors.Is(err, ErrStopIteration) {
			return nil
		}
		return err
	}

	it := r.Iterator()
	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := visitor(r.attrs, rec.Type, rec); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
}

// Seek returns the record at index
func (r *Reader) Seek(index uint64) (*Record, error) {
	if index >= r.attrs.DataCount {
		return nil, RecordOutOfRangeError{Index: index, Count: r.attrs.DataCount}
	}
	off, err := r.locate(index)
	if err != nil {
		return nil, err
	}
	rec, _, err := r.readAt(off, index)
	return rec, err
}

// locate walks from the nearest sparse index point to the record offset
func (r *Reader) locate(index uint64) (int64, error) {
	slot := index / r.interval
	if slot >= uint64(len(r.index)) {
		return 0, RecordOutOfRangeError{Index: index, Count: r.attrs.DataCount}
	}
	entry := r.index[slot]
	off := entry.Offset
	hbuf := make([]byte, RecordHeaderSize)
	for i := entry.Index; i < index; i++ {
		if _, err := r.file.ReadAt(hbuf, off); err != nil {
			return 0, rnrerr.IOError{Path: r.path, Err: err}
		}
		off += recordLen(decodeRecordHeader(hbuf).Size, r.checksum)
	}
	return off, nil
}

// FindByTimestamp returns the index of the first record whose timestamp is
// at or after ts. It returns DataCount when every record is older.
func (r *Reader) FindByTimestamp(ts uint64) (uint64, error) {
	if r.attrs.DataCount == 0 || ts <= r.attrs.FirstTimestamp {
		return 0, nil
	}
	if ts > r.attrs.LastTimestamp {
		return r.attrs.DataCount, nil
	}

	// last index point strictly before ts; the answer lies after it
	slot := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].Timestamp >= ts
	})
	if slot > 0 {
		slot--
	}
	entry := r.index[slot]

	off := entry.Offset
	hbuf := make([]byte, RecordHeaderSize)
	for i := entry.Index; i < r.attrs.DataCount; i++ {
		if _, err := r.file.ReadAt(hbuf, off); err != nil {
			return 0, rnrerr.IOError{Path: r.path, Err: err}
		}
		rh := decodeRecordHeader(hbuf)
		if rh.Timestamp >= ts {
			return i, nil
		}
		off += recordLen(rh.Size, r.checksum)
	}
	return r.attrs.DataCount, nil
}

// readAt reads and verifies the record starting at off
func (r *Reader) readAt(off int64, index uint64) (*Record, int64, error) {
	hbuf := make([]byte, RecordHeaderSize)
	if _, err := r.file.ReadAt(hbuf, off); err != nil {
		return nil, 0, rnrerr.IOError{Path: r.path, Err: err}
	}
	rh := decodeRecordHeader(hbuf)

	body := make([]byte, int(rh.Size)+trailerLen(r.checksum))
	if len(body) > 0 {
		if _, err := r.file.ReadAt(body, off+RecordHeaderSize); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, 0, CorruptRecordError{Index: index, Offset: off, Reason: "truncated record"}
			}
			return nil, 0, rnrerr.IOError{Path: r.path, Err: err}
		}
	}
	payload := body[:rh.Size]

	if r.checksum {
		stored := binary.LittleEndian.Uint32(body[rh.Size:])
		sum := crc32.Update(crc32.Checksum(hbuf, CRC32Table), CRC32Table, payload)
		if sum != stored {
			return nil, 0, ChecksumMismatchError{Index: index, Expected: stored, Actual: sum}
		}
	}

	rec := &Record{
		Index:     index,
		Timestamp: rh.Timestamp,
		Size:      rh.Size,
		PrevSize:  rh.PrevSize,
		Type:      rh.Type,
		Payload:   payload,
	}
	return rec, off + recordLen(rh.Size, r.checksum), nil
}

func trailerLen(checksum bool) int {
	if checksum {
		return ChecksumSize
	}
	return 0
}

// Close closes the reader; closing twice is a no-op
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.file.Close(); err != nil {
		return rnrerr.IOError{Path: r.path, Err: err}
	}
	return nil
}

// Iterator is a cursor over the records of a Reader. Next moves forward,
// Prev moves backward using each record's prev_size.
type Iterator struct {
	r      *Reader
	offset int64
	next   uint64
}

// Iterator returns a cursor positioned before the first record. Iterators
// are independent of ForEach and of each other.
func (r *Reader) Iterator() *Iterator {
	return &Iterator{r: r, offset: HeaderSize}
}

// IteratorAt returns a cursor positioned before the record at index
func (r *Reader) IteratorAt(index uint64) (*Iterator, error) {
	if index == r.attrs.DataCount {
		return &Iterator{r: r, offset: r.end, next: index}, nil
	}
	if index > r.attrs.DataCount {
		return nil, RecordOutOfRangeError{Index: index, Count: r.attrs.DataCount}
	}
	off, err := r.locate(index)
	if err != nil {
		return nil, err
	}
	return &Iterator{r: r, offset: off, next: index}, nil
}

// Next returns the next record or io.EOF
func (it *Iterator) Next() (*Record, error) {
	if it.next >= it.r.attrs.DataCount {
		return nil, io.EOF
	}
	rec, nextOff, err := it.r.readAt(it.offset, it.next)
	if err != nil {
		return nil, err
	}
	it.offset = nextOff
	it.next++
	return rec, nil
}

// Prev returns the record before the cursor or io.EOF at the start
func (it *Iterator) Prev() (*Record, error) {
	if it.next == 0 {
		return nil, io.EOF
	}

	var prevSize uint32
	if it.next == it.r.attrs.DataCount {
		prevSize = it.r.lastSize
	} else {
		hbuf := make([]byte, RecordHeaderSize)
		if _, err := it.r.file.ReadAt(hbuf, it.offset); err != nil {
			return nil, rnrerr.IOError{Path: it.r.path, Err: err}
		}
		prevSize = decodeRecordHeader(hbuf).PrevSize
	}

	off := it.offset - recordLen(prevSize, it.r.checksum)
	if off < HeaderSize {
		return nil, CorruptRecordError{Index: it.next - 1, Offset: off, Reason: "prev_size points before header"}
	}
	rec, _, err := it.r.readAt(off, it.next-1)
	if err != nil {
		return nil, err
	}
	it.offset = off
	it.next--
	return rec, nil
}

// Position returns the index of the record Next would return
func (it *Iterator) Position() uint64 {
	return it.next
}
