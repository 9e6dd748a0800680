package logfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
)

type testRecord struct {
	typ     msgtype.Type
	ts      uint64
	payload []byte
}

func writeTestFile(t *testing.T, path string, opts WriterOptions, recs []testRecord) {
	t.Helper()
	w, err := Open(context.Background(), path, opts)
	require.NoError(t, err)
	for _, rec := range recs {
		_, err := w.WriteRecord(rec.typ, rec.ts, rec.payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func sequentialRecords(n int, step uint64) []testRecord {
	recs := make([]testRecord, n)
	for i := range recs {
		recs[i] = testRecord{
			typ:     msgtype.ByteArray,
			ts:      uint64(i) * step,
			payload: []byte(fmt.Sprintf("payload-%03d", i)),
		}
	}
	return recs
}

func TestWriterReader_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rnr")
	recs := []testRecord{
		{typ: msgtype.CANFrame, ts: 100, payload: []byte("a")},
		{typ: msgtype.GPS, ts: 200, payload: []byte("bbbb")},
		{typ: msgtype.IMU, ts: 300, payload: nil},
		{typ: msgtype.CANFrame, ts: 400, payload: []byte("cc")},
	}
	id := uuid.New()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	writeTestFile(t, path, WriterOptions{SessionID: id, Now: func() time.Time { return created }}, recs)

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	attrs := r.Attributes()
	assert.Equal(t, uint64(4), attrs.DataCount)
	assert.Equal(t, FormatVersion, attrs.Version)
	assert.True(t, attrs.Checksums)
	assert.False(t, attrs.Recovered)
	assert.Equal(t, SessionTag(id), attrs.SessionTag)
	assert.Equal(t, created, attrs.CreatedAt)
	assert.Equal(t, uint64(100), attrs.FirstTimestamp)
	assert.Equal(t, uint64(400), attrs.LastTimestamp)
	assert.Equal(t, 300*time.Microsecond, attrs.Duration())

	var got []*Record
	err = r.ForEach(func(a Attributes, msgType msgtype.Type, rec *Record) error {
		require.NotNil(t, rec)
		assert.Equal(t, rec.Type, msgType)
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	var prevSize uint32
	for i, rec := range got {
		assert.Equal(t, uint64(i), rec.Index)
		assert.Equal(t, recs[i].typ, rec.Type)
		assert.Equal(t, recs[i].ts, rec.Timestamp)
		assert.Equal(t, len(recs[i].payload), len(rec.Payload))
		assert.Equal(t, uint32(len(recs[i].payload)), rec.Size)
		assert.Equal(t, prevSize, rec.PrevSize)
		prevSize = rec.Size
	}
	assert.Equal(t, []byte("bbbb"), got[1].Payload)
}

func TestWriterReader_NoChecksums(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.rnr")
	writeTestFile(t, path, WriterOptions{DisableChecksums: true}, sequentialRecords(3, 10))

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+3*(RecordHeaderSize+11)), stat.Size())

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.Attributes().Checksums)

	rec, err := r.Seek(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-002"), rec.Payload)
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.rnr")
	w, err := Open(context.Background(), path, WriterOptions{})
	require.NoError(t, err)

	_, err = w.WriteRecord(msgtype.ByteArray, 1, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.WriteRecord(msgtype.ByteArray, 2, []byte("y"))
	var closed ClosedError
	assert.ErrorAs(t, err, &closed)
	assert.Equal(t, rnrerr.KindUsage, rnrerr.KindOf(err))

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint64(1), r.Attributes().DataCount)
}

func TestWriter_FailedCommitTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.rnr")
	w, err := Open(context.Background(), path, WriterOptions{})
	require.NoError(t, err)

	recs := sequentialRecords(3, 10)
	for _, rec := range recs {
		_, err := w.WriteRecord(rec.typ, rec.ts, rec.payload)
		require.NoError(t, err)
	}
	committed := w.Offset()

	// half of the next record reaches the file before the device fails
	diskFull := errors.New("no space left on device")
	w.writeAt = func(p []byte, off int64) (int, error) {
		n, err := w.file.WriteAt(p[:len(p)/2], off)
		if err != nil {
			return n, err
		}
		return n, diskFull
	}

	_, err = w.WriteRecord(msgtype.ByteArray, 30, []byte("payload-torn"))
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, rnrerr.KindIO, rnrerr.KindOf(err))
	assert.Equal(t, uint64(3), w.Count())
	assert.Equal(t, committed, w.Offset())

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, committed, stat.Size())

	// the device recovers; the next record chains onto the last committed one
	w.writeAt = w.file.WriteAt
	index, err := w.WriteRecord(msgtype.GPS, 40, []byte("fix"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), index)
	require.NoError(t, w.Close())

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, uint64(4), r.Attributes().DataCount)
	assert.False(t, r.Attributes().Recovered)

	var prevSize uint32
	for i := uint64(0); i < 4; i++ {
		rec, err := r.Seek(i)
		require.NoError(t, err)
		assert.Equal(t, prevSize, rec.PrevSize, "record %d", i)
		prevSize = rec.Size
	}
	last, err := r.Seek(3)
	require.NoError(t, err)
	assert.Equal(t, msgtype.GPS, last.Type)
	assert.Equal(t, []byte("fix"), last.Payload)
}

func TestWriter_FailedCommitBeforeClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.rnr")
	w, err := Open(context.Background(), path, WriterOptions{})
	require.NoError(t, err)
	for _, rec := range sequentialRecords(2, 10) {
		_, err := w.WriteRecord(rec.typ, rec.ts, rec.payload)
		require.NoError(t, err)
	}
	w.writeAt = func(p []byte, off int64) (int, error) {
		return w.file.WriteAt(p[:RecordHeaderSize], off)
	}
	_, err = w.WriteRecord(msgtype.ByteArray, 20, []byte("payload-002"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short write")

	// crash before Close: the header count is stale and the reader scans
	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint64(2), r.Attributes().DataCount)
	assert.True(t, r.Attributes().Recovered)
	require.NoError(t, w.Close())
}

func TestWriter_RejectsDecreasingTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "order.rnr")
	w, err := Open(context.Background(), path, WriterOptions{})
	require.NoError(t, err)
	defer w.Close()

	_, err = w.WriteRecord(msgtype.ByteArray, 50, nil)
	require.NoError(t, err)
	idx, err := w.WriteRecord(msgtype.ByteArray, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	_, err = w.WriteRecord(msgtype.ByteArray, 49, nil)
	var order TimestampOrderError
	require.ErrorAs(t, err, &order)
	assert.Equal(t, uint64(50), order.Previous)
	assert.Equal(t, uint64(2), w.Count())
}

func TestWriter_RejectsOversizedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.rnr")
	w, err := Open(context.Background(), path, WriterOptions{})
	require.NoError(t, err)
	defer w.Close()

	offset := w.Offset()
	_, err = w.WriteRecord(msgtype.ImageData, 1, make([]byte, MaxPayloadSize+1))
	assert.Equal(t, rnrerr.KindMemory, rnrerr.KindOf(err))
	assert.Equal(t, offset, w.Offset())
	assert.Equal(t, uint64(0), w.Count())
}

func TestWriter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "nested.rnr")
	writeTestFile(t, path, WriterOptions{FsyncPolicy: FsyncAlways}, sequentialRecords(1, 1))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestReader_EmptyFileVisitsOnceWithNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.rnr")
	writeTestFile(t, path, WriterOptions{}, nil)

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	calls := 0
	err = r.ForEach(func(a Attributes, _ msgtype.Type, rec *Record) error {
		calls++
		assert.Nil(t, rec)
		assert.Equal(t, uint64(0), a.DataCount)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReader_ForEachIsSinglePass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "once.rnr")
	writeTestFile(t, path, WriterOptions{}, sequentialRecords(2, 1))

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.ForEach(func(Attributes, msgtype.Type, *Record) error { return nil }))
	err = r.ForEach(func(Attributes, msgtype.Type, *Record) error { return nil })
	var consumed ConsumedError
	assert.ErrorAs(t, err, &consumed)
}

func TestReader_ForEachStopsOnVisitorError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop.rnr")
	writeTestFile(t, path, WriterOptions{}, sequentialRecords(5, 1))

	t.Run("stop iteration", func(t *testing.T) {
		r, err := OpenForRead(context.Background(), path)
		require.NoError(t, err)
		defer r.Close()

		seen := 0
		err = r.ForEach(func(_ Attributes, _ msgtype.Type, rec *Record) error {
			seen++
			if rec.Index == 1 {
				return ErrStopIteration
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, seen)
	})

	t.Run("visitor error", func(t *testing.T) {
		r, err := OpenForRead(context.Background(), path)
		require.NoError(t, err)
		defer r.Close()

		boom := errors.New("boom")
		err = r.ForEach(func(Attributes, msgtype.Type, *Record) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestReader_Seek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.rnr")
	writeTestFile(t, path, WriterOptions{}, sequentialRecords(150, 10))

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	for _, idx := range []uint64{0, 63, 64, 65, 128, 149} {
		rec, err := r.Seek(idx)
		require.NoError(t, err)
		assert.Equal(t, idx, rec.Index)
		assert.Equal(t, idx*10, rec.Timestamp)
		assert.Equal(t, fmt.Sprintf("payload-%03d", idx), string(rec.Payload))
	}

	_, err = r.Seek(150)
	var oor RecordOutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, uint64(150), oor.Count)
	assert.Equal(t, rnrerr.KindOutOfRange, rnrerr.KindOf(err))
}

func TestReader_FindByTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "find.rnr")
	writeTestFile(t, path, WriterOptions{}, sequentialRecords(200, 10))

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	tests := []struct {
		ts   uint64
		want uint64
	}{
		{0, 0},
		{5, 1},
		{640, 64},
		{555, 56},
		{1990, 199},
		{1991, 200},
		{99999, 200},
	}
	for _, tt := range tests {
		got, err := r.FindByTimestamp(tt.ts)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "timestamp %d", tt.ts)
	}
}

func TestReader_FindByTimestampEqualRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "equal.rnr")
	recs := make([]testRecord, 0, 130)
	for i := 0; i < 130; i++ {
		ts := uint64(10)
		if i >= 60 {
			ts = 20
		}
		if i >= 100 {
			ts = 30
		}
		recs = append(recs, testRecord{typ: msgtype.ByteArray, ts: ts, payload: []byte{byte(i)}})
	}
	writeTestFile(t, path, WriterOptions{}, recs)

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	idx, err := r.FindByTimestamp(20)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), idx)

	idx, err = r.FindByTimestamp(30)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), idx)

	// equal timestamps keep write order
	it, err := r.IteratorAt(60)
	require.NoError(t, err)
	for i := 60; i < 100; i++ {
		rec, err := it.Next()
		require.NoError(t, err)
		assert.Equal(t, byte(i), rec.Payload[0])
	}
}

func TestIterator_ForwardAndBackward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iter.rnr")
	writeTestFile(t, path, WriterOptions{}, []testRecord{
		{typ: msgtype.ByteArray, ts: 1, payload: []byte("one")},
		{typ: msgtype.ByteArray, ts: 2, payload: []byte("three")},
		{typ: msgtype.ByteArray, ts: 3, payload: []byte("seven!!")},
	})

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.IteratorAt(r.Attributes().DataCount)
	require.NoError(t, err)

	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)

	var back []string
	for {
		rec, err := it.Prev()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		back = append(back, string(rec.Payload))
	}
	assert.Equal(t, []string{"seven!!", "three", "one"}, back)
	assert.Equal(t, uint64(0), it.Position())

	rec, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(rec.Payload))
	rec, err = it.Next()
	require.NoError(t, err)
	rec, err = it.Prev()
	require.NoError(t, err)
	assert.Equal(t, "three", string(rec.Payload))
	assert.Equal(t, uint64(1), it.Position())

	_, err = r.IteratorAt(4)
	assert.Equal(t, rnrerr.KindOutOfRange, rnrerr.KindOf(err))
}

func TestReader_RecoversStaleHeaderCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.rnr")
	w, err := Open(context.Background(), path, WriterOptions{})
	require.NoError(t, err)
	for _, rec := range sequentialRecords(3, 5) {
		_, err := w.WriteRecord(rec.typ, rec.ts, rec.payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())

	// header still declares zero records while the writer is open
	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	attrs := r.Attributes()
	assert.True(t, attrs.Recovered)
	assert.Equal(t, uint64(3), attrs.DataCount)
	assert.Equal(t, uint64(10), attrs.LastTimestamp)
	require.NoError(t, r.Close())

	require.NoError(t, w.Close())
}

func TestReader_DropsRecordsPastDeclaredCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.rnr")
	writeTestFile(t, path, WriterOptions{}, sequentialRecords(3, 5))
	setHeaderCount(t, path, 2)

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(2), r.Attributes().DataCount)
	assert.Equal(t, uint64(5), r.Attributes().LastTimestamp)
	_, err = r.Seek(2)
	assert.Equal(t, rnrerr.KindOutOfRange, rnrerr.KindOf(err))
}

func TestReader_DeclaredCountBeyondFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.rnr")
	writeTestFile(t, path, WriterOptions{}, sequentialRecords(3, 5))
	setHeaderCount(t, path, 5)

	_, err := OpenForRead(context.Background(), path)
	var corrupt CorruptRecordError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, rnrerr.KindFormat, rnrerr.KindOf(err))
}

func TestReader_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flip.rnr")
	writeTestFile(t, path, WriterOptions{}, sequentialRecords(2, 5))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{'X'}, HeaderSize+RecordHeaderSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Seek(0)
	var mismatch ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint64(0), mismatch.Index)

	_, err = r.Seek(1)
	assert.NoError(t, err)
}

func TestOpenForRead_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := OpenForRead(context.Background(), filepath.Join(dir, "nope.rnr"))
		var nf FileNotFoundError
		assert.ErrorAs(t, err, &nf)
		assert.Equal(t, rnrerr.KindNotFound, rnrerr.KindOf(err))
	})

	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(dir, "junk.rnr")
		require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize), 0o644))
		_, err := OpenForRead(context.Background(), path)
		var inv InvalidHeaderError
		require.ErrorAs(t, err, &inv)
		assert.Equal(t, "bad magic", inv.Reason)
	})

	t.Run("short file", func(t *testing.T) {
		path := filepath.Join(dir, "short.rnr")
		require.NoError(t, os.WriteFile(path, []byte("RNRL"), 0o644))
		_, err := OpenForRead(context.Background(), path)
		assert.Equal(t, rnrerr.KindFormat, rnrerr.KindOf(err))
	})

	t.Run("unsupported version", func(t *testing.T) {
		path := filepath.Join(dir, "v9.rnr")
		hdr := fileHeader{Version: 9}
		require.NoError(t, os.WriteFile(path, hdr.encode(), 0o644))
		_, err := OpenForRead(context.Background(), path)
		var uv UnsupportedVersionError
		require.ErrorAs(t, err, &uv)
		assert.Equal(t, uint16(9), uv.Version)
	})
}

func TestReader_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close.rnr")
	writeTestFile(t, path, WriterOptions{}, nil)

	r, err := OpenForRead(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	err = r.ForEach(func(Attributes, msgtype.Type, *Record) error { return nil })
	var closed ClosedError
	assert.ErrorAs(t, err, &closed)
}

func setHeaderCount(t *testing.T, path string, n uint64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	_, err = f.WriteAt(buf[:], dataCountOffset)
	require.NoError(t, err)
}
