package logfile

import (
	"errors"
	"fmt"

	"github.com/polysync/rnr/internal/rnrerr"
)

// ErrStopIteration can be returned by a Visitor to end ForEach early without error
var ErrStopIteration = errors.New("stop iteration")

// FileNotFoundError indicates a log file does not exist
type FileNotFoundError struct {
	Path string
}

func (e FileNotFoundError) Error() string {
	return fmt.Sprintf("log file not found: %s", e.Path)
}

// Kind implements rnrerr.Kinded
func (e FileNotFoundError) Kind() rnrerr.Kind { return rnrerr.KindNotFound }

// InvalidHeaderError indicates the file header is missing or unrecognised
type InvalidHeaderError struct {
	Path   string
	Reason string
}

func (e InvalidHeaderError) Error() string {
	return fmt.Sprintf("invalid log file header in %s: %s", e.Path, e.Reason)
}

// Kind implements rnrerr.Kinded
func (e InvalidHeaderError) Kind() rnrerr.Kind { return rnrerr.KindFormat }

// UnsupportedVersionError indicates a format version this build cannot read
type UnsupportedVersionError struct {
	Path    string
	Version uint16
}

func (e UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported log file version %d in %s", e.Version, e.Path)
}

// Kind implements rnrerr.Kinded
func (e UnsupportedVersionError) Kind() rnrerr.Kind { return rnrerr.KindFormat }

// CorruptRecordError indicates a record that cannot be decoded
type CorruptRecordError struct {
	Index  uint64
	Offset int64
	Reason string
}

func (e CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %d at offset %d: %s", e.Index, e.Offset, e.Reason)
}

// Kind implements rnrerr.Kinded
func (e CorruptRecordError) Kind() rnrerr.Kind { return rnrerr.KindFormat }

// ChecksumMismatchError indicates a checksum validation failure
type ChecksumMismatchError struct {
	Index    uint64
	Expected uint32
	Actual   uint32
}

func (e ChecksumMismatchError) Error() string {
	return fmt.Sprintf("record %d checksum mismatch: expected %08x, got %08x", e.Index, e.Expected, e.Actual)
}

// Kind implements rnrerr.Kinded
func (e ChecksumMismatchError) Kind() rnrerr.Kind { return rnrerr.KindFormat }

// RecordOutOfRangeError indicates a seek beyond the stored record count
type RecordOutOfRangeError struct {
	Index uint64
	Count uint64
}

func (e RecordOutOfRangeError) Error() string {
	return fmt.Sprintf("record index %d out of range (data_count %d)", e.Index, e.Count)
}

// Kind implements rnrerr.Kinded
func (e RecordOutOfRangeError) Kind() rnrerr.Kind { return rnrerr.KindOutOfRange }

// RecordTooLargeError indicates a payload exceeds the maximum record size
type RecordTooLargeError struct {
	Size int
	Max  int
}

func (e RecordTooLargeError) Error() string {
	return fmt.Sprintf("record payload size %d exceeds maximum %d", e.Size, e.Max)
}

// Kind implements rnrerr.Kinded
func (e RecordTooLargeError) Kind() rnrerr.Kind { return rnrerr.KindMemory }

// TimestampOrderError indicates a record older than its predecessor
type TimestampOrderError struct {
	Previous uint64
	Got      uint64
}

func (e TimestampOrderError) Error() string {
	return fmt.Sprintf("record timestamp %d precedes previous timestamp %d", e.Got, e.Previous)
}

// Kind implements rnrerr.Kinded
func (e TimestampOrderError) Kind() rnrerr.Kind { return rnrerr.KindUsage }

// ClosedError indicates an operation on a closed writer or reader
type ClosedError struct {
	Path string
}

func (e ClosedError) Error() string {
	return fmt.Sprintf("log file is closed: %s", e.Path)
}

// Kind implements rnrerr.Kinded
func (e ClosedError) Kind() rnrerr.Kind { return rnrerr.KindUsage }

// ConsumedError indicates a second ForEach pass on the same reader
type ConsumedError struct {
	Path string
}

func (e ConsumedError) Error() string {
	return fmt.Sprintf("log file %s already iterated; reopen to iterate again", e.Path)
}

// Kind implements rnrerr.Kinded
func (e ConsumedError) Kind() rnrerr.Kind { return rnrerr.KindUsage }
