package logfile

import (
	"time"

	"github.com/polysync/rnr/internal/msgtype"
)

// Record is one stored unit
type Record struct {
	// Index is the ordinal position in the file, starting at 0
	Index uint64
	// Timestamp is the origin capture/publish time in microseconds
	Timestamp uint64
	// Size is the payload length in bytes
	Size uint32
	// PrevSize is the payload length of the preceding record (0 for the first)
	PrevSize uint32
	// Type tags how Payload is interpreted
	Type msgtype.Type
	// Payload is the serialized message
	Payload []byte
}

// Message returns the record as a tagged message
func (r *Record) Message() msgtype.Message {
	return msgtype.Message{Type: r.Type, Timestamp: r.Timestamp, Payload: r.Payload}
}

// Attributes is file-level metadata
type Attributes struct {
	// Path is the file the attributes were read from
	Path string
	// DataCount is the number of records; 0 is a valid empty file
	DataCount uint64
	// CreatedAt is when the writer created the file
	CreatedAt time.Time
	// Version is the on-disk format version
	Version uint16
	// Checksums reports whether records carry a CRC32 trailer
	Checksums bool
	// SessionTag is the low 8 bytes of the recording session id (0 = none)
	SessionTag uint64
	// FirstTimestamp and LastTimestamp bound the stored records (0 when empty)
	FirstTimestamp uint64
	LastTimestamp  uint64
	// Recovered is set when the header count was stale and the scan was trusted
	Recovered bool
}

// Duration returns the span between the first and last record
func (a Attributes) Duration() time.Duration {
	if a.LastTimestamp <= a.FirstTimestamp {
		return 0
	}
	return time.Duration(a.LastTimestamp-a.FirstTimestamp) * time.Microsecond
}

// Visitor is invoked once per record by Reader.ForEach. For an empty file it
// is invoked exactly once with a nil record.
type Visitor func(attrs Attributes, msgType msgtype.Type, rec *Record) error
