package logfile

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/polysync/rnr/internal/msgtype"
)

// File layout (little endian):
//
//	header: magic[4] version:u16 flags:u16 data_count:u64 created_at:u64 session_tag:u64
//	record: size:u32 prev_size:u32 timestamp:u64 message_type:u32 payload[size] [crc32:u32]
//
// The CRC trailer is present when FlagChecksum is set and covers the record
// header and payload.
const (
	// HeaderSize is the size of the file header
	HeaderSize = 32
	// RecordHeaderSize is the size of the fixed part of a record
	RecordHeaderSize = 20
	// ChecksumSize is the size of the optional per-record trailer
	ChecksumSize = 4
	// FormatVersion is the version written by this package
	FormatVersion uint16 = 1
	// MaxPayloadSize is the largest payload accepted (16MB)
	MaxPayloadSize = 16 * 1024 * 1024

	// FlagChecksum marks files whose records carry a CRC32 trailer
	FlagChecksum uint16 = 1 << 0

	dataCountOffset = 8
)

var (
	magic = [4]byte{'R', 'N', 'R', 'L'}

	// CRC32Table for checksum calculation
	CRC32Table = crc32.MakeTable(crc32.IEEE)
)

type fileHeader struct {
	Version    uint16
	Flags      uint16
	DataCount  uint64
	CreatedAt  uint64
	SessionTag uint64
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.DataCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.CreatedAt)
	binary.LittleEndian.PutUint64(buf[24:32], h.SessionTag)
	return buf
}

// decodeFileHeader parses a header; path is only used for error messages
func decodeFileHeader(path string, buf []byte) (fileHeader, error) {
	if len(buf) < HeaderSize {
		return fileHeader{}, InvalidHeaderError{Path: path, Reason: "file shorter than header"}
	}
	if [4]byte(buf[0:4]) != magic {
		return fileHeader{}, InvalidHeaderError{Path: path, Reason: "bad magic"}
	}
	h := fileHeader{
		Version:    binary.LittleEndian.Uint16(buf[4:6]),
		Flags:      binary.LittleEndian.Uint16(buf[6:8]),
		DataCount:  binary.LittleEndian.Uint64(buf[8:16]),
		CreatedAt:  binary.LittleEndian.Uint64(buf[16:24]),
		SessionTag: binary.LittleEndian.Uint64(buf[24:32]),
	}
	if h.Version != FormatVersion {
		return fileHeader{}, UnsupportedVersionError{Path: path, Version: h.Version}
	}
	return h, nil
}

func (h fileHeader) attributes(path string) Attributes {
	return Attributes{
		Path:       path,
		DataCount:  h.DataCount,
		CreatedAt:  time.UnixMicro(int64(h.CreatedAt)).UTC(),
		Version:    h.Version,
		Checksums:  h.Flags&FlagChecksum != 0,
		SessionTag: h.SessionTag,
	}
}

type recordHeader struct {
	Size      uint32
	PrevSize  uint32
	Timestamp uint64
	Type      msgtype.Type
}

func decodeRecordHeader(buf []byte) recordHeader {
	return recordHeader{
		Size:      binary.LittleEndian.Uint32(buf[0:4]),
		PrevSize:  binary.LittleEndian.Uint32(buf[4:8]),
		Timestamp: binary.LittleEndian.Uint64(buf[8:16]),
		Type:      msgtype.Type(binary.LittleEndian.Uint32(buf[16:20])),
	}
}

// appendRecord encodes a full record into dst and returns the extended slice
func appendRecord(dst []byte, h recordHeader, payload []byte, checksum bool) []byte {
	start := len(dst)
	var hdr [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], h.Size)
	binary.LittleEndian.PutUint32(hdr[4:8], h.PrevSize)
	binary.LittleEndian.PutUint64(hdr[8:16], h.Timestamp)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(h.Type))
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	if checksum {
		sum := crc32.Checksum(dst[start:], CRC32Table)
		dst = binary.LittleEndian.AppendUint32(dst, sum)
	}
	return dst
}

// recordLen returns the on-disk length of a record with the given payload size
func recordLen(size uint32, checksum bool) int64 {
	n := int64(RecordHeaderSize) + int64(size)
	if checksum {
		n += ChecksumSize
	}
	return n
}
