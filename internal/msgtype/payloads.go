package msgtype

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/polysync/rnr/internal/rnrerr"
)

// Fixed payload sizes of the structured built-in types
const (
	GPSFixSize   = 32
	CANFrameSize = 16
	// MaxCANData is the classic CAN data length
	MaxCANData = 8
)

const (
	canFlagExtended = 1 << 0
	canFlagRemote   = 1 << 1
)

// PayloadLayoutError is returned when a payload does not match the fixed
// layout of its type
type PayloadLayoutError struct {
	Type   Type
	Reason string
}

func (e PayloadLayoutError) Error() string {
	return fmt.Sprintf("malformed payload for message type %d: %s", e.Type, e.Reason)
}

// Kind implements rnrerr.Kinded
func (e PayloadLayoutError) Kind() rnrerr.Kind { return rnrerr.KindFormat }

// GPSFix is the gps payload: little-endian latitude, longitude and altitude
// as float64, then speed and heading as float32.
type GPSFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude_m"`
	Speed     float32 `json:"speed_mps"`
	Heading   float32 `json:"heading_deg"`
}

// MarshalBinary encodes the fix in its wire layout
func (f GPSFix) MarshalBinary() ([]byte, error) {
	b := make([]byte, GPSFixSize)
	binary.LittleEndian.PutUint64(b[0:], math.Float64bits(f.Latitude))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(f.Longitude))
	binary.LittleEndian.PutUint64(b[16:], math.Float64bits(f.Altitude))
	binary.LittleEndian.PutUint32(b[24:], math.Float32bits(f.Speed))
	binary.LittleEndian.PutUint32(b[28:], math.Float32bits(f.Heading))
	return b, nil
}

func (f GPSFix) String() string {
	return fmt.Sprintf("lat=%.6f lon=%.6f alt=%.1fm speed=%.1fm/s heading=%.1f",
		f.Latitude, f.Longitude, f.Altitude, f.Speed, f.Heading)
}

// ParseGPSFix decodes a gps payload
func ParseGPSFix(payload []byte) (GPSFix, error) {
	if len(payload) != GPSFixSize {
		return GPSFix{}, PayloadLayoutError{Type: GPS, Reason: fmt.Sprintf("size %d, want %d", len(payload), GPSFixSize)}
	}
	return GPSFix{
		Latitude:  math.Float64frombits(binary.LittleEndian.Uint64(payload[0:])),
		Longitude: math.Float64frombits(binary.LittleEndian.Uint64(payload[8:])),
		Altitude:  math.Float64frombits(binary.LittleEndian.Uint64(payload[16:])),
		Speed:     math.Float32frombits(binary.LittleEndian.Uint32(payload[24:])),
		Heading:   math.Float32frombits(binary.LittleEndian.Uint32(payload[28:])),
	}, nil
}

// CANFrameData is the can_frame payload: identifier u32, data length u8,
// flags u8, two reserved bytes and eight data bytes.
type CANFrameData struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended,omitempty"`
	Remote   bool   `json:"remote,omitempty"`
	Data     []byte `json:"data"`
}

// MarshalBinary encodes the frame in its wire layout
func (f CANFrameData) MarshalBinary() ([]byte, error) {
	if len(f.Data) > MaxCANData {
		return nil, PayloadLayoutError{Type: CANFrame, Reason: fmt.Sprintf("data length %d exceeds %d", len(f.Data), MaxCANData)}
	}
	b := make([]byte, CANFrameSize)
	binary.LittleEndian.PutUint32(b[0:], f.ID)
	b[4] = byte(len(f.Data))
	if f.Extended {
		b[5] |= canFlagExtended
	}
	if f.Remote {
		b[5] |= canFlagRemote
	}
	copy(b[8:], f.Data)
	return b, nil
}

func (f CANFrameData) String() string {
	id := fmt.Sprintf("%03x", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08x", f.ID)
	}
	if f.Remote {
		return fmt.Sprintf("id=%s rtr dlc=%d", id, len(f.Data))
	}
	return fmt.Sprintf("id=%s dlc=%d data=% x", id, len(f.Data), f.Data)
}

// ParseCANFrame decodes a can_frame payload
func ParseCANFrame(payload []byte) (CANFrameData, error) {
	if len(payload) != CANFrameSize {
		return CANFrameData{}, PayloadLayoutError{Type: CANFrame, Reason: fmt.Sprintf("size %d, want %d", len(payload), CANFrameSize)}
	}
	dlc := int(payload[4])
	if dlc > MaxCANData {
		return CANFrameData{}, PayloadLayoutError{Type: CANFrame, Reason: fmt.Sprintf("data length %d exceeds %d", dlc, MaxCANData)}
	}
	flags := payload[5]
	data := make([]byte, dlc)
	copy(data, payload[8:8+dlc])
	return CANFrameData{
		ID:       binary.LittleEndian.Uint32(payload[0:]),
		Extended: flags&canFlagExtended != 0,
		Remote:   flags&canFlagRemote != 0,
		Data:     data,
	}, nil
}

// GPSFix returns the fix carried by a gps message
func (m Message) GPSFix() (GPSFix, error) {
	payload, err := m.Expect(GPS)
	if err != nil {
		return GPSFix{}, err
	}
	return ParseGPSFix(payload)
}

// CANFrame returns the frame carried by a can_frame message
func (m Message) CANFrame() (CANFrameData, error) {
	payload, err := m.Expect(CANFrame)
	if err != nil {
		return CANFrameData{}, err
	}
	return ParseCANFrame(payload)
}

func decodeGPS(payload []byte) (any, error) {
	return ParseGPSFix(payload)
}

func decodeCAN(payload []byte) (any, error) {
	return ParseCANFrame(payload)
}
