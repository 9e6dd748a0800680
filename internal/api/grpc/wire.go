package grpc

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/session"
)

// Request fields
const (
	FieldMode       = "mode"
	FieldSessionID  = "session_id"
	FieldEnabled    = "enabled"
	FieldPath       = "path"
	FieldInclude    = "include"
	FieldExclude    = "exclude"
	FieldMicros     = "micros"
	FieldAbsolute   = "absolute"
	fieldRecorder   = "recorder"
	fieldReplay     = "replay"
	fieldStartTime  = "start_time"
	fieldStartAbs   = "start_time_is_absolute"
	fieldFilePath   = "file_path"
	fieldModeSet    = "mode_set"
	fieldDelivery   = "delivery"
	fieldQueueDepth = "queue_depth"
	fieldPending    = "pending_error"
)

// StatusMessage is the decoded GetStatus response
type StatusMessage struct {
	Mode                string           `json:"mode"`
	Enabled             bool             `json:"enabled"`
	ModeSet             bool             `json:"mode_set"`
	SessionID           string           `json:"session_id"`
	FilePath            string           `json:"file_path"`
	StartTime           uint64           `json:"start_time"`
	StartTimeIsAbsolute bool             `json:"start_time_is_absolute"`
	Include             []string         `json:"include,omitempty"`
	Exclude             []string         `json:"exclude,omitempty"`
	Delivery            string           `json:"delivery"`
	QueueDepth          int              `json:"queue_depth"`
	PendingError        string           `json:"pending_error,omitempty"`
	Recorder            *RecorderMessage `json:"recorder,omitempty"`
	Replay              *ReplayMessage   `json:"replay,omitempty"`
}

// RecorderMessage carries recorder counters
type RecorderMessage struct {
	Written  uint64 `json:"written"`
	Filtered uint64 `json:"filtered"`
	Bytes    uint64 `json:"bytes"`
	Buffered int    `json:"buffered"`
}

// ReplayMessage carries replay progress
type ReplayMessage struct {
	Status     string        `json:"status"`
	Delivered  uint64        `json:"delivered"`
	Suppressed uint64        `json:"suppressed"`
	Index      uint64        `json:"index"`
	Total      uint64        `json:"total"`
	Lag        time.Duration `json:"lag"`
}

// EncodeStatus converts a controller snapshot into a response message
func EncodeStatus(st session.Status, reg *msgtype.Registry) (*structpb.Struct, error) {
	m := map[string]any{
		FieldMode:       string(st.State.Mode),
		FieldEnabled:    st.State.Enabled,
		fieldModeSet:    st.ModeSet,
		FieldSessionID:  st.State.SessionID.String(),
		fieldFilePath:   st.State.FilePath,
		fieldStartTime:  strconv.FormatUint(st.State.StartTime, 10),
		fieldStartAbs:   st.State.StartTimeIsAbsolute,
		FieldInclude:    typeNames(reg, st.State.Include),
		FieldExclude:    typeNames(reg, st.State.Exclude),
		fieldDelivery:   string(st.Delivery),
		fieldQueueDepth: st.QueueDepth,
		fieldPending:    st.PendingError,
	}
	if r := st.Recorder; r != nil {
		m[fieldRecorder] = map[string]any{
			"written":  r.Written,
			"filtered": r.Filtered,
			"bytes":    r.Bytes,
			"buffered": r.Buffered,
		}
	}
	if p := st.Replay; p != nil {
		m[fieldReplay] = map[string]any{
			"status":     string(p.Status),
			"delivered":  p.Delivered,
			"suppressed": p.Suppressed,
			"index":      p.Index,
			"total":      p.Total,
			"lag_us":     p.Lag.Microseconds(),
		}
	}
	return structpb.NewStruct(m)
}

func typeNames(reg *msgtype.Registry, types []msgtype.Type) []any {
	out := make([]any, len(types))
	for i, t := range types {
		out[i] = reg.Name(t)
	}
	return out
}

// DecodeStatus parses a GetStatus response
func DecodeStatus(s *structpb.Struct) StatusMessage {
	f := fields{s}
	st := StatusMessage{
		Mode:                f.str(FieldMode),
		Enabled:             f.boolean(FieldEnabled),
		ModeSet:             f.boolean(fieldModeSet),
		SessionID:           f.str(FieldSessionID),
		FilePath:            f.str(fieldFilePath),
		StartTimeIsAbsolute: f.boolean(fieldStartAbs),
		Include:             f.strings(FieldInclude),
		Exclude:             f.strings(FieldExclude),
		Delivery:            f.str(fieldDelivery),
		QueueDepth:          int(f.number(fieldQueueDepth)),
		PendingError:        f.str(fieldPending),
	}
	st.StartTime, _ = f.micros(fieldStartTime)
	if r, ok := f.object(fieldRecorder); ok {
		st.Recorder = &RecorderMessage{
			Written:  uint64(r.number("written")),
			Filtered: uint64(r.number("filtered")),
			Bytes:    uint64(r.number("bytes")),
			Buffered: int(r.number("buffered")),
		}
	}
	if p, ok := f.object(fieldReplay); ok {
		st.Replay = &ReplayMessage{
			Status:     p.str("status"),
			Delivered:  uint64(p.number("delivered")),
			Suppressed: uint64(p.number("suppressed")),
			Index:      uint64(p.number("index")),
			Total:      uint64(p.number("total")),
			Lag:        time.Duration(p.number("lag_us")) * time.Microsecond,
		}
	}
	return st
}

// fields reads typed values out of a Struct; missing fields read as zero
type fields struct {
	s *structpb.Struct
}

func (f fields) value(key string) *structpb.Value {
	if f.s == nil {
		return nil
	}
	return f.s.GetFields()[key]
}

func (f fields) str(key string) string {
	return f.value(key).GetStringValue()
}

func (f fields) boolean(key string) bool {
	return f.value(key).GetBoolValue()
}

func (f fields) number(key string) float64 {
	return f.value(key).GetNumberValue()
}

func (f fields) object(key string) (fields, bool) {
	s := f.value(key).GetStructValue()
	return fields{s}, s != nil
}

func (f fields) strings(key string) []string {
	list := f.value(key).GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		switch k := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			out = append(out, k.StringValue)
		case *structpb.Value_NumberValue:
			out = append(out, strconv.FormatFloat(k.NumberValue, 'f', -1, 64))
		}
	}
	return out
}

// micros reads a microsecond value sent as a decimal string or a number
func (f fields) micros(key string) (uint64, error) {
	v := f.value(key)
	switch k := v.GetKind().(type) {
	case nil:
		return 0, nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(k.StringValue, 10, 64)
		if err != nil {
			return 0, rnrerr.ConfigError{Reason: fmt.Sprintf("invalid %s %q", key, k.StringValue)}
		}
		return n, nil
	case *structpb.Value_NumberValue:
		if k.NumberValue < 0 {
			return 0, rnrerr.ConfigError{Reason: fmt.Sprintf("%s must not be negative", key)}
		}
		return uint64(k.NumberValue), nil
	default:
		return 0, rnrerr.ConfigError{Reason: fmt.Sprintf("%s must be a string or number", key)}
	}
}

// types resolves a list of type names or numeric tags
func (f fields) types(reg *msgtype.Registry, key string) ([]msgtype.Type, error) {
	names := f.strings(key)
	out := make([]msgtype.Type, 0, len(names))
	for _, n := range names {
		t, err := reg.Resolve(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
