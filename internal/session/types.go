package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/record"
	"github.com/polysync/rnr/internal/replay"
)

// Mode is the controller state
type Mode string

const (
	// ModeOff means no file is owned by the node
	ModeOff Mode = "off"
	// ModeWrite records published messages
	ModeWrite Mode = "write"
	// ModeReplay re-emits a recorded file
	ModeReplay Mode = "replay"
)

// InvalidSessionID is the session id passed with ModeOff
var InvalidSessionID = uuid.Nil

// ParseMode accepts the mode names case-insensitively, plus "record" for write
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff, nil
	case "write", "record":
		return ModeWrite, nil
	case "replay":
		return ModeReplay, nil
	default:
		return "", InvalidModeError{Mode: s}
	}
}

// SessionState is the control-surface view of the node
type SessionState struct {
	Mode      Mode      `json:"mode"`
	Enabled   bool      `json:"enabled"`
	SessionID uuid.UUID `json:"session_id"`
	// StartTime is microseconds; relative to enable time unless absolute
	StartTime           uint64         `json:"start_time"`
	StartTimeIsAbsolute bool           `json:"start_time_is_absolute"`
	FilePath            string         `json:"file_path"`
	Include             []msgtype.Type `json:"include,omitempty"`
	Exclude             []msgtype.Type `json:"exclude,omitempty"`
}

// Filter returns the configured type filter
func (s SessionState) Filter() msgtype.Filter {
	return msgtype.Filter{Include: s.Include, Exclude: s.Exclude}
}

// String renders the state on one line
func (s SessionState) String() string {
	state := "disabled"
	if s.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s/%s session=%s file=%q", s.Mode, state, s.SessionID, s.FilePath)
}

// Status is a snapshot of the controller
type Status struct {
	State SessionState `json:"state"`
	// ModeSet is false until the first SetMode
	ModeSet bool `json:"mode_set"`
	// Recorder is set while writing
	Recorder *record.Stats `json:"recorder,omitempty"`
	// Replay is set while a replay is running or has completed
	Replay *replay.Progress `json:"replay,omitempty"`
	// Delivery is the replay delivery mode
	Delivery replay.Delivery `json:"delivery"`
	// QueueDepth is the number of replayed messages waiting to be popped
	QueueDepth int `json:"queue_depth"`
	// PendingError is a background failure not yet reported by a control call
	PendingError string `json:"pending_error,omitempty"`
}
