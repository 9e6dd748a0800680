package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of a cataloged session
type Status string

const (
	// StatusActive indicates the session is recording or replaying
	StatusActive Status = "active"
	// StatusCompleted indicates the session ended normally
	StatusCompleted Status = "completed"
	// StatusStopped indicates the session was turned off before it finished
	StatusStopped Status = "stopped"
	// StatusFailed indicates a background error ended the session
	StatusFailed Status = "failed"
)

// Entry describes one recording or replay session
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	Mode      string     `json:"mode"`
	Path      string     `json:"path"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Records   uint64     `json:"records"`
	Bytes     uint64     `json:"bytes"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// ListOptions filters List results
type ListOptions struct {
	// Mode keeps only entries with this mode when set
	Mode string
	// Limit caps the number of entries returned (0 = all)
	Limit int
}
