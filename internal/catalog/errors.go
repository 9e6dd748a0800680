package catalog

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/polysync/rnr/internal/rnrerr"
)

// SessionNotFoundError indicates a session id with no catalog entry
type SessionNotFoundError struct {
	ID uuid.UUID
}

func (e SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}

// Kind implements rnrerr.Kinded
func (e SessionNotFoundError) Kind() rnrerr.Kind { return rnrerr.KindNotFound }

// InvalidEntryError indicates an entry that cannot be stored
type InvalidEntryError struct {
	Reason string
}

func (e InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid catalog entry: %s", e.Reason)
}

// Kind implements rnrerr.Kinded
func (e InvalidEntryError) Kind() rnrerr.Kind { return rnrerr.KindConfig }
