package validation

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxPopTimeout caps how long a queue pop may wait
const MaxPopTimeout = 30 * time.Second

// ValidateNonEmpty validates that a string is not empty
func ValidateNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{Field: field, Reason: "cannot be empty"}
	}
	return nil
}

// ParseTimeout parses a wait such as "500ms" or a bare number of
// milliseconds. Empty means no wait.
func ParseTimeout(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		ms, nerr := strconv.ParseInt(value, 10, 64)
		if nerr != nil {
			return 0, ValidationError{Field: field, Reason: "must be a duration such as 500ms"}
		}
		d = time.Duration(ms) * time.Millisecond
	}

	if d < 0 {
		return 0, ValidationError{Field: field, Reason: "cannot be negative"}
	}
	if d > MaxPopTimeout {
		return 0, ValidationError{Field: field, Reason: "cannot exceed " + MaxPopTimeout.String()}
	}
	return d, nil
}

// ParseLimit parses an optional non-negative result limit
func ParseLimit(field, value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, ValidationError{Field: field, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// ParseBool parses an optional flag such as "true", "1" or "false"
func ParseBool(field, value string) (bool, error) {
	if strings.TrimSpace(value) == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, ValidationError{Field: field, Reason: "must be true or false"}
	}
	return b, nil
}

// ParseSessionID parses an optional session id; empty yields uuid.Nil
func ParseSessionID(field, value string) (uuid.UUID, error) {
	if strings.TrimSpace(value) == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, ValidationError{Field: field, Reason: "must be a UUID"}
	}
	return id, nil
}
