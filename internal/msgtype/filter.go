package msgtype

import (
	"fmt"
	"slices"

	"github.com/polysync/rnr/internal/rnrerr"
)

// Filter selects message types. A non-empty Include keeps only the listed
// types; Exclude drops the listed types.
type Filter struct {
	Include []Type
	Exclude []Type
}

// FilterConflictError indicates a type listed in both include and exclude
type FilterConflictError struct {
	Type Type
}

func (e FilterConflictError) Error() string {
	return fmt.Sprintf("message type %d is both included and excluded", e.Type)
}

// Kind implements rnrerr.Kinded
func (e FilterConflictError) Kind() rnrerr.Kind { return rnrerr.KindConfig }

// Validate rejects a type present in both lists
func (f Filter) Validate() error {
	for _, t := range f.Include {
		if slices.Contains(f.Exclude, t) {
			return FilterConflictError{Type: t}
		}
	}
	return nil
}

// Allows reports whether a message of type t passes the filter
func (f Filter) Allows(t Type) bool {
	if slices.Contains(f.Exclude, t) {
		return false
	}
	return len(f.Include) == 0 || slices.Contains(f.Include, t)
}

// Empty reports whether no filter is set
func (f Filter) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}
