package validation

import "github.com/polysync/rnr/internal/rnrerr"

// ValidationError rejects one request field. It has the config kind, which
// the APIs report as a client error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e ValidationError) Kind() rnrerr.Kind { return rnrerr.KindConfig }
