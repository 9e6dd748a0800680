package msgtype

import (
	"fmt"

	"github.com/polysync/rnr/internal/rnrerr"
)

// Message is one published or replayed unit: a type tag, the origin
// timestamp in microseconds and an opaque payload.
type Message struct {
	Type      Type
	Timestamp uint64
	Payload   []byte
}

// TypeMismatchError is returned when a payload is read as the wrong type
type TypeMismatchError struct {
	Expected Type
	Actual   Type
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("message type mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Kind implements rnrerr.Kinded
func (e TypeMismatchError) Kind() rnrerr.Kind { return rnrerr.KindFormat }

// NoDecoderError is returned when a type has no registered decoder
type NoDecoderError struct {
	Type Type
}

func (e NoDecoderError) Error() string {
	return fmt.Sprintf("no decoder registered for message type %d", e.Type)
}

// Kind implements rnrerr.Kinded
func (e NoDecoderError) Kind() rnrerr.Kind { return rnrerr.KindFormat }

// Expect returns the payload if the message carries the expected type
func (m Message) Expect(t Type) ([]byte, error) {
	if m.Type != t {
		return nil, TypeMismatchError{Expected: t, Actual: m.Type}
	}
	return m.Payload, nil
}

// Decode runs the registered decoder for the message type
func (m Message) Decode(reg *Registry) (any, error) {
	d, ok := reg.Lookup(m.Type)
	if !ok || d.Decode == nil {
		return nil, NoDecoderError{Type: m.Type}
	}
	v, err := d.Decode(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Name, err)
	}
	return v, nil
}

// Size returns the payload length in bytes
func (m Message) Size() int {
	return len(m.Payload)
}
