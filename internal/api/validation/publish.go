package validation

import (
	"fmt"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
)

// PublishRequest is the body of POST /api/v1/publish. Type is a registered
// name or a numeric tag; Payload is base64 in JSON.
type PublishRequest struct {
	Type      string `json:"type"`
	Timestamp uint64 `json:"timestamp,omitempty"`
	Payload   []byte `json:"payload"`
}

// ValidatePublish checks a publish request and converts it to a message. A
// zero timestamp is left for the recorder to stamp.
func ValidatePublish(reg *msgtype.Registry, req PublishRequest) (msgtype.Message, error) {
	if err := ValidateNonEmpty("type", req.Type); err != nil {
		return msgtype.Message{}, err
	}

	t, err := reg.Resolve(req.Type)
	if err != nil {
		return msgtype.Message{}, ValidationError{Field: "type", Reason: err.Error()}
	}

	if len(req.Payload) > logfile.MaxPayloadSize {
		return msgtype.Message{}, ValidationError{
			Field:  "payload",
			Reason: fmt.Sprintf("size %d exceeds maximum %d", len(req.Payload), logfile.MaxPayloadSize),
		}
	}

	return msgtype.Message{Type: t, Timestamp: req.Timestamp, Payload: req.Payload}, nil
}
