package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"google.golang.org/protobuf/encoding/protojson"

	grpcapi "github.com/polysync/rnr/internal/api/grpc"
	"github.com/polysync/rnr/internal/api/validation"
	"github.com/polysync/rnr/internal/catalog"
	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/replay"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/session"
)

// maxPublishBody bounds a publish body: a base64 payload of MaxPayloadSize
// plus the JSON envelope
const maxPublishBody = logfile.MaxPayloadSize/3*4 + 4096

// NodeHandlers serves the node's status, publish and replay queue endpoints
type NodeHandlers struct {
	controller *session.Controller
	registry   *msgtype.Registry
	consumer   *replay.QueueConsumer
}

// NewNodeHandlers creates node handlers. consumer is nil unless the node
// delivers replayed records to the queue.
func NewNodeHandlers(controller *session.Controller, registry *msgtype.Registry, consumer *replay.QueueConsumer) *NodeHandlers {
	if registry == nil {
		registry = msgtype.DefaultRegistry()
	}
	return &NodeHandlers{
		controller: controller,
		registry:   registry,
		consumer:   consumer,
	}
}

// PublishResponse represents a response to publishing a message
type PublishResponse struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

// ReplayMessageResponse is one popped replay record
type ReplayMessageResponse struct {
	Type        string `json:"type"`
	TypeID      uint32 `json:"type_id"`
	Timestamp   uint64 `json:"timestamp"`
	Payload     []byte `json:"payload"`
	Decoded     any    `json:"decoded,omitempty"`
	DecodeError string `json:"decode_error,omitempty"`
	Remaining   int    `json:"remaining"`
}

// SessionsResponse lists cataloged sessions
type SessionsResponse struct {
	Sessions []catalog.Entry `json:"sessions"`
}

// Status handles GET /api/v1/status
func (h *NodeHandlers) Status(w http.ResponseWriter, r *http.Request) {
	msg, err := grpcapi.EncodeStatus(h.controller.Status(), h.registry)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := protojson.Marshal(msg)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Status code already written
	_, _ = w.Write(body)
}

// Publish handles POST /api/v1/publish
func (h *NodeHandlers) Publish(w http.ResponseWriter, r *http.Request) {
	var req validation.PublishRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxPublishBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, rnrerr.WithOp("publish", validation.ValidationError{Field: "body", Reason: err.Error()}))
		return
	}

	msg, err := validation.ValidatePublish(h.registry, req)
	if err != nil {
		writeError(w, rnrerr.WithOp("publish", err))
		return
	}

	if err := h.controller.Publish(r.Context(), msg); err != nil {
		writeError(w, rnrerr.WithOp("publish", err))
		return
	}

	writeJSON(w, http.StatusAccepted, PublishResponse{
		Status: "accepted",
		Type:   h.registry.Name(msg.Type),
	})
}

// NextReplay handles GET /api/v1/replay/next?timeout=500ms&decode=true. It
// answers 204 when nothing arrived in time. With decode, payloads of types
// that have a decoder are also returned structured; a popped record is never
// dropped because its payload fails to decode.
func (h *NodeHandlers) NextReplay(w http.ResponseWriter, r *http.Request) {
	if h.consumer == nil {
		writeError(w, rnrerr.WithOp("replay_next", rnrerr.UsageError{Reason: "replay delivery is not queue"}))
		return
	}

	q := r.URL.Query()
	timeout, err := validation.ParseTimeout("timeout", q.Get("timeout"))
	if err != nil {
		writeError(w, rnrerr.WithOp("replay_next", err))
		return
	}
	decode, err := validation.ParseBool("decode", q.Get("decode"))
	if err != nil {
		writeError(w, rnrerr.WithOp("replay_next", err))
		return
	}

	msg, ok := h.consumer.PopTimeout(timeout)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := ReplayMessageResponse{
		Type:      h.registry.Name(msg.Type),
		TypeID:    uint32(msg.Type),
		Timestamp: msg.Timestamp,
		Payload:   msg.Payload,
		Remaining: h.consumer.Len(),
	}
	if decode && msg.Type != msgtype.ByteArray {
		v, err := msg.Decode(h.registry)
		var none msgtype.NoDecoderError
		switch {
		case errors.As(err, &none):
			// opaque type
		case err != nil:
			resp.DecodeError = err.Error()
		default:
			resp.Decoded = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSessions handles GET /api/v1/sessions?mode=write&limit=10
func (h *NodeHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := validation.ParseLimit("limit", q.Get("limit"))
	if err != nil {
		writeError(w, rnrerr.WithOp("list_sessions", err))
		return
	}

	opts := catalog.ListOptions{Limit: limit}
	if m := q.Get("mode"); m != "" {
		mode, err := session.ParseMode(m)
		if err != nil {
			writeError(w, rnrerr.WithOp("list_sessions", err))
			return
		}
		opts.Mode = string(mode)
	}

	entries, err := h.controller.Sessions(r.Context(), opts)
	if err != nil {
		writeError(w, rnrerr.WithOp("list_sessions", err))
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: entries})
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *NodeHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	if err := validation.ValidateNonEmpty("id", r.PathValue("id")); err != nil {
		writeError(w, rnrerr.WithOp("get_session", err))
		return
	}
	id, err := validation.ParseSessionID("id", r.PathValue("id"))
	if err != nil {
		writeError(w, rnrerr.WithOp("get_session", err))
		return
	}

	entry, err := h.controller.Session(r.Context(), id)
	if err != nil {
		writeError(w, rnrerr.WithOp("get_session", err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
