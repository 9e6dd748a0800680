// Package msgtype maps numeric message type tags to names and decoders and
// provides a tagged message value with checked payload access.
package msgtype

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/polysync/rnr/internal/rnrerr"
)

// Type is the numeric tag stored with every record
type Type uint32

// Built-in message types seen on the bus
const (
	ByteArray    Type = 1
	CANFrame     Type = 2
	LidarPoints  Type = 3
	RadarTargets Type = 4
	Objects      Type = 5
	ImageData    Type = 6
	GPS          Type = 7
	IMU          Type = 8
	Parameters   Type = 9
	FileTransfer Type = 10
)

// DecodeFunc turns a raw payload into a typed value
type DecodeFunc func(payload []byte) (any, error)

// Descriptor describes one registered type
type Descriptor struct {
	Type   Type
	Name   string
	Decode DecodeFunc
}

// Registry is a concurrency-safe set of type descriptors
type Registry struct {
	mu     sync.RWMutex
	byType map[Type]Descriptor
	byName map[string]Type
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[Type]Descriptor),
		byName: make(map[string]Type),
	}
}

// DefaultRegistry returns a registry preloaded with the built-in types.
// Byte array, gps and can_frame payloads have decoders; the others are opaque.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := []Descriptor{
		{Type: ByteArray, Name: "byte_array", Decode: decodeBytes},
		{Type: CANFrame, Name: "can_frame", Decode: decodeCAN},
		{Type: LidarPoints, Name: "lidar_points"},
		{Type: RadarTargets, Name: "radar_targets"},
		{Type: Objects, Name: "objects"},
		{Type: ImageData, Name: "image_data"},
		{Type: GPS, Name: "gps", Decode: decodeGPS},
		{Type: IMU, Name: "imu"},
		{Type: Parameters, Name: "parameters"},
		{Type: FileTransfer, Name: "file_transfer"},
	}
	for _, d := range builtins {
		// built-ins never collide
		_ = r.Register(d)
	}
	return r
}

func decodeBytes(payload []byte) (any, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Register adds a descriptor. Tags and names must be unique.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("message type %d has no name", d.Type)}
	}
	name := strings.ToLower(d.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[d.Type]; exists {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("message type %d already registered", d.Type)}
	}
	if _, exists := r.byName[name]; exists {
		return rnrerr.ConfigError{Reason: fmt.Sprintf("message type name %q already registered", name)}
	}

	d.Name = name
	r.byType[d.Type] = d
	r.byName[name] = d.Type
	return nil
}

// Lookup returns the descriptor for a tag
func (r *Registry) Lookup(t Type) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[t]
	return d, ok
}

// Name returns the registered name of t, or its decimal tag when unknown
func (r *Registry) Name(t Type) string {
	if d, ok := r.Lookup(t); ok {
		return d.Name
	}
	return strconv.FormatUint(uint64(t), 10)
}

// Resolve parses a type given either by name or by numeric tag
func (r *Registry) Resolve(s string) (Type, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, rnrerr.ConfigError{Reason: "empty message type"}
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Type(n), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[s]
	if !ok {
		return 0, rnrerr.ConfigError{Reason: fmt.Sprintf("unknown message type %q", s)}
	}
	return t, nil
}

// ParseTypeList resolves a comma separated list such as "gps,12,imu"
func (r *Registry) ParseTypeList(list string) ([]Type, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	out := make([]Type, 0, len(parts))
	for _, p := range parts {
		t, err := r.Resolve(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Descriptors returns every registered descriptor ordered by tag
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.byType))
	for _, d := range r.byType {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
