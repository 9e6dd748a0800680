// Package client is the gRPC client of the control service, used by rnrctl
package client

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "github.com/polysync/rnr/internal/api/grpc"
	"github.com/polysync/rnr/internal/tracing"
)

// Status is the decoded node status
type Status = grpcapi.StatusMessage

// Client is the control client
type Client struct {
	conn      *grpc.ClientConn
	authToken string
	creds     credentials.TransportCredentials

	healthClient healthpb.HealthClient
}

// NewClient creates a new control client. The connection is established
// lazily on the first call.
func NewClient(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		creds: insecure.NewCredentials(),
	}

	// Apply options
	for _, opt := range opts {
		opt(c)
	}

	// Establish gRPC connection
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(c.creds))
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.healthClient = healthpb.NewHealthClient(conn)

	return c, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// outgoing attaches the bearer token and the caller's trace context as
// request metadata
func (c *Client) outgoing(ctx context.Context) context.Context {
	fields := map[string]string{}
	tracing.Inject(ctx, fields)
	if c.authToken != "" {
		fields["authorization"] = "Bearer " + c.authToken
	}
	if len(fields) == 0 {
		return ctx
	}
	kv := make([]string, 0, 2*len(fields))
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// invoke calls one control method and decodes the status it returns
func (c *Client) invoke(ctx context.Context, method, operation string, req map[string]any) (*Status, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), grpcapi.FullMethod(method), in, out); err != nil {
		return nil, wrapError(err, operation)
	}
	st := grpcapi.DecodeStatus(out)
	return &st, nil
}

// HealthCheck checks if the server is serving the control service
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: grpcapi.ControlServiceName})
	if err != nil {
		return wrapError(err, "health_check")
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return &Error{Message: "control service is " + resp.GetStatus().String()}
	}
	return nil
}

// SetMode selects off, write or replay. An empty session id lets the node
// assign one.
func (c *Client) SetMode(ctx context.Context, mode, sessionID string) (*Status, error) {
	return c.invoke(ctx, grpcapi.MethodSetMode, "set_mode", map[string]any{
		grpcapi.FieldMode:      mode,
		grpcapi.FieldSessionID: sessionID,
	})
}

// SetState enables or disables the selected mode
func (c *Client) SetState(ctx context.Context, enabled bool) (*Status, error) {
	return c.invoke(ctx, grpcapi.MethodSetState, "set_state", map[string]any{
		grpcapi.FieldEnabled: enabled,
	})
}

// SetFilePath sets the log file of the next session
func (c *Client) SetFilePath(ctx context.Context, path string) (*Status, error) {
	return c.invoke(ctx, grpcapi.MethodSetFilePath, "set_file_path", map[string]any{
		grpcapi.FieldPath: path,
	})
}

// SetTypeFilters sets the include and exclude lists (names or numeric tags)
func (c *Client) SetTypeFilters(ctx context.Context, include, exclude []string) (*Status, error) {
	return c.invoke(ctx, grpcapi.MethodSetTypeFilters, "set_type_filters", map[string]any{
		grpcapi.FieldInclude: stringList(include),
		grpcapi.FieldExclude: stringList(exclude),
	})
}

// SetStartTime sets the replay start reference in microseconds
func (c *Client) SetStartTime(ctx context.Context, micros uint64, absolute bool) (*Status, error) {
	return c.invoke(ctx, grpcapi.MethodSetStartTime, "set_start_time", map[string]any{
		// sent as a string so absolute UTC micros keep full precision
		grpcapi.FieldMicros:   strconv.FormatUint(micros, 10),
		grpcapi.FieldAbsolute: absolute,
	})
}

// Status returns the node status
func (c *Client) Status(ctx context.Context) (*Status, error) {
	return c.invoke(ctx, grpcapi.MethodGetStatus, "get_status", map[string]any{})
}

func stringList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
