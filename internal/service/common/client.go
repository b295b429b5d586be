//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	timingapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/domain/timing"
)

// Client wraps a gRPC connection to the timing service with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the timing server.
	conn grpc.ClientConnInterface
	// closer releases conn, nil when the caller owns it.
	closer func() error

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// PressRequest is a taster press sent to the server.
type PressRequest struct {
	// MAC is the hardware address of the taster.
	MAC string `json:"mac"`
	// TS is the press time in Unix milliseconds; the server clock is used when nil.
	TS *int64 `json:"ts,omitempty"`
	// StopwatchMS is the reading of the taster stopwatch, if any.
	StopwatchMS *int64 `json:"stopwatch_ms,omitempty"`
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errMACRequired is returned when a request does not name a taster.
	errMACRequired = errors.New("mac must be provided")
	// errNotConnected is returned when the client has no connection.
	errNotConnected = errors.New("client is not connected")
)

// Dial establishes a gRPC connection to the timing server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial timing server: %w", err)
	}

	client := NewClient(conn, opts...)
	client.closer = conn.Close

	return client, nil
}

// NewClient wraps an existing connection. The caller keeps ownership of conn.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer()
}

// Press reports a taster press. Rejected presses are returned with OK unset
// and the failure kind in Error.
func (c *Client) Press(ctx context.Context, req PressRequest) (*timingapi.PressReply, error) {
	if req.MAC == "" {
		return nil, errMACRequired
	}

	reply := new(timingapi.PressReply)
	if err := c.invoke(ctx, timingapi.MethodPress, req, reply); err != nil {
		return nil, fmt.Errorf("press: %w", err)
	}

	return reply, nil
}

// Assign binds the taster with mac to target.
func (c *Client) Assign(ctx context.Context, mac string, target timing.Target) (*timingapi.Reply, error) {
	if mac == "" {
		return nil, errMACRequired
	}

	request := map[string]string{
		"mac":  mac,
		"lane": target.String(),
	}

	reply := new(timingapi.Reply)
	if err := c.invoke(ctx, timingapi.MethodAssign, request, reply); err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}

	return reply, nil
}

// Unassign clears target.
func (c *Client) Unassign(ctx context.Context, target timing.Target) (*timingapi.Reply, error) {
	reply := new(timingapi.Reply)
	if err := c.invoke(ctx, timingapi.MethodUnassign, map[string]string{"lane": target.String()}, reply); err != nil {
		return nil, fmt.Errorf("unassign: %w", err)
	}

	return reply, nil
}

// SetRun selects the current run; an empty value clears it.
func (c *Client) SetRun(ctx context.Context, value string) (*timingapi.Reply, error) {
	reply := new(timingapi.Reply)
	if err := c.invoke(ctx, timingapi.MethodSetRun, map[string]string{"current_run": value}, reply); err != nil {
		return nil, fmt.Errorf("set run: %w", err)
	}

	return reply, nil
}

// GetMapping retrieves the lane table.
func (c *Client) GetMapping(ctx context.Context) (*timingapi.MappingReply, error) {
	reply := new(timingapi.MappingReply)
	if err := c.invoke(ctx, timingapi.MethodGetMapping, struct{}{}, reply); err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}

	return reply, nil
}

// invoke sends request to method and decodes the answer into reply.
func (c *Client) invoke(ctx context.Context, method string, request, reply any) error {
	if c == nil || c.conn == nil {
		return errNotConnected
	}

	in, err := timingapi.ToStruct(request)
	if err != nil {
		return err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err = c.conn.Invoke(callCtx, timingapi.FullMethod(method), in, out); err != nil {
		return err
	}

	return timingapi.FromStruct(out, reply)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
