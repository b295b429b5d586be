//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	timingapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	"github.com/oshokin/stoppuhr/internal/domain/timing"
)

// stubServer answers every method with canned replies and records requests.
type stubServer struct {
	mu       sync.Mutex
	requests map[string]map[string]any
}

func (s *stubServer) record(method string, req *structpb.Struct) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[method] = req.AsMap()
}

func (s *stubServer) last(method string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests[method]
}

func (s *stubServer) Press(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.record(timingapi.MethodPress, req)

	if req.GetFields()["mac"].GetStringValue() == "00:00:00:00:00:00" {
		return nil, status.Error(codes.Unavailable, "try later")
	}

	return structpb.NewStruct(map[string]any{
		"ok":    true,
		"press": map[string]any{"id": "p", "lane": 3, "run": nil, "mac": "AA:BB:CC:00:00:01", "ts": 5, "starter": false},
	})
}

func (s *stubServer) Assign(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.record(timingapi.MethodAssign, req)

	return structpb.NewStruct(map[string]any{"ok": false, "error": "LaneOutOfRange", "run": nil})
}

func (s *stubServer) Unassign(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.record(timingapi.MethodUnassign, req)

	return structpb.NewStruct(map[string]any{"ok": true, "run": nil})
}

func (s *stubServer) SetRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.record(timingapi.MethodSetRun, req)

	return structpb.NewStruct(map[string]any{"ok": true, "run": "2"})
}

func (s *stubServer) GetMapping(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.record(timingapi.MethodGetMapping, req)

	return structpb.NewStruct(map[string]any{
		"mapping":     map[string]any{"1": nil, "2": map[string]any{"id": "T-AABBCC000001", "mac": "AA:BB:CC:00:00:01"}},
		"pending":     map[string]any{},
		"unmapped":    []any{},
		"starter":     nil,
		"max_lane":    2,
		"current_run": "1",
	})
}

// newStubClient serves a stubServer over an in-memory listener.
func newStubClient(t *testing.T) (*Client, *stubServer) {
	t.Helper()

	var (
		listener = bufconn.Listen(1 << 20)
		server   = grpc.NewServer()
		stub     = &stubServer{requests: make(map[string]map[string]any)}
	)

	timingapi.RegisterTimingServiceServer(server, stub)

	go func() {
		_ = server.Serve(listener)
	}()

	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn, WithCallTimeout(5*time.Second)), stub
}

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestClient_RequiresMAC asserts that requests without a taster are rejected locally.
func TestClient_RequiresMAC(t *testing.T) {
	t.Parallel()

	c := new(Client)

	_, err := c.Press(context.Background(), PressRequest{})
	require.ErrorIs(t, err, errMACRequired)

	_, err = c.Assign(context.Background(), "", timing.Target{Lane: 1})
	require.ErrorIs(t, err, errMACRequired)

	_, err = c.GetMapping(context.Background())
	require.ErrorIs(t, err, errNotConnected)

	require.NoError(t, c.Close())
}

// TestClient_Roundtrip drives every method against an in-memory server.
func TestClient_Roundtrip(t *testing.T) {
	t.Parallel()

	var (
		ctx     = context.Background()
		c, stub = newStubClient(t)
		ts      = int64(5)
	)

	press, err := c.Press(ctx, PressRequest{MAC: "AA:BB:CC:00:00:01", TS: &ts})
	require.NoError(t, err)
	require.True(t, press.OK)
	require.Equal(t, 3, *press.Press.Lane)
	require.Nil(t, press.Press.Run)
	require.InDelta(t, 5.0, stub.last(timingapi.MethodPress)["ts"], 0)
	require.NotContains(t, stub.last(timingapi.MethodPress), "stopwatch_ms")

	reply, err := c.Assign(ctx, "AA:BB:CC:00:00:01", timing.Target{Starter: true})
	require.NoError(t, err)
	require.False(t, reply.OK)
	require.Equal(t, "LaneOutOfRange", reply.Error)
	require.Equal(t, "starter", stub.last(timingapi.MethodAssign)["lane"])

	reply, err = c.Unassign(ctx, timing.Target{Lane: 4})
	require.NoError(t, err)
	require.True(t, reply.OK)
	require.Equal(t, "4", stub.last(timingapi.MethodUnassign)["lane"])

	reply, err = c.SetRun(ctx, "2")
	require.NoError(t, err)
	require.Equal(t, "2", *reply.Run)

	mapping, err := c.GetMapping(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, mapping.MaxLane)
	require.Nil(t, mapping.Mapping["1"])
	require.Equal(t, "T-AABBCC000001", mapping.Mapping["2"].ID)
	require.Equal(t, "1", *mapping.CurrentRun)
}

// TestClient_PreservesStatus keeps the gRPC status code in returned errors.
func TestClient_PreservesStatus(t *testing.T) {
	t.Parallel()

	c, _ := newStubClient(t)

	_, err := c.Press(context.Background(), PressRequest{MAC: "00:00:00:00:00:00"})
	require.Error(t, err)
	require.Equal(t, codes.Unavailable, status.Code(err))
}
