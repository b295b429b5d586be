package timing

import (
	"context"
	"math"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/service/router"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Press(ctx context.Context, req router.Request) *domain.Press
	Assign(ctx context.Context, mac string, target domain.Target) (*domain.Device, error)
	Unassign(ctx context.Context, target domain.Target) error
	SetRun(ctx context.Context, value string) string
	Mapping(ctx context.Context) *domain.Mapping
	IsStale(device *domain.Device) bool
}

// Server implements the TimingService gRPC API.
type Server struct {
	// service provides the business logic for timing operations.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Press routes a taster press.
func (s *Server) Press(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	mac := stringField(req, "mac")
	if mac == "" {
		return nil, status.Error(codes.InvalidArgument, "mac is required")
	}

	ts, err := optionalInt64Field(req, "ts")
	if err != nil {
		return nil, err
	}

	stopwatch, err := optionalInt64Field(req, "stopwatch_ms")
	if err != nil {
		return nil, err
	}

	press := s.service.Press(ctx, router.Request{
		MAC:         mac,
		TS:          ts,
		StopwatchMS: stopwatch,
	})

	reply := &PressReply{OK: press.OK()}

	switch {
	case press.OK():
		reply.Press = NewPressEvent(press)
	case press.Kind() == domain.KindBadRequest:
		return nil, status.Error(codes.InvalidArgument, press.Err.Error())
	default:
		reply.Error = string(press.Kind())
	}

	return encode(reply)
}

// Assign binds a taster to a lane or to the starter slot.
func (s *Server) Assign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	mac := stringField(req, "mac")
	if mac == "" {
		return nil, status.Error(codes.InvalidArgument, "mac is required")
	}

	target, err := targetField(req)
	if err != nil {
		return nil, err
	}

	device, err := s.service.Assign(ctx, mac, target)
	if err != nil {
		return failure(err)
	}

	return encode(&Reply{
		OK:     true,
		Taster: NewDevice(device, s.service.IsStale),
	})
}

// Unassign clears the pending, then the active taster of a lane.
func (s *Server) Unassign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	target, err := targetField(req)
	if err != nil {
		return nil, err
	}

	if err = s.service.Unassign(ctx, target); err != nil {
		return failure(err)
	}

	return encode(&Reply{OK: true})
}

// SetRun selects the current run; a missing, null or blank value clears it.
func (s *Server) SetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	value, _, err := looseField(req, "current_run")
	if err != nil {
		return nil, err
	}

	current := s.service.SetRun(ctx, value)

	reply := &Reply{OK: true}
	if current != "" {
		reply.Run = &current
	}

	return encode(reply)
}

// GetMapping returns the lane table.
func (s *Server) GetMapping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(NewMappingReply(s.service.Mapping(ctx), s.service.IsStale))
}

// failure answers a domain error: malformed input fails the call, anything
// else is reported in the reply.
func failure(err error) (*structpb.Struct, error) {
	kind := domain.KindOf(err)
	if kind == domain.KindBadRequest {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return encode(&Reply{Error: string(kind)})
}

// encode converts a reply to a Struct.
func encode(reply any) (*structpb.Struct, error) {
	out, err := ToStruct(reply)
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode reply")
	}

	return out, nil
}

// stringField returns a string field, empty when missing or of another type.
func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// optionalInt64Field returns a numeric field, nil when missing or null.
func optionalInt64Field(req *structpb.Struct, name string) (*int64, error) {
	value, ok := req.GetFields()[name]
	if !ok {
		return nil, nil //nolint:nilnil // Missing optional field.
	}

	switch kind := value.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil //nolint:nilnil // Explicit null.
	case *structpb.Value_NumberValue:
		if kind.NumberValue != math.Trunc(kind.NumberValue) {
			return nil, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
		}

		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if kind.NumberValue >= math.MaxInt64 || kind.NumberValue < math.MinInt64 {
			return nil, status.Errorf(codes.InvalidArgument, "%s is out of range", name)
		}

		n := int64(kind.NumberValue)

		return &n, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
}

// looseField reads a string or number field as text.
func looseField(req *structpb.Struct, name string) (string, bool, error) {
	value, ok := req.GetFields()[name]
	if !ok {
		return "", false, nil
	}

	switch kind := value.GetKind().(type) {
	case *structpb.Value_NullValue:
		return "", false, nil
	case *structpb.Value_StringValue:
		return kind.StringValue, true, nil
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64), true, nil
	default:
		return "", false, status.Errorf(codes.InvalidArgument, "%s must be a string or number", name)
	}
}

// targetField parses the "lane" field: a number, a numeric string or "starter".
func targetField(req *structpb.Struct) (domain.Target, error) {
	raw, ok, err := looseField(req, "lane")
	if err != nil {
		return domain.Target{}, err
	}

	if !ok {
		return domain.Target{}, status.Error(codes.InvalidArgument, "lane is required")
	}

	target, err := domain.ParseTarget(raw)
	if err != nil {
		return domain.Target{}, status.Error(codes.InvalidArgument, err.Error())
	}

	return target, nil
}
