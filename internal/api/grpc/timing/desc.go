package timing

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stoppuhr.v1.TimingService"

// Method names of the timing service.
const (
	MethodPress      = "Press"
	MethodAssign     = "Assign"
	MethodUnassign   = "Unassign"
	MethodSetRun     = "SetRun"
	MethodGetMapping = "GetMapping"
)

// FullMethod returns the invocation path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// TimingServiceServer is the server API of the timing service.
type TimingServiceServer interface {
	Press(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Assign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Unassign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetMapping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// unaryCall dispatches a decoded request to one server method.
type unaryCall func(srv TimingServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes the timing service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodPress, Handler: unaryHandler(MethodPress, TimingServiceServer.Press)},
		{MethodName: MethodAssign, Handler: unaryHandler(MethodAssign, TimingServiceServer.Assign)},
		{MethodName: MethodUnassign, Handler: unaryHandler(MethodUnassign, TimingServiceServer.Unassign)},
		{MethodName: MethodSetRun, Handler: unaryHandler(MethodSetRun, TimingServiceServer.SetRun)},
		{MethodName: MethodGetMapping, Handler: unaryHandler(MethodGetMapping, TimingServiceServer.GetMapping)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stoppuhr/v1/timing.proto",
}

// RegisterTimingServiceServer registers srv on s.
func RegisterTimingServiceServer(s grpc.ServiceRegistrar, srv TimingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unaryHandler adapts call to grpc.MethodHandler, running interceptors when configured.
func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(TimingServiceServer)

		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}

		handler := func(ctx context.Context, req any) (any, error) {
			msg, _ := req.(*structpb.Struct)

			return call(server, ctx, msg)
		}

		return interceptor(ctx, in, info, handler)
	}
}
