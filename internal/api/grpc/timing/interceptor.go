package timing

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/stoppuhr/internal/logger"
)

// UnaryLogger logs every unary call with its status code and duration.
// Failed calls are logged as warnings, the rest at debug level.
func UnaryLogger() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		kvs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration", time.Since(start),
		}

		if code != codes.OK {
			logger.WarnKV(ctx, "gRPC call failed", append(kvs, "error", err)...)
		} else {
			logger.DebugKV(ctx, "gRPC call", kvs...)
		}

		return resp, err
	}
}
