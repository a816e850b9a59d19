package grpcapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryLogging logs every call at debug level and server-side failures at warn.
func UnaryLogging(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Error(codes.Internal, "internal")
			}
			code := status.Code(err)
			fields := []zap.Field{
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("took", time.Since(start)),
			}
			switch code {
			case codes.Internal, codes.Unknown, codes.Unavailable:
				log.Warn("grpc call failed", append(fields, zap.Error(err))...)
			default:
				log.Debug("grpc call", fields...)
			}
		}()
		return handler(ctx, req)
	}
}
