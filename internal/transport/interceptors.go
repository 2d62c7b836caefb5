// Copyright 2025 Joseph Cumines

package transport

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryMetricsInterceptor records the count, status code and latency of
// every unary RPC.
func UnaryMetricsInterceptor(metrics *MetricsRegistry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.RecordRPC(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// StreamMetricsInterceptor records streaming RPCs when they end. Latency
// here is the lifetime of the stream.
func StreamMetricsInterceptor(metrics *MetricsRegistry) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		metrics.RecordRPC(info.FullMethod, status.Code(err).String(), time.Since(start))
		return err
	}
}
