// Copyright 2025 Joseph Cumines
//
// gRPC server assembly

// Package server implements the AccessibilityService and WindowInfoService
// gRPC services and assembles them, with health checking, metrics, rate
// limiting and audit logging, into a single *grpc.Server.
package server

import (
	"context"
	"log/slog"
	"net"

	"github.com/joeycumines/DeviceInspector/internal/mux"
	"github.com/joeycumines/DeviceInspector/internal/transport"
	"github.com/joeycumines/DeviceInspector/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// MaxMessageSize bounds a single message in either direction. Tree dumps of
// busy screens exceed the gRPC default of 4 MiB.
const MaxMessageSize = 64 << 20

// Config holds the collaborators of a Server.
type Config struct {
	// Mux is required.
	Mux *mux.Multiplexer
	// Activities backs WindowInfoService. Required.
	Activities ActivitySource
	// Metrics defaults to a fresh registry.
	Metrics *transport.MetricsRegistry
	// RateLimiter guards unary RPCs other than UpdateAccessibilityData.
	// Nil disables rate limiting.
	RateLimiter *transport.RateLimiter
	// Audit may be nil.
	Audit  *AuditLogger
	Logger *slog.Logger
}

// Server is the device inspector gRPC server.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	mux     *mux.Multiplexer
	metrics *transport.MetricsRegistry
	logger  *slog.Logger
}

// New builds a Server. opts are appended to the server options, typically
// to add transport credentials.
func New(cfg Config, opts ...grpc.ServerOption) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = transport.NewMetricsRegistry()
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(
			transport.UnaryMetricsInterceptor(cfg.Metrics),
			UnaryAuditInterceptor(cfg.Audit),
			// Device pushes and health probes are never throttled.
			transport.UnaryRateLimitInterceptor(cfg.RateLimiter, cfg.Metrics,
				wire.UpdateAccessibilityDataFullMethodName,
				healthpb.Health_Check_FullMethodName,
			),
		),
		grpc.ChainStreamInterceptor(
			transport.StreamMetricsInterceptor(cfg.Metrics),
			StreamAuditInterceptor(cfg.Audit),
		),
	}, opts...)

	s := &Server{
		grpc:    grpc.NewServer(serverOpts...),
		health:  health.NewServer(),
		mux:     cfg.Mux,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	wire.RegisterAccessibilityServiceServer(s.grpc, NewAccessibilityService(cfg.Mux, cfg.Metrics, cfg.Logger))
	wire.RegisterWindowInfoServiceServer(s.grpc, NewWindowInfoService(cfg.Activities, cfg.Logger))
	healthpb.RegisterHealthServer(s.grpc, s.health)

	for _, service := range []string{"", wire.AccessibilityServiceName, wire.WindowInfoServiceName} {
		s.health.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// GRPC returns the underlying server.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Metrics returns the registry the server records into.
func (s *Server) Metrics() *transport.MetricsRegistry { return s.metrics }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("gRPC server listening", "address", ln.Addr().String())
	return s.grpc.Serve(ln)
}

// Shutdown marks every service NOT_SERVING, closes the multiplexer so that
// device streams end and waiting fetches wake, and then stops the gRPC
// server gracefully. If ctx ends first, remaining RPCs are cut off.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	s.mux.Close()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, closing remaining RPCs")
		s.grpc.Stop()
		<-stopped
	}
	s.logger.Info("gRPC server stopped")
}
