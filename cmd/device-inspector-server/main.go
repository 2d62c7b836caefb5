// Copyright 2025 Joseph Cumines
//
// Device inspector server - multiplexes accessibility tree requests onto
// device streams over gRPC

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/joeycumines/DeviceInspector/internal/config"
	"github.com/joeycumines/DeviceInspector/internal/device"
	"github.com/joeycumines/DeviceInspector/internal/mux"
	"github.com/joeycumines/DeviceInspector/internal/server"
	"github.com/joeycumines/DeviceInspector/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.LoadServer(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adb := device.NewADB(cfg.ADBPath, nil)
	if err := adb.CheckAvailable(ctx); err != nil {
		// Explicitly named devices still work without adb on this host.
		logger.Warn("adb unavailable, wildcard device selection and window info will fail", "error", err)
	}

	audit, err := server.NewAuditLogger(cfg.AuditFile)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer audit.Close()

	var opts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	metrics := transport.NewMetricsRegistry()
	m := mux.New(mux.Config{
		Lister:        adb,
		Logger:        logger.With("component", "mux"),
		FetchTimeout:  cfg.FetchTimeout,
		CommandBuffer: cfg.CommandBuffer,
	})
	srv := server.New(server.Config{
		Mux:         m,
		Activities:  adb,
		Metrics:     metrics,
		RateLimiter: transport.NewRateLimiter(cfg.RateLimit),
		Audit:       audit,
		Logger:      logger,
	}, opts...)

	ln, err := net.Listen("tcp", cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress(), err)
	}

	var ops *transport.OpsServer
	var opsLn net.Listener
	if cfg.OpsAddress != "" || cfg.OpsSocketPath != "" {
		ops = transport.NewOpsServer(transport.OpsConfig{
			Logger:      logger.With("component", "ops"),
			Address:     cfg.OpsAddress,
			SocketPath:  cfg.OpsSocketPath,
			APIKey:      cfg.OpsAPIKey,
			TLSCertFile: cfg.TLSCertFile,
			TLSKeyFile:  cfg.TLSKeyFile,
		}, m, metrics)
		if opsLn, err = ops.Listen(); err != nil {
			_ = ln.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	if ops != nil {
		g.Go(func() error {
			return ops.Serve(opsLn)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		srv.Shutdown(shutdownCtx)
		if ops != nil {
			if err := ops.Close(shutdownCtx); err != nil {
				logger.Warn("ops server shutdown failed", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server shutdown complete")
	return err
}
