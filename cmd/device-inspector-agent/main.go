// Copyright 2025 Joseph Cumines
//
// Device inspector agent - keeps a device stream open and answers tree
// requests with uiautomator dumps

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/DeviceInspector/internal/agent"
	"github.com/joeycumines/DeviceInspector/internal/client"
	"github.com/joeycumines/DeviceInspector/internal/config"
	"github.com/joeycumines/DeviceInspector/internal/device"
	"github.com/joeycumines/DeviceInspector/internal/wire"
)

func main() {
	// Load configuration
	cfg, err := config.LoadAgent(os.Args[1:])
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adb := device.NewADB(cfg.ADBPath, nil)
	if err := adb.CheckAvailable(ctx); err != nil {
		log.Fatalf("Cannot dump accessibility trees: %v", err)
	}

	conn, err := client.Dial(cfg.ServerAddr, client.DialOptions{TLS: cfg.ServerTLS, CertFile: cfg.ServerCertFile})
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.ServerAddr, err)
	}
	defer conn.Close()

	a, err := agent.New(agent.Config{
		Client:            wire.NewAccessibilityServiceClient(conn),
		Source:            adb,
		Logger:            logger,
		DeviceID:          cfg.DeviceID,
		Compression:       cfg.Compression,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DumpTimeout:       cfg.DumpTimeout,
		ReconnectMax:      cfg.ReconnectMax,
	})
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	logger.Info("agent starting", "server", cfg.ServerAddr, "device_id", cfg.DeviceID, "compression", cfg.Compression)
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Agent error: %v", err)
	}
	logger.Info("agent stopped")
}
