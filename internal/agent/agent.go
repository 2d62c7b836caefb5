// Copyright 2025 Joseph Cumines
//
// Device-side stream client

// Package agent is the device side of StreamAccessibility. It holds one
// stream open to the inspector server, sends heartbeats, and answers every
// tree command with a fresh accessibility dump. Lost streams are reopened
// with exponential backoff.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joeycumines/DeviceInspector/internal/wire"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Defaults applied by New.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultDumpTimeout       = 4 * time.Second
	DefaultReconnectInitial  = 500 * time.Millisecond
	DefaultReconnectMax      = 30 * time.Second
)

// outboxSize bounds replies and heartbeats queued for the sender.
const outboxSize = 8

// errStreamEnded is returned by a session the server ended cleanly.
var errStreamEnded = errors.New("stream ended by server")

// TreeSource produces accessibility dumps. *device.ADB implements it.
type TreeSource interface {
	DumpAccessibilityTree(ctx context.Context, deviceID string) ([]byte, error)
}

// Config configures an Agent.
type Config struct {
	Client wire.AccessibilityServiceClient
	Source TreeSource
	Logger *slog.Logger
	// DeviceID is sent as x-device-id. Empty lets the server pick the only
	// attached device.
	DeviceID string
	// Compression names a registered gRPC compressor; "" or "none"
	// disables compression.
	Compression       string
	HeartbeatInterval time.Duration
	DumpTimeout       time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
}

// Agent keeps a device stream open.
type Agent struct {
	client      wire.AccessibilityServiceClient
	source      TreeSource
	logger      *slog.Logger
	deviceID    string
	callOpts    []grpc.CallOption
	heartbeat   time.Duration
	dumpTimeout time.Duration
	initial     time.Duration
	max         time.Duration
}

// New validates cfg and returns an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Client == nil {
		return nil, errors.New("agent: client is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("agent: tree source is required")
	}
	if !wire.ValidCompressor(cfg.Compression) {
		return nil, fmt.Errorf("agent: unknown compressor %q", cfg.Compression)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Agent{
		client:      cfg.Client,
		source:      cfg.Source,
		logger:      cfg.Logger,
		deviceID:    cfg.DeviceID,
		heartbeat:   orDefault(cfg.HeartbeatInterval, DefaultHeartbeatInterval),
		dumpTimeout: orDefault(cfg.DumpTimeout, DefaultDumpTimeout),
		initial:     orDefault(cfg.ReconnectInitial, DefaultReconnectInitial),
		max:         orDefault(cfg.ReconnectMax, DefaultReconnectMax),
	}
	if cfg.Compression != "" && cfg.Compression != "none" {
		a.callOpts = append(a.callOpts, grpc.UseCompressor(cfg.Compression))
	}
	return a, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Run holds a stream open until ctx is done, reconnecting whenever it is
// lost. It returns ctx's error.
func (a *Agent) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.initial
	bo.MaxInterval = a.max
	bo.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		started := time.Now()
		err := a.session(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		// A stream that stayed up for a while starts the schedule over.
		if time.Since(started) > a.max {
			bo.Reset()
		}
		if err == nil {
			err = errStreamEnded
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		a.logger.Warn("device stream lost, reconnecting", "error", err, "retry_in", wait)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// session runs one stream until it fails. A single goroutine sends on the
// stream; heartbeats and replies reach it through the outbox.
func (a *Agent) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.deviceID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, wire.DeviceIDMetadataKey, a.deviceID)
	}
	stream, err := a.client.StreamAccessibility(ctx, a.callOpts...)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	a.logger.Info("device stream opened", "device_id", a.deviceID)

	g, gctx := errgroup.WithContext(ctx)
	// Any task failing tears the stream down, which unblocks Recv.
	stop := context.AfterFunc(gctx, cancel)
	defer stop()
	outbox := make(chan *wire.ClientResponse, outboxSize)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg := <-outbox:
				if err := stream.Send(msg); err != nil {
					return fmt.Errorf("send: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.heartbeat)
		defer ticker.Stop()
		for {
			if !enqueue(gctx, outbox, &wire.ClientResponse{DeviceID: wire.HeartbeatDeviceID, Success: true}) {
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		for {
			cmd, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			if err != nil {
				return fmt.Errorf("receive: %w", err)
			}
			g.Go(func() error {
				enqueue(gctx, outbox, a.handle(gctx, cmd))
				return nil
			})
		}
	})

	err = g.Wait()
	if errors.Is(err, errStreamEnded) {
		return nil
	}
	return err
}

func enqueue(ctx context.Context, outbox chan<- *wire.ClientResponse, msg *wire.ClientResponse) bool {
	select {
	case outbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// handle executes one command and builds its reply.
func (a *Agent) handle(ctx context.Context, cmd *wire.ServerCommand) *wire.ClientResponse {
	reply := &wire.ClientResponse{DeviceID: cmd.DeviceID, RequestID: cmd.RequestID}
	if cmd.Command != wire.CommandGetAccessibilityTree {
		reply.ErrorMessage = fmt.Sprintf("unsupported command: %v", cmd.Command)
		a.logger.Warn("unsupported command", "device_id", cmd.DeviceID, "command", cmd.Command)
		return reply
	}

	ctx, cancel := context.WithTimeout(ctx, a.dumpTimeout)
	defer cancel()

	start := time.Now()
	tree, err := a.source.DumpAccessibilityTree(ctx, cmd.DeviceID)
	if err != nil {
		a.logger.Warn("accessibility dump failed", "device_id", cmd.DeviceID, "request_id", cmd.RequestID, "error", err)
		reply.ErrorMessage = err.Error()
		return reply
	}

	a.logger.Debug("accessibility dump ready",
		"device_id", cmd.DeviceID,
		"request_id", cmd.RequestID,
		"bytes", len(tree),
		"duration", time.Since(start),
	)
	reply.Success = true
	reply.RawOutput = tree
	return reply
}
