// Copyright 2025 Joseph Cumines
//
// Accessibility request multiplexer

// Package mux correlates accessibility tree fetches with replies arriving on
// long-lived, per-device bidirectional streams.
//
// Each device keeps one stream open. The multiplexer registers it, reads its
// replies on a tracked goroutine, and hands out the outbound command channel
// that the RPC layer drains into the stream. A fetch pushes one command to
// the device and waits, up to the fetch timeout, for the reply carrying the
// same device id.
//
// Invariants:
//   - at most one registered stream per device id (last registration wins)
//   - at most one pending fetch per device id (last insertion wins)
//   - a pending fetch is resolved at most once, by whoever takes it from the
//     pending table
package mux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joeycumines/DeviceInspector/internal/wire"
)

const (
	// WildcardDevice targets the only connected device.
	WildcardDevice = "any"

	// DefaultFetchTimeout bounds how long FetchTree waits for a reply.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultCommandBuffer is the capacity of each stream's command channel.
	DefaultCommandBuffer = 32
)

// ReplySource is the inbound half of a device stream. Recv blocks until a
// reply arrives and returns an error (io.EOF on a clean close) once the
// stream is finished.
type ReplySource interface {
	Recv() (*wire.ClientResponse, error)
}

// DeviceLister enumerates the devices attached to this host. It resolves
// wildcard stream registrations.
type DeviceLister interface {
	ListConnectedDevices(ctx context.Context) ([]string, error)
}

// Config configures a Multiplexer.
type Config struct {
	// Lister resolves wildcard device ids in OpenStream. Optional; without
	// it a wildcard stream is rejected.
	Lister DeviceLister
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// FetchTimeout defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration
	// CommandBuffer defaults to DefaultCommandBuffer.
	CommandBuffer int
}

// Multiplexer owns the stream registry and the pending request table.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Multiplexer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	lister  DeviceLister
	logger  *slog.Logger
	streams *streamRegistry
	pending *pendingTable
	timeout time.Duration
	buffer  int

	mu     sync.Mutex // guards closed and task registration
	closed bool
	tasks  sync.WaitGroup
}

// New creates a Multiplexer.
func New(cfg Config) *Multiplexer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultCommandBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		ctx:     ctx,
		cancel:  cancel,
		lister:  cfg.Lister,
		logger:  cfg.Logger,
		streams: newStreamRegistry(),
		pending: newPendingTable(),
		timeout: cfg.FetchTimeout,
		buffer:  cfg.CommandBuffer,
	}
}

// Stream is the outbound leg of a registered device stream.
type Stream struct {
	reg *registration
}

// DeviceID returns the device the stream is registered under.
func (s *Stream) DeviceID() string { return s.reg.deviceID }

// Commands yields the commands to forward to the device.
func (s *Stream) Commands() <-chan *wire.ServerCommand { return s.reg.commands }

// Done is closed once the inbound side has ended or the multiplexer is
// closed. The RPC layer stops forwarding commands when it fires.
func (s *Stream) Done() <-chan struct{} { return s.reg.ctx.Done() }

// IsWildcard reports whether deviceID asks for the single connected device.
func IsWildcard(deviceID string) bool {
	return deviceID == "" || deviceID == WildcardDevice
}

// OpenStream registers a stream for deviceID, superseding any earlier stream
// for the same device, and starts demultiplexing src. A wildcard deviceID is
// resolved through the configured DeviceLister.
func (m *Multiplexer) OpenStream(ctx context.Context, deviceID string, src ReplySource) (*Stream, error) {
	target, err := m.resolveStreamDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	regCtx, cancel := context.WithCancel(m.ctx)
	reg := &registration{
		ctx:      regCtx,
		cancel:   cancel,
		commands: make(chan *wire.ServerCommand, m.buffer),
		deviceID: target,
	}
	if previous := m.streams.register(reg); previous != nil {
		m.logger.Info("superseding device stream", "device_id", target)
	}
	m.tasks.Go(func() { m.demultiplex(reg, src) })

	m.logger.Info("device stream registered", "device_id", target)
	return &Stream{reg: reg}, nil
}

// FetchTree asks deviceID for its accessibility tree and waits for the
// reply. The wildcard targets the only device with an open stream.
//
// Failures wrap ErrNotConnected, ErrAmbiguousTarget, ErrTimeout,
// ErrDisconnected, ErrClosed, or the caller's context error.
func (m *Multiplexer) FetchTree(ctx context.Context, deviceID string) ([]byte, error) {
	if m.Closed() {
		return nil, ErrClosed
	}

	target, err := m.resolveFetchDevice(deviceID)
	if err != nil {
		return nil, err
	}

	reg, ok := m.streams.lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, target)
	}

	req := newPendingRequest(reg)
	if previous := m.pending.insert(req); previous != nil {
		m.logger.Warn("superseding unresolved fetch",
			"device_id", target,
			"request_id", previous.id,
			"superseded_by", req.id,
		)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	cmd := &wire.ServerCommand{
		DeviceID:  target,
		RequestID: req.id,
		Command:   wire.CommandGetAccessibilityTree,
	}
	select {
	case reg.commands <- cmd:
	case <-reg.ctx.Done():
		m.pending.remove(req)
		return nil, fmt.Errorf("%w: %s", ErrDisconnected, target)
	case <-timer.C:
		m.pending.remove(req)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, target)
	case <-ctx.Done():
		m.pending.remove(req)
		return nil, ctx.Err()
	}

	m.logger.Debug("fetch command sent", "device_id", target, "request_id", req.id)

	select {
	case payload, ok := <-req.reply:
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDisconnected, target)
		}
		return payload, nil
	case <-reg.ctx.Done():
		// The stream may have closed after its routed request was already
		// taken, so nothing will abandon req.
		return m.expire(req, fmt.Errorf("%w: %s", ErrDisconnected, target))
	case <-timer.C:
		m.logger.Warn("fetch timed out", "device_id", target, "request_id", req.id, "timeout", m.timeout)
		return m.expire(req, fmt.Errorf("%w: %s", ErrTimeout, target))
	case <-ctx.Done():
		return m.expire(req, ctx.Err())
	}
}

// expire withdraws req after its wait ended without a reply. If a resolver
// took req first and already handed over its outcome, that outcome wins.
func (m *Multiplexer) expire(req *pendingRequest, cause error) ([]byte, error) {
	if m.pending.remove(req) {
		return nil, cause
	}
	select {
	case payload, ok := <-req.reply:
		if ok {
			return payload, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDisconnected, req.deviceID)
	default:
		return nil, cause
	}
}

func (m *Multiplexer) resolveStreamDevice(ctx context.Context, deviceID string) (string, error) {
	if !IsWildcard(deviceID) {
		return deviceID, nil
	}
	if m.lister == nil {
		return "", fmt.Errorf("%w: no device id supplied", ErrAmbiguousTarget)
	}
	devices, err := m.lister.ListConnectedDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get device list: %w", err)
	}
	return pickSingle(devices)
}

func (m *Multiplexer) resolveFetchDevice(deviceID string) (string, error) {
	if !IsWildcard(deviceID) {
		return deviceID, nil
	}
	return pickSingle(m.streams.devices())
}

func pickSingle(devices []string) (string, error) {
	switch len(devices) {
	case 0:
		return "", fmt.Errorf("%w: no devices connected", ErrAmbiguousTarget)
	case 1:
		return devices[0], nil
	default:
		return "", fmt.Errorf("%w: multiple devices connected, please specify device ID", ErrAmbiguousTarget)
	}
}

// ConnectedDevices returns the ids of devices with a registered stream.
func (m *Multiplexer) ConnectedDevices() []string {
	return m.streams.devices()
}

// PendingCount returns the number of fetches waiting for a reply.
func (m *Multiplexer) PendingCount() int {
	return m.pending.len()
}

// HasPending reports whether a fetch for deviceID is waiting for a reply.
func (m *Multiplexer) HasPending(deviceID string) bool {
	return m.pending.has(deviceID)
}

// FetchTimeout returns the configured fetch timeout.
func (m *Multiplexer) FetchTimeout() time.Duration {
	return m.timeout
}

// Closed reports whether Close has been called.
func (m *Multiplexer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close ends every stream's outbound leg, waits for every demultiplexer to
// finish, and wakes any fetch still waiting. Demultiplexers finish when their
// ReplySource returns an error, which the RPC layer arranges by returning
// from the stream handler once Stream.Done fires. Close is idempotent.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("closing multiplexer", "streams", len(m.streams.all()), "pending", m.pending.len())
	m.cancel()
	m.tasks.Wait()

	for _, req := range m.pending.drain() {
		req.abandon()
	}
}
