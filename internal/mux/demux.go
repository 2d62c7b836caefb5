// Copyright 2025 Joseph Cumines

package mux

import (
	"errors"
	"io"

	"github.com/joeycumines/DeviceInspector/internal/wire"
)

// demultiplex reads replies from one device stream until it fails, resolving
// pending fetches as replies arrive. It runs as a tracked task for the
// lifetime of the stream.
func (m *Multiplexer) demultiplex(reg *registration, src ReplySource) {
	defer m.closeStream(reg)

	for {
		resp, err := src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || reg.ctx.Err() != nil {
				m.logger.Info("device stream ended", "device_id", reg.deviceID)
			} else {
				m.logger.Warn("device stream receive failed", "device_id", reg.deviceID, "error", err)
			}
			return
		}
		m.dispatch(reg, resp)
	}
}

// dispatch handles one inbound message.
func (m *Multiplexer) dispatch(reg *registration, resp *wire.ClientResponse) {
	switch {
	case resp == nil || resp.DeviceID == "":
		m.logger.Warn("dropping malformed reply", "stream_device_id", reg.deviceID)

	case resp.DeviceID == wire.HeartbeatDeviceID:
		m.logger.Debug("heartbeat", "stream_device_id", reg.deviceID)

	case !resp.Success:
		// Device-side failures have no path to the waiting caller, which
		// sees a timeout instead.
		m.logger.Warn("device reported failure",
			"device_id", resp.DeviceID,
			"request_id", resp.RequestID,
			"error", resp.ErrorMessage,
		)

	default:
		m.Deliver(resp.DeviceID, resp.RawOutput)
	}
}

// closeStream tears down reg after its inbound side has ended.
func (m *Multiplexer) closeStream(reg *registration) {
	reg.cancel()

	if m.streams.deregister(reg) {
		m.logger.Info("device stream deregistered", "device_id", reg.deviceID)
	} else {
		m.logger.Debug("superseded device stream closed", "device_id", reg.deviceID)
	}

	// A fetch whose command went out on this stream can no longer be
	// answered.
	if req, ok := m.pending.takeRoutedTo(reg); ok {
		m.logger.Info("abandoning fetch on closed stream", "device_id", reg.deviceID, "request_id", req.id)
		req.abandon()
	}
}

// Deliver resolves the pending fetch for deviceID with payload. It reports
// whether a fetch was waiting; replies with no waiter are dropped.
func (m *Multiplexer) Deliver(deviceID string, payload []byte) bool {
	req, ok := m.pending.take(deviceID)
	if !ok {
		m.logger.Debug("no pending request, dropping reply", "device_id", deviceID, "bytes", len(payload))
		return false
	}
	req.resolve(payload)
	m.logger.Debug("delivered reply", "device_id", deviceID, "request_id", req.id, "bytes", len(payload))
	return true
}
