// Copyright 2025 Joseph Cumines

package mux

import "errors"

// Fetch failures. Callers test them with errors.Is; the wrapped text carries
// the device id or the ambiguity detail.
var (
	// ErrNotConnected means no stream is registered for the device.
	ErrNotConnected = errors.New("device not connected")

	// ErrAmbiguousTarget means a wildcard target matched zero or several
	// devices.
	ErrAmbiguousTarget = errors.New("ambiguous target device")

	// ErrTimeout means the device did not reply within the fetch timeout.
	ErrTimeout = errors.New("timeout waiting for device response")

	// ErrDisconnected means the device's stream ended while a fetch was
	// waiting for its reply.
	ErrDisconnected = errors.New("device disconnected before replying")

	// ErrClosed means the multiplexer has been shut down.
	ErrClosed = errors.New("multiplexer closed")
)
