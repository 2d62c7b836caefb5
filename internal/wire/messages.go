// Copyright 2025 Joseph Cumines

// Package wire defines the accessibility and window info RPC messages, the
// CBOR codec they travel with, and the gRPC service descriptors and client
// stubs for both services.
//
// The message shapes follow the accessibility.proto and window_info.proto
// contracts used by existing device clients; field names are stable and are
// encoded as CBOR map keys.
package wire

// HeartbeatDeviceID is the reserved device id a client puts on a
// ClientResponse to signal liveness. Heartbeats carry no payload.
const HeartbeatDeviceID = "heartbeat"

// DeviceIDMetadataKey is the request metadata key a device client may use to
// name itself when opening StreamAccessibility.
const DeviceIDMetadataKey = "x-device-id"

// CommandType enumerates the commands the server can push down a stream.
type CommandType int32

const (
	// CommandGetAccessibilityTree asks the device for a full accessibility
	// tree dump.
	CommandGetAccessibilityTree CommandType = 0
)

// String returns the proto-style enum name.
func (c CommandType) String() string {
	switch c {
	case CommandGetAccessibilityTree:
		return "GET_ACCESSIBILITY_TREE"
	default:
		return "COMMAND_TYPE_UNKNOWN"
	}
}

// ServerCommand is sent from the server to a device over StreamAccessibility.
type ServerCommand struct {
	DeviceID  string      `cbor:"device_id"`
	RequestID string      `cbor:"request_id,omitempty"`
	Command   CommandType `cbor:"command"`
}

// ClientResponse is sent from a device to the server over
// StreamAccessibility, either as a heartbeat or as the reply to a command.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type ClientResponse struct {
	DeviceID     string `cbor:"device_id"`
	RequestID    string `cbor:"request_id,omitempty"`
	ErrorMessage string `cbor:"error_message,omitempty"`
	RawOutput    []byte `cbor:"raw_output,omitempty"`
	Success      bool   `cbor:"success"`
}

// GetAccessibilityTreeRequest asks for the accessibility tree of a device.
// DeviceID may be "any" to target the only connected device.
type GetAccessibilityTreeRequest struct {
	DeviceID string `cbor:"device_id"`
}

// GetAccessibilityTreeResponse carries the raw tree dump, or an error text
// when Success is false.
type GetAccessibilityTreeResponse struct {
	ErrorMessage string `cbor:"error_message,omitempty"`
	RawOutput    []byte `cbor:"raw_output,omitempty"`
	Success      bool   `cbor:"success"`
}

// UpdateAccessibilityDataRequest pushes a tree dump out-of-band from the
// stream.
type UpdateAccessibilityDataRequest struct {
	DeviceID  string `cbor:"device_id"`
	RawOutput []byte `cbor:"raw_output,omitempty"`
}

// UpdateAccessibilityDataResponse acknowledges UpdateAccessibilityData.
type UpdateAccessibilityDataResponse struct {
	ErrorMessage string `cbor:"error_message,omitempty"`
	Success      bool   `cbor:"success"`
}

// WindowInfoSource identifies where window information came from.
type WindowInfoSource int32

const (
	WindowInfoSourceUnspecified WindowInfoSource = 0
	WindowInfoSourcePCADB       WindowInfoSource = 1
)

// String returns the proto-style enum name.
func (s WindowInfoSource) String() string {
	switch s {
	case WindowInfoSourcePCADB:
		return "PC_ADB"
	default:
		return "WINDOW_INFO_SOURCE_UNSPECIFIED"
	}
}

// ResponseType tags window info responses.
type ResponseType int32

const (
	ResponseTypeUnspecified ResponseType = 0
	ResponseTypeWindowInfo  ResponseType = 1
)

// String returns the proto-style enum name.
func (t ResponseType) String() string {
	switch t {
	case ResponseTypeWindowInfo:
		return "WINDOW_INFO"
	default:
		return "RESPONSE_TYPE_UNSPECIFIED"
	}
}

// WindowInfoRequest asks for the foreground activity of a device. DeviceID
// may be "local" or "any" to target the only connected device.
type WindowInfoRequest struct {
	DeviceID string `cbor:"device_id"`
}

// WindowInfoResponse describes the foreground activity of a device.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type WindowInfoResponse struct {
	PackageName  string           `cbor:"package_name"`
	ActivityName string           `cbor:"activity_name"`
	ErrorMessage string           `cbor:"error_message,omitempty"`
	Timestamp    int64            `cbor:"timestamp"`
	Source       WindowInfoSource `cbor:"source"`
	Type         ResponseType     `cbor:"type"`
	Success      bool             `cbor:"success"`
}
