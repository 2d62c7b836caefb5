// Copyright 2025 Joseph Cumines
//
// Mapping of fetch and stream failures to gRPC statuses

package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joeycumines/DeviceInspector/internal/device"
	"github.com/joeycumines/DeviceInspector/internal/mux"
	"github.com/joeycumines/DeviceInspector/internal/transport"
	"github.com/joeycumines/DeviceInspector/internal/wire"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorDomain is the ErrorInfo domain for failures raised by this server.
const errorDomain = "deviceinspector.joeycumines.github.com"

// ErrorInfo reasons attached to rejected streams.
const (
	ReasonADBUnavailable = "ADB_UNAVAILABLE"
	ReasonShuttingDown   = "SHUTTING_DOWN"
	ReasonDeviceList     = "DEVICE_LIST_FAILED"
)

// fetchMessage returns the error text a GetAccessibilityTree caller sees.
func fetchMessage(err error) string {
	switch {
	case errors.Is(err, mux.ErrNotConnected):
		return "Device not connected"
	case errors.Is(err, mux.ErrTimeout):
		return "Timeout waiting for device response"
	case errors.Is(err, mux.ErrDisconnected):
		return "Device disconnected before responding"
	case errors.Is(err, mux.ErrClosed):
		return "Server is shutting down"
	case errors.Is(err, mux.ErrAmbiguousTarget):
		// The wrapped text says whether zero or several devices matched.
		return capitalize(unwrapDetail(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Request cancelled"
	default:
		return fmt.Sprintf("Failed to get accessibility tree: %v", err)
	}
}

// fetchOutcome returns the metric label for the result of a fetch.
func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return transport.FetchSuccess
	case errors.Is(err, mux.ErrNotConnected):
		return transport.FetchNotConnected
	case errors.Is(err, mux.ErrAmbiguousTarget):
		return transport.FetchAmbiguous
	case errors.Is(err, mux.ErrTimeout):
		return transport.FetchTimeout
	case errors.Is(err, mux.ErrDisconnected), errors.Is(err, mux.ErrClosed):
		return transport.FetchDisconnected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return transport.FetchCanceled
	default:
		return transport.FetchError
	}
}

// statusCode maps a multiplexer or device failure to a gRPC code.
func statusCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, mux.ErrNotConnected), errors.Is(err, device.ErrNotConnected):
		return codes.NotFound
	case errors.Is(err, mux.ErrAmbiguousTarget),
		errors.Is(err, device.ErrNoDevices),
		errors.Is(err, device.ErrMultipleDevices):
		return codes.FailedPrecondition
	case errors.Is(err, mux.ErrTimeout):
		return codes.DeadlineExceeded
	case errors.Is(err, mux.ErrDisconnected),
		errors.Is(err, mux.ErrClosed),
		errors.Is(err, device.ErrUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// streamRejection builds the status returned when a device stream cannot be
// registered. requested is the device id the client asked for, possibly
// empty.
func streamRejection(requested string, err error) error {
	code := statusCode(err)
	st := status.New(code, rejectionMessage(err))

	var detail *status.Status
	var derr error
	switch {
	case code == codes.FailedPrecondition:
		subject := requested
		if subject == "" {
			subject = wire.DeviceIDMetadataKey
		}
		detail, derr = st.WithDetails(&errdetails.PreconditionFailure{
			Violations: []*errdetails.PreconditionFailure_Violation{{
				Type:        "DEVICE_SELECTION",
				Subject:     subject,
				Description: "set the " + wire.DeviceIDMetadataKey + " metadata to choose a device",
			}},
		})
	case errors.Is(err, device.ErrUnavailable):
		detail, derr = st.WithDetails(&errdetails.ErrorInfo{
			Reason: ReasonADBUnavailable,
			Domain: errorDomain,
		})
	case errors.Is(err, mux.ErrClosed):
		detail, derr = st.WithDetails(&errdetails.ErrorInfo{
			Reason: ReasonShuttingDown,
			Domain: errorDomain,
		})
	case code == codes.Internal:
		detail, derr = st.WithDetails(&errdetails.ErrorInfo{
			Reason:   ReasonDeviceList,
			Domain:   errorDomain,
			Metadata: map[string]string{"cause": err.Error()},
		})
	}
	if derr == nil && detail != nil {
		st = detail
	}
	return st.Err()
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, mux.ErrAmbiguousTarget):
		return capitalize(unwrapDetail(err))
	case errors.Is(err, device.ErrUnavailable):
		return "adb is not available on the server"
	case errors.Is(err, mux.ErrClosed):
		return "Server is shutting down"
	default:
		return capitalize(err.Error())
	}
}

// unwrapDetail drops the sentinel prefix from an error of the form
// "<sentinel>: <detail>".
func unwrapDetail(err error) string {
	msg := err.Error()
	if inner := errors.Unwrap(err); inner != nil {
		if detail, ok := strings.CutPrefix(msg, inner.Error()+": "); ok && detail != "" {
			return detail
		}
	}
	return msg
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
