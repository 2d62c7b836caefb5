// Copyright 2025 Joseph Cumines
//
// gRPC client for the device inspector services

// Package client dials the inspector server and wraps the unary consumer
// RPCs.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeycumines/DeviceInspector/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
)

// MaxMessageSize matches the server's message limit.
const MaxMessageSize = 64 << 20

// ErrRemote wraps failures the server reported with success=false.
var ErrRemote = errors.New("server reported failure")

// DialOptions describes how to reach the server.
type DialOptions struct {
	// CertFile is a CA bundle used to verify the server. Ignored unless
	// TLS is set; empty means the system roots.
	CertFile string
	TLS      bool
}

// Dial creates a client connection to addr. extra options are appended
// after the transport credentials.
func Dial(addr string, o DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption

	if o.TLS {
		creds := credentials.NewTLS(nil)
		if o.CertFile != "" {
			var err error
			creds, err = credentials.NewClientTLSFromFile(o.CertFile, "")
			if err != nil {
				return nil, fmt.Errorf("failed to load TLS cert: %w", err)
			}
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(MaxMessageSize),
		grpc.MaxCallSendMsgSize(MaxMessageSize),
	))
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return conn, nil
}

// Client calls the consumer-facing RPCs.
type Client struct {
	access wire.AccessibilityServiceClient
	window wire.WindowInfoServiceClient
}

// New returns a Client over cc.
func New(cc grpc.ClientConnInterface) *Client {
	return &Client{
		access: wire.NewAccessibilityServiceClient(cc),
		window: wire.NewWindowInfoServiceClient(cc),
	}
}

// Tree fetches the accessibility tree of deviceID. A success=false reply is
// returned as an error wrapping ErrRemote.
func (c *Client) Tree(ctx context.Context, deviceID string) ([]byte, error) {
	resp, err := c.access.GetAccessibilityTree(ctx, &wire.GetAccessibilityTreeRequest{DeviceID: deviceID})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.ErrorMessage)
	}
	return resp.RawOutput, nil
}

// Window returns the foreground activity of deviceID. A success=false reply
// is returned as an error wrapping ErrRemote.
func (c *Client) Window(ctx context.Context, deviceID string) (*wire.WindowInfoResponse, error) {
	resp, err := c.window.GetCurrentWindowInfo(ctx, &wire.WindowInfoRequest{DeviceID: deviceID})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.ErrorMessage)
	}
	return resp, nil
}

// FormatError formats err for display, with a suggestion for common gRPC
// failures.
func FormatError(err error, op string) string {
	if err == nil {
		return ""
	}

	st, ok := grpcstatus.FromError(err)
	if !ok {
		// Not a gRPC error, return as-is
		return fmt.Sprintf("Error in %s: %s", op, err.Error())
	}

	code := st.Code()
	suggestion := ""

	switch code {
	case codes.Unavailable:
		suggestion = "The inspector server may be down or unreachable. Check the address and TLS settings"
	case codes.DeadlineExceeded:
		suggestion = "The call timed out. Try increasing --timeout"
	case codes.ResourceExhausted:
		suggestion = "Rate limit exceeded. Try again later"
	case codes.Unauthenticated, codes.PermissionDenied:
		suggestion = "Check the credentials used to reach the server"
	case codes.Unimplemented:
		suggestion = "The server does not implement this operation. Check the server version"
	case codes.Internal:
		suggestion = "An internal server error occurred. Check server logs for details"
	}

	result := fmt.Sprintf("Error in %s: %s - %s", op, code.String(), st.Message())
	if suggestion != "" {
		result += fmt.Sprintf("\nSuggestion: %s", suggestion)
	}
	return result
}
