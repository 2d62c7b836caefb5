// Copyright 2025 Joseph Cumines

package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/joeycumines/DeviceInspector/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type stubAccess struct {
	tree *wire.GetAccessibilityTreeResponse
	err  error
	got  string
}

func (s *stubAccess) StreamAccessibility(grpc.BidiStreamingServer[wire.ClientResponse, wire.ServerCommand]) error {
	return status.Error(codes.Unimplemented, "not used")
}

func (s *stubAccess) GetAccessibilityTree(_ context.Context, req *wire.GetAccessibilityTreeRequest) (*wire.GetAccessibilityTreeResponse, error) {
	s.got = req.DeviceID
	return s.tree, s.err
}

func (s *stubAccess) UpdateAccessibilityData(context.Context, *wire.UpdateAccessibilityDataRequest) (*wire.UpdateAccessibilityDataResponse, error) {
	return &wire.UpdateAccessibilityDataResponse{Success: true}, nil
}

type stubWindow struct {
	resp *wire.WindowInfoResponse
}

func (s *stubWindow) GetCurrentWindowInfo(context.Context, *wire.WindowInfoRequest) (*wire.WindowInfoResponse, error) {
	return s.resp, nil
}

func newTestClient(t *testing.T, access *stubAccess, window *stubWindow) *Client {
	t.Helper()

	srv := grpc.NewServer()
	wire.RegisterAccessibilityServiceServer(srv, access)
	wire.RegisterWindowInfoServiceServer(srv, window)

	lis := bufconn.Listen(1 << 16)
	go func() { _ = srv.Serve(lis) }()

	conn, err := Dial("passthrough:///bufnet", DialOptions{}, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
	})
	return New(conn)
}

func TestClient_Tree(t *testing.T) {
	tests := []struct {
		name    string
		resp    *wire.GetAccessibilityTreeResponse
		rpcErr  error
		want    string
		wantErr func(error) bool
	}{
		{
			name: "success",
			resp: &wire.GetAccessibilityTreeResponse{Success: true, RawOutput: []byte("<hierarchy/>")},
			want: "<hierarchy/>",
		},
		{
			name:    "reported failure",
			resp:    &wire.GetAccessibilityTreeResponse{ErrorMessage: "Device not connected"},
			wantErr: func(err error) bool { return errors.Is(err, ErrRemote) && strings.Contains(err.Error(), "Device not connected") },
		},
		{
			name:    "rpc error",
			rpcErr:  status.Error(codes.ResourceExhausted, "rate limit exceeded"),
			wantErr: func(err error) bool { return status.Code(err) == codes.ResourceExhausted },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access := &stubAccess{tree: tt.resp, err: tt.rpcErr}
			c := newTestClient(t, access, &stubWindow{})

			got, err := c.Tree(context.Background(), "emulator-5554")
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("Tree() error = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Tree() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Tree() = %q, want %q", got, tt.want)
			}
			if access.got != "emulator-5554" {
				t.Errorf("server saw device %q", access.got)
			}
		})
	}
}

func TestClient_Window(t *testing.T) {
	window := &stubWindow{resp: &wire.WindowInfoResponse{
		PackageName:  "com.android.settings",
		ActivityName: ".Settings",
		Timestamp:    1700000000000,
		Source:       wire.WindowInfoSourcePCADB,
		Type:         wire.ResponseTypeWindowInfo,
		Success:      true,
	}}
	c := newTestClient(t, &stubAccess{}, window)

	got, err := c.Window(context.Background(), "local")
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if *got != *window.resp {
		t.Errorf("Window() = %+v, want %+v", got, window.resp)
	}

	window.resp = &wire.WindowInfoResponse{ErrorMessage: "no devices connected"}
	if _, err := c.Window(context.Background(), "local"); !errors.Is(err, ErrRemote) {
		t.Errorf("Window() error = %v, want ErrRemote", err)
	}
}

func TestDial_MissingCertFile(t *testing.T) {
	_, err := Dial("localhost:50051", DialOptions{TLS: true, CertFile: "/nonexistent/ca.pem"})
	if err == nil || !strings.Contains(err.Error(), "failed to load TLS cert") {
		t.Errorf("Dial() error = %v", err)
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("boom"), contains: []string{"Error in tree: boom"}},
		{
			name:     "unavailable",
			err:      status.Error(codes.Unavailable, "connection refused"),
			contains: []string{"Unavailable - connection refused", "Suggestion:"},
		},
		{
			name:     "no suggestion",
			err:      status.Error(codes.NotFound, "gone"),
			contains: []string{"NotFound - gone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatError(tt.err, "tree")
			if tt.err == nil && got != "" {
				t.Errorf("FormatError(nil) = %q", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("FormatError() = %q, missing %q", got, want)
				}
			}
		})
	}
}
