// Copyright 2025 Joseph Cumines
//
// Audit logging for RPC invocations

package server

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/DeviceInspector/internal/wire"
	"github.com/zeebo/blake3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuditLogger provides structured audit logging for RPC invocations.
// It logs method, device id, status, duration, the size and BLAKE3 digest of
// any tree payload, and the caller's request metadata with secrets redacted.
// Uses log/slog for structured JSON output.
type AuditLogger struct {
	logger  *slog.Logger
	file    *os.File
	enabled bool
	mu      sync.RWMutex
}

// AuditEntry is one audited RPC.
type AuditEntry struct {
	Metadata metadata.MD
	Method   string
	DeviceID string
	Status   string
	Payload  []byte
	Duration time.Duration
}

// redactedKeys is the list of metadata keys that should be redacted in audit
// logs.
var redactedKeys = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"x-api-key":     true,
	"secret":        true,
	"password":      true,
	"credential":    true,
	"session_id":    true,
}

// NewAuditLogger creates a new audit logger that writes to the specified file.
// If filePath is empty, audit logging is disabled. Returns an error if the
// file cannot be opened.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	if filePath == "" {
		return &AuditLogger{enabled: false}, nil
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return &AuditLogger{
		logger:  slog.New(handler),
		file:    file,
		enabled: true,
	}, nil
}

// Close closes the audit log file if it is open.
// Safe to call multiple times.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.enabled = false
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// IsEnabled returns true if audit logging is enabled (file path was provided).
func (a *AuditLogger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// LogRPC writes one audit record.
func (a *AuditLogger) LogRPC(entry AuditEntry) {
	if !a.IsEnabled() {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.logger == nil || !a.enabled {
		return
	}

	attrs := []any{
		slog.String("method", entry.Method),
		slog.String("device_id", entry.DeviceID),
		slog.String("status", entry.Status),
		slog.Float64("duration_seconds", entry.Duration.Seconds()),
		slog.Int("payload_bytes", len(entry.Payload)),
	}
	if len(entry.Payload) > 0 {
		attrs = append(attrs, slog.String("payload_blake3", PayloadDigest(entry.Payload)))
	}
	if len(entry.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", redactMetadata(entry.Metadata)))
	}
	attrs = append(attrs, slog.Time("timestamp", time.Now().UTC()))

	a.logger.Info("rpc_invocation", attrs...)
}

// PayloadDigest returns the hex BLAKE3-256 digest of payload.
func PayloadDigest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// redactMetadata flattens md, replacing sensitive values and dropping
// binary headers.
func redactMetadata(md metadata.MD) map[string]string {
	out := make(map[string]string, len(md))
	for key, values := range md {
		if strings.HasSuffix(key, "-bin") {
			continue
		}
		if isSensitiveKey(key) {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = strings.Join(values, ",")
	}
	return out
}

func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	if redactedKeys[lowerKey] {
		return true
	}
	// Check for partial matches
	for redactKey := range redactedKeys {
		if strings.Contains(lowerKey, redactKey) {
			return true
		}
	}
	return false
}

// auditFields extracts the device id and tree payload from an RPC's
// request and response.
func auditFields(req, resp any) (deviceID string, payload []byte) {
	switch r := req.(type) {
	case *wire.GetAccessibilityTreeRequest:
		deviceID = r.DeviceID
	case *wire.UpdateAccessibilityDataRequest:
		deviceID = r.DeviceID
		payload = r.RawOutput
	case *wire.WindowInfoRequest:
		deviceID = r.DeviceID
	}
	if r, ok := resp.(*wire.GetAccessibilityTreeResponse); ok && r != nil {
		payload = r.RawOutput
	}
	return deviceID, payload
}

// UnaryAuditInterceptor records every unary RPC to audit. It is a no-op
// when audit logging is disabled.
func UnaryAuditInterceptor(audit *AuditLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !audit.IsEnabled() {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		deviceID, payload := auditFields(req, resp)
		md, _ := metadata.FromIncomingContext(ctx)
		audit.LogRPC(AuditEntry{
			Metadata: md,
			Method:   info.FullMethod,
			DeviceID: deviceID,
			Status:   auditStatus(resp, err),
			Payload:  payload,
			Duration: time.Since(start),
		})
		return resp, err
	}
}

// StreamAuditInterceptor records device streams when they end.
func StreamAuditInterceptor(audit *AuditLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !audit.IsEnabled() {
			return handler(srv, ss)
		}
		start := time.Now()
		err := handler(srv, ss)
		md, _ := metadata.FromIncomingContext(ss.Context())
		audit.LogRPC(AuditEntry{
			Metadata: md,
			Method:   info.FullMethod,
			DeviceID: deviceIDFromMetadata(ss.Context()),
			Status:   status.Code(err).String(),
			Duration: time.Since(start),
		})
		return err
	}
}

// auditStatus is the gRPC code name, or "failed" for an OK response that
// reports success=false.
func auditStatus(resp any, err error) string {
	if err != nil {
		return status.Code(err).String()
	}
	switch r := resp.(type) {
	case *wire.GetAccessibilityTreeResponse:
		if r != nil && !r.Success {
			return "failed"
		}
	case *wire.WindowInfoResponse:
		if r != nil && !r.Success {
			return "failed"
		}
	}
	return "success"
}
