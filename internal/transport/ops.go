// Copyright 2025 Joseph Cumines
//
// HTTP operations endpoint: health, metrics and device listing

// Package transport carries the server's cross-cutting plumbing: the metrics
// registry, RPC interceptors, rate limiting and the operations HTTP endpoint.
package transport

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// StatusSource reports the live state of the multiplexer.
type StatusSource interface {
	ConnectedDevices() []string
	PendingCount() int
}

// OpsConfig holds configuration for the operations HTTP server.
// Address is the listen address (e.g., ":9090").
// SocketPath is an optional Unix domain socket path (takes precedence over Address).
// APIKey, when set, is required as a bearer token on every endpoint but /health.
// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
type OpsConfig struct {
	Logger       *slog.Logger
	Address      string
	SocketPath   string
	APIKey       string
	TLSCertFile  string
	TLSKeyFile   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OpsServer serves /health, /metrics and /devices.
type OpsServer struct {
	config  OpsConfig
	server  *http.Server
	status  StatusSource
	metrics *MetricsRegistry
	logger  *slog.Logger
	started time.Time
	closed  atomic.Bool
}

// NewOpsServer creates an operations server. metrics may be nil, in which
// case /metrics responds 404.
func NewOpsServer(config OpsConfig, status StatusSource, metrics *MetricsRegistry) *OpsServer {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &OpsServer{
		config:  config,
		status:  status,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	if s.IsTLSEnabled() {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return s
}

// IsTLSEnabled reports whether both a certificate and key are configured.
func (s *OpsServer) IsTLSEnabled() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

// Handler returns the routed handler, including authentication.
func (s *OpsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /devices", s.handleDevices)
	if s.metrics != nil {
		mux.HandleFunc("GET /metrics", s.handleMetrics)
	}
	return s.authMiddleware(mux)
}

// authMiddleware enforces the bearer token. /health is exempt so load
// balancers can probe without credentials.
func (s *OpsServer) authMiddleware(next http.Handler) http.Handler {
	if s.config.APIKey == "" {
		return next
	}
	want := []byte(s.config.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="device-inspector"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "ok",
		"devices":        len(s.status.ConnectedDevices()),
		"pending":        s.status.PendingCount(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"server_time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *OpsServer) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.status.ConnectedDevices()
	if devices == nil {
		devices = []string{}
	}
	s.writeJSON(w, map[string]any{"devices": devices})
}

func (s *OpsServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := s.metrics.WritePrometheus(w); err != nil {
		s.logger.Warn("writing metrics failed", "error", err)
	}
}

func (s *OpsServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding ops response failed", "error", err)
	}
}

// Listen opens the configured socket or TCP address.
func (s *OpsServer) Listen() (net.Listener, error) {
	if s.config.SocketPath != "" {
		if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove stale socket", "path", s.config.SocketPath, "error", err)
		}
		ln, err := net.Listen("unix", s.config.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on socket %s: %w", s.config.SocketPath, err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return ln, nil
}

// Serve serves on ln until Close. It returns nil after a clean shutdown.
func (s *OpsServer) Serve(ln net.Listener) error {
	s.logger.Info("ops server listening", "address", ln.Addr().String(), "tls", s.IsTLSEnabled())

	var err error
	if s.IsTLSEnabled() {
		err = s.server.ServeTLS(ln, s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.server.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close gracefully stops the server. It is idempotent.
func (s *OpsServer) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown ops server: %w", err)
	}
	if s.config.SocketPath != "" {
		if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove socket file", "path", s.config.SocketPath, "error", err)
		}
	}
	return nil
}
