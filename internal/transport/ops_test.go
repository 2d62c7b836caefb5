// Copyright 2025 Joseph Cumines
//
// Operations endpoint tests

package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeStatus struct {
	devices []string
	pending int
}

func (f *fakeStatus) ConnectedDevices() []string { return f.devices }
func (f *fakeStatus) PendingCount() int          { return f.pending }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpsServer_Health(t *testing.T) {
	s := NewOpsServer(OpsConfig{Logger: quietLogger()}, &fakeStatus{devices: []string{"emulator-5554"}, pending: 1}, NewMetricsRegistry())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Devices int    `json:"devices"`
		Pending int    `json:"pending"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" || body.Devices != 1 || body.Pending != 1 {
		t.Errorf("health = %+v", body)
	}
}

func TestOpsServer_Devices(t *testing.T) {
	tests := []struct {
		name    string
		devices []string
		want    string
	}{
		{name: "none", devices: nil, want: `{"devices":[]}`},
		{name: "two", devices: []string{"R58M42ABCDE", "emulator-5554"}, want: `{"devices":["R58M42ABCDE","emulator-5554"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewOpsServer(OpsConfig{Logger: quietLogger()}, &fakeStatus{devices: tt.devices}, nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices", nil))
			if got := strings.TrimSpace(w.Body.String()); got != tt.want {
				t.Errorf("Body = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOpsServer_Metrics(t *testing.T) {
	metrics := NewMetricsRegistry()
	metrics.SetActiveStreams(3)
	s := NewOpsServer(OpsConfig{Logger: quietLogger()}, &fakeStatus{}, metrics)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "inspector_device_streams_active 3") {
		t.Errorf("metrics body missing gauge:\n%s", w.Body.String())
	}

	noMetrics := NewOpsServer(OpsConfig{Logger: quietLogger()}, &fakeStatus{}, nil)
	w = httptest.NewRecorder()
	noMetrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Status without registry = %d, want 404", w.Code)
	}
}

func TestOpsServer_MethodNotAllowed(t *testing.T) {
	s := NewOpsServer(OpsConfig{Logger: quietLogger()}, &fakeStatus{}, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", w.Code)
	}
}

func TestOpsServer_Auth(t *testing.T) {
	const apiKey = "test-secret-key-12345"
	s := NewOpsServer(OpsConfig{Logger: quietLogger(), APIKey: apiKey}, &fakeStatus{}, NewMetricsRegistry())
	handler := s.Handler()

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "health exempt", path: "/health", want: http.StatusOK},
		{name: "metrics valid token", path: "/metrics", header: "Bearer " + apiKey, want: http.StatusOK},
		{name: "devices valid token", path: "/devices", header: "Bearer " + apiKey, want: http.StatusOK},
		{name: "missing header", path: "/metrics", want: http.StatusUnauthorized},
		{name: "wrong token", path: "/metrics", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/devices", header: "Basic " + apiKey, want: http.StatusUnauthorized},
		{name: "lowercase scheme", path: "/devices", header: "bearer " + apiKey, want: http.StatusUnauthorized},
		{name: "token prefix", path: "/devices", header: "Bearer " + apiKey[:5], want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate header")
			}
		})
	}
}

// generateSelfSignedCert creates a self-signed certificate and private key
// for testing.
func generateSelfSignedCert() (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"DeviceInspector Test"}, CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})
	return certPEM, keyPEM, nil
}

func writeCertFiles(t *testing.T, certPEM, keyPEM []byte) (certPath, keyPath string) {
	t.Helper()
	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, certPEM, 0600); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
	return certPath, keyPath
}

func TestOpsServer_ServeTLS(t *testing.T) {
	certPEM, keyPEM, err := generateSelfSignedCert()
	if err != nil {
		t.Fatalf("Failed to generate self-signed cert: %v", err)
	}
	certPath, keyPath := writeCertFiles(t, certPEM, keyPEM)

	s := NewOpsServer(OpsConfig{
		Logger:      quietLogger(),
		Address:     "127.0.0.1:0",
		TLSCertFile: certPath,
		TLSKeyFile:  keyPath,
	}, &fakeStatus{}, nil)
	if !s.IsTLSEnabled() {
		t.Fatal("IsTLSEnabled() = false with cert and key")
	}

	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ln) }()

	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
		Timeout:   5 * time.Second,
	}

	resp, err := client.Get("https://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health over TLS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	if resp.TLS == nil || !resp.TLS.HandshakeComplete {
		t.Error("response was not served over TLS")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := <-serveErr; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestOpsServer_TLSDisabledWithPartialConfig(t *testing.T) {
	for _, cfg := range []OpsConfig{
		{TLSCertFile: "/tmp/cert.pem"},
		{TLSKeyFile: "/tmp/key.pem"},
		{},
	} {
		if NewOpsServer(cfg, &fakeStatus{}, nil).IsTLSEnabled() {
			t.Errorf("IsTLSEnabled() = true for %+v", cfg)
		}
	}
}

func TestOpsServer_UnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ops.sock")
	s := NewOpsServer(OpsConfig{Logger: quietLogger(), SocketPath: socket}, &fakeStatus{devices: []string{"emulator-5554"}}, nil)

	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go func() { _ = s.Serve(ln) }()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}}
	resp, err := client.Get("http://ops/devices")
	if err != nil {
		t.Fatalf("GET /devices over unix socket: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "emulator-5554") {
		t.Errorf("Body = %s", body)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Errorf("socket file not removed: %v", err)
	}
}
