package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TestHealthCheck_Serving verifies the health service returns SERVING for
// the server as a whole and for each registered service.
func TestHealthCheck_Serving(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s := startServer(t, ctx)
	conn := connectToServer(t, s.addr)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	for _, service := range []string{"", "accessibility.AccessibilityService", "window_info.WindowInfoService"} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Health check %q failed: %v", service, err)
		}
		if resp.Status != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("Health check %q: expected SERVING, got %v", service, resp.Status)
		}
	}
}

// TestHealthCheck_UnknownService verifies unknown services are NotFound
// rather than reported healthy.
func TestHealthCheck_UnknownService(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s := startServer(t, ctx)
	conn := connectToServer(t, s.addr)
	defer conn.Close()

	_, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown.Service"})
	if err == nil {
		t.Fatal("Expected error for unknown service")
	}
}

// TestOpsEndpoints verifies the HTTP health, device and metrics endpoints.
func TestOpsEndpoints(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s := startServer(t, ctx)
	startAgent(t, ctx, s)

	if _, _, code := runClient(t, ctx, s, "tree", testDevice); code != 0 {
		t.Fatalf("tree exit code = %d", code)
	}

	var health struct {
		Status  string `json:"status"`
		Devices int    `json:"devices"`
	}
	if err := getJSON(ctx, "http://"+s.opsAddr+"/health", &health); err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if health.Status != "ok" || health.Devices != 1 {
		t.Errorf("health = %+v", health)
	}

	body, err := get(ctx, "http://"+s.opsAddr+"/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	for _, want := range []string{
		`inspector_tree_fetches_total{outcome="success"} 1`,
		"inspector_device_streams_active 1",
		"inspector_heartbeats_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}

func fetchDevices(ctx context.Context, opsAddr string) ([]string, error) {
	var resp struct {
		Devices []string `json:"devices"`
	}
	if err := getJSON(ctx, "http://"+opsAddr+"/devices", &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

func getJSON(ctx context.Context, url string, v any) error {
	body, err := get(ctx, url)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), v)
}

func get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}
