// Copyright 2025 Joseph Cumines
//
// Configuration package for the device inspector binaries

// Package config loads configuration for the inspector server, the device
// agent and the command line client. Environment variables supply defaults;
// command line flags override them.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/joeycumines/DeviceInspector/internal/wire"
)

// ErrHelp is returned by the loaders when -h or --help was requested. The
// usage text has already been printed.
var ErrHelp = pflag.ErrHelp

// ServerConfig holds the configuration for the inspector server.
type ServerConfig struct {
	Host            string
	ADBPath         string
	OpsAddress      string
	OpsSocketPath   string
	OpsAPIKey       string
	AuditFile       string
	TLSCertFile     string
	TLSKeyFile      string
	FetchTimeout    time.Duration
	ShutdownTimeout time.Duration
	Port            int
	CommandBuffer   int
	RateLimit       float64
	Debug           bool
}

// ListenAddress returns the gRPC listen address. Brackets around an IPv6
// host are accepted.
func (c *ServerConfig) ListenAddress() string {
	return net.JoinHostPort(strings.Trim(c.Host, "[]"), strconv.Itoa(c.Port))
}

// TLSEnabled reports whether both a certificate and key are configured.
func (c *ServerConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// LoadServer loads the server configuration from the environment and args
// (excluding the program name).
func LoadServer(args []string) (*ServerConfig, error) {
	fetchTimeout, err := getEnvAsDuration("INSPECTOR_FETCH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getEnvAsDuration("INSPECTOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	port, err := getEnvAsInt("INSPECTOR_PORT", 50051)
	if err != nil {
		return nil, err
	}
	commandBuffer, err := getEnvAsInt("INSPECTOR_COMMAND_BUFFER", 32)
	if err != nil {
		return nil, err
	}
	rateLimit, err := getEnvAsFloat("INSPECTOR_RATE_LIMIT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		Host:            getEnv("INSPECTOR_HOST", "[::]"),
		ADBPath:         getEnv("INSPECTOR_ADB_PATH", "adb"),
		OpsAddress:      getEnv("INSPECTOR_OPS_ADDRESS", ":9090"),
		OpsSocketPath:   os.Getenv("INSPECTOR_OPS_SOCKET"),
		OpsAPIKey:       os.Getenv("INSPECTOR_OPS_API_KEY"),
		AuditFile:       os.Getenv("INSPECTOR_AUDIT_FILE"),
		TLSCertFile:     os.Getenv("INSPECTOR_TLS_CERT_FILE"),
		TLSKeyFile:      os.Getenv("INSPECTOR_TLS_KEY_FILE"),
		FetchTimeout:    fetchTimeout,
		ShutdownTimeout: shutdownTimeout,
		Port:            port,
		CommandBuffer:   commandBuffer,
		RateLimit:       rateLimit,
		Debug:           getEnvAsBool("INSPECTOR_DEBUG", false),
	}

	fs := pflag.NewFlagSet("device-inspector-server", pflag.ContinueOnError)
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "gRPC listen host")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "gRPC listen port")
	fs.StringVar(&cfg.ADBPath, "adb", cfg.ADBPath, "path to the adb executable")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "how long to wait for a device to answer a tree request")
	fs.IntVar(&cfg.CommandBuffer, "command-buffer", cfg.CommandBuffer, "per-device outbound command queue size")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "unary requests per second (0 disables)")
	fs.StringVar(&cfg.OpsAddress, "ops-address", cfg.OpsAddress, "health and metrics HTTP address (empty disables)")
	fs.StringVar(&cfg.OpsSocketPath, "ops-socket", cfg.OpsSocketPath, "serve health and metrics on this unix socket instead")
	fs.StringVar(&cfg.OpsAPIKey, "ops-api-key", cfg.OpsAPIKey, "bearer token required by /metrics and /devices")
	fs.StringVar(&cfg.AuditFile, "audit-file", cfg.AuditFile, "append a JSON audit record per RPC to this file")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert", cfg.TLSCertFile, "TLS certificate file")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key", cfg.TLSKeyFile, "TLS private key file")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for in-flight RPCs on shutdown")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %v", c.FetchTimeout)
	}
	if c.CommandBuffer < 1 {
		return fmt.Errorf("command buffer must be at least 1, got %d", c.CommandBuffer)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %g", c.RateLimit)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS requires both a certificate and a key file")
	}
	if c.ADBPath == "" {
		return errors.New("adb path cannot be empty")
	}
	return nil
}

// AgentConfig holds the configuration for the device agent.
type AgentConfig struct {
	ServerAddr        string
	DeviceID          string
	ADBPath           string
	ServerCertFile    string
	Compression       string
	HeartbeatInterval time.Duration
	DumpTimeout       time.Duration
	ReconnectMax      time.Duration
	ServerTLS         bool
	Debug             bool
}

// LoadAgent loads the agent configuration from the environment and args.
func LoadAgent(args []string) (*AgentConfig, error) {
	heartbeat, err := getEnvAsDuration("INSPECTOR_AGENT_HEARTBEAT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	dumpTimeout, err := getEnvAsDuration("INSPECTOR_AGENT_DUMP_TIMEOUT", 4*time.Second)
	if err != nil {
		return nil, err
	}
	reconnectMax, err := getEnvAsDuration("INSPECTOR_AGENT_RECONNECT_MAX", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &AgentConfig{
		ServerAddr:        getEnv("INSPECTOR_SERVER_ADDR", "localhost:50051"),
		DeviceID:          os.Getenv("INSPECTOR_DEVICE_ID"),
		ADBPath:           getEnv("INSPECTOR_ADB_PATH", "adb"),
		ServerCertFile:    os.Getenv("INSPECTOR_SERVER_CERT_FILE"),
		Compression:       getEnv("INSPECTOR_COMPRESSION", wire.CompressorZstd),
		HeartbeatInterval: heartbeat,
		DumpTimeout:       dumpTimeout,
		ReconnectMax:      reconnectMax,
		ServerTLS:         getEnvAsBool("INSPECTOR_SERVER_TLS", false),
		Debug:             getEnvAsBool("INSPECTOR_DEBUG", false),
	}

	fs := pflag.NewFlagSet("device-inspector-agent", pflag.ContinueOnError)
	fs.StringVarP(&cfg.ServerAddr, "server", "s", cfg.ServerAddr, "inspector server address")
	fs.StringVarP(&cfg.DeviceID, "device", "d", cfg.DeviceID, "device serial to serve (empty: the only attached device)")
	fs.StringVar(&cfg.ADBPath, "adb", cfg.ADBPath, "path to the adb executable")
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "stream compression: none, gzip, zstd or lz4")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "keep-alive interval")
	fs.DurationVar(&cfg.DumpTimeout, "dump-timeout", cfg.DumpTimeout, "time limit for one accessibility dump")
	fs.DurationVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "upper bound on the reconnect backoff")
	fs.BoolVar(&cfg.ServerTLS, "tls", cfg.ServerTLS, "connect to the server over TLS")
	fs.StringVar(&cfg.ServerCertFile, "server-cert", cfg.ServerCertFile, "CA certificate used to verify the server")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if cfg.ServerAddr == "" {
		return nil, errors.New("server address cannot be empty")
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive, got %v", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectMax <= 0 {
		return nil, fmt.Errorf("reconnect max must be positive, got %v", cfg.ReconnectMax)
	}
	if !wire.ValidCompressor(cfg.Compression) {
		return nil, fmt.Errorf("invalid compression: %s (must be none, gzip, zstd or lz4)", cfg.Compression)
	}
	return cfg, nil
}

// ClientConfig holds the configuration for the command line client.
type ClientConfig struct {
	ServerAddr     string
	ServerCertFile string
	Command        string
	DeviceID       string
	Timeout        time.Duration
	ServerTLS      bool
}

// Client subcommands.
const (
	CommandTree   = "tree"
	CommandWindow = "window"
)

// LoadClient loads the client configuration. The first positional argument
// is the subcommand and the optional second one the device id.
func LoadClient(args []string) (*ClientConfig, error) {
	timeout, err := getEnvAsDuration("INSPECTOR_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &ClientConfig{
		ServerAddr:     getEnv("INSPECTOR_SERVER_ADDR", "localhost:50051"),
		ServerCertFile: os.Getenv("INSPECTOR_SERVER_CERT_FILE"),
		Timeout:        timeout,
		ServerTLS:      getEnvAsBool("INSPECTOR_SERVER_TLS", false),
	}

	fs := pflag.NewFlagSet("device-inspector", pflag.ContinueOnError)
	fs.StringVarP(&cfg.ServerAddr, "server", "s", cfg.ServerAddr, "inspector server address")
	fs.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "per-call deadline")
	fs.BoolVar(&cfg.ServerTLS, "tls", cfg.ServerTLS, "connect to the server over TLS")
	fs.StringVar(&cfg.ServerCertFile, "server-cert", cfg.ServerCertFile, "CA certificate used to verify the server")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: device-inspector [flags] {%s|%s} [device-id]\n\nFlags:\n", CommandTree, CommandWindow)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch fs.NArg() {
	case 2:
		cfg.DeviceID = fs.Arg(1)
		fallthrough
	case 1:
		cfg.Command = fs.Arg(0)
	case 0:
		return nil, errors.New("missing command (tree or window)")
	default:
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(2))
	}
	if cfg.Command != CommandTree && cfg.Command != CommandWindow {
		return nil, fmt.Errorf("invalid command: %s (must be %q or %q)", cfg.Command, CommandTree, CommandWindow)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", cfg.Timeout)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected integer)", key, value)
	}
	return result, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected number)", key, value)
	}
	return result, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected duration, e.g., '30s', '5m')", key, value)
	}
	return d, nil
}
