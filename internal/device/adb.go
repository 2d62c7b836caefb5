// Copyright 2025 Joseph Cumines
//
// Android Debug Bridge executor

// Package device queries Android devices attached to this host through the
// adb command line tool.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultADBPath is used when no adb path is configured.
const DefaultADBPath = "adb"

// LocalDevice and AnyDevice ask for the only attached device.
const (
	LocalDevice = "local"
	AnyDevice   = "any"
)

var (
	// ErrUnavailable indicates the adb executable could not be run.
	ErrUnavailable = errors.New("adb not available")
	// ErrNotConnected indicates the device is not attached.
	ErrNotConnected = errors.New("device not connected")
	// ErrNoDevices indicates a wildcard lookup found no attached device.
	ErrNoDevices = errors.New("no devices connected")
	// ErrMultipleDevices indicates a wildcard lookup found more than one device.
	ErrMultipleDevices = errors.New("multiple devices connected, please specify a device ID")
	// ErrNoActivity indicates no foreground activity could be determined.
	ErrNoActivity = errors.New("no visible activity found")
)

// Runner runs an external command and collects its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ADB runs adb commands against attached devices.
type ADB struct {
	runner Runner
	path   string
}

// NewADB returns an ADB using the executable at path. An empty path means
// DefaultADBPath; a nil runner means ExecRunner.
func NewADB(path string, runner Runner) *ADB {
	if path == "" {
		path = DefaultADBPath
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ADB{path: path, runner: runner}
}

// Path returns the adb executable path.
func (a *ADB) Path() string { return a.path }

// CheckAvailable runs "adb version".
func (a *ADB) CheckAvailable(ctx context.Context) error {
	_, stderr, err := a.runner.Run(ctx, a.path, "version")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, describeFailure(stderr, err))
	}
	return nil
}

// ListConnectedDevices returns the serials reported by "adb devices".
func (a *ADB) ListConnectedDevices(ctx context.Context) ([]string, error) {
	out, err := a.run(ctx, "", "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(out), nil
}

// IsConnected reports whether deviceID is attached. An empty deviceID asks
// whether any device is attached. Failures to run adb count as not connected.
func (a *ADB) IsConnected(ctx context.Context, deviceID string) bool {
	devices, err := a.ListConnectedDevices(ctx)
	if err != nil {
		return false
	}
	if deviceID == "" {
		return len(devices) > 0
	}
	for _, d := range devices {
		if d == deviceID {
			return true
		}
	}
	return false
}

// Resolve maps the LocalDevice and AnyDevice wildcards (and the empty
// string) to the only attached device. Other ids are returned unchanged.
func (a *ADB) Resolve(ctx context.Context, deviceID string) (string, error) {
	switch deviceID {
	case "", LocalDevice, AnyDevice:
	default:
		return deviceID, nil
	}
	devices, err := a.ListConnectedDevices(ctx)
	if err != nil {
		return "", err
	}
	switch len(devices) {
	case 0:
		return "", ErrNoDevices
	case 1:
		return devices[0], nil
	default:
		return "", ErrMultipleDevices
	}
}

// Activity identifies the foreground activity of a device.
type Activity struct {
	PackageName  string
	ActivityName string
}

// CurrentActivity returns the top activity of deviceID, as reported by
// "am stack list". The activity name is relative to the package, with a
// leading dot.
func (a *ADB) CurrentActivity(ctx context.Context, deviceID string) (Activity, error) {
	target, err := a.Resolve(ctx, deviceID)
	if err != nil {
		return Activity{}, err
	}
	if !a.IsConnected(ctx, target) {
		return Activity{}, fmt.Errorf("%w: %s", ErrNotConnected, target)
	}

	out, err := a.run(ctx, target, "shell", "am stack list")
	if err != nil {
		return Activity{}, err
	}
	if strings.TrimSpace(string(out)) == "" {
		return Activity{}, ErrNoActivity
	}
	return parseActivity(out)
}

// DumpAccessibilityTree returns the uiautomator window hierarchy of deviceID
// as XML.
func (a *ADB) DumpAccessibilityTree(ctx context.Context, deviceID string) ([]byte, error) {
	target, err := a.Resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	out, err := a.run(ctx, target, "exec-out", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return nil, err
	}
	return trimDumpNotice(out)
}

// run invokes adb, optionally scoped to a device serial, and returns stdout.
func (a *ADB) run(ctx context.Context, deviceID string, args ...string) ([]byte, error) {
	argv := args
	if deviceID != "" {
		argv = append([]string{"-s", deviceID}, args...)
	}

	stdout, stderr, err := a.runner.Run(ctx, a.path, argv...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("adb command failed: %s: %s", strings.Join(args, " "), describeFailure(stderr, err))
	}
	if len(bytes.TrimSpace(stdout)) == 0 && len(bytes.TrimSpace(stderr)) != 0 {
		return nil, fmt.Errorf("adb command produced no output: %s", bytes.TrimSpace(stderr))
	}
	return stdout, nil
}

func describeFailure(stderr []byte, err error) string {
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return msg
	}
	return err.Error()
}
