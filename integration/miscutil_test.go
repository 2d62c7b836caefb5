package integration

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

// PollUntilContext checks a condition repeatedly until it returns true or the context is cancelled.
func PollUntilContext(ctx context.Context, interval time.Duration, condition func() (bool, error)) error {
	// Fast path
	if done, err := condition(); err != nil {
		return err
	} else if done {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("PollUntilContext: context cancelled: %w", ctx.Err())
		case <-ticker.C:
			done, err := condition()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// freeAddr reserves a loopback port and releases it for a child process to
// bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
