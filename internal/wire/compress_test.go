// Copyright 2025 Joseph Cumines

package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestCompressors(t *testing.T) {
	payload := []byte(`<?xml version='1.0' encoding='UTF-8' standalone='yes' ?><hierarchy rotation="0">` +
		strings.Repeat(`<node index="0" text="" resource-id="android:id/content" class="android.widget.FrameLayout" package="com.android.settings" bounds="[0,0][1080,2400]" />`, 500) +
		`</hierarchy>`)

	for _, name := range []string{CompressorZstd, CompressorLZ4, "gzip"} {
		t.Run(name, func(t *testing.T) {
			c := encoding.GetCompressor(name)
			if c == nil {
				t.Fatalf("compressor %q not registered", name)
			}

			var buf bytes.Buffer
			w, err := c.Compress(&buf)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if buf.Len() >= len(payload)/4 {
				t.Errorf("compressed %d bytes to %d", len(payload), buf.Len())
			}

			r, err := c.Decompress(&buf)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Error("decompressed payload differs")
			}
		})
	}
}

func TestValidCompressor(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"", true},
		{"none", true},
		{"gzip", true},
		{CompressorZstd, true},
		{CompressorLZ4, true},
		{"brotli", false},
		{"ZSTD", false},
	}
	for _, tt := range tests {
		if got := ValidCompressor(tt.name); got != tt.want {
			t.Errorf("ValidCompressor(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
