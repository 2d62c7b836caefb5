// Copyright 2025 Joseph Cumines
//
// zstd and lz4 compressors for gRPC

package wire

import (
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip"
)

// Compressor names accepted by grpc.UseCompressor. Accessibility dumps are
// large, repetitive XML, so both compress well.
const (
	CompressorZstd = "zstd"
	CompressorLZ4  = "lz4"
)

func init() {
	encoding.RegisterCompressor(zstdCompressor{})
	encoding.RegisterCompressor(lz4Compressor{})
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return CompressorZstd }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}

func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdReader{dec: dec}, nil
}

// zstdReader releases the decoder once the message has been fully read.
type zstdReader struct {
	dec    *zstd.Decoder
	closed bool
}

func (z *zstdReader) Read(p []byte) (int, error) {
	if z.closed {
		return 0, io.EOF
	}
	n, err := z.dec.Read(p)
	if err != nil {
		z.dec.Close()
		z.closed = true
		if errors.Is(err, zstd.ErrDecoderClosed) {
			err = io.EOF
		}
	}
	return n, err
}

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return CompressorLZ4 }

func (lz4Compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Compressor) Decompress(r io.Reader) (io.Reader, error) {
	return lz4.NewReader(r), nil
}

// ValidCompressor reports whether name is empty (no compression), "gzip", or
// one of the compressors registered by this package.
func ValidCompressor(name string) bool {
	switch name {
	case "", "none", "gzip", CompressorZstd, CompressorLZ4:
		return true
	default:
		return false
	}
}
