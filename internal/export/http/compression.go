package http

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// contentEncodings maps an algorithm to its Content-Encoding header value.
var contentEncodings = map[string]string{
	CompressionNone:   "",
	CompressionGzip:   "gzip",
	CompressionZstd:   "zstd",
	CompressionZlib:   "deflate",
	CompressionSnappy: "snappy",
}

func validCompression(algorithm string) bool {
	_, ok := contentEncodings[algorithm]

	return ok
}

// streamWriter is implemented by the gzip and zlib writers.
type streamWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Compressor compresses request bodies. It is safe for concurrent use by
// multiple export workers.
type Compressor struct {
	algorithm string
	zstd      *zstd.Encoder
	writers   sync.Pool
}

// NewCompressor creates a Compressor for algorithm. An empty algorithm
// disables compression.
func NewCompressor(algorithm string) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	if !validCompression(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	switch algorithm {
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	case CompressionGzip:
		c.writers.New = func() any { return gzip.NewWriter(io.Discard) }
	case CompressionZlib:
		c.writers.New = func() any { return zlib.NewWriter(io.Discard) }
	}

	return c, nil
}

// Compress returns data encoded with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return c.zstd.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return c.compressStream(data)
	}
}

func (c *Compressor) compressStream(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	buf.Grow(len(data) / 2)

	w, _ := c.writers.Get().(streamWriter)
	defer c.writers.Put(w)

	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
	}

	return buf.Bytes(), nil
}

// ContentEncoding returns the Content-Encoding header value.
func (c *Compressor) ContentEncoding() string {
	return contentEncodings[c.algorithm]
}

// Close releases encoder resources.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}
