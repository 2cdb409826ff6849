package http

import (
	"time"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// Config controls how counter values are shipped as newline-delimited JSON.
// Each published metric.Value becomes one line of a request body.
type Config struct {
	// Enabled turns on the NDJSON counter sink.
	Enabled bool `yaml:"enabled"`

	// Address receives one POST per flushed group of counter values.
	Address string `yaml:"address"`

	// Headers are set on every POST, e.g. an auth token for the collector.
	Headers map[string]string `yaml:"headers"`

	// Compression encodes the NDJSON body: none, gzip, zstd, zlib or snappy.
	// Unset means gzip.
	Compression string `yaml:"compression"`

	// BatchSize caps the counter values, and therefore lines, in one body.
	// Unset means 500.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout flushes a partial body so quiet counters still arrive.
	// Unset means 10s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ExportTimeout bounds a single POST.
	// Unset means 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// MaxQueueSize bounds counter values buffered between ticks and POSTs.
	// Values beyond it are rejected with metric.ErrPublish.
	// Unset means 10000, or BatchSize when that is larger.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is how many POSTs may be in flight at once. Unset means 1.
	Workers int `yaml:"workers"`

	// KeepAlive reuses the connection between flushes. Unset means true.
	KeepAlive *bool `yaml:"keep_alive"`

	// MetaClientName is written into every line as the reporting host.
	MetaClientName string `yaml:"meta_client_name"`
}

// DefaultConfig returns the sink tuning used for fields left unset.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   CompressionGzip,
		BatchSize:     500,
		BatchTimeout:  10 * time.Second,
		ExportTimeout: 30 * time.Second,
		MaxQueueSize:  10000,
		Workers:       1,
		KeepAlive:     &keepAlive,
	}
}

// Validate checks an enabled sink. A disabled one is never inspected.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return metric.ConfigErrorf("http address is required when enabled")
	}

	if c.BatchSize <= 0 {
		return metric.ConfigErrorf("http batch_size must be greater than 0")
	}

	if c.MaxQueueSize <= 0 {
		return metric.ConfigErrorf("http max_queue_size must be greater than 0")
	}

	if c.BatchSize > c.MaxQueueSize {
		return metric.ConfigErrorf(
			"http batch_size %d exceeds max_queue_size %d",
			c.BatchSize, c.MaxQueueSize,
		)
	}

	if c.Workers <= 0 {
		return metric.ConfigErrorf("http workers must be greater than 0")
	}

	if c.Compression != "" && !validCompression(c.Compression) {
		return metric.ConfigErrorf("invalid http compression %q", c.Compression)
	}

	return nil
}

// ApplyDefaults fills unset fields from DefaultConfig. The queue is never
// smaller than one body.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaults.BatchTimeout
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = max(defaults.MaxQueueSize, c.BatchSize)
	}

	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// IsKeepAlive reports whether flushes share a connection.
func (c *Config) IsKeepAlive() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}
