// Package sink delivers published counter values to metrics backends.
package sink

import (
	"context"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// Config holds configuration for all sinks.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	OTLP       OTLPConfig       `yaml:"otlp"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// EnabledCount returns how many sinks are enabled.
func (c Config) EnabledCount() int {
	n := 0

	for _, enabled := range []bool{
		c.Log.Enabled,
		c.Prometheus.Enabled,
		c.OTLP.Enabled,
		c.ClickHouse.Enabled,
		c.HTTP.Enabled,
	} {
		if enabled {
			n++
		}
	}

	return n
}

// Validate checks every enabled sink's configuration.
func (c Config) Validate() error {
	if c.EnabledCount() == 0 {
		return metric.ConfigErrorf("at least one sink must be enabled")
	}

	if err := c.Log.Validate(); err != nil {
		return err
	}

	if err := c.OTLP.Validate(); err != nil {
		return err
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return err
	}

	httpCfg := c.HTTP
	httpCfg.ApplyDefaults()

	return httpCfg.Validate()
}

// Sink defines the interface for value consumers.
type Sink interface {
	// Name returns the sink's name for logging.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop shuts down the sink, flushing anything buffered.
	Stop() error
	// Publish delivers a single value. Failures wrap metric.ErrPublish.
	Publish(ctx context.Context, v metric.Value) error
}
