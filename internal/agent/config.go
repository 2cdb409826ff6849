package agent

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/bpfmetrics/internal/collector"
	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
	"github.com/ethpandaops/bpfmetrics/internal/sink"
)

// Config is the top-level configuration for the bpfmetrics agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Interval is the time between collection passes. Defaults to 60s.
	Interval time.Duration `yaml:"interval"`

	// Map locates the kernel per-CPU counter array.
	Map MapConfig `yaml:"map"`

	// Counters registers the counter slots.
	Counters []CounterConfig `yaml:"counters"`

	// Metrics binds counters to units, modes, and dimensions.
	Metrics []MetricConfig `yaml:"metrics"`

	// Sinks configures where values are published.
	Sinks sink.Config `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// MapConfig locates the counter map. Exactly one of PinnedPath or
// ObjectPath must be set.
type MapConfig struct {
	// PinnedPath is a bpffs path of an already loaded map.
	PinnedPath string `yaml:"pinned_path"`

	// ObjectPath is a compiled BPF object that declares the map.
	ObjectPath string `yaml:"object_path"`

	// Name is the map name inside ObjectPath. Defaults to COUNTERS.
	Name string `yaml:"name"`

	// Capacity is the number of slots in the map. Defaults to 64.
	Capacity int `yaml:"capacity"`
}

// CounterConfig registers one counter slot.
type CounterConfig struct {
	Index       uint32 `yaml:"index"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// MetricConfig publishes one counter.
type MetricConfig struct {
	// Counter is the registered counter name.
	Counter string `yaml:"counter"`

	// Unit is one of count, bytes, packets, seconds, milliseconds,
	// microseconds, nanoseconds, percent. Defaults to count.
	Unit string `yaml:"unit"`

	// Mode is delta (default) or absolute.
	Mode string `yaml:"mode"`

	// Dimensions lists the label sets the counter is published under.
	// Empty means a single global total.
	Dimensions []DimensionConfig `yaml:"dimensions"`
}

// DimensionConfig is one label set.
type DimensionConfig struct {
	Labels map[string]string `yaml:"labels"`
	PerCPU bool              `yaml:"per_cpu"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Interval: collector.DefaultInterval,
		Map: MapConfig{
			Name:     metric.DefaultMapName,
			Capacity: metric.DefaultCapacity,
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency,
// including building the counter registry and metrics.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return metric.ConfigErrorf("invalid log_level %q", c.LogLevel)
	}

	if c.Interval <= 0 {
		return metric.ConfigErrorf("interval must be positive")
	}

	if c.Map.PinnedPath == "" && c.Map.ObjectPath == "" {
		return metric.ConfigErrorf(
			"one of map.pinned_path or map.object_path is required",
		)
	}

	if c.Map.PinnedPath != "" && c.Map.ObjectPath != "" {
		return metric.ConfigErrorf(
			"map.pinned_path and map.object_path are mutually exclusive",
		)
	}

	if _, _, err := c.Build(); err != nil {
		return err
	}

	return c.Sinks.Validate()
}

// Build turns the counters and metrics sections into a registry and the
// metric list the collector publishes.
func (c *Config) Build() (*metric.Registry, []metric.Metric, error) {
	ids := make([]metric.CounterID, 0, len(c.Counters))
	for _, cc := range c.Counters {
		ids = append(ids, metric.CounterID{
			Index:       cc.Index,
			Name:        cc.Name,
			Description: cc.Description,
		})
	}

	registry, err := metric.NewRegistry(c.Map.Capacity, ids...)
	if err != nil {
		return nil, nil, fmt.Errorf("building counter registry: %w", err)
	}

	if len(c.Metrics) == 0 {
		return nil, nil, metric.ConfigErrorf("at least one metric is required")
	}

	metrics := make([]metric.Metric, 0, len(c.Metrics))

	for i, mc := range c.Metrics {
		m, err := mc.build(registry)
		if err != nil {
			return nil, nil, fmt.Errorf("metrics[%d]: %w", i, err)
		}

		metrics = append(metrics, m)
	}

	return registry, metrics, nil
}

func (mc MetricConfig) build(registry *metric.Registry) (metric.Metric, error) {
	id, ok := registry.Lookup(mc.Counter)
	if !ok {
		return metric.Metric{}, metric.ConfigErrorf("unknown counter %q", mc.Counter)
	}

	unit, err := metric.ParseUnit(mc.Unit)
	if err != nil {
		return metric.Metric{}, err
	}

	mode, err := metric.ParseMode(mc.Mode)
	if err != nil {
		return metric.Metric{}, err
	}

	dims := make([]metric.Dimension, 0, len(mc.Dimensions))
	for _, dc := range mc.Dimensions {
		dims = append(dims, dc.build())
	}

	m := metric.NewMetric(id, unit, dims...).WithMode(mode)

	if err := m.Validate(); err != nil {
		return metric.Metric{}, err
	}

	return m, nil
}

// build converts the label map into labels ordered by key, since YAML
// maps carry no order.
func (dc DimensionConfig) build() metric.Dimension {
	keys := make([]string, 0, len(dc.Labels))
	for k := range dc.Labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	labels := make([]metric.Label, 0, len(keys))
	for _, k := range keys {
		labels = append(labels, metric.Label{Key: k, Value: dc.Labels[k]})
	}

	return metric.Dimension{Labels: labels, PerCPU: dc.PerCPU}
}
