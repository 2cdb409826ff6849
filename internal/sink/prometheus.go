package sink

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// PrometheusConfig configures the Prometheus sink. Values are served on the
// health server's /metrics endpoint.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
	// ConstLabels are added to every exposed series.
	ConstLabels map[string]string `yaml:"const_labels"`
}

// PrometheusSink keeps running totals and exposes them as Prometheus
// counters from its own registry.
type PrometheusSink struct {
	log         logrus.FieldLogger
	registry    *prometheus.Registry
	constLabels prometheus.Labels
	store       *cumulativeStore
}

var (
	_ Sink                 = (*PrometheusSink)(nil)
	_ prometheus.Collector = (*PrometheusSink)(nil)
)

// NewPrometheusSink creates a Prometheus sink. Its Gatherer is meant to be
// served next to the health metrics.
func NewPrometheusSink(
	log logrus.FieldLogger,
	cfg PrometheusConfig,
) *PrometheusSink {
	s := &PrometheusSink{
		log:         log.WithField("sink", "prometheus"),
		registry:    prometheus.NewRegistry(),
		constLabels: prometheus.Labels(cfg.ConstLabels),
		store:       newCumulativeStore(),
	}

	s.registry.MustRegister(s)

	return s
}

// Gatherer returns the registry holding the sink's series.
func (s *PrometheusSink) Gatherer() prometheus.Gatherer {
	return s.registry
}

func (s *PrometheusSink) Name() string { return "prometheus" }

func (s *PrometheusSink) Start(_ context.Context) error {
	s.log.Info("Prometheus sink started")

	return nil
}

func (s *PrometheusSink) Stop() error { return nil }

func (s *PrometheusSink) Publish(_ context.Context, v metric.Value) error {
	s.store.Add(v)

	return nil
}

// Describe sends no descriptors: the series set grows with the configured
// dimensions, so the collector is registered unchecked.
func (s *PrometheusSink) Describe(_ chan<- *prometheus.Desc) {}

// Collect emits one constant counter per stored series.
func (s *PrometheusSink) Collect(ch chan<- prometheus.Metric) {
	for _, v := range s.store.Snapshot() {
		help := helpFor(s.store, v)

		keys := make([]string, 0, len(v.Labels))
		values := make([]string, 0, len(v.Labels))

		for _, l := range v.Labels {
			keys = append(keys, l.Key)
			values = append(values, l.Value)
		}

		desc := prometheus.NewDesc(v.Name, help, keys, s.constLabels)

		m, err := prometheus.NewConstMetric(
			desc, prometheus.CounterValue, float64(v.Value), values...,
		)
		if err != nil {
			s.log.WithError(err).WithField("metric", v.Name).
				Warn("Failed to build prometheus metric")

			continue
		}

		ch <- m
	}
}

// helpFor returns a help string that is stable per metric name.
func helpFor(store *cumulativeStore, v metric.Value) string {
	first, ok := store.Describe(v.Name)
	if ok && first.Description != "" {
		return first.Description
	}

	return fmt.Sprintf("BPF counter %s (%s).", v.Name, v.Unit)
}
