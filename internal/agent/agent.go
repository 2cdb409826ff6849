// Package agent wires the counter map, the collector, and the sinks
// into a running process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/collector"
	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/mapreader"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
	"github.com/ethpandaops/bpfmetrics/internal/sink"
)

// Agent is the top-level orchestrator for bpfmetrics.
type Agent interface {
	// Start opens the counter map, starts the sinks, and begins collecting.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
	// Done is closed once the collector loop has exited.
	Done() <-chan struct{}
}

type agent struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	registry *metric.Registry
	metrics  []metric.Metric
	sinks    *sink.Multi

	// openReader opens the counter map. Replaced in tests.
	openReader func() (mapreader.Reader, error)

	mu        sync.Mutex
	reader    mapreader.Reader
	collector *collector.Collector
	done      chan struct{}
}

// New creates a new Agent. The counter map is not opened until Start.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	return newAgent(log, cfg)
}

func newAgent(log logrus.FieldLogger, cfg *Config) (*agent, error) {
	registry, metrics, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	health := export.NewHealthMetrics(log, cfg.Health)

	sinks, err := buildSinks(log, cfg.Sinks, health)
	if err != nil {
		return nil, err
	}

	if len(sinks) == 0 {
		return nil, metric.ConfigErrorf("at least one sink must be enabled")
	}

	a := &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   health,
		registry: registry,
		metrics:  metrics,
		sinks:    sink.NewMulti(log, health, sinks...),
		done:     make(chan struct{}),
	}

	a.openReader = func() (mapreader.Reader, error) {
		return openMap(log, cfg.Map)
	}

	return a, nil
}

// buildSinks creates every enabled sink. The Prometheus sink's series are
// served by the health server.
func buildSinks(
	log logrus.FieldLogger,
	cfg sink.Config,
	health *export.HealthMetrics,
) ([]sink.Sink, error) {
	sinks := make([]sink.Sink, 0, cfg.EnabledCount())

	if cfg.Log.Enabled {
		sinks = append(sinks, sink.NewLogSink(log, cfg.Log))
	}

	if cfg.Prometheus.Enabled {
		prom := sink.NewPrometheusSink(log, cfg.Prometheus)
		health.AddGatherer(prom.Gatherer())

		sinks = append(sinks, prom)
	}

	if cfg.OTLP.Enabled {
		sinks = append(sinks, sink.NewOTLPSink(log, cfg.OTLP))
	}

	if cfg.ClickHouse.Enabled {
		ch, err := sink.NewClickHouseSink(log, cfg.ClickHouse, health)
		if err != nil {
			return nil, fmt.Errorf("creating clickhouse sink: %w", err)
		}

		sinks = append(sinks, ch)
	}

	if cfg.HTTP.Enabled {
		hs, err := sink.NewHTTPSink(log, cfg.HTTP, health)
		if err != nil {
			return nil, fmt.Errorf("creating http sink: %w", err)
		}

		sinks = append(sinks, hs)
	}

	return sinks, nil
}

func openMap(log logrus.FieldLogger, cfg MapConfig) (mapreader.Reader, error) {
	if cfg.PinnedPath != "" {
		return mapreader.OpenPinned(log, cfg.PinnedPath, cfg.Capacity)
	}

	return mapreader.OpenObject(log, cfg.ObjectPath, cfg.Name, cfg.Capacity)
}

func (a *agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.collector != nil {
		return fmt.Errorf("%w: agent already started", metric.ErrLifecycle)
	}

	// 1. Start health metrics server.
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Start all enabled sinks.
	if err := a.sinks.Start(ctx); err != nil {
		a.health.Stop()

		return fmt.Errorf("starting sinks: %w", err)
	}

	// 3. Open the counter map.
	reader, err := a.openReader()
	if err != nil {
		a.stopSinksAndHealth()

		return fmt.Errorf("opening counter map: %w", err)
	}

	// 4. Build and start the collector.
	c, err := collector.New(
		a.log, reader, a.registry, a.metrics, a.sinks,
		collector.Config{Interval: a.cfg.Interval}, a.health,
	)
	if err != nil {
		reader.Close()
		a.stopSinksAndHealth()

		return fmt.Errorf("creating collector: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		reader.Close()
		a.stopSinksAndHealth()

		return fmt.Errorf("starting collector: %w", err)
	}

	a.reader = reader
	a.collector = c

	go func() {
		<-c.Done()
		close(a.done)
	}()

	a.log.WithFields(logrus.Fields{
		"counters": a.registry.Len(),
		"metrics":  len(a.metrics),
		"sinks":    len(a.sinks.Sinks()),
		"interval": a.cfg.Interval.String(),
	}).Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error

	// Stop in reverse order.
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping collector: %w", err))
		}
	}

	if a.reader != nil {
		if err := a.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing counter map: %w", err))
		}

		a.reader = nil
	}

	if err := a.sinks.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping sinks: %w", err))
	}

	if err := a.health.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping health metrics: %w", err))
	}

	return errors.Join(errs...)
}

func (a *agent) Done() <-chan struct{} {
	return a.done
}

func (a *agent) stopSinksAndHealth() {
	if err := a.sinks.Stop(); err != nil {
		a.log.WithError(err).Error("Error stopping sinks")
	}

	if err := a.health.Stop(); err != nil {
		a.log.WithError(err).Error("Error stopping health metrics")
	}
}
