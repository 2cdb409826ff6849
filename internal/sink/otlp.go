package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

const meterName = "github.com/ethpandaops/bpfmetrics"

// OTLPConfig configures the OTLP sink.
type OTLPConfig struct {
	Enabled           bool `yaml:"enabled"`
	export.OTLPConfig `yaml:",inline"`
}

// Validate checks the endpoint when enabled.
func (c OTLPConfig) Validate() error {
	if c.Enabled && c.Endpoint == "" {
		return metric.ConfigErrorf("sinks.otlp.endpoint is required when enabled")
	}

	return nil
}

// OTLPSink exports running totals as OpenTelemetry observable counters.
// One instrument is created per metric name on first sight.
type OTLPSink struct {
	log      logrus.FieldLogger
	exporter *export.OTLPExporter
	provider otelmetric.MeterProvider
	store    *cumulativeStore

	mu          sync.Mutex
	meter       otelmetric.Meter
	instruments map[string]otelmetric.Registration
}

var _ Sink = (*OTLPSink)(nil)

// NewOTLPSink creates an OTLP sink that ships over gRPC.
func NewOTLPSink(log logrus.FieldLogger, cfg OTLPConfig) *OTLPSink {
	s := newOTLPSink(log, nil)
	s.exporter = export.NewOTLPExporter(log, cfg.OTLPConfig)

	return s
}

// NewOTLPSinkWithProvider creates an OTLP sink on an existing meter
// provider. The caller owns the provider's lifecycle.
func NewOTLPSinkWithProvider(
	log logrus.FieldLogger,
	provider otelmetric.MeterProvider,
) *OTLPSink {
	return newOTLPSink(log, provider)
}

func newOTLPSink(log logrus.FieldLogger, provider otelmetric.MeterProvider) *OTLPSink {
	return &OTLPSink{
		log:         log.WithField("sink", "otlp"),
		provider:    provider,
		store:       newCumulativeStore(),
		instruments: make(map[string]otelmetric.Registration, 16),
	}
}

func (s *OTLPSink) Name() string { return "otlp" }

func (s *OTLPSink) Start(ctx context.Context) error {
	if s.exporter != nil {
		if err := s.exporter.Start(ctx); err != nil {
			return err
		}

		s.provider = s.exporter.MeterProvider()
	}

	if s.provider == nil {
		return metric.ConfigErrorf("otlp sink has no meter provider")
	}

	s.mu.Lock()
	s.meter = s.provider.Meter(meterName)
	s.mu.Unlock()

	s.log.Info("OTLP sink started")

	return nil
}

func (s *OTLPSink) Stop() error {
	s.mu.Lock()
	for name, reg := range s.instruments {
		if err := reg.Unregister(); err != nil {
			s.log.WithError(err).WithField("metric", name).
				Debug("Failed to unregister OTLP callback")
		}
	}

	s.instruments = make(map[string]otelmetric.Registration, 16)
	s.mu.Unlock()

	if s.exporter != nil {
		return s.exporter.Stop(context.Background())
	}

	return nil
}

// Publish folds v into the running totals once its instrument exists, so a
// rejected value is never exported later.
func (s *OTLPSink) Publish(_ context.Context, v metric.Value) error {
	if err := s.register(v); err != nil {
		return fmt.Errorf("%w: %w", metric.ErrPublish, err)
	}

	s.store.Add(v)

	return nil
}

// register creates the observable counter for v's name unless it exists.
func (s *OTLPSink) register(v metric.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meter == nil {
		return fmt.Errorf("otlp sink not started")
	}

	if _, ok := s.instruments[v.Name]; ok {
		return nil
	}

	counter, err := s.meter.Float64ObservableCounter(
		v.Name,
		otelmetric.WithDescription(v.Description),
		otelmetric.WithUnit(ucumUnit(v.Unit)),
	)
	if err != nil {
		return fmt.Errorf("creating instrument %s: %w", v.Name, err)
	}

	name := v.Name

	reg, err := s.meter.RegisterCallback(
		func(_ context.Context, o otelmetric.Observer) error {
			for _, sv := range s.store.SnapshotName(name) {
				o.ObserveFloat64(
					counter,
					float64(sv.Value),
					otelmetric.WithAttributes(attributes(sv.Labels)...),
				)
			}

			return nil
		},
		counter,
	)
	if err != nil {
		return fmt.Errorf("registering callback for %s: %w", v.Name, err)
	}

	s.instruments[v.Name] = reg

	return nil
}

func attributes(labels []metric.Label) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		kvs = append(kvs, attribute.String(l.Key, l.Value))
	}

	return kvs
}

// ucumUnit maps a unit to its UCUM code as used by OpenTelemetry.
func ucumUnit(u metric.Unit) string {
	switch u {
	case metric.UnitBytes:
		return "By"
	case metric.UnitPackets:
		return "{packet}"
	case metric.UnitSeconds:
		return "s"
	case metric.UnitMilliseconds:
		return "ms"
	case metric.UnitMicroseconds:
		return "us"
	case metric.UnitNanoseconds:
		return "ns"
	case metric.UnitPercent:
		return "%"
	default:
		return "1"
	}
}
