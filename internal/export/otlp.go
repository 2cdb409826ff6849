package export

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/ethpandaops/bpfmetrics/internal/version"
)

// OTLPConfig configures the OTLP metric exporter.
type OTLPConfig struct {
	// Endpoint is the gRPC OTLP endpoint (e.g. "otel-collector:4317").
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the gRPC connection.
	Insecure bool `yaml:"insecure"`

	// Headers are sent with every export request.
	Headers map[string]string `yaml:"headers"`

	// ExportInterval is the time between exports. Defaults to 60s.
	ExportInterval time.Duration `yaml:"export_interval"`

	// ServiceName is the resource service.name. Defaults to "bpfmetrics".
	ServiceName string `yaml:"service_name"`
}

// OTLPExporter manages the OTLP metric export pipeline.
type OTLPExporter struct {
	log      logrus.FieldLogger
	cfg      OTLPConfig
	provider *metric.MeterProvider
	exporter metric.Exporter
}

// NewOTLPExporter creates a new OTLP metric exporter.
func NewOTLPExporter(
	log logrus.FieldLogger,
	cfg OTLPConfig,
) *OTLPExporter {
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 60 * time.Second
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "bpfmetrics"
	}

	return &OTLPExporter{
		log: log.WithField("component", "otlp"),
		cfg: cfg,
	}
}

// Start initializes the OTLP exporter and meter provider.
func (e *OTLPExporter) Start(ctx context.Context) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(e.cfg.Endpoint),
	}

	if e.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	if len(e.cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(e.cfg.Headers))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating OTLP exporter: %w", err)
	}

	e.exporter = exporter

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(e.cfg.ServiceName),
			semconv.ServiceVersion(version.Short()),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP resource: %w", err)
	}

	e.provider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(
			exporter,
			metric.WithInterval(e.cfg.ExportInterval),
		)),
	)

	e.log.WithFields(logrus.Fields{
		"endpoint": e.cfg.Endpoint,
		"interval": e.cfg.ExportInterval.String(),
	}).Info("OTLP exporter started")

	return nil
}

// MeterProvider returns the configured meter provider for
// creating metrics.
func (e *OTLPExporter) MeterProvider() *metric.MeterProvider {
	return e.provider
}

// Stop flushes pending data and shuts down the pipeline. The meter
// provider shuts down its reader, which shuts down the exporter.
func (e *OTLPExporter) Stop(ctx context.Context) error {
	if e.provider == nil {
		return nil
	}

	if err := e.provider.ForceFlush(ctx); err != nil {
		e.log.WithError(err).Warn("Failed to flush OTLP metrics")
	}

	if err := e.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down OTLP provider: %w", err)
	}

	return nil
}
