package sink

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/export"
	httpexport "github.com/ethpandaops/bpfmetrics/internal/export/http"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// HTTPConfig configures the HTTP NDJSON sink.
type HTTPConfig = httpexport.Config

// ValueJSON is the JSON schema of one exported value.
type ValueJSON struct {
	UpdatedDateTime string            `json:"updated_date_time"`
	MetricName      string            `json:"metric_name"`
	Description     string            `json:"description,omitempty"`
	Unit            string            `json:"unit"`
	Labels          map[string]string `json:"labels,omitempty"`
	Value           uint64            `json:"value"`
	Kind            string            `json:"kind"`
	Temporality     string            `json:"temporality"`
	MetaClientName  string            `json:"meta_client_name,omitempty"`
}

// HTTPSink streams values as NDJSON batches, e.g. to Vector.
type HTTPSink struct {
	log  logrus.FieldLogger
	cfg  HTTPConfig
	proc *processor.BatchItemProcessor[ValueJSON]
	now  func() time.Time
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates a new HTTP sink. health may be nil.
func NewHTTPSink(
	log logrus.FieldLogger,
	cfg HTTPConfig,
	health *export.HealthMetrics,
) (*HTTPSink, error) {
	proc, err := httpexport.NewProcessor[ValueJSON](log, cfg, "http", health)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP processor: %w", err)
	}

	return &HTTPSink{
		log:  log.WithField("sink", "http"),
		cfg:  cfg,
		proc: proc,
		now:  time.Now,
	}, nil
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Start(ctx context.Context) error {
	s.proc.Start(ctx)

	s.log.WithField("address", s.cfg.Address).Info("HTTP sink started")

	return nil
}

func (s *HTTPSink) Stop() error {
	if err := s.proc.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down HTTP processor: %w", err)
	}

	return nil
}

func (s *HTTPSink) Publish(ctx context.Context, v metric.Value) error {
	item := &ValueJSON{
		UpdatedDateTime: s.now().UTC().Format(time.RFC3339Nano),
		MetricName:      v.Name,
		Description:     v.Description,
		Unit:            string(v.Unit),
		Labels:          v.LabelMap(),
		Value:           v.Value,
		Kind:            v.Kind.String(),
		Temporality:     v.Temporality.String(),
		MetaClientName:  s.cfg.MetaClientName,
	}

	if err := s.proc.Write(ctx, []*ValueJSON{item}); err != nil {
		return fmt.Errorf("%w: queueing http item: %w", metric.ErrPublish, err)
	}

	return nil
}
