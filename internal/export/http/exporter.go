// Package http streams batches of items as NDJSON over HTTP.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/version"
)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Exporter implements processor.ItemExporter for HTTP NDJSON export.
type Exporter[T any] struct {
	name       string
	cfg        Config
	client     *http.Client
	compressor *Compressor
	health     *export.HealthMetrics
	log        logrus.FieldLogger
}

var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter creates a new HTTP exporter. name labels its health metrics;
// health may be nil.
func NewExporter[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
	health *export.HealthMetrics,
) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Exporter[T]{
		name: name,
		cfg:  cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ExportTimeout,
		},
		compressor: compressor,
		health:     health,
		log:        log.WithField("component", "http_exporter"),
	}, nil
}

// encode renders items as newline-delimited JSON, skipping nil entries.
func encode[T any](items []*T) ([]byte, int, error) {
	var buf bytes.Buffer

	buf.Grow(len(items) * 192)

	enc := json.NewEncoder(&buf)
	n := 0

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return nil, 0, fmt.Errorf("encoding item: %w", err)
		}

		n++
	}

	return buf.Bytes(), n, nil
}

// ExportItems POSTs a batch of items to the configured endpoint.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()

	data, n, err := encode(items)
	if err != nil {
		e.recordError("encode")

		return err
	}

	if n == 0 {
		return nil
	}

	body, err := e.compressor.Compress(data)
	if err != nil {
		e.recordError("compress")

		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.recordError("request")

		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.recordError("status")

		return &StatusError{Code: resp.StatusCode}
	}

	if e.health != nil {
		e.health.SinkBatchSize.WithLabelValues(e.name).Observe(float64(n))
		e.health.SinkFlushDuration.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
	}

	e.log.WithFields(logrus.Fields{
		"items":      n,
		"bytes":      len(data),
		"compressed": len(body),
	}).Debug("Exported batch via HTTP")

	return nil
}

// Shutdown releases the compressor.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}

func (e *Exporter[T]) recordError(kind string) {
	if e.health != nil {
		e.health.ExportBatchErrors.WithLabelValues(e.name, kind).Inc()
	}
}

// NewProcessor creates a BatchItemProcessor backed by an Exporter.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
	health *export.HealthMetrics,
) (*processor.BatchItemProcessor[T], error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter[T](log, cfg, name, health)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
