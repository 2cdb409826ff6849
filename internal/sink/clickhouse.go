package sink

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// ClickHouseConfig configures the ClickHouse sink.
type ClickHouseConfig struct {
	Enabled                 bool `yaml:"enabled"`
	export.ClickHouseConfig `yaml:",inline"`
	// MaxQueueSize bounds the rows waiting for export. Defaults to
	// ten batches.
	MaxQueueSize int `yaml:"max_queue_size"`
}

// Validate checks the connection settings when enabled.
func (c ClickHouseConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return metric.ConfigErrorf("sinks.clickhouse.endpoint is required when enabled")
	}

	if c.Database == "" {
		return metric.ConfigErrorf("sinks.clickhouse.database is required when enabled")
	}

	return nil
}

// counterRow is one row of the counters table.
type counterRow struct {
	UpdatedDateTime time.Time
	MetricName      string
	Unit            string
	Labels          map[string]string
	Value           uint64
	Temporality     string
	MetaClientName  string
}

func newCounterRow(v metric.Value, now time.Time, clientName string) *counterRow {
	return &counterRow{
		UpdatedDateTime: now,
		MetricName:      v.Name,
		Unit:            string(v.Unit),
		Labels:          v.LabelMap(),
		Value:           v.Value,
		Temporality:     v.Temporality.String(),
		MetaClientName:  clientName,
	}
}

// clickHouseExporter implements processor.ItemExporter by batch-inserting
// rows into the counters table.
type clickHouseExporter struct {
	log    logrus.FieldLogger
	writer *export.ClickHouseWriter
	health *export.HealthMetrics
}

var _ processor.ItemExporter[counterRow] = (*clickHouseExporter)(nil)

func (e *clickHouseExporter) insertQuery() string {
	cfg := e.writer.Config()

	return fmt.Sprintf(`INSERT INTO %s.%s (
		updated_date_time, metric_name, unit, labels,
		value, temporality, meta_client_name
	)`, cfg.Database, cfg.Table)
}

func (e *clickHouseExporter) ExportItems(ctx context.Context, rows []*counterRow) error {
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()

	batch, err := e.writer.Conn().PrepareBatch(ctx, e.insertQuery())
	if err != nil {
		e.recordBatchError("prepare")

		return fmt.Errorf("preparing counters batch: %w", err)
	}

	for _, r := range rows {
		if r == nil {
			continue
		}

		if err := batch.Append(
			r.UpdatedDateTime, r.MetricName, r.Unit, r.Labels,
			r.Value, r.Temporality, r.MetaClientName,
		); err != nil {
			e.recordBatchError("append")

			return fmt.Errorf("appending counters row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		e.recordBatchError("send")

		return fmt.Errorf("sending counters batch: %w", err)
	}

	if e.health != nil {
		e.health.SinkBatchSize.WithLabelValues("clickhouse").Observe(float64(len(rows)))
		e.health.SinkFlushDuration.WithLabelValues("clickhouse").Observe(time.Since(start).Seconds())
	}

	e.log.WithField("rows", len(rows)).Debug("Flushed counters batch")

	return nil
}

func (e *clickHouseExporter) Shutdown(_ context.Context) error {
	return nil
}

func (e *clickHouseExporter) recordBatchError(kind string) {
	if e.health != nil {
		e.health.ExportBatchErrors.WithLabelValues("clickhouse", kind).Inc()
	}
}

// ClickHouseSink queues values as rows and batch-inserts them into
// ClickHouse.
type ClickHouseSink struct {
	log    logrus.FieldLogger
	cfg    ClickHouseConfig
	writer *export.ClickHouseWriter
	health *export.HealthMetrics
	proc   *processor.BatchItemProcessor[counterRow]
	now    func() time.Time
}

var _ Sink = (*ClickHouseSink)(nil)

// NewClickHouseSink creates a new ClickHouse sink. health may be nil.
func NewClickHouseSink(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *export.HealthMetrics,
) (*ClickHouseSink, error) {
	writer := export.NewClickHouseWriter(log, cfg.ClickHouseConfig)
	wcfg := writer.Config()

	if cfg.MaxQueueSize < wcfg.BatchSize {
		cfg.MaxQueueSize = wcfg.BatchSize * 10
	}

	s := &ClickHouseSink{
		log:    log.WithField("sink", "clickhouse"),
		cfg:    cfg,
		writer: writer,
		health: health,
		now:    time.Now,
	}

	exporter := &clickHouseExporter{
		log:    s.log,
		writer: writer,
		health: health,
	}

	proc, err := processor.NewBatchItemProcessor[counterRow](
		exporter,
		"clickhouse",
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(wcfg.FlushInterval),
		processor.WithExportTimeout(30*time.Second),
		processor.WithMaxExportBatchSize(wcfg.BatchSize),
		processor.WithWorkers(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating clickhouse processor: %w", err)
	}

	s.proc = proc

	return s, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Start(ctx context.Context) error {
	if err := s.writer.Start(ctx); err != nil {
		if s.health != nil {
			s.health.ClickHouseConnected.WithLabelValues("clickhouse").Set(0)
		}

		return err
	}

	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues("clickhouse").Set(1)
	}

	s.proc.Start(ctx)

	s.log.WithField("table", s.writer.Config().Database+"."+s.writer.Config().Table).
		Info("ClickHouse sink started")

	return nil
}

func (s *ClickHouseSink) Stop() error {
	if err := s.proc.Shutdown(context.Background()); err != nil {
		s.log.WithError(err).Error("ClickHouse processor shutdown failed")
	}

	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues("clickhouse").Set(0)
	}

	return s.writer.Stop()
}

func (s *ClickHouseSink) Publish(ctx context.Context, v metric.Value) error {
	row := newCounterRow(v, s.now(), s.writer.Config().MetaClientName)

	if err := s.proc.Write(ctx, []*counterRow{row}); err != nil {
		return fmt.Errorf("%w: queueing clickhouse row: %w", metric.ErrPublish, err)
	}

	return nil
}
