package sink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

func TestNewCounterRow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	v := value("bytes_total", 512,
		metric.Label{Key: "iface", Value: "eth0"},
		metric.Label{Key: metric.CPULabel, Value: "3"},
	)
	v.Unit = metric.UnitBytes
	v.Temporality = metric.TemporalityCumulative

	row := newCounterRow(v, now, "node-1")

	assert.Equal(t, now, row.UpdatedDateTime)
	assert.Equal(t, "bytes_total", row.MetricName)
	assert.Equal(t, "bytes", row.Unit)
	assert.Equal(t, uint64(512), row.Value)
	assert.Equal(t, "cumulative", row.Temporality)
	assert.Equal(t, "node-1", row.MetaClientName)
	assert.Equal(t, map[string]string{"iface": "eth0", "cpu": "3"}, row.Labels)
}

func TestClickHouseExporter_InsertQuery(t *testing.T) {
	writer := export.NewClickHouseWriter(testLog(), export.ClickHouseConfig{
		Endpoint: "localhost:9000",
		Database: "observability",
	})

	e := &clickHouseExporter{log: testLog(), writer: writer}
	query := e.insertQuery()

	assert.True(t, strings.HasPrefix(query, "INSERT INTO observability.bpf_counters ("))

	for _, col := range []string{
		"updated_date_time", "metric_name", "unit", "labels",
		"value", "temporality", "meta_client_name",
	} {
		assert.Contains(t, query, col)
	}

	// Empty batches never touch the connection.
	require.NoError(t, e.ExportItems(context.Background(), nil))
}

func TestClickHouseConfig_Validate(t *testing.T) {
	assert.NoError(t, ClickHouseConfig{}.Validate())
	assert.ErrorIs(t, ClickHouseConfig{Enabled: true}.Validate(), metric.ErrConfiguration)

	cfg := ClickHouseConfig{Enabled: true}
	cfg.Endpoint = "localhost:9000"
	assert.ErrorIs(t, cfg.Validate(), metric.ErrConfiguration)

	cfg.Database = "default"
	assert.NoError(t, cfg.Validate())
}

func TestNewClickHouseSink_Defaults(t *testing.T) {
	cfg := ClickHouseConfig{Enabled: true}
	cfg.Endpoint = "localhost:9000"
	cfg.Database = "default"
	cfg.MetaClientName = "node-1"

	s, err := NewClickHouseSink(testLog(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, "clickhouse", s.Name())
	assert.Equal(t, 10000, s.cfg.MaxQueueSize)

	wcfg := s.writer.Config()
	assert.Equal(t, export.DefaultTable, wcfg.Table)
	assert.Equal(t, 1000, wcfg.BatchSize)
	assert.Equal(t, 5*time.Second, wcfg.FlushInterval)

	opts := s.writer.Options()
	assert.Equal(t, []string{"localhost:9000"}, opts.Addr)
	assert.Equal(t, "default", opts.Auth.Database)
	assert.Nil(t, opts.TLS)
}
