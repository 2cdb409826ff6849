package sink

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

func TestPrometheusSink_ExposesRunningTotals(t *testing.T) {
	s := NewPrometheusSink(testLog(), PrometheusConfig{
		Enabled:     true,
		ConstLabels: map[string]string{"host": "node-1"},
	})
	require.NoError(t, s.Start(context.Background()))

	ctx := context.Background()
	eth0 := metric.Label{Key: "iface", Value: "eth0"}

	pkts := value("packets_total", 8, eth0)
	pkts.Description = "Packets seen."

	require.NoError(t, s.Publish(ctx, pkts))

	pkts.Value = 2
	require.NoError(t, s.Publish(ctx, pkts))

	global := value("packets_total", 10)
	global.Description = "Packets seen."
	require.NoError(t, s.Publish(ctx, global))

	abs := value("drops_total", 4)
	abs.Temporality = metric.TemporalityCumulative
	require.NoError(t, s.Publish(ctx, abs))

	exp := `
# HELP drops_total BPF counter drops_total (count).
# TYPE drops_total counter
drops_total{host="node-1"} 4
# HELP packets_total Packets seen.
# TYPE packets_total counter
packets_total{host="node-1"} 10
packets_total{host="node-1",iface="eth0"} 10
`

	require.NoError(t, testutil.GatherAndCompare(
		s.Gatherer(), strings.NewReader(exp), "packets_total", "drops_total",
	))
}

func TestPrometheusSink_PerCPUSeries(t *testing.T) {
	s := NewPrometheusSink(testLog(), PrometheusConfig{Enabled: true})
	require.NoError(t, s.Start(context.Background()))

	ctx := context.Background()

	for cpu, v := range []uint64{5, 3} {
		val := value("packets_total", v, metric.Label{Key: metric.CPULabel, Value: []string{"0", "1"}[cpu]})
		require.NoError(t, s.Publish(ctx, val))
	}

	assert.Equal(t, 2, testutil.CollectAndCount(s, "packets_total"))
}

func TestPrometheusSink_EmptyBeforePublish(t *testing.T) {
	s := NewPrometheusSink(testLog(), PrometheusConfig{Enabled: true})

	families, err := s.Gatherer().Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
