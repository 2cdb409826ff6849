package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

var (
	packets = metric.CounterID{Index: 0, Name: "packets_total", Description: "Packets seen"}
	drops   = metric.CounterID{Index: 1, Name: "drops_total"}
)

func TestSum_Wraps(t *testing.T) {
	assert.Equal(t, uint64(8), Sum([]uint64{5, 3}))
	assert.Equal(t, uint64(1), Sum([]uint64{^uint64(0), 2}))
	assert.Equal(t, uint64(0), Sum(nil))
}

func TestAggregate_FirstTickEmitsTotal(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitPackets)

	values := a.Aggregate(0, m, []uint64{5, 3}, []int{0, 1})
	require.Len(t, values, 1)

	v := values[0]
	assert.Equal(t, "packets_total", v.Name)
	assert.Equal(t, "Packets seen", v.Description)
	assert.Equal(t, metric.UnitPackets, v.Unit)
	assert.Empty(t, v.Labels)
	assert.Equal(t, uint64(8), v.Value)
	assert.Equal(t, metric.KindCounter, v.Kind)
	assert.Equal(t, metric.TemporalityDelta, v.Temporality)
}

func TestAggregate_DeltaSequence(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitCount)

	readings := [][]uint64{
		{1, 2},
		{4, 2},
		{4, 2},
		{10, 7},
		{11, 9},
	}

	var (
		sum  uint64
		prev uint64
	)

	for i, r := range readings {
		values := a.Aggregate(0, m, r, []int{0, 1})
		require.Len(t, values, 1)

		cur := Sum(r)
		if i > 0 {
			assert.Equal(t, cur-prev, values[0].Value, "tick %d", i)
		}

		sum += values[0].Value
		prev = cur
	}

	// With the first baseline taken as zero the deltas add up to the final total.
	assert.Equal(t, Sum(readings[len(readings)-1]), sum)
}

func TestAggregate_ResetClampsToZero(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitCount)

	a.Aggregate(0, m, []uint64{50, 50}, nil)

	values := a.Aggregate(0, m, []uint64{3, 4}, nil)
	require.Len(t, values, 1)
	assert.Equal(t, uint64(0), values[0].Value)

	// The lower total becomes the new baseline.
	values = a.Aggregate(0, m, []uint64{5, 4}, nil)
	require.Len(t, values, 1)
	assert.Equal(t, uint64(2), values[0].Value)
}

func TestAggregate_TwoDimensionsSameValue(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitCount,
		metric.By(metric.Label{Key: "iface", Value: "eth0"}),
		metric.By(metric.Label{Key: "direction", Value: "rx"}),
	)

	a.Aggregate(0, m, []uint64{1, 1}, nil)

	values := a.Aggregate(0, m, []uint64{4, 3}, nil)
	require.Len(t, values, 2)

	assert.Equal(t, values[0].Value, values[1].Value)
	assert.Equal(t, uint64(5), values[0].Value)
	assert.Equal(t, map[string]string{"iface": "eth0"}, values[0].LabelMap())
	assert.Equal(t, map[string]string{"direction": "rx"}, values[1].LabelMap())
	assert.NotEqual(t, values[0].SeriesKey(), values[1].SeriesKey())
}

func TestAggregate_ScenarioTwoSlotsTwoCPUs(t *testing.T) {
	a := New()
	m0 := metric.NewMetric(packets, metric.UnitCount)
	m1 := metric.NewMetric(drops, metric.UnitCount)

	v0 := a.Aggregate(0, m0, []uint64{5, 3}, []int{0, 1})
	v1 := a.Aggregate(1, m1, []uint64{0, 0}, []int{0, 1})
	assert.Equal(t, uint64(8), v0[0].Value)
	assert.Equal(t, uint64(0), v1[0].Value)

	v0 = a.Aggregate(0, m0, []uint64{6, 4}, []int{0, 1})
	v1 = a.Aggregate(1, m1, []uint64{1, 0}, []int{0, 1})
	assert.Equal(t, uint64(2), v0[0].Value)
	assert.Equal(t, uint64(1), v1[0].Value)
}

func TestAggregate_PerCPU(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitCount,
		metric.By(),
		metric.ByCPU(metric.Label{Key: "iface", Value: "eth0"}),
	)

	values := a.Aggregate(0, m, []uint64{5, 3, 9}, []int{0, 1})
	require.Len(t, values, 3)

	assert.Equal(t, uint64(17), values[0].Value)
	assert.Equal(t, map[string]string{"iface": "eth0", "cpu": "0"}, values[1].LabelMap())
	assert.Equal(t, uint64(5), values[1].Value)
	assert.Equal(t, map[string]string{"iface": "eth0", "cpu": "1"}, values[2].LabelMap())
	assert.Equal(t, uint64(3), values[2].Value)

	values = a.Aggregate(0, m, []uint64{6, 3, 9}, []int{0, 1})
	require.Len(t, values, 3)
	assert.Equal(t, uint64(1), values[0].Value)
	assert.Equal(t, uint64(1), values[1].Value)
	assert.Equal(t, uint64(0), values[2].Value)
}

func TestAggregate_PerCPUDoesNotMutateDimension(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitCount,
		metric.ByCPU(metric.Label{Key: "iface", Value: "eth0"}),
	)

	a.Aggregate(0, m, []uint64{1, 2}, []int{0, 1})

	assert.Len(t, m.Dimensions()[0].Labels, 1)
}

func TestAggregate_Absolute(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitCount).WithMode(metric.ModeAbsolute)

	for _, r := range [][]uint64{{5, 3}, {6, 4}, {1, 0}} {
		values := a.Aggregate(0, m, r, nil)
		require.Len(t, values, 1)
		assert.Equal(t, Sum(r), values[0].Value)
		assert.Equal(t, metric.TemporalityCumulative, values[0].Temporality)
	}

	assert.Zero(t, a.Len())
}

func TestAggregate_SeparateMetricsOverSameCounter(t *testing.T) {
	a := New()
	m := metric.NewMetric(packets, metric.UnitCount)

	a.Aggregate(0, m, []uint64{10}, nil)

	// Same counter, different metric index: no shared baseline.
	values := a.Aggregate(1, m, []uint64{12}, nil)
	require.Len(t, values, 1)
	assert.Equal(t, uint64(12), values[0].Value)
}

func TestAggregate_Reset(t *testing.T) {
	a := New()
	m0 := metric.NewMetric(packets, metric.UnitCount)
	m1 := metric.NewMetric(drops, metric.UnitCount)

	a.Aggregate(0, m0, []uint64{10}, nil)
	a.Aggregate(1, m1, []uint64{20}, nil)
	require.Equal(t, 2, a.Len())

	a.ResetSlot(int(drops.Index))
	assert.Equal(t, 1, a.Len())

	values := a.Aggregate(1, m1, []uint64{25}, nil)
	assert.Equal(t, uint64(25), values[0].Value)

	values = a.Aggregate(0, m0, []uint64{15}, nil)
	assert.Equal(t, uint64(5), values[0].Value)

	a.Reset()
	assert.Zero(t, a.Len())

	values = a.Aggregate(0, m0, []uint64{15}, nil)
	assert.Equal(t, uint64(15), values[0].Value)
}
