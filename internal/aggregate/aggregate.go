// Package aggregate turns raw per-CPU counter readings into published values.
package aggregate

import (
	"strconv"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// noCPU marks state that belongs to a CPU-summed dimension.
const noCPU = -1

type stateKey struct {
	slot      int
	metric    int
	dimension int
	cpu       int
}

// Aggregator sums per-CPU readings and keeps the delta baselines for every
// (metric, dimension) pair. It is not safe for concurrent use; the collector
// drives it from a single goroutine.
type Aggregator struct {
	baselines map[stateKey]uint64
}

// New creates an Aggregator with no baselines.
func New() *Aggregator {
	return &Aggregator{
		baselines: make(map[stateKey]uint64, 64),
	}
}

// Sum returns the wrapping sum of the per-CPU values.
func Sum(perCPU []uint64) uint64 {
	var total uint64

	for _, v := range perCPU {
		total += v
	}

	return total
}

// Aggregate computes one value per dimension of m from a single slot
// reading. metricIdx identifies m among the collector's configured metrics
// so that two metrics over the same counter keep separate baselines.
// PerCPU dimensions expand to one value per online CPU.
func (a *Aggregator) Aggregate(
	metricIdx int,
	m metric.Metric,
	perCPU []uint64,
	online []int,
) []metric.Value {
	dims := m.Dimensions()
	values := make([]metric.Value, 0, len(dims))

	total := Sum(perCPU)

	for dimIdx, dim := range dims {
		if dim.PerCPU {
			for _, cpu := range online {
				var raw uint64
				if cpu >= 0 && cpu < len(perCPU) {
					raw = perCPU[cpu]
				}

				key := stateKey{
					slot:      m.Slot(),
					metric:    metricIdx,
					dimension: dimIdx,
					cpu:       cpu,
				}

				labels := make([]metric.Label, 0, len(dim.Labels)+1)
				labels = append(labels, dim.Labels...)
				labels = append(labels, metric.Label{
					Key:   metric.CPULabel,
					Value: strconv.Itoa(cpu),
				})

				values = append(values, a.value(key, m, labels, raw))
			}

			continue
		}

		key := stateKey{
			slot:      m.Slot(),
			metric:    metricIdx,
			dimension: dimIdx,
			cpu:       noCPU,
		}

		values = append(values, a.value(key, m, append([]metric.Label(nil), dim.Labels...), total))
	}

	return values
}

func (a *Aggregator) value(
	key stateKey,
	m metric.Metric,
	labels []metric.Label,
	total uint64,
) metric.Value {
	v := metric.Value{
		Name:        m.Counter.Name,
		Description: m.Counter.Description,
		Unit:        m.Unit,
		Labels:      labels,
		Kind:        metric.KindCounter,
	}

	if m.Mode == metric.ModeAbsolute {
		v.Value = total
		v.Temporality = metric.TemporalityCumulative

		return v
	}

	v.Temporality = metric.TemporalityDelta
	v.Value = a.delta(key, total)

	return v
}

// delta returns the increase of total over the stored baseline and records
// total as the new baseline. A first reading is measured against zero and a
// decrease (counter reset) yields zero.
func (a *Aggregator) delta(key stateKey, total uint64) uint64 {
	prev, ok := a.baselines[key]
	a.baselines[key] = total

	switch {
	case !ok:
		return total
	case total < prev:
		return 0
	default:
		return total - prev
	}
}

// Reset discards every baseline.
func (a *Aggregator) Reset() {
	clear(a.baselines)
}

// ResetSlot discards the baselines of every metric reading slot.
func (a *Aggregator) ResetSlot(slot int) {
	for key := range a.baselines {
		if key.slot == slot {
			delete(a.baselines, key)
		}
	}
}

// Len returns the number of baselines held.
func (a *Aggregator) Len() int {
	return len(a.baselines)
}
