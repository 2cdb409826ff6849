package sink

import (
	"sort"
	"sync"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// series is one accumulated counter series.
type series struct {
	key   string
	value metric.Value
}

// cumulativeStore turns a stream of values into running totals per series.
// Delta values are added to the total and cumulative values replace it.
// Pull-based backends read snapshots of the totals.
type cumulativeStore struct {
	mu     sync.RWMutex
	series map[string]*series
	names  map[string]metric.Value
}

func newCumulativeStore() *cumulativeStore {
	return &cumulativeStore{
		series: make(map[string]*series, 64),
		names:  make(map[string]metric.Value, 16),
	}
}

// Add folds v into its series. It reports whether v introduced a new
// metric name.
func (s *cumulativeStore) Add(v metric.Value) bool {
	key := v.SeriesKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, known := s.names[v.Name]
	if !known {
		s.names[v.Name] = metric.Value{
			Name:        v.Name,
			Description: v.Description,
			Unit:        v.Unit,
			Kind:        v.Kind,
		}
	}

	ser, ok := s.series[key]
	if !ok {
		ser = &series{
			key: key,
			value: metric.Value{
				Name:        v.Name,
				Description: v.Description,
				Unit:        v.Unit,
				Labels:      v.SortedLabels(),
				Kind:        v.Kind,
				Temporality: metric.TemporalityCumulative,
			},
		}
		s.series[key] = ser
	}

	if v.Temporality == metric.TemporalityCumulative {
		ser.value.Value = v.Value
	} else {
		ser.value.Value += v.Value
	}

	return !known
}

// Snapshot returns every series ordered by series key.
func (s *cumulativeStore) Snapshot() []metric.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metric.Value, 0, len(s.series))
	for _, ser := range s.sortedLocked() {
		out = append(out, ser.value)
	}

	return out
}

// SnapshotName returns the series of a single metric name.
func (s *cumulativeStore) SnapshotName(name string) []metric.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metric.Value, 0, 8)

	for _, ser := range s.sortedLocked() {
		if ser.value.Name == name {
			out = append(out, ser.value)
		}
	}

	return out
}

// Describe returns the first value seen for name, without labels.
func (s *cumulativeStore) Describe(name string) (metric.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.names[name]

	return v, ok
}

// Len returns the number of series.
func (s *cumulativeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.series)
}

func (s *cumulativeStore) sortedLocked() []*series {
	sorted := make([]*series, 0, len(s.series))
	for _, ser := range s.series {
		sorted = append(sorted, ser)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].key < sorted[j].key
	})

	return sorted
}
