package metric

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/common/model"
)

// CPULabel is the label key added to PerCPU dimensions.
const CPULabel = "cpu"

// Unit is the semantic unit of a published counter.
type Unit string

const (
	UnitCount        Unit = "count"
	UnitBytes        Unit = "bytes"
	UnitPackets      Unit = "packets"
	UnitSeconds      Unit = "seconds"
	UnitMilliseconds Unit = "milliseconds"
	UnitMicroseconds Unit = "microseconds"
	UnitNanoseconds  Unit = "nanoseconds"
	UnitPercent      Unit = "percent"
)

// ParseUnit parses a unit name. An empty string yields UnitCount.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(strings.ToLower(s)); u {
	case "":
		return UnitCount, nil
	case UnitCount, UnitBytes, UnitPackets, UnitSeconds,
		UnitMilliseconds, UnitMicroseconds, UnitNanoseconds, UnitPercent:
		return u, nil
	default:
		return "", ConfigErrorf("unknown unit %q", s)
	}
}

// Mode selects how a counter's total is turned into a published value.
type Mode uint8

const (
	// ModeDelta publishes the increase since the previous tick.
	ModeDelta Mode = iota
	// ModeAbsolute publishes the raw running total.
	ModeAbsolute
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDelta:
		return "delta"
	case ModeAbsolute:
		return "absolute"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// ParseMode parses a mode name. An empty string yields ModeDelta.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "delta":
		return ModeDelta, nil
	case "absolute":
		return ModeAbsolute, nil
	default:
		return 0, ConfigErrorf("unknown mode %q", s)
	}
}

// Label is a single key/value pair attached to a published series.
type Label struct {
	Key   string
	Value string
}

// Dimension is a label-set view under which a counter is published.
// An empty label set is the global unlabeled total. PerCPU dimensions
// are published once per online CPU with an extra cpu label.
type Dimension struct {
	Labels []Label
	PerCPU bool
}

// By returns a Dimension with the given labels.
func By(labels ...Label) Dimension {
	return Dimension{Labels: labels}
}

// ByCPU returns a per-CPU Dimension with the given labels.
func ByCPU(labels ...Label) Dimension {
	return Dimension{Labels: labels, PerCPU: true}
}

// Validate checks the dimension's label data.
func (d Dimension) Validate() error {
	seen := make(map[string]struct{}, len(d.Labels))

	for _, l := range d.Labels {
		if l.Key == "" {
			return ConfigErrorf("label with empty key")
		}

		if !model.LabelName(l.Key).IsValid() {
			return ConfigErrorf("invalid label key %q", l.Key)
		}

		if d.PerCPU && l.Key == CPULabel {
			return ConfigErrorf(
				"label %q is reserved on per-CPU dimensions", CPULabel,
			)
		}

		if _, ok := seen[l.Key]; ok {
			return ConfigErrorf("duplicate label key %q", l.Key)
		}

		seen[l.Key] = struct{}{}
	}

	return nil
}

// Key identifies the series set the dimension publishes, independent of
// label order.
func (d Dimension) Key() string {
	sorted := append([]Label(nil), d.Labels...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})

	var b strings.Builder

	for _, l := range sorted {
		b.WriteString(l.Key)
		b.WriteByte('=')
		b.WriteString(l.Value)
		b.WriteByte(0xff)
	}

	if d.PerCPU {
		b.WriteString(CPULabel)
		b.WriteString("=*")
	}

	return b.String()
}

// Metric binds a counter to a unit, a mode, and an ordered list of
// dimensions. It is immutable after construction.
type Metric struct {
	Counter    CounterID
	Unit       Unit
	Mode       Mode
	dimensions []Dimension
}

// NewMetric creates a delta-mode Metric. Without dimensions the metric is
// published once as a global unlabeled total.
func NewMetric(counter CounterID, unit Unit, dims ...Dimension) Metric {
	if len(dims) == 0 {
		dims = []Dimension{{}}
	}

	copied := make([]Dimension, len(dims))
	for i, d := range dims {
		copied[i] = Dimension{
			Labels: append([]Label(nil), d.Labels...),
			PerCPU: d.PerCPU,
		}
	}

	return Metric{
		Counter:    counter,
		Unit:       unit,
		Mode:       ModeDelta,
		dimensions: copied,
	}
}

// WithMode returns a copy of m using mode.
func (m Metric) WithMode(mode Mode) Metric {
	m.Mode = mode

	return m
}

// Dimensions returns the metric's dimensions in configured order. A Metric
// built without NewMetric has the implicit global dimension.
func (m Metric) Dimensions() []Dimension {
	if len(m.dimensions) == 0 {
		return []Dimension{{}}
	}

	return m.dimensions
}

// Slot returns the counter's slot index.
func (m Metric) Slot() int {
	return int(m.Counter.Index)
}

// Validate checks dimensions, unit, and mode.
func (m Metric) Validate() error {
	if m.Counter.Name == "" {
		return ConfigErrorf("metric has no counter")
	}

	if _, err := ParseUnit(string(m.Unit)); err != nil {
		return fmt.Errorf("metric %q: %w", m.Counter.Name, err)
	}

	if m.Mode != ModeDelta && m.Mode != ModeAbsolute {
		return ConfigErrorf("metric %q: invalid mode %s", m.Counter.Name, m.Mode)
	}

	dims := m.Dimensions()
	seen := make(map[string]int, len(dims))

	for i, d := range dims {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("metric %q dimension %d: %w", m.Counter.Name, i, err)
		}

		key := d.Key()
		if first, ok := seen[key]; ok {
			return ConfigErrorf(
				"metric %q dimensions %d and %d publish the same label set",
				m.Counter.Name, first, i,
			)
		}

		seen[key] = i
	}

	return nil
}
