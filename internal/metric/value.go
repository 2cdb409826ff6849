package metric

import (
	"sort"
	"strings"
)

// Kind is the meter kind of a published value. Only counters exist.
type Kind uint8

const KindCounter Kind = 0

// String returns the kind name.
func (k Kind) String() string { return "counter" }

// Temporality describes whether Value carries an increment or a total.
type Temporality uint8

const (
	TemporalityDelta Temporality = iota
	TemporalityCumulative
)

// String returns the temporality name.
func (t Temporality) String() string {
	if t == TemporalityCumulative {
		return "cumulative"
	}

	return "delta"
}

// Value is one published data point crossing the boundary to a sink.
type Value struct {
	Name        string
	Description string
	Unit        Unit
	Labels      []Label
	Value       uint64
	Kind        Kind
	Temporality Temporality
}

// LabelMap returns the labels as a map.
func (v Value) LabelMap() map[string]string {
	m := make(map[string]string, len(v.Labels))
	for _, l := range v.Labels {
		m[l.Key] = l.Value
	}

	return m
}

// SortedLabels returns a copy of the labels ordered by key.
func (v Value) SortedLabels() []Label {
	sorted := append([]Label(nil), v.Labels...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})

	return sorted
}

// SeriesKey identifies the series a value belongs to: its name plus its
// label set, independent of label order.
func (v Value) SeriesKey() string {
	var b strings.Builder

	b.WriteString(v.Name)

	for _, l := range v.SortedLabels() {
		b.WriteByte(0xff)
		b.WriteString(l.Key)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}

	return b.String()
}
