package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetric_DefaultsToGlobalDimension(t *testing.T) {
	m := NewMetric(packets, UnitCount)

	require.Len(t, m.Dimensions(), 1)
	assert.Empty(t, m.Dimensions()[0].Labels)
	assert.False(t, m.Dimensions()[0].PerCPU)
	assert.Equal(t, ModeDelta, m.Mode)
	assert.Equal(t, 0, m.Slot())
}

func TestNewMetric_PreservesDimensionOrder(t *testing.T) {
	host := Label{Key: "hostname", Value: "test.hostname"}
	iface := Label{Key: "interface", Value: "tst0"}

	m := NewMetric(packets, UnitCount,
		By(),
		By(host),
		ByCPU(host, iface),
	)

	dims := m.Dimensions()
	require.Len(t, dims, 3)
	assert.Empty(t, dims[0].Labels)
	assert.Equal(t, []Label{host}, dims[1].Labels)
	assert.True(t, dims[2].PerCPU)
	assert.Equal(t, []Label{host, iface}, dims[2].Labels)
	require.NoError(t, m.Validate())
}

func TestNewMetric_CopiesLabels(t *testing.T) {
	labels := []Label{{Key: "a", Value: "1"}}
	m := NewMetric(packets, UnitCount, Dimension{Labels: labels})

	labels[0].Value = "changed"

	assert.Equal(t, "1", m.Dimensions()[0].Labels[0].Value)
}

func TestMetric_WithMode(t *testing.T) {
	m := NewMetric(bytes, UnitBytes).WithMode(ModeAbsolute)
	assert.Equal(t, ModeAbsolute, m.Mode)
	assert.Equal(t, "absolute", m.Mode.String())
}

func TestDimension_Validate(t *testing.T) {
	tests := []struct {
		name    string
		dim     Dimension
		wantErr string
	}{
		{
			name: "empty is global",
			dim:  By(),
		},
		{
			name:    "empty key",
			dim:     By(Label{Key: "", Value: "x"}),
			wantErr: "empty key",
		},
		{
			name: "duplicate key",
			dim: By(
				Label{Key: "host", Value: "a"},
				Label{Key: "host", Value: "b"},
			),
			wantErr: "duplicate label key",
		},
		{
			name:    "reserved cpu on per-cpu",
			dim:     ByCPU(Label{Key: CPULabel, Value: "0"}),
			wantErr: "reserved",
		},
		{
			name: "cpu allowed on plain dimension",
			dim:  By(Label{Key: CPULabel, Value: "all"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dim.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMetric_ValidateRejectsRepeatedLabelSet(t *testing.T) {
	counter := CounterID{Index: 0, Name: "packets_total"}
	eth0 := Label{Key: "iface", Value: "eth0"}
	rx := Label{Key: "dir", Value: "rx"}

	tests := []struct {
		name    string
		dims    []Dimension
		wantErr bool
	}{
		{name: "two global dimensions", dims: []Dimension{By(), By()}, wantErr: true},
		{name: "same labels in another order", dims: []Dimension{By(eth0, rx), By(rx, eth0)}, wantErr: true},
		{name: "two per-cpu dimensions", dims: []Dimension{ByCPU(eth0), ByCPU(eth0)}, wantErr: true},
		{name: "overlapping label sets", dims: []Dimension{By(), By(eth0), By(eth0, rx)}},
		{name: "global and per-cpu", dims: []Dimension{By(), ByCPU()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewMetric(counter, UnitCount, tt.dims...).Validate()
			if !tt.wantErr {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), "same label set")
		})
	}
}

func TestMetric_LiteralHasGlobalDimension(t *testing.T) {
	m := Metric{Counter: CounterID{Index: 2, Name: "drops_total"}, Unit: UnitCount}

	require.NoError(t, m.Validate())
	require.Len(t, m.Dimensions(), 1)
	assert.Empty(t, m.Dimensions()[0].Labels)
	assert.False(t, m.Dimensions()[0].PerCPU)
}

func TestDimension_Key(t *testing.T) {
	a := Label{Key: "a", Value: "1"}
	b := Label{Key: "b", Value: "2"}

	assert.Equal(t, By(a, b).Key(), By(b, a).Key())
	assert.NotEqual(t, By(a).Key(), ByCPU(a).Key())
	assert.NotEqual(t, By(a).Key(), By(a, b).Key())
}

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("")
	require.NoError(t, err)
	assert.Equal(t, UnitCount, u)

	u, err = ParseUnit("Bytes")
	require.NoError(t, err)
	assert.Equal(t, UnitBytes, u)

	_, err = ParseUnit("furlongs")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDelta, m)

	m, err = ParseMode("absolute")
	require.NoError(t, err)
	assert.Equal(t, ModeAbsolute, m)

	_, err = ParseMode("rate")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestValue_SeriesKeyIgnoresLabelOrder(t *testing.T) {
	a := Value{Name: "x", Labels: []Label{{"a", "1"}, {"b", "2"}}}
	b := Value{Name: "x", Labels: []Label{{"b", "2"}, {"a", "1"}}}
	c := Value{Name: "x", Labels: []Label{{"a", "1"}}}

	assert.Equal(t, a.SeriesKey(), b.SeriesKey())
	assert.NotEqual(t, a.SeriesKey(), c.SeriesKey())
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, a.LabelMap())
}
