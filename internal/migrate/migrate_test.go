package migrate

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, versions)
}

func TestEmbeddedCountersTable(t *testing.T) {
	src, err := newSource()
	require.NoError(t, err)
	defer src.Close()

	up, _, err := src.ReadUp(1)
	require.NoError(t, err)
	defer up.Close()

	body, err := io.ReadAll(up)
	require.NoError(t, err)

	for _, col := range []string{
		"updated_date_time", "metric_name", "unit", "labels",
		"value", "temporality", "meta_client_name",
	} {
		assert.Contains(t, string(body), col)
	}

	assert.Contains(t, string(body), "bpf_counters")
}

func TestWithMultiStatement(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"clickhouse://localhost:9000/default", "clickhouse://localhost:9000/default?x-multi-statement=true"},
		{"clickhouse://localhost:9000/default?username=u", "clickhouse://localhost:9000/default?username=u&x-multi-statement=true"},
		{"clickhouse://h/db?x-multi-statement=false", "clickhouse://h/db?x-multi-statement=false"},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, withMultiStatement(tt.dsn))
		})
	}
}

func TestNew_InvalidDSN(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	_, _, err := New(log, "bogus://nowhere").Status(t.Context())
	require.Error(t, err)
}
