package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpexport "github.com/ethpandaops/bpfmetrics/internal/export/http"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

func TestHTTPSink_PostsNDJSON(t *testing.T) {
	var (
		mu    sync.Mutex
		items []ValueJSON
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		scanner := bufio.NewScanner(bytes.NewReader(body))
		for scanner.Scan() {
			var item ValueJSON
			if err := json.Unmarshal(scanner.Bytes(), &item); err == nil {
				mu.Lock()
				items = append(items, item)
				mu.Unlock()
			}
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(testLog(), HTTPConfig{
		Enabled:        true,
		Address:        srv.URL,
		Compression:    httpexport.CompressionNone,
		BatchSize:      10,
		BatchTimeout:   20 * time.Millisecond,
		MetaClientName: "node-1",
	}, nil)
	require.NoError(t, err)

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Start(context.Background()))

	v := value("packets_total", 42, metric.Label{Key: "iface", Value: "eth0"})
	v.Unit = metric.UnitPackets
	require.NoError(t, s.Publish(context.Background(), v))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())

	mu.Lock()
	got := items[0]
	mu.Unlock()

	assert.Equal(t, "packets_total", got.MetricName)
	assert.Equal(t, uint64(42), got.Value)
	assert.Equal(t, "packets", got.Unit)
	assert.Equal(t, "counter", got.Kind)
	assert.Equal(t, "delta", got.Temporality)
	assert.Equal(t, map[string]string{"iface": "eth0"}, got.Labels)
	assert.Equal(t, "node-1", got.MetaClientName)
	assert.Equal(t, "2024-05-01T12:00:00Z", got.UpdatedDateTime)
}

func TestHTTPSink_InvalidConfig(t *testing.T) {
	_, err := NewHTTPSink(testLog(), HTTPConfig{Enabled: true}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, metric.ErrConfiguration)
}
