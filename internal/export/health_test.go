package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func startHealth(t *testing.T) *HealthMetrics {
	t.Helper()

	h := NewHealthMetrics(testLog(), HealthConfig{
		Addr: "127.0.0.1:0",
	})

	ctx := context.Background()
	require.NoError(t, h.Start(ctx))

	t.Cleanup(func() {
		h.Stop()
	})

	// Give server a moment to start serving.
	time.Sleep(50 * time.Millisecond)

	return h
}

func TestHealthMetrics_StartStop(t *testing.T) {
	h := startHealth(t)
	assert.True(t, h.running.Load())
	assert.NotEmpty(t, h.Addr())
}

func TestHealthMetrics_CounterIncrement(t *testing.T) {
	h := startHealth(t)

	h.TicksTotal.Inc()
	h.TicksTotal.Inc()
	h.TicksTotal.Inc()
	h.SlotReadErrors.WithLabelValues("packets_total").Inc()
	h.ValuesPublished.WithLabelValues("log").Add(4)
	h.CountersConfigured.Set(5)
	h.MapSlots.Set(64)

	url := fmt.Sprintf("http://%s/metrics", h.Addr())

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bodyStr := string(body)
	assert.Contains(t, bodyStr, "bpfmetrics_ticks_total 3")
	assert.Contains(t, bodyStr, `bpfmetrics_slot_read_errors_total{counter="packets_total"} 1`)
	assert.Contains(t, bodyStr, `bpfmetrics_values_published_total{sink="log"} 4`)
	assert.Contains(t, bodyStr, "bpfmetrics_counters_configured 5")
	assert.Contains(t, bodyStr, "bpfmetrics_map_slots 64")
}

func TestHealthMetrics_HealthzResponse(t *testing.T) {
	h := startHealth(t)

	url := fmt.Sprintf("http://%s/healthz", h.Addr())

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestHealthMetrics_StopIdempotent(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{})

	assert.NoError(t, h.Stop())
	assert.NoError(t, h.Stop())
}

func TestHealthMetrics_AddrBeforeStart(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{
		Addr: ":9999",
	})

	// Before Start, Addr returns the configured address.
	assert.Equal(t, ":9999", h.Addr())
}

func TestHealthMetrics_RegistryServesExtraCollectors(t *testing.T) {
	h := startHealth(t)

	extra := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "packets_total",
		Help: "Packets seen.",
	})
	extra.Add(7)
	require.NoError(t, h.Registry().Register(extra))

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", h.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "packets_total 7")
}

func TestHealthMetrics_ServesAddedGatherers(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{Addr: "127.0.0.1:0"})

	sinkReg := prometheus.NewRegistry()
	drops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drops_total",
		Help: "Drops seen.",
	})
	drops.Add(3)
	sinkReg.MustRegister(drops)

	h.AddGatherer(sinkReg)
	h.TicksTotal.Inc()

	families, err := h.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}

	assert.Contains(t, names, "drops_total")
	assert.Contains(t, names, "bpfmetrics_ticks_total")
}
