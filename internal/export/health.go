package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
)

const namespace = "bpfmetrics"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics about the collector itself.
// Additional gatherers, such as the Prometheus sink, are served alongside.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	mu        sync.Mutex
	gatherers prometheus.Gatherers

	// Collector loop
	TicksTotal        prometheus.Counter
	TickDuration      prometheus.Histogram
	LastTickTimestamp prometheus.Gauge
	SlotReadErrors    *prometheus.CounterVec // counter
	PublishFailures   prometheus.Counter

	// Configuration
	CountersConfigured prometheus.Gauge
	MetricsConfigured  prometheus.Gauge
	MapSlots           prometheus.Gauge
	CPUsOnline         prometheus.Gauge

	// Sinks
	ValuesPublished *prometheus.CounterVec // sink
	PublishErrors   *prometheus.CounterVec // sink

	// Export layer
	ClickHouseConnected *prometheus.GaugeVec     // sink
	ExportBatchErrors   *prometheus.CounterVec   // sink, error_type
	SinkFlushDuration   *prometheus.HistogramVec // sink
	SinkBatchSize       *prometheus.HistogramVec // sink

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total read-aggregate-publish passes.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a single read-aggregate-publish pass.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, // 100us-500ms
		}),
		LastTickTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time at which the last pass completed.",
		}),
		SlotReadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slot_read_errors_total",
				Help:      "Total failed counter slot reads by counter.",
			},
			[]string{"counter"},
		),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total values that at least one sink failed to accept.",
		}),
		CountersConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "counters_configured",
			Help:      "Number of registered counters.",
		}),
		MetricsConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metrics_configured",
			Help:      "Number of configured metrics.",
		}),
		MapSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "map_slots",
			Help:      "Number of slots in the counter map.",
		}),
		CPUsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpus_online",
			Help:      "Number of online CPUs read per slot.",
		}),
		ValuesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "values_published_total",
				Help:      "Total values accepted by sink.",
			},
			[]string{"sink"},
		),
		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_errors_total",
				Help:      "Total values rejected by sink.",
			},
			[]string{"sink"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_batch_errors_total",
				Help:      "Total export batch errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		SinkFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_flush_duration_seconds",
				Help:      "Time to flush a batch by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
			},
			[]string{"sink"},
		),
		SinkBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_batch_size",
				Help:      "Number of rows per batch flush by sink.",
				Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		h.TicksTotal,
		h.TickDuration,
		h.LastTickTimestamp,
		h.SlotReadErrors,
		h.PublishFailures,
	)

	reg.MustRegister(
		h.CountersConfigured,
		h.MetricsConfigured,
		h.MapSlots,
		h.CPUsOnline,
	)

	reg.MustRegister(
		h.ValuesPublished,
		h.PublishErrors,
		h.ClickHouseConnected,
		h.ExportBatchErrors,
		h.SinkFlushDuration,
		h.SinkBatchSize,
	)

	return h
}

// Registry returns the registry served at /metrics.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// AddGatherer serves g on /metrics next to the health metrics.
func (h *HealthMetrics) AddGatherer(g prometheus.Gatherer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gatherers = append(h.gatherers, g)
}

// Gather collects the health metrics and every added gatherer.
func (h *HealthMetrics) Gather() ([]*dto.MetricFamily, error) {
	h.mu.Lock()
	all := make(prometheus.Gatherers, 0, len(h.gatherers)+1)
	all = append(all, h.registry)
	all = append(all, h.gatherers...)
	h.mu.Unlock()

	return all.Gather()
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.GathererFunc(h.Gather),
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	srv := &http.Server{
		Handler: mux,
	}

	h.server = srv
	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := srv.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	err := h.server.Close()
	h.server = nil

	return err
}
