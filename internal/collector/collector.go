// Package collector runs the periodic read-aggregate-publish loop over a
// per-CPU counter map.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/aggregate"
	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/mapreader"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// DefaultInterval is the time between passes when none is configured.
const DefaultInterval = 60 * time.Second

// Publisher accepts published values. Implementations may be slow or fail;
// the collector logs and counts failures and moves on.
type Publisher interface {
	Publish(ctx context.Context, v metric.Value) error
}

// Config configures the collector loop.
type Config struct {
	// Interval between passes. Defaults to 60s.
	Interval time.Duration `yaml:"interval"`
}

// State is the lifecycle state of a Collector.
type State uint8

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// TickInfo summarises one pass.
type TickInfo struct {
	SlotsRead       int
	SlotsFailed     int
	ValuesPublished int
	PublishErrors   int
	Duration        time.Duration
}

type planEntry struct {
	index  int
	metric metric.Metric
}

type slotPlan struct {
	slot    int
	counter metric.CounterID
	metrics []planEntry
}

// Collector periodically reads every referenced slot, aggregates the
// readings, and publishes the results.
type Collector struct {
	log       logrus.FieldLogger
	reader    mapreader.Reader
	registry  *metric.Registry
	metrics   []metric.Metric
	plan      []slotPlan
	publisher Publisher
	interval  time.Duration
	health    *export.HealthMetrics
	agg       *aggregate.Aggregator

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the configuration and returns a Collector in the Created
// state. Any mismatch between the registry, the metrics, and the reader
// fails with metric.ErrConfiguration. health may be nil.
func New(
	log logrus.FieldLogger,
	reader mapreader.Reader,
	registry *metric.Registry,
	metrics []metric.Metric,
	publisher Publisher,
	cfg Config,
	health *export.HealthMetrics,
) (*Collector, error) {
	if reader == nil {
		return nil, metric.ConfigErrorf("nil map reader")
	}

	if registry == nil {
		return nil, metric.ConfigErrorf("nil counter registry")
	}

	if publisher == nil {
		return nil, metric.ConfigErrorf("nil publisher")
	}

	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.Interval < 0 {
		return nil, metric.ConfigErrorf("interval must be positive, got %s", cfg.Interval)
	}

	if registry.Capacity() != reader.Slots() {
		return nil, metric.ConfigErrorf(
			"registry capacity %d does not match map size %d",
			registry.Capacity(), reader.Slots(),
		)
	}

	if len(metrics) == 0 {
		return nil, metric.ConfigErrorf("no metrics configured")
	}

	plan, err := buildPlan(registry, reader.Slots(), metrics)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		log:       log.WithField("component", "collector"),
		reader:    reader,
		registry:  registry,
		metrics:   append([]metric.Metric(nil), metrics...),
		plan:      plan,
		publisher: publisher,
		interval:  cfg.Interval,
		health:    health,
		agg:       aggregate.New(),
		state:     StateCreated,
		done:      make(chan struct{}),
	}

	if health != nil {
		health.CountersConfigured.Set(float64(registry.Len()))
		health.MetricsConfigured.Set(float64(len(metrics)))
		health.MapSlots.Set(float64(reader.Slots()))
		health.CPUsOnline.Set(float64(len(reader.CPUs())))
	}

	return c, nil
}

// buildPlan groups metrics by slot. Slots are visited in ascending order
// and, within a slot, metrics keep their configured order.
func buildPlan(
	registry *metric.Registry,
	slots int,
	metrics []metric.Metric,
) ([]slotPlan, error) {
	bySlot := make(map[int]*slotPlan, len(metrics))

	// counter name + dimension key -> metric index
	series := make(map[string]int, len(metrics))

	for i, m := range metrics {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("metric %d: %w", i, err)
		}

		for _, d := range m.Dimensions() {
			key := m.Counter.Name + "\x00" + d.Key()
			if first, ok := series[key]; ok && first != i {
				return nil, metric.ConfigErrorf(
					"metrics %d and %d publish %q under the same label set",
					first, i, m.Counter.Name,
				)
			}

			series[key] = i
		}

		if !registry.Contains(m.Counter) {
			return nil, metric.ConfigErrorf(
				"metric %d references unregistered counter %q at index %d",
				i, m.Counter.Name, m.Counter.Index,
			)
		}

		slot := m.Slot()
		if slot >= slots {
			return nil, metric.ConfigErrorf(
				"counter %q index %d out of range [0, %d)",
				m.Counter.Name, slot, slots,
			)
		}

		p, ok := bySlot[slot]
		if !ok {
			p = &slotPlan{slot: slot, counter: m.Counter}
			bySlot[slot] = p
		}

		p.metrics = append(p.metrics, planEntry{index: i, metric: m})
	}

	plan := make([]slotPlan, 0, len(bySlot))
	for _, p := range bySlot {
		plan = append(plan, *p)
	}

	sort.Slice(plan, func(i, j int) bool {
		return plan[i].slot < plan[j].slot
	})

	return plan, nil
}

// Start runs a first pass immediately and then one pass per interval until
// ctx is cancelled or Stop is called. Starting a collector that is not in
// the Created state fails with metric.ErrLifecycle.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCreated {
		return fmt.Errorf("%w: cannot start collector in state %s", metric.ErrLifecycle, c.state)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.state = StateRunning

	go c.runLoop(ctx)

	c.log.WithFields(logrus.Fields{
		"interval": c.interval.String(),
		"slots":    len(c.plan),
		"metrics":  len(c.metrics),
	}).Info("Collector started")

	return nil
}

// Stop cancels the loop, waits for an in-flight pass to finish, and
// discards all baselines. Stopping a stopped collector is a no-op.
func (c *Collector) Stop() error {
	c.mu.Lock()

	switch c.state {
	case StateStopped:
		c.mu.Unlock()

		return nil
	case StateCreated:
		c.state = StateStopped
		close(c.done)
		c.mu.Unlock()

		return nil
	}

	c.cancel()
	c.mu.Unlock()

	<-c.done

	c.log.Info("Collector stopped")

	return nil
}

// Done is closed once the collector has stopped.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Collector) runLoop(ctx context.Context) {
	defer func() {
		c.agg.Reset()

		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()

		close(c.done)
	}()

	// An in-flight pass completes even when ctx is cancelled mid-way.
	tickCtx := context.WithoutCancel(ctx)

	c.tick(tickCtx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Prefer exiting when both are ready.
			if ctx.Err() != nil {
				return
			}

			c.tick(tickCtx)
		}
	}
}

// tick performs one read-aggregate-publish pass.
func (c *Collector) tick(ctx context.Context) TickInfo {
	start := time.Now()

	var info TickInfo

	online := c.reader.CPUs()

	for _, p := range c.plan {
		perCPU, err := c.reader.ReadSlot(ctx, p.slot)
		if err != nil {
			info.SlotsFailed++

			c.log.WithError(err).WithFields(logrus.Fields{
				"slot":    p.slot,
				"counter": p.counter.Name,
			}).Warn("Failed to read counter slot")

			if c.health != nil {
				c.health.SlotReadErrors.WithLabelValues(p.counter.Name).Inc()
			}

			if errors.Is(err, mapreader.ErrSlotMissing) {
				c.agg.ResetSlot(p.slot)

				c.log.WithField("slot", p.slot).
					Info("Counter slot missing, baselines reset")
			}

			continue
		}

		info.SlotsRead++

		for _, e := range p.metrics {
			for _, v := range c.agg.Aggregate(e.index, e.metric, perCPU, online) {
				if err := c.publisher.Publish(ctx, v); err != nil {
					info.PublishErrors++

					c.logPublishError(err, v)

					if c.health != nil {
						c.health.PublishFailures.Inc()
					}

					continue
				}

				info.ValuesPublished++
			}
		}
	}

	info.Duration = time.Since(start)

	if c.health != nil {
		c.health.TicksTotal.Inc()
		c.health.TickDuration.Observe(info.Duration.Seconds())
		c.health.LastTickTimestamp.Set(float64(time.Now().Unix()))
	}

	c.log.WithFields(logrus.Fields{
		"slots_read":       info.SlotsRead,
		"slots_failed":     info.SlotsFailed,
		"values_published": info.ValuesPublished,
		"publish_errors":   info.PublishErrors,
		"duration":         info.Duration.String(),
	}).Debug("Collector tick complete")

	return info
}

func (c *Collector) logPublishError(err error, v metric.Value) {
	c.log.WithError(err).WithFields(logrus.Fields{
		"metric": v.Name,
		"labels": v.LabelMap(),
	}).Warn("Failed to publish value")
}
