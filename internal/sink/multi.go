package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/export"
	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// Multi fans every value out to a fixed list of sinks in order. A failing
// sink never prevents delivery to the others.
type Multi struct {
	log    logrus.FieldLogger
	sinks  []Sink
	health *export.HealthMetrics

	started []Sink
}

var _ Sink = (*Multi)(nil)

// NewMulti creates a fan-out sink. health may be nil.
func NewMulti(
	log logrus.FieldLogger,
	health *export.HealthMetrics,
	sinks ...Sink,
) *Multi {
	return &Multi{
		log:    log.WithField("sink", "multi"),
		sinks:  sinks,
		health: health,
	}
}

func (m *Multi) Name() string { return "multi" }

// Sinks returns the wrapped sinks.
func (m *Multi) Sinks() []Sink { return m.sinks }

// Start starts every sink in order. If one fails, the sinks already started
// are stopped again.
func (m *Multi) Start(ctx context.Context) error {
	m.started = make([]Sink, 0, len(m.sinks))

	for _, s := range m.sinks {
		if err := s.Start(ctx); err != nil {
			if stopErr := m.Stop(); stopErr != nil {
				m.log.WithError(stopErr).Warn("Failed to stop sinks after start failure")
			}

			return fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		m.started = append(m.started, s)

		m.log.WithField("sink", s.Name()).Info("Sink started")
	}

	return nil
}

// Stop stops started sinks in reverse order.
func (m *Multi) Stop() error {
	var errs []error

	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]

		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping sink %s: %w", s.Name(), err))
		}
	}

	m.started = nil

	return errors.Join(errs...)
}

// Publish delivers v to every sink. The returned error joins each sink's
// failure and wraps metric.ErrPublish.
func (m *Multi) Publish(ctx context.Context, v metric.Value) error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.Publish(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))

			if m.health != nil {
				m.health.PublishErrors.WithLabelValues(s.Name()).Inc()
			}

			continue
		}

		if m.health != nil {
			m.health.ValuesPublished.WithLabelValues(s.Name()).Inc()
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", metric.ErrPublish, errors.Join(errs...))
}
