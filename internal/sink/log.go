package sink

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// LogConfig configures the log sink.
type LogConfig struct {
	Enabled bool `yaml:"enabled"`
	// Level is the level values are logged at. Defaults to info.
	Level string `yaml:"level"`
}

// Validate checks the log level.
func (c LogConfig) Validate() error {
	if !c.Enabled || c.Level == "" {
		return nil
	}

	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return metric.ConfigErrorf("sinks.log.level: %v", err)
	}

	return nil
}

// LogSink writes one structured log entry per value.
type LogSink struct {
	log   logrus.FieldLogger
	level logrus.Level
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a new log sink.
func NewLogSink(log logrus.FieldLogger, cfg LogConfig) *LogSink {
	level := logrus.InfoLevel
	if parsed, err := logrus.ParseLevel(cfg.Level); err == nil {
		level = parsed
	}

	return &LogSink{
		log:   log.WithField("sink", "log"),
		level: level,
	}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(_ context.Context) error {
	s.log.WithField("level", s.level.String()).Info("Log sink started")

	return nil
}

func (s *LogSink) Stop() error { return nil }

func (s *LogSink) Publish(_ context.Context, v metric.Value) error {
	fields := logrus.Fields{
		"metric":      v.Name,
		"value":       v.Value,
		"unit":        string(v.Unit),
		"temporality": v.Temporality.String(),
	}

	for _, l := range v.Labels {
		fields["label_"+l.Key] = l.Value
	}

	entry := s.log.WithFields(fields)

	switch s.level {
	case logrus.TraceLevel:
		entry.Trace("Counter value")
	case logrus.DebugLevel:
		entry.Debug("Counter value")
	case logrus.WarnLevel:
		entry.Warn("Counter value")
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		entry.Error("Counter value")
	default:
		entry.Info("Counter value")
	}

	return nil
}
