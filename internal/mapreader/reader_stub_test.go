//go:build !linux

package mapreader

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

func TestStubConstructors(t *testing.T) {
	log := logrus.New()

	_, err := New(log, nil, 64)
	assert.ErrorIs(t, err, metric.ErrConfiguration)

	_, err = OpenPinned(log, "/sys/fs/bpf/COUNTERS", 64)
	assert.ErrorIs(t, err, metric.ErrConfiguration)

	_, err = OpenObject(log, "counters.o", "", 64)
	assert.ErrorIs(t, err, metric.ErrConfiguration)
}
