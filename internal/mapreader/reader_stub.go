//go:build !linux

package mapreader

import (
	"github.com/cilium/ebpf"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// New is unsupported outside Linux.
func New(_ logrus.FieldLogger, _ *ebpf.Map, _ int) (Reader, error) {
	return nil, metric.ConfigErrorf("reading per-CPU maps requires Linux")
}

// OpenPinned is unsupported outside Linux.
func OpenPinned(_ logrus.FieldLogger, path string, _ int) (Reader, error) {
	return nil, metric.ConfigErrorf("opening pinned map %s requires Linux", path)
}

// OpenObject is unsupported outside Linux.
func OpenObject(
	_ logrus.FieldLogger,
	objectPath string,
	_ string,
	_ int,
) (Reader, error) {
	return nil, metric.ConfigErrorf("loading BPF object %s requires Linux", objectPath)
}
