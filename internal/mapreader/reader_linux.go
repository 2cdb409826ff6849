//go:build linux

package mapreader

import (
	"context"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

const counterValueSize = 8

type mapReader struct {
	log      logrus.FieldLogger
	m        *ebpf.Map
	coll     *ebpf.Collection
	slots    int
	possible int
	online   []int
}

var _ Reader = (*mapReader)(nil)

// New wraps an already loaded per-CPU array map. The map must hold
// exactly slots entries of 8-byte counters, and a read of slot 0
// must return one value per possible CPU.
func New(log logrus.FieldLogger, m *ebpf.Map, slots int) (Reader, error) {
	return newMapReader(log, m, nil, slots)
}

// OpenPinned opens a per-CPU array pinned in bpffs at path.
func OpenPinned(log logrus.FieldLogger, path string, slots int) (Reader, error) {
	m, err := ebpf.LoadPinnedMap(path, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		return nil, metric.ConfigErrorf("loading pinned map %s: %v", path, err)
	}

	r, err := newMapReader(log, m, nil, slots)
	if err != nil {
		m.Close()

		return nil, err
	}

	return r, nil
}

// OpenObject loads the BPF object file at objectPath and reads the map
// called mapName from it. The collection is kept open until Close.
func OpenObject(
	log logrus.FieldLogger,
	objectPath string,
	mapName string,
	slots int,
) (Reader, error) {
	if mapName == "" {
		mapName = metric.DefaultMapName
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		log.WithError(err).Warn("Failed to remove memlock rlimit")
	}

	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return nil, metric.ConfigErrorf("loading BPF spec %s: %v", objectPath, err)
	}

	ms, ok := spec.Maps[mapName]
	if !ok {
		return nil, metric.ConfigErrorf("map %q not found in %s", mapName, objectPath)
	}

	if int(ms.MaxEntries) != slots {
		return nil, metric.ConfigErrorf(
			"map %q declares %d entries, expected %d",
			mapName, ms.MaxEntries, slots,
		)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, metric.ConfigErrorf("loading BPF objects: %v", err)
	}

	r, err := newMapReader(log, coll.Maps[mapName], coll, slots)
	if err != nil {
		coll.Close()

		return nil, err
	}

	return r, nil
}

func newMapReader(
	log logrus.FieldLogger,
	m *ebpf.Map,
	coll *ebpf.Collection,
	slots int,
) (*mapReader, error) {
	if m == nil {
		return nil, metric.ConfigErrorf("nil counter map")
	}

	if m.Type() != ebpf.PerCPUArray {
		return nil, metric.ConfigErrorf(
			"counter map has type %s, expected %s", m.Type(), ebpf.PerCPUArray,
		)
	}

	if m.KeySize() != 4 || m.ValueSize() != counterValueSize {
		return nil, metric.ConfigErrorf(
			"counter map has key/value size %d/%d, expected 4/%d",
			m.KeySize(), m.ValueSize(), counterValueSize,
		)
	}

	if int(m.MaxEntries()) != slots {
		return nil, metric.ConfigErrorf(
			"counter map has %d entries, expected %d", m.MaxEntries(), slots,
		)
	}

	possible, err := ebpf.PossibleCPU()
	if err != nil {
		return nil, metric.ConfigErrorf("reading possible CPUs: %v", err)
	}

	// The per-CPU layout must match the running kernel.
	var first []uint64
	if err := m.Lookup(uint32(0), &first); err != nil {
		return nil, metric.ConfigErrorf("reading slot 0 of counter map: %v", err)
	}

	if len(first) != possible {
		return nil, metric.ConfigErrorf(
			"counter map holds %d values per slot, running with %d CPUs",
			len(first), possible,
		)
	}

	r := &mapReader{
		log:      log.WithField("component", "mapreader"),
		m:        m,
		coll:     coll,
		slots:    slots,
		possible: possible,
		online:   onlineCPUs(onlineCPUsPath, possible),
	}

	r.log.WithFields(logrus.Fields{
		"slots":          slots,
		"possible_cpus":  possible,
		"online_cpus":    len(r.online),
		"kernel_release": kernelRelease(),
	}).Info("Counter map opened")

	return r, nil
}

func (r *mapReader) Slots() int { return r.slots }

func (r *mapReader) CPUs() []int { return r.online }

func (r *mapReader) ReadSlot(_ context.Context, slot int) ([]uint64, error) {
	if slot < 0 || slot >= r.slots {
		return nil, metric.ConfigErrorf(
			"slot %d out of range [0, %d)", slot, r.slots,
		)
	}

	values := make([]uint64, 0, r.possible)

	if err := r.m.Lookup(uint32(slot), &values); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return nil, fmt.Errorf("%w: %w: slot %d: %v", metric.ErrRead, ErrSlotMissing, slot, err)
		}

		return nil, fmt.Errorf("%w: looking up slot %d: %v", metric.ErrRead, slot, err)
	}

	return values, nil
}

func (r *mapReader) Close() error {
	if r.coll != nil {
		r.coll.Close()
		r.coll = nil
		r.m = nil

		return nil
	}

	if r.m != nil {
		err := r.m.Close()
		r.m = nil

		return err
	}

	return nil
}

func kernelRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "unknown"
	}

	return unix.ByteSliceToString(uts.Release[:])
}
