package mapreader

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethpandaops/bpfmetrics/internal/metric"
)

// Fixture is an in-memory Reader preloaded by tests with per-tick raw
// values. It is safe for concurrent use.
type Fixture struct {
	mu       sync.Mutex
	slots    int
	cpus     int
	online   []int
	values   [][]uint64
	queued   map[int][][]uint64
	failNext map[int]error
	fail     map[int]error
	reads    int
	closed   bool
}

var _ Reader = (*Fixture)(nil)

// NewFixture creates a Fixture with slots slots of cpus zeroed values.
func NewFixture(slots, cpus int) (*Fixture, error) {
	if slots < 1 {
		return nil, metric.ConfigErrorf("fixture needs at least one slot, got %d", slots)
	}

	if cpus < 1 {
		return nil, metric.ConfigErrorf("fixture needs at least one CPU, got %d", cpus)
	}

	f := &Fixture{
		slots:    slots,
		cpus:     cpus,
		online:   make([]int, cpus),
		values:   make([][]uint64, slots),
		queued:   make(map[int][][]uint64, slots),
		failNext: make(map[int]error),
		fail:     make(map[int]error),
	}

	for i := range cpus {
		f.online[i] = i
	}

	for i := range slots {
		f.values[i] = make([]uint64, cpus)
	}

	return f, nil
}

func (f *Fixture) checkSlot(slot int) error {
	if slot < 0 || slot >= f.slots {
		return metric.ConfigErrorf("slot %d out of range [0, %d)", slot, f.slots)
	}

	return nil
}

func (f *Fixture) checkWidth(values []uint64) error {
	if len(values) != f.cpus {
		return metric.ConfigErrorf(
			"got %d per-CPU values, fixture has %d CPUs", len(values), f.cpus,
		)
	}

	return nil
}

// Set replaces the current per-CPU values of slot.
func (f *Fixture) Set(slot int, values ...uint64) error {
	if err := f.checkSlot(slot); err != nil {
		return err
	}

	if err := f.checkWidth(values); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[slot] = append([]uint64(nil), values...)

	return nil
}

// Queue appends per-tick readings for slot. Each ReadSlot consumes one
// queued reading; once the queue is drained the last reading persists.
func (f *Fixture) Queue(slot int, ticks ...[]uint64) error {
	if err := f.checkSlot(slot); err != nil {
		return err
	}

	for _, values := range ticks {
		if err := f.checkWidth(values); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, values := range ticks {
		f.queued[slot] = append(f.queued[slot], append([]uint64(nil), values...))
	}

	return nil
}

// FailNext makes the next read of slot fail with err.
func (f *Fixture) FailNext(slot int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failNext[slot] = err
}

// Fail makes every read of slot fail with err until cleared with a nil err.
func (f *Fixture) Fail(slot int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.fail, slot)

		return
	}

	f.fail[slot] = err
}

// SetOnline overrides the online CPU list.
func (f *Fixture) SetOnline(cpus ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.online = append([]int(nil), cpus...)
}

// Reads returns how many ReadSlot calls were made.
func (f *Fixture) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reads
}

// Closed reports whether Close was called.
func (f *Fixture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func (f *Fixture) Slots() int { return f.slots }

func (f *Fixture) CPUs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int(nil), f.online...)
}

func (f *Fixture) ReadSlot(_ context.Context, slot int) ([]uint64, error) {
	if err := f.checkSlot(slot); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++

	if err, ok := f.failNext[slot]; ok {
		delete(f.failNext, slot)

		return nil, fmt.Errorf("%w: slot %d: %w", metric.ErrRead, slot, err)
	}

	if err, ok := f.fail[slot]; ok {
		return nil, fmt.Errorf("%w: slot %d: %w", metric.ErrRead, slot, err)
	}

	if q := f.queued[slot]; len(q) > 0 {
		f.values[slot] = q[0]
		f.queued[slot] = q[1:]
	}

	return append([]uint64(nil), f.values[slot]...), nil
}

func (f *Fixture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}
