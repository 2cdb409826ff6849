package metric

import (
	"sort"

	"github.com/prometheus/common/model"
)

const (
	// DefaultCapacity is the number of slots in the kernel counter array
	// when none is configured.
	DefaultCapacity = 64
	// MaxCapacity bounds the configurable number of slots.
	MaxCapacity = 4096
	// DefaultMapName is the well-known name of the per-CPU counter array.
	DefaultMapName = "COUNTERS"
)

// CounterID identifies one logical counter and the slot it occupies
// in the kernel-side per-CPU array.
type CounterID struct {
	Index       uint32
	Name        string
	Description string
}

// Registry maps counter identities to slot indices. It is immutable
// once constructed.
type Registry struct {
	capacity int
	byIndex  map[uint32]CounterID
	byName   map[string]CounterID
}

// NewRegistry validates ids against capacity and returns a Registry.
// Two distinct ids sharing an index, or two indices sharing a name,
// are configuration errors. Registering an identical id twice is allowed.
func NewRegistry(capacity int, ids ...CounterID) (*Registry, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, ConfigErrorf(
			"capacity %d out of range [1, %d]", capacity, MaxCapacity,
		)
	}

	r := &Registry{
		capacity: capacity,
		byIndex:  make(map[uint32]CounterID, len(ids)),
		byName:   make(map[string]CounterID, len(ids)),
	}

	for _, id := range ids {
		if err := r.register(id); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) register(id CounterID) error {
	if id.Name == "" {
		return ConfigErrorf("counter at index %d has no name", id.Index)
	}

	if !model.IsValidMetricName(model.LabelValue(id.Name)) {
		return ConfigErrorf("counter name %q is not a valid metric name", id.Name)
	}

	if int(id.Index) >= r.capacity {
		return ConfigErrorf(
			"counter %q index %d exceeds capacity %d",
			id.Name, id.Index, r.capacity,
		)
	}

	if existing, ok := r.byIndex[id.Index]; ok {
		if existing == id {
			return nil
		}

		return ConfigErrorf(
			"counters %q and %q both use index %d",
			existing.Name, id.Name, id.Index,
		)
	}

	if existing, ok := r.byName[id.Name]; ok {
		return ConfigErrorf(
			"counter name %q used by indices %d and %d",
			id.Name, existing.Index, id.Index,
		)
	}

	r.byIndex[id.Index] = id
	r.byName[id.Name] = id

	return nil
}

// Capacity returns the number of slots N.
func (r *Registry) Capacity() int { return r.capacity }

// Len returns the number of registered counters.
func (r *Registry) Len() int { return len(r.byIndex) }

// Lookup returns the counter registered under name.
func (r *Registry) Lookup(name string) (CounterID, bool) {
	id, ok := r.byName[name]

	return id, ok
}

// At returns the counter registered at slot index.
func (r *Registry) At(index uint32) (CounterID, bool) {
	id, ok := r.byIndex[index]

	return id, ok
}

// Contains reports whether id is registered exactly as given.
func (r *Registry) Contains(id CounterID) bool {
	existing, ok := r.byIndex[id.Index]

	return ok && existing == id
}

// IDs returns all registered counters in ascending index order.
func (r *Registry) IDs() []CounterID {
	ids := make([]CounterID, 0, len(r.byIndex))
	for _, id := range r.byIndex {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Index < ids[j].Index
	})

	return ids
}
