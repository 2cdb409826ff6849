// Package mapreader reads per-CPU counter slots from kernel-managed storage.
package mapreader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

const onlineCPUsPath = "/sys/devices/system/cpu/online"

// ErrSlotMissing is wrapped, together with metric.ErrRead, when the storage
// no longer holds a slot, e.g. because the producer recreated the map.
// Totals read after it start from a fresh baseline.
var ErrSlotMissing = errors.New("slot not present")

// Reader reads one raw value per CPU for a slot of the counter array.
type Reader interface {
	// Slots returns the number of slots N the storage is sized for.
	Slots() int
	// CPUs returns the online CPU ids in ascending order. Each id is a
	// valid index into the slice returned by ReadSlot.
	CPUs() []int
	// ReadSlot returns one value per possible CPU for slot. Transient
	// failures wrap metric.ErrRead.
	ReadSlot(ctx context.Context, slot int) ([]uint64, error)
	// Close releases the underlying storage handle.
	Close() error
}

// parseCPUList parses the kernel's cpulist format, e.g. "0-3,6,8-9".
func parseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty cpu list")
	}

	seen := make(map[int]struct{}, 16)
	cpus := make([]int, 0, 16)

	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")

		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("parsing cpu %q: %w", lo, err)
		}

		last := first

		if isRange {
			last, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("parsing cpu %q: %w", hi, err)
			}
		}

		if first < 0 || last < first {
			return nil, fmt.Errorf("invalid cpu range %q", part)
		}

		for cpu := first; cpu <= last; cpu++ {
			if _, ok := seen[cpu]; ok {
				continue
			}

			seen[cpu] = struct{}{}
			cpus = append(cpus, cpu)
		}
	}

	sort.Ints(cpus)

	return cpus, nil
}

// onlineCPUs returns the online CPUs bounded by possible. Any failure to
// read the kernel list falls back to every possible CPU.
func onlineCPUs(path string, possible int) []int {
	all := make([]int, possible)
	for i := range possible {
		all[i] = i
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return all
	}

	cpus, err := parseCPUList(string(data))
	if err != nil {
		return all
	}

	bounded := cpus[:0]

	for _, cpu := range cpus {
		if cpu < possible {
			bounded = append(bounded, cpu)
		}
	}

	if len(bounded) == 0 {
		return all
	}

	return bounded
}
