// Package maps gives userspace handles on the shared map set: the filter
// table written before attach and the two aggregate counter tables read at
// shutdown.
//
// Counters are per-CPU: each CPU increments only its own slot and readers sum
// the slots. Concurrent increments from different CPUs therefore never lose
// updates, at the cost of one slot per CPU per key.
package maps

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"

	"github.com/mrzor/syscall-tracer/internal/bpf"
)

const (
	syscallCapacity = bpf.SyscallCountsMaxEntries
	processCapacity = bpf.ProcessCountsMaxEntries
)

// ErrInvalidCPU is returned for CPU indexes outside the table's slot range.
var ErrInvalidCPU = errors.New("invalid cpu")

// Set is the userspace view of the shared tables.
type Set interface {
	// SetFilter writes one filter entry. Value 0 matches everything.
	SetFilter(key uint32, value uint64) error
	// SyscallCounts returns the per-syscall totals, summed over CPUs.
	SyscallCounts() (map[uint64]uint64, error)
	// ProcessCounts returns the per-PID totals, summed over CPUs.
	ProcessCounts() (map[uint32]uint64, error)
}

// SumPerCPU merges the CPU slots of one per-CPU value.
func SumPerCPU(values []uint64) uint64 {
	var total uint64
	for _, v := range values {
		total += v
	}
	return total
}

// Kernel implements Set on top of loaded BPF maps.
type Kernel struct {
	filter    *ebpf.Map
	syscalls  *ebpf.Map
	processes *ebpf.Map
}

// NewKernel wraps the filter table and the two per-CPU counter tables.
func NewKernel(filter, syscallCounts, processCounts *ebpf.Map) *Kernel {
	return &Kernel{
		filter:    filter,
		syscalls:  syscallCounts,
		processes: processCounts,
	}
}

// SetFilter implements Set.
func (k *Kernel) SetFilter(key uint32, value uint64) error {
	if err := k.filter.Put(key, value); err != nil {
		return fmt.Errorf("writing filter key %d: %w", key, err)
	}
	return nil
}

// SyscallCounts implements Set.
func (k *Kernel) SyscallCounts() (map[uint64]uint64, error) {
	return readPerCPU[uint64](k.syscalls)
}

// ProcessCounts implements Set.
func (k *Kernel) ProcessCounts() (map[uint32]uint64, error) {
	return readPerCPU[uint32](k.processes)
}

func readPerCPU[K comparable](m *ebpf.Map) (map[K]uint64, error) {
	out := make(map[K]uint64)

	var (
		key    K
		values []uint64
	)
	iter := m.Iterate()
	for iter.Next(&key, &values) {
		out[key] = SumPerCPU(values)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", m.String(), err)
	}
	return out, nil
}

// Memory is an in-process Set with the same capacity and per-CPU semantics as
// the kernel tables. The reference probe engine writes into it.
type Memory struct {
	mu        sync.Mutex
	numCPU    int
	filter    map[uint32]uint64
	syscalls  counterTable[uint64]
	processes counterTable[uint32]
}

// NewMemory creates tables with one counter slot per CPU and the default
// kernel capacities.
func NewMemory(numCPU int) *Memory {
	return NewMemoryWithCapacity(numCPU, syscallCapacity, processCapacity)
}

// NewMemoryWithCapacity is NewMemory with explicit table sizes.
func NewMemoryWithCapacity(numCPU, syscallCap, processCap int) *Memory {
	return &Memory{
		numCPU:    numCPU,
		filter:    make(map[uint32]uint64),
		syscalls:  newCounterTable[uint64](syscallCap),
		processes: newCounterTable[uint32](processCap),
	}
}

// NumCPU returns the number of counter slots per key.
func (m *Memory) NumCPU() int {
	return m.numCPU
}

// SetFilter implements Set.
func (m *Memory) SetFilter(key uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter[key] = value
	return nil
}

// Filter returns the filter entry for key and whether it is present.
func (m *Memory) Filter(key uint32) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.filter[key]
	return v, ok
}

// IncrementSyscall bumps the CPU-local slot for nr. It reports false when the
// table is full and the key is new; the increment is dropped.
func (m *Memory) IncrementSyscall(cpu int, nr uint64) (bool, error) {
	if cpu < 0 || cpu >= m.numCPU {
		return false, fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syscalls.increment(m.numCPU, cpu, nr), nil
}

// IncrementProcess bumps the CPU-local slot for pid, see IncrementSyscall.
func (m *Memory) IncrementProcess(cpu int, pid uint32) (bool, error) {
	if cpu < 0 || cpu >= m.numCPU {
		return false, fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processes.increment(m.numCPU, cpu, pid), nil
}

// SyscallCounts implements Set.
func (m *Memory) SyscallCounts() (map[uint64]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syscalls.sum(), nil
}

// ProcessCounts implements Set.
func (m *Memory) ProcessCounts() (map[uint32]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processes.sum(), nil
}

// SyscallSlots returns a copy of the per-CPU slots for nr.
func (m *Memory) SyscallSlots(nr uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.syscalls.slots[nr]...)
}

type counterTable[K comparable] struct {
	capacity int
	slots    map[K][]uint64
}

func newCounterTable[K comparable](capacity int) counterTable[K] {
	return counterTable[K]{capacity: capacity, slots: make(map[K][]uint64)}
}

func (t *counterTable[K]) increment(numCPU, cpu int, key K) bool {
	slots, ok := t.slots[key]
	if !ok {
		if len(t.slots) >= t.capacity {
			return false
		}
		slots = make([]uint64, numCPU)
		t.slots[key] = slots
	}
	slots[cpu]++
	return true
}

func (t *counterTable[K]) sum() map[K]uint64 {
	out := make(map[K]uint64, len(t.slots))
	for k, v := range t.slots {
		out[k] = SumPerCPU(v)
	}
	return out
}
