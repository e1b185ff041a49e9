package procmeta

import (
	"sync"
)

// Manager maps PIDs to the last task name observed. Collectors write to it
// from every CPU; the reporter reads it when printing the summary.
type Manager struct {
	mu    sync.RWMutex
	procs map[uint32]*ProcessInfo
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		procs: make(map[uint32]*ProcessInfo),
	}
}

// Observe records that pid was seen running as comm.
func (m *Manager) Observe(pid uint32, comm string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.procs[pid]
	if info == nil {
		info = &ProcessInfo{}
		m.procs[pid] = info
	}
	info.Comm = comm
	info.Events++
}

// Get returns a copy of what is known about pid.
func (m *Manager) Get(pid uint32) (ProcessInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.procs[pid]
	if !ok {
		return ProcessInfo{}, false
	}
	return *info, true
}

// Comm returns the last observed task name of pid. PIDs never seen in an
// event fall back to /proc, and to "" when the process is gone.
func (m *Manager) Comm(pid uint32) string {
	if info, ok := m.Get(pid); ok {
		return info.Comm
	}
	comm, err := ReadComm(pid)
	if err != nil {
		return ""
	}
	return comm
}

// Delete forgets pid.
func (m *Manager) Delete(pid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, pid)
}

// Len returns the number of tracked PIDs.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.procs)
}
