// Package probe is an in-process model of the kernel program built by
// bpf.ProbeInstructions. Given the same filter table and syscall it makes the
// same decisions and produces the same counters and event bytes, which lets
// the userspace pipeline run without a kernel.
package probe

import (
	"github.com/mrzor/syscall-tracer/internal/bpf"
	"github.com/mrzor/syscall-tracer/internal/channel"
	"github.com/mrzor/syscall-tracer/internal/maps"
)

// Outcome describes what one invocation did.
type Outcome int

const (
	// Filtered means a filter entry rejected the syscall. Nothing was touched.
	Filtered Outcome = iota
	// Emitted means counters were updated and the event was pushed.
	Emitted
	// Dropped means counters were updated but the CPU channel was full.
	Dropped
	// NoComm means counters were updated but the task name could not be read,
	// so no event was built.
	NoComm
)

func (o Outcome) String() string {
	switch o {
	case Filtered:
		return "filtered"
	case Emitted:
		return "emitted"
	case Dropped:
		return "dropped"
	case NoComm:
		return "no_comm"
	default:
		return "unknown"
	}
}

// Context is what the kernel hands the program on syscall entry.
type Context struct {
	CPU         int
	PidTgid     uint64
	SyscallNr   uint64
	TimestampNs uint64
	Comm        string
	// CommErr simulates bpf_get_current_comm failing.
	CommErr error
}

// Engine runs the probe logic against in-memory tables and channels.
type Engine struct {
	maps   *maps.Memory
	events *channel.RingSet
}

// New returns an engine writing counters to m and events to events.
func New(m *maps.Memory, events *channel.RingSet) *Engine {
	return &Engine{maps: m, events: events}
}

// Handle processes one syscall entry.
func (e *Engine) Handle(c Context) Outcome {
	pid, tid := bpf.SplitPidTgid(c.PidTgid)

	if !e.matches(bpf.FilterKeyPID, uint64(pid)) {
		return Filtered
	}
	if !e.matches(bpf.FilterKeySyscall, bpf.SyscallFilterValue(c.SyscallNr)) {
		return Filtered
	}

	// Insert failures on full tables are ignored, as in the kernel.
	_, _ = e.maps.IncrementSyscall(c.CPU, c.SyscallNr)
	_, _ = e.maps.IncrementProcess(c.CPU, pid)

	if c.CommErr != nil {
		return NoComm
	}

	event := bpf.SyscallEvent{
		Pid:         pid,
		Tid:         tid,
		SyscallNr:   c.SyscallNr,
		TimestampNs: c.TimestampNs,
		Comm:        bpf.CommFromString(c.Comm),
	}
	raw, _ := event.MarshalBinary()
	if !e.events.Push(c.CPU, raw) {
		return Dropped
	}
	return Emitted
}

func (e *Engine) matches(key uint32, actual uint64) bool {
	want, ok := e.maps.Filter(key)
	return !ok || want == 0 || want == actual
}
