// Package bpf provides the kernel side of the syscall tracer: the wire format
// shared with the probe, the map specifications and the probe program itself.
package bpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"unsafe"
)

// CommLen matches TASK_COMM_LEN in the kernel.
const CommLen = 16

// Filter table keys.
const (
	FilterKeyPID     uint32 = 0
	FilterKeySyscall uint32 = 1
)

// SyscallFilterValue encodes nr for the FilterKeySyscall entry. The stored
// value is nr+1 so that 0 keeps meaning "match all" while syscall 0 (read on
// x86_64) stays selectable.
func SyscallFilterValue(nr uint64) uint64 {
	return nr + 1
}

// Map names as they appear in the collection.
const (
	FilterMapName        = "filter_config"
	SyscallCountsMapName = "syscall_counts"
	ProcessCountsMapName = "process_counts"
	EventsMapName        = "events"
	ProgramName          = "trace_sys_enter"
)

// Capacities of the aggregate tables. Running out of room drops increments
// silently in the kernel.
const (
	FilterMaxEntries        = 16
	SyscallCountsMaxEntries = 1024
	ProcessCountsMaxEntries = 10240
)

// ErrShortEvent is returned when a sample is smaller than SyscallEvent.
var ErrShortEvent = errors.New("sample shorter than syscall event")

// SyscallEvent matches the record emitted by the probe.
// Layout: pid@0 tid@4 syscall_nr@8 timestamp_ns@16 comm@24, 40 bytes total.
type SyscallEvent struct {
	Pid         uint32
	Tid         uint32
	SyscallNr   uint64
	TimestampNs uint64
	Comm        [CommLen]byte
}

// EventSize is the size of SyscallEvent on both sides of the channel.
const EventSize = int(unsafe.Sizeof(SyscallEvent{}))

// Field offsets inside an encoded event.
const (
	offPid       = 0
	offTid       = 4
	offSyscallNr = 8
	offTimestamp = 16
	offComm      = 24
)

// DecodeEvent reinterprets a raw sample as a SyscallEvent. Samples may carry
// trailing padding from the perf ring, only the first EventSize bytes are used.
func DecodeEvent(raw []byte) (SyscallEvent, error) {
	var ev SyscallEvent
	if len(raw) < EventSize {
		return ev, ErrShortEvent
	}
	ev.Pid = binary.NativeEndian.Uint32(raw[offPid:])
	ev.Tid = binary.NativeEndian.Uint32(raw[offTid:])
	ev.SyscallNr = binary.NativeEndian.Uint64(raw[offSyscallNr:])
	ev.TimestampNs = binary.NativeEndian.Uint64(raw[offTimestamp:])
	copy(ev.Comm[:], raw[offComm:offComm+CommLen])
	return ev, nil
}

// MarshalBinary encodes the event with the same layout the probe writes.
func (e *SyscallEvent) MarshalBinary() ([]byte, error) {
	return e.AppendBinary(make([]byte, 0, EventSize))
}

// AppendBinary appends the encoded event to buf.
func (e *SyscallEvent) AppendBinary(buf []byte) ([]byte, error) {
	buf = binary.NativeEndian.AppendUint32(buf, e.Pid)
	buf = binary.NativeEndian.AppendUint32(buf, e.Tid)
	buf = binary.NativeEndian.AppendUint64(buf, e.SyscallNr)
	buf = binary.NativeEndian.AppendUint64(buf, e.TimestampNs)
	return append(buf, e.Comm[:]...), nil
}

// CommString returns the process name without null padding.
func (e *SyscallEvent) CommString() string {
	return CommToString(e.Comm[:])
}

// CommToString converts a null-padded comm field to a string.
func CommToString(comm []byte) string {
	if i := bytes.IndexByte(comm, 0); i >= 0 {
		comm = comm[:i]
	}
	return string(comm)
}

// CommFromString builds a null-padded comm field, truncating like the kernel
// does (15 characters plus terminator).
func CommFromString(s string) [CommLen]byte {
	var comm [CommLen]byte
	copy(comm[:CommLen-1], s)
	return comm
}

// SplitPidTgid splits the value returned by bpf_get_current_pid_tgid.
// The upper half is the process id (tgid), the lower half the thread id.
func SplitPidTgid(pidTgid uint64) (pid, tid uint32) {
	return uint32(pidTgid >> 32), uint32(pidTgid)
}
