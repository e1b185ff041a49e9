// Package procmeta keeps per-process metadata gathered while tracing.
//
// Manager remembers the last task name seen for each PID so the summary can
// label process counters. Names for PIDs that never produced a visible event
// are read from /proc/<pid>/comm.
//
// Thread-safe with RWMutex for concurrent access.
package procmeta
