// Package timesync converts the monotonic timestamps carried by syscall
// events into wall-clock time for display.
//
// Events are stamped with bpf_ktime_get_ns, which reads CLOCK_MONOTONIC. The
// converter samples that clock once against time.Now at startup and adds the
// resulting epoch to every event timestamp.
package timesync
