package timesync

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestConverter_MonotonicToWallClock(t *testing.T) {
	// Create a converter with a known boot time
	bootTime := time.Unix(1000000000, 0) // 2001-09-09 01:46:40 UTC
	converter := NewConverterAt(bootTime)

	tests := []struct {
		name           string
		monotonicNanos uint64
		want           time.Time
	}{
		{
			name:           "zero nanoseconds",
			monotonicNanos: 0,
			want:           bootTime,
		},
		{
			name:           "one second",
			monotonicNanos: 1_000_000_000,
			want:           bootTime.Add(1 * time.Second),
		},
		{
			name:           "one hour",
			monotonicNanos: 3_600_000_000_000,
			want:           bootTime.Add(1 * time.Hour),
		},
		{
			name:           "mixed time",
			monotonicNanos: 123_456_789_000,
			want:           bootTime.Add(123*time.Second + 456*time.Millisecond + 789*time.Microsecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.MonotonicToWallClock(tt.monotonicNanos)
			if !got.Equal(tt.want) {
				t.Errorf("MonotonicToWallClock() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConverter_BootTime(t *testing.T) {
	bootTime := time.Unix(1000000000, 0)
	converter := &Converter{
		bootTime: bootTime,
	}

	got := converter.BootTime()
	if !got.Equal(bootTime) {
		t.Errorf("BootTime() = %v, want %v", got, bootTime)
	}
}

func TestNewConverter(t *testing.T) {
	converter, err := NewConverter()
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}

	bootTime := converter.BootTime()
	if bootTime.IsZero() {
		t.Error("BootTime() is zero")
	}
	if bootTime.After(time.Now()) {
		t.Error("BootTime() is in the future")
	}
}

func TestNewConverter_MatchesMonotonicClock(t *testing.T) {
	converter, err := NewConverter()
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}

	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		t.Skipf("CLOCK_MONOTONIC unavailable: %v", err)
	}

	got := converter.MonotonicToWallClock(uint64(ts.Nano()))
	if d := time.Since(got); d < -time.Second || d > time.Second {
		t.Errorf("converted now is %v away from wall clock", d)
	}
}

func TestGetSystemBootTime(t *testing.T) {
	bootTime, err := getSystemBootTime()
	if err != nil {
		t.Skipf("/proc/stat unavailable: %v", err)
	}
	if bootTime.After(time.Now()) {
		t.Errorf("btime %v is in the future", bootTime)
	}
}
