package timesync

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Converter turns CLOCK_MONOTONIC nanoseconds into wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter samples CLOCK_MONOTONIC against the wall clock to find the
// monotonic epoch. If the clock cannot be read it falls back to btime from
// /proc/stat, which only has second precision.
func NewConverter() (*Converter, error) {
	bootTime, err := monotonicEpoch()
	if err != nil {
		bootTime, err = getSystemBootTime()
		if err != nil {
			return nil, fmt.Errorf("determining monotonic epoch: %w", err)
		}
	}
	return &Converter{bootTime: bootTime}, nil
}

// NewConverterAt returns a converter with a fixed monotonic epoch.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// MonotonicToWallClock converts nanoseconds since boot to wall-clock time.
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // monotonic nanoseconds fit in int64 for centuries of uptime
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the wall-clock instant of monotonic zero.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

func monotonicEpoch() (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Time{}, fmt.Errorf("reading CLOCK_MONOTONIC: %w", err)
	}
	return time.Now().Add(-time.Duration(ts.Nano())), nil
}

// getSystemBootTime reads the system boot time from /proc/stat.
func getSystemBootTime() (time.Time, error) {
	file, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open /proc/stat: %w", err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "btime ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				bootTimeSec, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					return time.Time{}, fmt.Errorf("failed to parse btime: %w", err)
				}
				return time.Unix(bootTimeSec, 0), nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("error reading /proc/stat: %w", err)
	}

	return time.Time{}, fmt.Errorf("btime not found in /proc/stat")
}
