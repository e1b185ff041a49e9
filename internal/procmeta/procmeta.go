package procmeta

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcessInfo is what userspace remembers about a PID.
type ProcessInfo struct {
	Comm   string // last task name seen in an event
	Events uint64 // events observed in userspace
}

// procRoot is overridden in tests.
var procRoot = "/proc"

// ReadComm reads the current task name of pid from /proc.
func ReadComm(pid uint32) (string, error) {
	path := procRoot + "/" + strconv.FormatUint(uint64(pid), 10) + "/comm"
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading comm for pid %d: %w", pid, err)
	}
	return strings.TrimRight(string(raw), "\n"), nil
}
