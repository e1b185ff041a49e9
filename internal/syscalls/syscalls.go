// Package syscalls maps syscall numbers of the running architecture to names
// and back using a static table.
package syscalls

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownSyscall is returned by Lookup for names missing from the table.
var ErrUnknownSyscall = errors.New("unknown syscall")

// Entry is one row of the table.
type Entry struct {
	Nr   uint64
	Name string
}

var (
	byNameOnce sync.Once
	byName     map[string]uint64
)

// Name returns the syscall name for nr, or "syscall_<nr>" when unknown.
func Name(nr uint64) string {
	if nr < uint64(len(names)) && names[nr] != "" {
		return names[nr]
	}
	return "syscall_" + strconv.FormatUint(nr, 10)
}

// Lookup resolves a syscall name to its number. A "sys_" prefix and
// "syscall_<nr>" forms are accepted.
func Lookup(name string) (uint64, error) {
	byNameOnce.Do(func() {
		byName = make(map[string]uint64, len(names))
		for nr, n := range names {
			if n != "" {
				byName[n] = uint64(nr)
			}
		}
	})

	key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "sys_")
	if nr, ok := byName[key]; ok {
		return nr, nil
	}
	if rest, ok := strings.CutPrefix(key, "syscall_"); ok {
		if nr, err := strconv.ParseUint(rest, 10, 64); err == nil {
			return nr, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSyscall, name)
}

// All returns the known syscalls ordered by number.
func All() []Entry {
	entries := make([]Entry, 0, len(names))
	for nr, n := range names {
		if n != "" {
			entries = append(entries, Entry{Nr: uint64(nr), Name: n})
		}
	}
	return entries
}
