package output

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"
)

// SyscallRow is one ranked syscall.
type SyscallRow struct {
	Nr      uint64
	Name    string
	Count   uint64
	Percent float64
}

// ProcessRow is one ranked process.
type ProcessRow struct {
	Pid   uint32
	Comm  string
	Count uint64
}

// Summary is the end-of-run report.
type Summary struct {
	Duration   time.Duration
	Total      uint64
	Lost       uint64
	Printed    uint64
	Syscalls   []SyscallRow
	Processes  []ProcessRow
	TopN       int
	NumSyscall int
	NumProcess int
}

// SummaryInput carries the raw counters and lookups used to build a Summary.
type SummaryInput struct {
	SyscallCounts map[uint64]uint64
	ProcessCounts map[uint32]uint64
	Lost          uint64
	Printed       uint64
	Duration      time.Duration
	TopN          int
	SyscallName   func(nr uint64) string
	ProcessName   func(pid uint32) string
}

type ranked[K cmp.Ordered] struct {
	key   K
	count uint64
}

// rank orders counters by count descending, then key ascending.
func rank[K cmp.Ordered](counts map[K]uint64) []ranked[K] {
	out := make([]ranked[K], 0, len(counts))
	for k, c := range counts {
		out = append(out, ranked[K]{key: k, count: c})
	}
	slices.SortFunc(out, func(a, b ranked[K]) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	return out
}

// BuildSummary ranks the counters. The total is the sum of the syscall
// table, which counts every syscall that passed the kernel filter.
func BuildSummary(in SummaryInput) Summary {
	s := Summary{
		Duration:   in.Duration,
		Lost:       in.Lost,
		Printed:    in.Printed,
		TopN:       in.TopN,
		NumSyscall: len(in.SyscallCounts),
		NumProcess: len(in.ProcessCounts),
	}
	for _, c := range in.SyscallCounts {
		s.Total += c
	}

	for i, r := range rank(in.SyscallCounts) {
		if in.TopN > 0 && i >= in.TopN {
			break
		}
		row := SyscallRow{Nr: r.key, Count: r.count}
		if in.SyscallName != nil {
			row.Name = in.SyscallName(r.key)
		}
		if s.Total > 0 {
			row.Percent = float64(r.count) * 100 / float64(s.Total)
		}
		s.Syscalls = append(s.Syscalls, row)
	}

	for i, r := range rank(in.ProcessCounts) {
		if in.TopN > 0 && i >= in.TopN {
			break
		}
		row := ProcessRow{Pid: r.key, Count: r.count}
		if in.ProcessName != nil {
			row.Comm = in.ProcessName(r.key)
		}
		s.Processes = append(s.Processes, row)
	}
	return s
}

// Render writes the summary block.
func (s Summary) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(tw, "\n=== Syscall summary (%s) ===\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "Total syscalls:\t%d\t\n", s.Total)
	fmt.Fprintf(tw, "Lines printed:\t%d\t\n", s.Printed)
	fmt.Fprintf(tw, "Lost events:\t%d\t\n", s.Lost)

	fmt.Fprintf(tw, "\nTop syscalls (%d of %d):\n", len(s.Syscalls), s.NumSyscall)
	if len(s.Syscalls) == 0 {
		fmt.Fprintln(tw, "  (none)")
	} else {
		fmt.Fprintf(tw, "COUNT\tPERCENT\t  SYSCALL\n")
	}
	for _, r := range s.Syscalls {
		fmt.Fprintf(tw, "%d\t%.2f%%\t  %s\n", r.Count, r.Percent, r.Name)
	}

	fmt.Fprintf(tw, "\nTop processes (%d of %d):\n", len(s.Processes), s.NumProcess)
	if len(s.Processes) == 0 {
		fmt.Fprintln(tw, "  (none)")
	} else {
		fmt.Fprintf(tw, "COUNT\tPID\t  COMM\n")
	}
	for _, r := range s.Processes {
		comm := r.Comm
		if comm == "" {
			comm = "?"
		}
		fmt.Fprintf(tw, "%d\t%d\t  %s\n", r.Count, r.Pid, comm)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
