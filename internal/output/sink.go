package output

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"
)

// TimeLayout is the clock format of a trace line.
const TimeLayout = "15:04:05.000"

// FormatLine renders one trace line without the trailing newline:
//
//	[HH:MM:SS.mmm] comm(pid) syscall
func FormatLine(ts time.Time, comm string, pid uint32, syscall string) string {
	return fmt.Sprintf("[%s] %s(%d) %s", ts.Format(TimeLayout), comm, pid, syscall)
}

// Sink is a line writer shared by all collectors.
type Sink struct {
	mu    sync.Mutex
	w     *bufio.Writer
	lines uint64
}

// NewSink wraps w. Lines are buffered; call Flush before reading w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: bufio.NewWriter(w)}
}

// WriteLine writes line followed by a newline as a single unit. Lines are
// flushed as they are written so the trace stays live on a terminal.
func (s *Sink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.WriteString(line); err != nil {
		return fmt.Errorf("writing trace line: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing trace line: %w", err)
	}
	s.lines++
	return s.w.Flush()
}

// WriteBlock writes a multi-line block without interleaving with trace lines.
func (s *Sink) WriteBlock(fn func(w io.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.w); err != nil {
		return err
	}
	return s.w.Flush()
}

// Lines returns how many trace lines were written.
func (s *Sink) Lines() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Flush flushes buffered output.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
