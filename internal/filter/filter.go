// Package filter decides in userspace which decoded events are printed.
//
// Two conditions apply, both optional: the task name must contain a
// substring, and an expr-lang expression over the event must be true. The
// expression sees pid, tid, comm, syscall (name) and nr (number).
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Event is the view of a syscall event the filter evaluates.
type Event struct {
	Pid     uint32
	Tid     uint32
	Comm    string
	Syscall string
	Nr      uint64
}

// Filter is safe for concurrent use once built.
type Filter struct {
	comm    string
	where   string
	program *vm.Program
}

// New compiles where and returns a filter. Empty arguments disable the
// corresponding condition.
func New(commSubstring, where string) (*Filter, error) {
	f := &Filter{comm: commSubstring, where: where}
	if where == "" {
		return f, nil
	}

	program, err := expr.Compile(where, expr.Env(env(Event{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling filter expression %q: %w", where, err)
	}
	f.program = program
	return f, nil
}

// Match reports whether ev passes the filter. Evaluation errors count as no
// match.
func (f *Filter) Match(ev Event) (bool, error) {
	if f == nil {
		return true, nil
	}
	if f.comm != "" && !strings.Contains(ev.Comm, f.comm) {
		return false, nil
	}
	if f.program == nil {
		return true, nil
	}

	out, err := expr.Run(f.program, env(ev))
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", f.where, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Empty reports whether the filter accepts everything.
func (f *Filter) Empty() bool {
	return f == nil || (f.comm == "" && f.program == nil)
}

func env(ev Event) map[string]interface{} {
	return map[string]interface{}{
		"pid":     int(ev.Pid),
		"tid":     int(ev.Tid),
		"comm":    ev.Comm,
		"syscall": ev.Syscall,
		"nr":      int(ev.Nr),
	}
}
