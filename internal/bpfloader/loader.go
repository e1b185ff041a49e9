// Package bpfloader manages the lifecycle of the probe program and its kernel
// attachment.
package bpfloader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/mrzor/syscall-tracer/internal/bpf"
	"github.com/mrzor/syscall-tracer/internal/channel"
	"github.com/mrzor/syscall-tracer/internal/maps"
)

// Tracepoint the probe attaches to.
const (
	tracepointGroup = "raw_syscalls"
	tracepointName  = "sys_enter"
)

// Options tune the event channels.
type Options struct {
	PerCPUBuffer int
	QueueSize    int
	PollTimeout  time.Duration
	Logger       *zap.Logger
}

// Loader owns the loaded objects, the tracepoint link and the perf channels.
type Loader struct {
	opts   Options
	logger *zap.Logger
	objs   bpf.Objects
	maps   *maps.Kernel

	mu       sync.Mutex
	sysEnter link.Link
	perfSet  *channel.PerfSet
}

// New loads the probe and its maps into the kernel.
func New(opts Options) (*Loader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock rlimit: %w", err)
	}

	l := &Loader{opts: opts, logger: logger}
	if err := bpf.LoadObjects(&l.objs, nil); err != nil {
		var verr *ebpf.VerifierError
		if errors.As(err, &verr) {
			logger.Debug("verifier log", zap.Strings("log", verr.Log))
		}
		return nil, fmt.Errorf("loading BPF objects: %w", err)
	}
	l.maps = maps.NewKernel(l.objs.FilterConfig, l.objs.SyscallCounts, l.objs.ProcessCounts)

	return l, nil
}

// Maps returns the kernel tables.
func (l *Loader) Maps() maps.Set {
	return l.maps
}

// closeErrorf detaches anything attached and returns a formatted error.
func (l *Loader) closeErrorf(errstr string, e error) error {
	if l.sysEnter != nil {
		_ = l.sysEnter.Close() //nolint:errcheck // Best-effort cleanup in error path
		l.sysEnter = nil
	}
	return fmt.Errorf("%s: %w", errstr, e)
}

// Attach attaches the probe to raw_syscalls/sys_enter.
func (l *Loader) Attach() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sysEnter != nil {
		return nil
	}

	var err error
	l.sysEnter, err = link.Tracepoint(tracepointGroup, tracepointName, l.objs.TraceSysEnter, nil)
	if err != nil {
		return l.closeErrorf("attaching raw_syscalls/sys_enter tracepoint", err)
	}
	l.logger.Debug("probe attached", zap.String("tracepoint", tracepointGroup+"/"+tracepointName))
	return nil
}

// Channels opens the per-CPU event channels, one per possible CPU.
func (l *Loader) Channels() (channel.Set, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perfSet != nil {
		return l.perfSet, nil
	}

	n, err := ebpf.PossibleCPU()
	if err != nil {
		return nil, fmt.Errorf("enumerating cpus: %w", err)
	}

	set, err := channel.NewPerfSet(l.objs.Events, channel.PerfOptions{
		NumCPU:       n,
		PerCPUBuffer: l.opts.PerCPUBuffer,
		QueueSize:    l.opts.QueueSize,
		PollTimeout:  l.opts.PollTimeout,
	}, l.logger)
	if err != nil {
		return nil, fmt.Errorf("opening event channels: %w", err)
	}
	l.perfSet = set
	return set, nil
}

// Detach removes the tracepoint attachment. Loaded maps stay readable.
func (l *Loader) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sysEnter == nil {
		return nil
	}
	err := l.sysEnter.Close()
	l.sysEnter = nil
	if err != nil {
		return fmt.Errorf("closing sys_enter link: %w", err)
	}
	l.logger.Debug("probe detached")
	return nil
}

// Close releases all BPF resources including the link, channels and loaded
// objects.
func (l *Loader) Close() error {
	var errs []error

	if err := l.Detach(); err != nil {
		errs = append(errs, err)
	}

	l.mu.Lock()
	if l.perfSet != nil {
		if err := l.perfSet.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing perf reader: %w", err))
		}
		l.perfSet = nil
	}
	l.mu.Unlock()

	if err := l.objs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing BPF objects: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}

	return nil
}
