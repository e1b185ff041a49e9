// Package reporter owns the lifetime of a tracing run: it configures the
// kernel filters, attaches the probe, runs one collector per CPU until the
// duration elapses or the context is cancelled, then reads the aggregate
// counters and prints the summary.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrzor/syscall-tracer/internal/bpf"
	"github.com/mrzor/syscall-tracer/internal/channel"
	"github.com/mrzor/syscall-tracer/internal/collector"
	"github.com/mrzor/syscall-tracer/internal/filter"
	"github.com/mrzor/syscall-tracer/internal/maps"
	"github.com/mrzor/syscall-tracer/internal/metrics"
	"github.com/mrzor/syscall-tracer/internal/output"
	"github.com/mrzor/syscall-tracer/internal/procmeta"
	"github.com/mrzor/syscall-tracer/internal/syscalls"
	"github.com/mrzor/syscall-tracer/internal/timesync"
)

// DefaultTopN is the number of rows per summary ranking.
const DefaultTopN = 10

// ErrAttach wraps failures to attach the probe.
var ErrAttach = errors.New("attaching probe")

// Backend is the kernel side of a run.
type Backend interface {
	// Maps returns the shared tables. Valid from construction until Close.
	Maps() maps.Set
	// Attach starts delivering syscalls to the probe.
	Attach() error
	// Channels opens the per-CPU event channels.
	Channels() (channel.Set, error)
	// Detach stops the probe. It is safe to call more than once.
	Detach() error
	// Close releases every resource, detaching first if needed.
	Close() error
}

// Filter selects syscalls in the kernel. Zero values match everything.
type Filter struct {
	PID        uint32
	Syscall    uint64
	HasSyscall bool
}

// Options configure a Reporter.
type Options struct {
	Filter Filter
	// UserFilter is applied by collectors after decoding. Nil prints all.
	UserFilter *filter.Filter
	// Duration bounds the run. Zero runs until the context is cancelled.
	Duration  time.Duration
	TopN      int
	BatchSize int

	Output  io.Writer
	Clock   *timesync.Converter
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// OnState is called on every transition.
	OnState func(State)
}

// Reporter drives one run. It is not reusable.
type Reporter struct {
	backend Backend
	opts    Options
	logger  *zap.Logger
	sink    *output.Sink
	procs   *procmeta.Manager
	running atomic.Bool

	mu    sync.Mutex
	state State
}

// New prepares a run against backend.
func New(backend Backend, opts Options) *Reporter {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	return &Reporter{
		backend: backend,
		opts:    opts,
		logger:  logger,
		sink:    output.NewSink(out),
		procs:   procmeta.NewManager(),
	}
}

// State returns the current phase.
func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reporter) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()

	r.logger.Debug("reporter state", zap.Stringer("state", s))
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

// Run executes the run and returns the printed summary. Resources are
// released before it returns, on success and on error alike.
func (r *Reporter) Run(ctx context.Context) (summary output.Summary, err error) {
	r.setState(Configuring)
	defer func() {
		r.setState(Done)
		if closeErr := r.backend.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("releasing backend: %w", closeErr))
		}
	}()

	if err := r.configure(); err != nil {
		return output.Summary{}, err
	}

	if err := r.backend.Attach(); err != nil {
		return output.Summary{}, fmt.Errorf("%w: %w", ErrAttach, err)
	}
	r.setState(Attached)

	channels, err := r.backend.Channels()
	if err != nil {
		return output.Summary{}, fmt.Errorf("opening event channels: %w", err)
	}
	defer func() {
		if closeErr := channels.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("closing event channels: %w", closeErr))
		}
	}()

	collectors, err := r.collectors(channels)
	if err != nil {
		return output.Summary{}, err
	}

	r.running.Store(true)
	var wg sync.WaitGroup
	for _, c := range collectors {
		wg.Add(1)
		go func(c *collector.Collector) {
			defer wg.Done()
			c.Run()
		}(c)
	}
	r.setState(Running)
	started := time.Now()
	r.logger.Info("tracing",
		zap.Int("cpus", len(collectors)),
		zap.Duration("duration", r.opts.Duration))

	r.wait(ctx)

	r.setState(Draining)
	r.running.Store(false)
	wg.Wait()
	if err := r.backend.Detach(); err != nil {
		r.logger.Warn("detaching probe", zap.Error(err))
	}
	elapsed := time.Since(started)

	r.setState(Summarizing)
	var lost uint64
	for _, c := range collectors {
		lost += c.Stats().Lost
	}
	summary, err = r.summarize(elapsed, lost)
	if err != nil {
		return output.Summary{}, err
	}
	if err := r.sink.WriteBlock(summary.Render); err != nil {
		return summary, fmt.Errorf("printing summary: %w", err)
	}
	return summary, nil
}

func (r *Reporter) configure() error {
	set := r.backend.Maps()

	if err := set.SetFilter(bpf.FilterKeyPID, uint64(r.opts.Filter.PID)); err != nil {
		return fmt.Errorf("configuring pid filter: %w", err)
	}
	var nr uint64
	if r.opts.Filter.HasSyscall {
		nr = bpf.SyscallFilterValue(r.opts.Filter.Syscall)
	}
	if err := set.SetFilter(bpf.FilterKeySyscall, nr); err != nil {
		return fmt.Errorf("configuring syscall filter: %w", err)
	}
	return nil
}

func (r *Reporter) collectors(channels channel.Set) ([]*collector.Collector, error) {
	n := channels.CPUs()
	if n <= 0 {
		return nil, fmt.Errorf("no cpus to collect from")
	}

	out := make([]*collector.Collector, 0, n)
	for cpu := 0; cpu < n; cpu++ {
		rd, err := channels.Open(cpu)
		if err != nil {
			return nil, fmt.Errorf("opening channel for cpu %d: %w", cpu, err)
		}
		out = append(out, collector.New(collector.Config{
			CPU:       cpu,
			Reader:    rd,
			Running:   &r.running,
			Filter:    r.opts.UserFilter,
			Sink:      r.sink,
			Procs:     r.procs,
			Clock:     r.opts.Clock,
			Metrics:   r.opts.Metrics,
			Logger:    r.logger,
			BatchSize: r.opts.BatchSize,
		}))
	}
	return out, nil
}

func (r *Reporter) wait(ctx context.Context) {
	var timeout <-chan time.Time
	if r.opts.Duration > 0 {
		timer := time.NewTimer(r.opts.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		r.logger.Debug("run cancelled", zap.Error(ctx.Err()))
	case <-timeout:
		r.logger.Debug("run duration elapsed")
	}
}

func (r *Reporter) summarize(elapsed time.Duration, lost uint64) (output.Summary, error) {
	set := r.backend.Maps()

	syscallCounts, err := set.SyscallCounts()
	if err != nil {
		return output.Summary{}, fmt.Errorf("reading syscall counters: %w", err)
	}
	processCounts, err := set.ProcessCounts()
	if err != nil {
		return output.Summary{}, fmt.Errorf("reading process counters: %w", err)
	}

	if lost > 0 {
		r.logger.Warn("events were lost during the run", zap.Uint64("lost", lost))
	}

	return output.BuildSummary(output.SummaryInput{
		SyscallCounts: syscallCounts,
		ProcessCounts: processCounts,
		Lost:          lost,
		Printed:       r.sink.Lines(),
		Duration:      elapsed,
		TopN:          r.opts.TopN,
		SyscallName:   syscalls.Name,
		ProcessName:   r.procs.Comm,
	}), nil
}
