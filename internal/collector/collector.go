// Package collector drains one CPU's event channel, filters decoded events
// and prints the survivors.
package collector

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrzor/syscall-tracer/internal/bpf"
	"github.com/mrzor/syscall-tracer/internal/channel"
	"github.com/mrzor/syscall-tracer/internal/filter"
	"github.com/mrzor/syscall-tracer/internal/metrics"
	"github.com/mrzor/syscall-tracer/internal/output"
	"github.com/mrzor/syscall-tracer/internal/procmeta"
	"github.com/mrzor/syscall-tracer/internal/syscalls"
	"github.com/mrzor/syscall-tracer/internal/timesync"
)

// DefaultBatchSize is the number of records requested per read.
const DefaultBatchSize = 64

// retryDelay paces reads after a channel error.
const retryDelay = 10 * time.Millisecond

// Config wires a collector to its CPU channel and the shared sinks.
type Config struct {
	CPU     int
	Reader  channel.Reader
	Running *atomic.Bool

	Filter  *filter.Filter
	Sink    *output.Sink
	Procs   *procmeta.Manager
	Clock   *timesync.Converter
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	BatchSize int
}

// Stats are the per-CPU tallies of one run.
type Stats struct {
	Read       uint64
	Printed    uint64
	Filtered   uint64
	Malformed  uint64
	Lost       uint64
	ReadErrors uint64
}

// Collector is the sole reader of one CPU channel.
type Collector struct {
	cfg    Config
	logger *zap.Logger
	stats  Stats
}

// New returns a collector for cfg.CPU.
func New(cfg Config) *Collector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		cfg:    cfg,
		logger: logger.With(zap.Int("cpu", cfg.CPU)),
	}
}

// Run reads until the running flag is cleared or the channel is closed.
// Cancellation latency is bounded by the channel's poll timeout.
func (c *Collector) Run() {
	bufs := make([]channel.Record, c.cfg.BatchSize)

	for c.cfg.Running.Load() {
		n, lost, err := c.cfg.Reader.ReadEvents(bufs)
		if lost > 0 {
			c.stats.Lost += uint64(lost)
			c.cfg.Metrics.AddLost(c.cfg.CPU, lost)
			c.logger.Warn("lost events", zap.Int("count", lost))
		}
		for i := 0; i < n; i++ {
			c.handle(bufs[i].RawSample)
			bufs[i] = channel.Record{}
		}
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				c.logger.Debug("channel closed")
				return
			}
			c.stats.ReadErrors++
			c.cfg.Metrics.IncReadError(c.cfg.CPU)
			c.logger.Error("reading events", zap.Error(err))
			time.Sleep(retryDelay)
		}
	}
}

// Stats returns the tallies. Only call it after Run has returned.
func (c *Collector) Stats() Stats {
	return c.stats
}

func (c *Collector) handle(raw []byte) {
	c.stats.Read++

	event, err := bpf.DecodeEvent(raw)
	if err != nil {
		c.stats.Malformed++
		c.cfg.Metrics.ObserveEvent(c.cfg.CPU, metrics.ResultMalformed)
		c.logger.Debug("discarding sample", zap.Int("size", len(raw)), zap.Error(err))
		return
	}

	comm := event.CommString()
	if c.cfg.Procs != nil {
		c.cfg.Procs.Observe(event.Pid, comm)
	}
	name := syscalls.Name(event.SyscallNr)

	ok, err := c.cfg.Filter.Match(filter.Event{
		Pid:     event.Pid,
		Tid:     event.Tid,
		Comm:    comm,
		Syscall: name,
		Nr:      event.SyscallNr,
	})
	if err != nil {
		c.logger.Debug("filter evaluation failed", zap.Uint32("pid", event.Pid), zap.Error(err))
	}
	if !ok {
		c.stats.Filtered++
		c.cfg.Metrics.ObserveEvent(c.cfg.CPU, metrics.ResultFiltered)
		return
	}

	line := output.FormatLine(c.timestamp(event.TimestampNs), comm, event.Pid, name)
	if err := c.cfg.Sink.WriteLine(line); err != nil {
		c.logger.Error("writing trace line", zap.Error(err))
		return
	}
	c.stats.Printed++
	c.cfg.Metrics.ObserveEvent(c.cfg.CPU, metrics.ResultPrinted)
}

func (c *Collector) timestamp(ns uint64) time.Time {
	if c.cfg.Clock == nil {
		return time.Now()
	}
	return c.cfg.Clock.MonotonicToWallClock(ns)
}
