package channel

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"go.uber.org/zap"
)

// PerfOptions configures a PerfSet.
type PerfOptions struct {
	// NumCPU is the number of possible CPUs, one channel each.
	NumCPU int
	// PerCPUBuffer is the kernel ring size per CPU in bytes.
	PerCPUBuffer int
	// QueueSize is the userspace queue length per CPU.
	QueueSize int
	// PollTimeout bounds each ReadEvents call.
	PollTimeout time.Duration
}

// PerfSet reads a BPF perf event array and routes every record to the queue
// of the CPU that produced it. Kernel-side losses are attributed to their CPU.
type PerfSet struct {
	rings
	reader *perf.Reader
	logger *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewPerfSet opens a perf reader on events and starts routing records.
func NewPerfSet(events *ebpf.Map, opts PerfOptions, logger *zap.Logger) (*PerfSet, error) {
	if opts.NumCPU <= 0 {
		return nil, fmt.Errorf("%w: %d cpus", ErrInvalidCPU, opts.NumCPU)
	}
	if opts.PerCPUBuffer <= 0 {
		opts.PerCPUBuffer = 64 * os.Getpagesize()
	}

	rd, err := perf.NewReader(events, opts.PerCPUBuffer)
	if err != nil {
		return nil, fmt.Errorf("opening perf reader: %w", err)
	}

	s := &PerfSet{
		rings:  newRings(opts.NumCPU, opts.QueueSize, opts.PollTimeout),
		reader: rd,
		logger: logger,
	}
	s.wg.Add(1)
	go s.route()
	return s, nil
}

// CPUs implements Set.
func (s *PerfSet) CPUs() int {
	return len(s.rings.rings)
}

// Open implements Set.
func (s *PerfSet) Open(cpu int) (Reader, error) {
	return s.rings.open(cpu)
}

// Close stops the perf reader and closes every CPU channel. Records already
// routed stay readable until drained.
func (s *PerfSet) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Close()
		s.wg.Wait()
		s.rings.closeAll()
	})
	return s.closeErr
}

func (s *PerfSet) route() {
	defer s.wg.Done()

	for {
		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return
			}
			s.logger.Warn("reading perf buffer", zap.Error(err))
			continue
		}

		r, err := s.rings.get(record.CPU)
		if err != nil {
			s.logger.Warn("perf record from unknown cpu", zap.Int("cpu", record.CPU))
			continue
		}
		if record.LostSamples > 0 {
			r.addLost(record.LostSamples)
			continue
		}
		r.push(record.RawSample)
	}
}
