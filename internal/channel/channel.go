// Package channel delivers syscall events from the probe to userspace, one
// independent channel per CPU.
//
// Delivery is best effort. Every read reports how many records were lost on
// that CPU since the previous read, and losing records is never an error.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by ReadEvents once the channel is closed and drained.
	ErrClosed = errors.New("channel closed")
	// ErrAlreadyOpen is returned when a CPU's channel is opened twice.
	ErrAlreadyOpen = errors.New("cpu channel already open")
	// ErrInvalidCPU is returned for CPU indexes outside the set.
	ErrInvalidCPU = errors.New("invalid cpu")
)

// DefaultPollTimeout bounds how long ReadEvents waits for data.
const DefaultPollTimeout = 100 * time.Millisecond

// DefaultQueueSize is the number of records buffered per CPU in userspace.
const DefaultQueueSize = 4096

// Record is one sample read from a CPU channel.
type Record struct {
	CPU       int
	RawSample []byte
}

// Reader is the read side of a single CPU channel. It has exactly one user.
type Reader interface {
	// ReadEvents fills bufs with up to len(bufs) records in FIFO order and
	// reports how many records were lost since the previous call. It waits at
	// most the poll timeout; (0, 0, nil) means nothing arrived in time.
	ReadEvents(bufs []Record) (read, lost int, err error)
}

// Set groups the per-CPU channels.
type Set interface {
	CPUs() int
	Open(cpu int) (Reader, error)
	Close() error
}

// ring is a bounded FIFO of samples for one CPU. Pushing into a full ring
// drops the new sample and counts it as lost, like a full perf buffer.
type ring struct {
	cpu    int
	notify chan struct{}

	mu     sync.Mutex
	buf    [][]byte
	head   int
	size   int
	lost   uint64
	closed bool
	opened bool
}

func newRing(cpu, capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &ring{
		cpu:    cpu,
		notify: make(chan struct{}, 1),
		buf:    make([][]byte, capacity),
	}
}

func (r *ring) push(sample []byte) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.size == len(r.buf) {
		r.lost++
		r.mu.Unlock()
		r.wake()
		return false
	}
	r.buf[(r.head+r.size)%len(r.buf)] = sample
	r.size++
	r.mu.Unlock()
	r.wake()
	return true
}

func (r *ring) addLost(n uint64) {
	r.mu.Lock()
	r.lost += n
	r.mu.Unlock()
	r.wake()
}

func (r *ring) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wake()
}

func (r *ring) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *ring) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return fmt.Errorf("%w: cpu %d", ErrAlreadyOpen, r.cpu)
	}
	r.opened = true
	return nil
}

func (r *ring) read(bufs []Record, timeout time.Duration) (int, int, error) {
	var timer *time.Timer
	for {
		r.mu.Lock()
		if r.size > 0 || r.lost > 0 {
			n := 0
			for n < len(bufs) && r.size > 0 {
				bufs[n] = Record{CPU: r.cpu, RawSample: r.buf[r.head]}
				r.buf[r.head] = nil
				r.head = (r.head + 1) % len(r.buf)
				r.size--
				n++
			}
			lost := r.lost
			r.lost = 0
			r.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return n, int(lost), nil
		}
		if r.closed {
			r.mu.Unlock()
			return 0, 0, ErrClosed
		}
		r.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-r.notify:
		case <-timer.C:
			return 0, 0, nil
		}
	}
}

type ringReader struct {
	ring    *ring
	timeout time.Duration
}

func (rr *ringReader) ReadEvents(bufs []Record) (int, int, error) {
	return rr.ring.read(bufs, rr.timeout)
}

type rings struct {
	rings   []*ring
	timeout time.Duration
}

func newRings(numCPU, capacity int, timeout time.Duration) rings {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	rs := rings{rings: make([]*ring, numCPU), timeout: timeout}
	for cpu := range rs.rings {
		rs.rings[cpu] = newRing(cpu, capacity)
	}
	return rs
}

func (rs rings) get(cpu int) (*ring, error) {
	if cpu < 0 || cpu >= len(rs.rings) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	return rs.rings[cpu], nil
}

func (rs rings) open(cpu int) (Reader, error) {
	r, err := rs.get(cpu)
	if err != nil {
		return nil, err
	}
	if err := r.claim(); err != nil {
		return nil, err
	}
	return &ringReader{ring: r, timeout: rs.timeout}, nil
}

func (rs rings) closeAll() {
	for _, r := range rs.rings {
		r.close()
	}
}
