package channel

import "time"

// RingSet is an in-process Set. Producers push raw samples per CPU, and the
// reader side behaves like the kernel-backed set: bounded queues, drops
// counted as lost, reads bounded by the poll timeout.
type RingSet struct {
	rings
}

// NewRingSet creates numCPU channels holding up to capacity samples each.
func NewRingSet(numCPU, capacity int, pollTimeout time.Duration) *RingSet {
	return &RingSet{rings: newRings(numCPU, capacity, pollTimeout)}
}

// CPUs implements Set.
func (s *RingSet) CPUs() int {
	return len(s.rings.rings)
}

// Open implements Set.
func (s *RingSet) Open(cpu int) (Reader, error) {
	return s.rings.open(cpu)
}

// Push copies sample into the channel of cpu. It reports false when the
// sample was dropped because the channel is full or closed.
func (s *RingSet) Push(cpu int, sample []byte) bool {
	r, err := s.rings.get(cpu)
	if err != nil {
		return false
	}
	return r.push(append([]byte(nil), sample...))
}

// Close implements Set. Samples already queued can still be read.
func (s *RingSet) Close() error {
	s.rings.closeAll()
	return nil
}
