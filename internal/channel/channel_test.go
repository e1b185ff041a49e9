package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Millisecond

func TestRingSet_ReadsInOrder(t *testing.T) {
	s := NewRingSet(2, 8, testTimeout)
	rd, err := s.Open(1)
	require.NoError(t, err)

	for _, b := range []byte{1, 2, 3} {
		require.True(t, s.Push(1, []byte{b}))
	}

	bufs := make([]Record, 8)
	n, lost, err := rd.ReadEvents(bufs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, lost)
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, bufs[i].CPU)
		assert.Equal(t, []byte{byte(i + 1)}, bufs[i].RawSample)
	}
}

func TestRingSet_PerCPUIsolation(t *testing.T) {
	s := NewRingSet(2, 8, testTimeout)
	rd0, err := s.Open(0)
	require.NoError(t, err)

	require.True(t, s.Push(1, []byte{9}))

	bufs := make([]Record, 4)
	n, lost, err := rd0.ReadEvents(bufs)
	require.NoError(t, err)
	assert.Zero(t, n, "cpu 1 sample must not reach cpu 0")
	assert.Zero(t, lost)
}

func TestRingSet_TimeoutReturnsNothing(t *testing.T) {
	s := NewRingSet(1, 4, testTimeout)
	rd, err := s.Open(0)
	require.NoError(t, err)

	start := time.Now()
	n, lost, err := rd.ReadEvents(make([]Record, 4))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, lost)
	assert.GreaterOrEqual(t, time.Since(start), testTimeout)
}

func TestRingSet_LossDoesNotHideEvents(t *testing.T) {
	s := NewRingSet(1, 2, testTimeout)
	rd, err := s.Open(0)
	require.NoError(t, err)

	assert.True(t, s.Push(0, []byte{1}))
	assert.True(t, s.Push(0, []byte{2}))
	assert.False(t, s.Push(0, []byte{3}))
	assert.False(t, s.Push(0, []byte{4}))

	n, lost, err := rd.ReadEvents(make([]Record, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, lost)

	// The counter resets after being reported.
	n, lost, err = rd.ReadEvents(make([]Record, 4))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, lost)
}

func TestRingSet_PartialReads(t *testing.T) {
	s := NewRingSet(1, 8, testTimeout)
	rd, err := s.Open(0)
	require.NoError(t, err)

	for b := byte(0); b < 5; b++ {
		require.True(t, s.Push(0, []byte{b}))
	}

	bufs := make([]Record, 2)
	var got []byte
	for len(got) < 5 {
		n, _, err := rd.ReadEvents(bufs)
		require.NoError(t, err)
		require.NotZero(t, n)
		for _, r := range bufs[:n] {
			got = append(got, r.RawSample[0])
		}
	}
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, got)
}

func TestRingSet_PushCopiesSample(t *testing.T) {
	s := NewRingSet(1, 4, testTimeout)
	rd, err := s.Open(0)
	require.NoError(t, err)

	sample := []byte{7}
	require.True(t, s.Push(0, sample))
	sample[0] = 8

	bufs := make([]Record, 1)
	_, _, err = rd.ReadEvents(bufs)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, bufs[0].RawSample)
}

func TestRingSet_CloseDrainsThenErrors(t *testing.T) {
	s := NewRingSet(1, 4, testTimeout)
	rd, err := s.Open(0)
	require.NoError(t, err)

	require.True(t, s.Push(0, []byte{1}))
	require.NoError(t, s.Close())
	assert.False(t, s.Push(0, []byte{2}), "closed channel rejects pushes")

	n, _, err := rd.ReadEvents(make([]Record, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, err = rd.ReadEvents(make([]Record, 4))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRingSet_WakesBlockedReader(t *testing.T) {
	s := NewRingSet(1, 4, time.Second)
	rd, err := s.Open(0)
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		n  int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		n, _, _ = rd.ReadEvents(make([]Record, 4))
	}()

	time.Sleep(5 * time.Millisecond)
	require.True(t, s.Push(0, []byte{1}))
	wg.Wait()
	assert.Equal(t, 1, n)
}

func TestRingSet_OpenRules(t *testing.T) {
	s := NewRingSet(2, 4, testTimeout)

	_, err := s.Open(0)
	require.NoError(t, err)

	_, err = s.Open(0)
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	_, err = s.Open(2)
	assert.ErrorIs(t, err, ErrInvalidCPU)

	assert.False(t, s.Push(5, []byte{1}))
	assert.Equal(t, 2, s.CPUs())
}
