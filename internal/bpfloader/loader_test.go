package bpfloader

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrzor/syscall-tracer/internal/bpf"
)

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("loading BPF programs requires root")
	}
}

func TestLoader_Lifecycle(t *testing.T) {
	requireRoot(t)

	l, err := New(Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer func() { assert.NoError(t, l.Close()) }()

	require.NoError(t, l.Maps().SetFilter(bpf.FilterKeyPID, uint64(os.Getpid())))
	require.NoError(t, l.Attach())
	require.NoError(t, l.Attach(), "attach is idempotent")

	set, err := l.Channels()
	require.NoError(t, err)
	assert.Positive(t, set.CPUs())

	// The test process itself makes syscalls while attached.
	_, _ = os.ReadFile("/proc/self/stat")

	require.NoError(t, l.Detach())
	require.NoError(t, l.Detach(), "detach is idempotent")

	counts, err := l.Maps().ProcessCounts()
	require.NoError(t, err)
	assert.NotZero(t, counts[uint32(os.Getpid())])
}
