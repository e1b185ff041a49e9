package main

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSyscallsCommand(t *testing.T) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("no syscall table for this architecture")
	}

	cmd, err := newRootCmd()
	require.NoError(t, err)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"syscalls", "open"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "NR"))
	assert.Contains(t, out.String(), "openat")
	assert.NotContains(t, out.String(), " write\n")
}

func TestRootCommand_InvalidConfigFailsBeforeTracing(t *testing.T) {
	cmd, err := newRootCmd()
	require.NoError(t, err)

	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--syscall", "definitely_not_a_syscall"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRootCommand_RejectsArgs(t *testing.T) {
	cmd, err := newRootCmd()
	require.NoError(t, err)

	cmd.SetArgs([]string{"unexpected"})
	assert.Error(t, cmd.Execute())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(zap.NewAtomicLevelAt(zapcore.DebugLevel))
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger(zap.NewAtomicLevelAt(zapcore.WarnLevel))
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}
