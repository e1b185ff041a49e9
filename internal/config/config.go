// Package config turns flags, environment and an optional config file into a
// validated tracer configuration.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mrzor/syscall-tracer/internal/channel"
	"github.com/mrzor/syscall-tracer/internal/filter"
	"github.com/mrzor/syscall-tracer/internal/syscalls"
)

// EnvPrefix prefixes environment overrides, e.g. SYSCALL_TRACER_DURATION.
const EnvPrefix = "SYSCALL_TRACER"

// Configuration keys shared by flags, environment and config file.
const (
	KeyProcess      = "process"
	KeySyscall      = "syscall"
	KeyDuration     = "duration"
	KeyWhere        = "where"
	KeyTop          = "top"
	KeyPollTimeout  = "poll-timeout"
	KeyQueueSize    = "queue-size"
	KeyPerCPUBuffer = "per-cpu-buffer"
	KeyMetricsAddr  = "metrics-addr"
	KeyLogLevel     = "log-level"
	KeyVerbose      = "verbose"
)

// Defaults.
const (
	DefaultDuration = 10 * time.Second
	DefaultTopN     = 10
)

// Config holds the tracer configuration.
type Config struct {
	// Process is a PID or a task name substring.
	Process string
	// Syscall is a syscall name from the static table.
	Syscall string
	// Duration of the run; zero traces until interrupted.
	Duration time.Duration
	// Where is an optional expression evaluated per event.
	Where string
	TopN  int

	PollTimeout  time.Duration
	QueueSize    int
	PerCPUBuffer int
	MetricsAddr  string
	LogLevel     string
	Verbose      bool

	// Resolved by Validate.
	PID        uint32
	CommFilter string
	SyscallNr  uint64
	HasSyscall bool
	Filter     *filter.Filter
	Level      zap.AtomicLevel
}

// RegisterFlags declares the tracer flags on fs and binds them to v.
func RegisterFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.StringP(KeyProcess, "p", "", "filter by PID (numeric) or process name substring")
	fs.StringP(KeySyscall, "s", "", "filter by syscall name (see the syscalls command)")
	fs.IntP(KeyDuration, "d", int(DefaultDuration/time.Second), "duration in seconds (0 = until Ctrl+C)")
	fs.StringP(KeyWhere, "w", "", `filter expression over pid, tid, comm, syscall, nr (e.g. 'syscall == "openat"')`)
	fs.IntP(KeyTop, "n", DefaultTopN, "rows per summary ranking")
	fs.Duration(KeyPollTimeout, channel.DefaultPollTimeout, "per-CPU read timeout")
	fs.Int(KeyQueueSize, channel.DefaultQueueSize, "events buffered per CPU in userspace")
	fs.Int(KeyPerCPUBuffer, 0, "kernel perf buffer size per CPU in bytes (0 = 64 pages)")
	fs.String(KeyMetricsAddr, "", "serve Prometheus metrics on this address (e.g. :9090)")
	fs.String(KeyLogLevel, "info", "log level (debug, info, warn, error)")
	fs.BoolP(KeyVerbose, "v", false, "enable debug logging")

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// Load reads the configuration out of v. Call Validate before use.
func Load(v *viper.Viper) *Config {
	return &Config{
		Process:      strings.TrimSpace(v.GetString(KeyProcess)),
		Syscall:      strings.TrimSpace(v.GetString(KeySyscall)),
		Duration:     time.Duration(v.GetInt(KeyDuration)) * time.Second,
		Where:        strings.TrimSpace(v.GetString(KeyWhere)),
		TopN:         v.GetInt(KeyTop),
		PollTimeout:  v.GetDuration(KeyPollTimeout),
		QueueSize:    v.GetInt(KeyQueueSize),
		PerCPUBuffer: v.GetInt(KeyPerCPUBuffer),
		MetricsAddr:  v.GetString(KeyMetricsAddr),
		LogLevel:     v.GetString(KeyLogLevel),
		Verbose:      v.GetBool(KeyVerbose),
	}
}

// Validate checks the configuration and resolves the filters.
func (c *Config) Validate() error {
	var errs []error

	if c.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must not be negative, got %s", c.Duration))
	}
	if c.TopN <= 0 {
		errs = append(errs, fmt.Errorf("top must be positive, got %d", c.TopN))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll timeout must be positive, got %s", c.PollTimeout))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue size must be positive, got %d", c.QueueSize))
	}
	if c.PerCPUBuffer < 0 {
		errs = append(errs, fmt.Errorf("per-cpu buffer must not be negative, got %d", c.PerCPUBuffer))
	}

	if err := c.resolveProcess(); err != nil {
		errs = append(errs, err)
	}

	if c.Syscall != "" {
		nr, err := syscalls.Lookup(c.Syscall)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.SyscallNr = nr
			c.HasSyscall = true
		}
	}

	f, err := filter.New(c.CommFilter, c.Where)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Filter = f
	}

	level := c.LogLevel
	if c.Verbose {
		level = "debug"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q: %w", level, err))
	} else {
		c.Level = lvl
	}

	return errors.Join(errs...)
}

// resolveProcess treats a numeric value as a PID for the kernel filter and
// anything else as a task name substring for the userspace filter.
func (c *Config) resolveProcess() error {
	c.PID = 0
	c.CommFilter = ""
	if c.Process == "" {
		return nil
	}

	pid, err := strconv.ParseUint(c.Process, 10, 32)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return fmt.Errorf("pid %s out of range", c.Process)
		}
		c.CommFilter = c.Process
		return nil
	}
	if pid == 0 {
		return fmt.Errorf("pid 0 cannot be traced, omit --process to trace everything")
	}
	c.PID = uint32(pid)
	return nil
}
