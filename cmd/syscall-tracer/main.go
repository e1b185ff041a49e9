// syscall-tracer traces system calls system-wide with an eBPF probe, printing
// one line per matching call and a ranked summary at the end of the run.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mrzor/syscall-tracer/internal/bpfloader"
	"github.com/mrzor/syscall-tracer/internal/config"
	"github.com/mrzor/syscall-tracer/internal/metrics"
	"github.com/mrzor/syscall-tracer/internal/otel"
	"github.com/mrzor/syscall-tracer/internal/output"
	"github.com/mrzor/syscall-tracer/internal/reporter"
	"github.com/mrzor/syscall-tracer/internal/syscalls"
	"github.com/mrzor/syscall-tracer/internal/timesync"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var _ reporter.Backend = (*bpfloader.Loader)(nil)

func main() {
	cmd, err := newRootCmd()
	if err == nil {
		err = cmd.Execute()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", strings.ReplaceAll(err.Error(), "\n", "; "))
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, error) {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "syscall-tracer",
		Short: "Trace system calls with an eBPF probe",
		Long: `syscall-tracer attaches a probe to raw_syscalls/sys_enter, prints one line
per matching system call and, when the run ends, a summary of the busiest
syscalls and processes.

A numeric --process selects a PID in the kernel; any other value is matched
as a substring of the process name in userspace.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}

			cfg := config.Load(v)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	if err := config.RegisterFlags(cmd.Flags(), v); err != nil {
		return nil, err
	}
	cmd.AddCommand(newSyscallsCmd())

	return cmd, nil
}

func newSyscallsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "syscalls [substring]",
		Short: "List the syscall names known for this architecture",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var match string
			if len(args) == 1 {
				match = strings.ToLower(args[0])
			}
			return printSyscalls(cmd.OutOrStdout(), match)
		},
	}
}

func printSyscalls(w io.Writer, match string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NR\tNAME")
	for _, e := range syscalls.All() {
		if match != "" && !strings.Contains(e.Name, match) {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\n", e.Nr, e.Name)
	}
	return tw.Flush()
}

func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if level.Level() == zapcore.DebugLevel {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = level
	logConfig.OutputPaths = []string{"stderr"}
	return logConfig.Build()
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger, err := newLogger(cfg.Level)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }() //nolint:errcheck // stderr sync fails on some terminals

	clock, err := timesync.NewConverter()
	if err != nil {
		return err
	}

	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return err
	}

	loader, err := bpfloader.New(bpfloader.Options{
		PerCPUBuffer: cfg.PerCPUBuffer,
		QueueSize:    cfg.QueueSize,
		PollTimeout:  cfg.PollTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		if err := m.Register(metrics.NewSyscallCollector(loader.Maps(), syscalls.Name, logger)); err != nil {
			_ = loader.Close() //nolint:errcheck // Best-effort cleanup in error path
			return err
		}
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()
		go func() {
			if err := m.Serve(metricsCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	r := reporter.New(loader, reporter.Options{
		Filter: reporter.Filter{
			PID:        cfg.PID,
			Syscall:    cfg.SyscallNr,
			HasSyscall: cfg.HasSyscall,
		},
		UserFilter: cfg.Filter,
		Duration:   cfg.Duration,
		TopN:       cfg.TopN,
		Output:     out,
		Clock:      clock,
		Metrics:    m,
		Logger:     logger,
	})

	logger.Info("starting syscall tracer",
		zap.String("version", version),
		zap.Uint32("pid", cfg.PID),
		zap.String("process", cfg.CommFilter),
		zap.String("syscall", cfg.Syscall),
		zap.Duration("duration", cfg.Duration))

	start := time.Now()
	summary, runErr := r.Run(ctx)
	end := time.Now()

	if otelCfg.Enabled() {
		if err := exportRun(otelCfg, logger, otel.RunInfo{
			Start:   start,
			End:     end,
			PID:     cfg.PID,
			Process: cfg.CommFilter,
			Syscall: cfg.Syscall,
			Where:   cfg.Where,
			Err:     runErr,
		}, summary); err != nil {
			logger.Warn("exporting run span", zap.Error(err))
		}
	}

	return runErr
}

func exportRun(otelCfg *config.OTELConfig, logger *zap.Logger, info otel.RunInfo, summary output.Summary) error {
	tp, err := otel.InitProvider(otelCfg, logger)
	if err != nil {
		return err
	}

	otel.RecordRun(context.Background(), tp, info, summary)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return otel.ShutdownProvider(shutdownCtx, tp)
}
