package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func parse(t *testing.T, args ...string) (*Config, *viper.Viper) {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("syscall-tracer", pflag.ContinueOnError)
	require.NoError(t, RegisterFlags(fs, v))
	require.NoError(t, fs.Parse(args))
	return Load(v), v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, _ := parse(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.Duration)
	assert.Equal(t, 10, cfg.TopN)
	assert.Equal(t, 100*time.Millisecond, cfg.PollTimeout)
	assert.Zero(t, cfg.PID)
	assert.Empty(t, cfg.CommFilter)
	assert.False(t, cfg.HasSyscall)
	assert.True(t, cfg.Filter.Empty())
	assert.Equal(t, zapcore.InfoLevel, cfg.Level.Level())
}

func TestValidate_NumericProcessIsPID(t *testing.T) {
	cfg, _ := parse(t, "-p", "1234")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(1234), cfg.PID)
	assert.Empty(t, cfg.CommFilter)
}

func TestValidate_NameProcessIsSubstring(t *testing.T) {
	cfg, _ := parse(t, "--process", "nginx")
	require.NoError(t, cfg.Validate())

	assert.Zero(t, cfg.PID)
	assert.Equal(t, "nginx", cfg.CommFilter)
	assert.False(t, cfg.Filter.Empty())
}

func TestValidate_ProcessEdgeCases(t *testing.T) {
	cfg, _ := parse(t, "-p", "0")
	assert.Error(t, cfg.Validate())

	cfg, _ = parse(t, "-p", "99999999999")
	assert.Error(t, cfg.Validate())

	cfg, _ = parse(t, "-p", "12ab")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "12ab", cfg.CommFilter, "non-numeric values are names")
}

func TestValidate_Syscall(t *testing.T) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("no syscall table for this architecture")
	}

	cfg, _ := parse(t, "-s", "openat")
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.HasSyscall)

	cfg, _ = parse(t, "-s", "not_a_syscall")
	assert.Error(t, cfg.Validate())
}

func TestValidate_Where(t *testing.T) {
	cfg, _ := parse(t, "-w", `pid > 10 && comm != "bash"`)
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Filter.Empty())

	cfg, _ = parse(t, "-w", `pid >`)
	assert.Error(t, cfg.Validate())
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative duration", []string{"--duration=-1"}},
		{"zero top", []string{"-n", "0"}},
		{"zero poll timeout", []string{"--poll-timeout", "0s"}},
		{"zero queue", []string{"--queue-size", "0"}},
		{"bad log level", []string{"--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := parse(t, tt.args...)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DurationZeroMeansUntilCancelled(t *testing.T) {
	cfg, _ := parse(t, "-d", "0")
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.Duration)
}

func TestValidate_VerboseForcesDebug(t *testing.T) {
	cfg, _ := parse(t, "-v", "--log-level", "error")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zapcore.DebugLevel, cfg.Level.Level())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SYSCALL_TRACER_DURATION", "3")
	t.Setenv("SYSCALL_TRACER_QUEUE_SIZE", "128")

	cfg, _ := parse(t)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Duration)
	assert.Equal(t, 128, cfg.QueueSize)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SYSCALL_TRACER_DURATION", "3")

	cfg, _ := parse(t, "-d", "7")
	assert.Equal(t, 7*time.Second, cfg.Duration)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("duration: 4\ntop: 3\nprocess: redis\n"), 0o600))

	v := viper.New()
	fs := pflag.NewFlagSet("syscall-tracer", pflag.ContinueOnError)
	require.NoError(t, RegisterFlags(fs, v))
	require.NoError(t, fs.Parse(nil))
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg := Load(v)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4*time.Second, cfg.Duration)
	assert.Equal(t, 3, cfg.TopN)
	assert.Equal(t, "redis", cfg.CommFilter)
}

func TestParseOTELConfig_Defaults(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	require.NoError(t, os.Unsetenv("OTEL_SERVICE_NAME"))

	cfg, err := ParseOTELConfig()
	require.NoError(t, err)
	assert.Equal(t, "syscall-tracer", cfg.ServiceName)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "localhost:4318", cfg.GetEndpoint())
}

func TestOTELConfig_GetEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  OTELConfig
		want string
	}{
		{"exporter", OTELConfig{ExporterEndpoint: "collector:4318"}, "collector:4318"},
		{"traces wins", OTELConfig{ExporterEndpoint: "a:1", TracesEndpoint: "b:2"}, "b:2"},
		{"strips scheme and path", OTELConfig{TracesEndpoint: "http://otel:4318/v1/traces"}, "otel:4318"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.cfg.Enabled())
			assert.Equal(t, tt.want, tt.cfg.GetEndpoint())
		})
	}
}

func TestOTELConfig_ParseResourceAttributes(t *testing.T) {
	cfg := OTELConfig{ResourceAttributes: "env=prod, team = infra,broken,=nokey"}

	attrs := cfg.ParseResourceAttributes()
	require.Len(t, attrs, 2)
	assert.Equal(t, "env", string(attrs[0].Key))
	assert.Equal(t, "prod", attrs[0].Value.AsString())
	assert.Equal(t, "team", string(attrs[1].Key))
	assert.Equal(t, "infra", attrs[1].Value.AsString())
}
