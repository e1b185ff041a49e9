package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/mrzor/syscall-tracer/internal/config"
	"github.com/mrzor/syscall-tracer/internal/output"
)

func recorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	return sr, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestRecordRun(t *testing.T) {
	sr, tp := recorder()
	start := time.Unix(1_700_000_000, 0)
	end := start.Add(5 * time.Second)

	summary := output.Summary{
		Total:      10,
		Lost:       2,
		Printed:    8,
		NumSyscall: 2,
		NumProcess: 1,
		Syscalls: []output.SyscallRow{
			{Nr: 0, Name: "read", Count: 7, Percent: 70},
			{Nr: 1, Name: "write", Count: 3, Percent: 30},
		},
		Processes: []output.ProcessRow{{Pid: 42, Comm: "cat", Count: 10}},
	}

	RecordRun(context.Background(), tp, RunInfo{Start: start, End: end, Syscall: "read"}, summary)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "syscall-tracer.run", span.Name())
	assert.Equal(t, start, span.StartTime())
	assert.Equal(t, end, span.EndTime())
	assert.Equal(t, codes.Ok, span.Status().Code)

	attrs := attrMap(span.Attributes())
	assert.Equal(t, int64(10), attrs["tracer.syscalls.total"].AsInt64())
	assert.Equal(t, int64(2), attrs["tracer.events.lost"].AsInt64())
	assert.Equal(t, "read", attrs["tracer.filter.syscall"].AsString())

	events := span.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "syscall", events[0].Name)
	assert.Equal(t, "read", attrMap(events[0].Attributes)["syscall.name"].AsString())
	assert.Equal(t, "process", events[2].Name)
	assert.Equal(t, "cat", attrMap(events[2].Attributes)["process.command"].AsString())
}

func TestRecordRun_Error(t *testing.T) {
	sr, tp := recorder()

	RecordRun(context.Background(), tp, RunInfo{
		Start: time.Now(),
		End:   time.Now(),
		Err:   errors.New("attach failed"),
	}, output.Summary{})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "attach failed", spans[0].Status().Description)
}

func TestShutdownProvider_Nil(t *testing.T) {
	assert.NoError(t, ShutdownProvider(context.Background(), nil))
}

func TestInitProvider(t *testing.T) {
	cfg := &config.OTELConfig{
		ServiceName:        "syscall-tracer-test",
		ExporterEndpoint:   "localhost:4318",
		ResourceAttributes: "env=test",
	}

	tp, err := InitProvider(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Nothing was recorded, so shutdown does not need a live collector.
	assert.NoError(t, ShutdownProvider(ctx, tp))
}
