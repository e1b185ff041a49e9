package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/syscall-tracer/internal/output"
)

const tracerName = "github.com/mrzor/syscall-tracer"

// RunInfo describes the run being recorded.
type RunInfo struct {
	Start   time.Time
	End     time.Time
	PID     uint32
	Process string
	Syscall string
	Where   string
	Err     error
}

// RecordRun emits one span covering the run, with the summary as attributes
// and one event per ranked syscall and process.
func RecordRun(ctx context.Context, tp trace.TracerProvider, info RunInfo, summary output.Summary) {
	tracer := tp.Tracer(tracerName)

	_, span := tracer.Start(ctx, "syscall-tracer.run",
		trace.WithTimestamp(info.Start),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("tracer.filter.pid", int64(info.PID)),
			attribute.String("tracer.filter.process", info.Process),
			attribute.String("tracer.filter.syscall", info.Syscall),
			attribute.String("tracer.filter.where", info.Where),
		),
	)

	span.SetAttributes(
		attribute.Int64("tracer.syscalls.total", int64(summary.Total)),
		attribute.Int64("tracer.events.lost", int64(summary.Lost)),
		attribute.Int64("tracer.events.printed", int64(summary.Printed)),
		attribute.Int("tracer.syscalls.distinct", summary.NumSyscall),
		attribute.Int("tracer.processes.distinct", summary.NumProcess),
	)

	for i, row := range summary.Syscalls {
		span.AddEvent("syscall", trace.WithTimestamp(info.End), trace.WithAttributes(
			attribute.Int("rank", i+1),
			attribute.String("syscall.name", row.Name),
			attribute.Int64("syscall.nr", int64(row.Nr)),
			attribute.Int64("count", int64(row.Count)),
			attribute.Float64("percent", row.Percent),
		))
	}
	for i, row := range summary.Processes {
		span.AddEvent("process", trace.WithTimestamp(info.End), trace.WithAttributes(
			attribute.Int("rank", i+1),
			attribute.Int64("process.pid", int64(row.Pid)),
			attribute.String("process.command", row.Comm),
			attribute.Int64("count", int64(row.Count)),
		))
	}

	if info.Err != nil {
		span.RecordError(info.Err)
		span.SetStatus(codes.Error, info.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(info.End))
}
