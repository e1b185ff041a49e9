package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mrzor/syscall-tracer/internal/maps"
)

// SyscallCollector reads the aggregate counter tables on every scrape.
type SyscallCollector struct {
	maps   maps.Set
	name   func(nr uint64) string
	logger *zap.Logger

	syscallDesc *prometheus.Desc
	processDesc *prometheus.Desc
}

// NewSyscallCollector exports the counters held in set. name maps syscall
// numbers to label values.
func NewSyscallCollector(set maps.Set, name func(nr uint64) string, logger *zap.Logger) *SyscallCollector {
	return &SyscallCollector{
		maps:   set,
		name:   name,
		logger: logger,
		syscallDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "syscalls_total"),
			"Syscalls counted in kernel, by syscall.",
			[]string{"syscall"}, nil),
		processDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "process_syscalls_total"),
			"Syscalls counted in kernel, by process id.",
			[]string{"pid"}, nil),
	}
}

// Describe implements the prometheus.Collector interface
func (c *SyscallCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.syscallDesc
	ch <- c.processDesc
}

// Collect implements the prometheus.Collector interface
func (c *SyscallCollector) Collect(ch chan<- prometheus.Metric) {
	syscalls, err := c.maps.SyscallCounts()
	if err != nil {
		c.logger.Warn("reading syscall counters for scrape", zap.Error(err))
	} else {
		for nr, count := range syscalls {
			ch <- prometheus.MustNewConstMetric(c.syscallDesc, prometheus.CounterValue, float64(count), c.name(nr))
		}
	}

	processes, err := c.maps.ProcessCounts()
	if err != nil {
		c.logger.Warn("reading process counters for scrape", zap.Error(err))
		return
	}
	for pid, count := range processes {
		ch <- prometheus.MustNewConstMetric(c.processDesc, prometheus.CounterValue, float64(count),
			strconv.FormatUint(uint64(pid), 10))
	}
}
