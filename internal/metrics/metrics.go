// Package metrics exposes tracer health and syscall counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "syscall_tracer"

// Event results recorded by collectors.
const (
	ResultPrinted   = "printed"
	ResultFiltered  = "filtered"
	ResultMalformed = "malformed"
)

// Metrics holds the collector counters. A nil *Metrics records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	events     *prometheus.CounterVec
	lost       *prometheus.CounterVec
	readErrors *prometheus.CounterVec
}

// New creates the counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Events read from the per-CPU channels, by outcome.",
			},
			[]string{"cpu", "result"},
		),
		lost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lost_events_total",
				Help:      "Events dropped before userspace could read them.",
			},
			[]string{"cpu"},
		),
		readErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_errors_total",
				Help:      "Failed reads from a per-CPU channel.",
			},
			[]string{"cpu"},
		),
	}
	m.registry.MustRegister(m.events, m.lost, m.readErrors)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Register adds extra collectors, such as a SyscallCollector.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	if m == nil {
		return nil
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("registering collector: %w", err)
		}
	}
	return nil
}

// ObserveEvent counts one event read on cpu.
func (m *Metrics) ObserveEvent(cpu int, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(strconv.Itoa(cpu), result).Inc()
}

// AddLost counts n lost events on cpu.
func (m *Metrics) AddLost(cpu, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.lost.WithLabelValues(strconv.Itoa(cpu)).Add(float64(n))
}

// IncReadError counts a failed read on cpu.
func (m *Metrics) IncReadError(cpu int) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(strconv.Itoa(cpu)).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting Prometheus metrics endpoint", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stopping metrics server: %w", err)
		}
		return nil
	}
}
