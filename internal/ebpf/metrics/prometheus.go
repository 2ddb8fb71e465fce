// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus instrumentation for the classifier,
// exec tracer, drain, and reconciler. None of it is required for
// correctness (see §9's note on ring-overflow counters); it exists so
// operators can see drop rates and reconciler health without reading logs.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the daemons report. PASS and ABORT
// decisions have no observable path to user space (only drops produce an
// audit record per §4.1), so only the drop count is tracked here.
type Metrics struct {
	PacketsDropped prometheus.Counter

	ExecEventsCaptured prometheus.Counter

	DrainEventsForwarded *prometheus.CounterVec
	DrainEventsLost      *prometheus.CounterVec
	DrainPostErrors      *prometheus.CounterVec

	ReconcileTicksTotal   prometheus.Counter
	ReconcileTickFailures prometheus.Counter
	ReconcileDuration     prometheus.Histogram
	ReconcileRuleCount    prometheus.Gauge

	MapEntries *prometheus.GaugeVec
	MapUpdates *prometheus.CounterVec

	HookAttached *prometheus.GaugeVec
	HookErrors   *prometheus.CounterVec
}

// NewMetrics builds an unregistered Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_classifier_packets_dropped_total",
			Help: "Total number of packets the classifier dropped, counted as drop-audit records reach the drain",
		}),

		ExecEventsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_exec_events_captured_total",
			Help: "Total number of execve invocations captured by the tracepoint",
		}),

		DrainEventsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_drain_events_forwarded_total",
			Help: "Total number of events successfully posted to the control plane",
		}, []string{"cpu", "kind"}),

		DrainEventsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_drain_events_lost_total",
			Help: "Total number of per-CPU ring events lost to overflow",
		}, []string{"cpu", "kind"}),

		DrainPostErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_drain_post_errors_total",
			Help: "Total number of failed HTTP posts to the control plane",
		}, []string{"cpu", "kind"}),

		ReconcileTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_reconcile_ticks_total",
			Help: "Total number of reconciler ticks attempted",
		}),
		ReconcileTickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_reconcile_tick_failures_total",
			Help: "Total number of reconciler ticks aborted by an error (control-plane fetch, invalid rule, or map update)",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_reconcile_duration_seconds",
			Help:    "Wall-clock duration of a successful reconciler tick",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcileRuleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_reconcile_rule_count",
			Help: "Number of rules installed by the most recent successful reconciler tick",
		}),

		MapEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_ebpf_map_entries",
			Help: "Number of entries currently in a kernel map",
		}, []string{"map_name"}),

		MapUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ebpf_map_updates_total",
			Help: "Total number of kernel map update operations",
		}, []string{"map_name", "operation"}),

		HookAttached: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_ebpf_hook_attached",
			Help: "Whether an eBPF hook is attached (1 for attached, 0 for detached)",
		}, []string{"hook_type", "target"}),

		HookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ebpf_hook_errors_total",
			Help: "Total number of eBPF hook load/attach errors",
		}, []string{"hook_type", "error_type"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.PacketsDropped.Describe(ch)

	m.ExecEventsCaptured.Describe(ch)

	m.DrainEventsForwarded.Describe(ch)
	m.DrainEventsLost.Describe(ch)
	m.DrainPostErrors.Describe(ch)

	m.ReconcileTicksTotal.Describe(ch)
	m.ReconcileTickFailures.Describe(ch)
	m.ReconcileDuration.Describe(ch)
	m.ReconcileRuleCount.Describe(ch)

	m.MapEntries.Describe(ch)
	m.MapUpdates.Describe(ch)

	m.HookAttached.Describe(ch)
	m.HookErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.PacketsDropped.Collect(ch)

	m.ExecEventsCaptured.Collect(ch)

	m.DrainEventsForwarded.Collect(ch)
	m.DrainEventsLost.Collect(ch)
	m.DrainPostErrors.Collect(ch)

	m.ReconcileTicksTotal.Collect(ch)
	m.ReconcileTickFailures.Collect(ch)
	m.ReconcileDuration.Collect(ch)
	m.ReconcileRuleCount.Collect(ch)

	m.MapEntries.Collect(ch)
	m.MapUpdates.Collect(ch)

	m.HookAttached.Collect(ch)
	m.HookErrors.Collect(ch)
}

// RegisterMetrics registers m with the default Prometheus registry.
func (m *Metrics) RegisterMetrics() {
	prometheus.MustRegister(m)
}

// ServeHTTP starts a /metrics exposition server on addr in a background
// goroutine and returns the *http.Server so callers can Shutdown it. It
// serves the default registry, so a Metrics must already be registered there
// via RegisterMetrics.
func ServeHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

// Shutdown stops a server returned by ServeHTTP, ignoring a nil srv.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
