package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for warden.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Dispatcher metrics.
	DispatchOutcomesTotal *prometheus.CounterVec
	PINAttemptsTotal      *prometheus.CounterVec
	LockoutsTotal         prometheus.Counter
	PendingActions        prometheus.Gauge

	// Handler metrics.
	HandlerExecutionsTotal *prometheus.CounterVec
	HandlerDuration        *prometheus.HistogramVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		DispatchOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Dispatcher outcomes by operation, outcome and rejection reason.",
		}, []string{"operation", "outcome", "reason"}),

		PINAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "pin_attempts_total",
			Help:      "PIN confirmation attempts by result.",
		}, []string{"result"}),

		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "lockouts_total",
			Help:      "Pending actions discarded after exhausting PIN attempts.",
		}),

		PendingActions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "pending_actions",
			Help:      "Number of actions awaiting PIN confirmation (0 or 1).",
		}),

		HandlerExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "handler",
			Name:      "executions_total",
			Help:      "Total capability handler executions.",
		}, []string{"kind", "status"}),

		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Capability handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.DispatchOutcomesTotal,
		m.PINAttemptsTotal,
		m.LockoutsTotal,
		m.PendingActions,
		m.HandlerExecutionsTotal,
		m.HandlerDuration,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// ObserveDispatch counts one dispatcher outcome. reason is empty unless
// the outcome is a rejection.
func (m *MetricsCollector) ObserveDispatch(operation, outcome, reason string) {
	if m == nil {
		return
	}
	m.DispatchOutcomesTotal.WithLabelValues(operation, outcome, reason).Inc()
}

// ObservePINAttempt counts one governor decision ("verified", "retry", "locked").
func (m *MetricsCollector) ObservePINAttempt(result string) {
	if m == nil {
		return
	}
	m.PINAttemptsTotal.WithLabelValues(result).Inc()
	if result == "locked" {
		m.LockoutsTotal.Inc()
	}
}

// SetPending records whether the pending slot is occupied.
func (m *MetricsCollector) SetPending(occupied bool) {
	if m == nil {
		return
	}
	if occupied {
		m.PendingActions.Set(1)
	} else {
		m.PendingActions.Set(0)
	}
}

// ObserveHandler records one handler invocation.
func (m *MetricsCollector) ObserveHandler(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HandlerExecutionsTotal.WithLabelValues(kind, status).Inc()
	m.HandlerDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveSandbox implements sandbox.Observer.
func (m *MetricsCollector) ObserveSandbox(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SandboxExecutionsTotal.WithLabelValues(status).Inc()
	m.SandboxExecutionDuration.WithLabelValues(status).Observe(d.Seconds())
}
