package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// PrometheusNamespace is the namespace for all controller self-metrics
const PrometheusNamespace = "aegis"

const subsystem = "rollout"

// Tick outcomes recorded by RecordRun.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Degradation kinds recorded by RecordDegraded.
const (
	KindMetrics     = "metrics"
	KindStateRead   = "state_read"
	KindStateWrite  = "state_write"
	KindConflict    = "conflict"
	KindAudit       = "audit"
	KindAuditMirror = "audit_mirror"
)

// Metrics instruments the controller itself. All collectors live on a
// private registry so tests and one-shot invocations never collide with
// the process-global default.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	actionsTotal  *prometheus.CounterVec
	percent       *prometheus.GaugeVec
	degradedTotal *prometheus.CounterVec
	tickDuration  prometheus.Histogram
}

// NewMetrics creates and registers the controller collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Total number of controller ticks by outcome.",
		}, []string{"outcome"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Subsystem: subsystem,
			Name:      "actions_total",
			Help:      "Total number of per-feature decisions by action.",
		}, []string{"feature", "action"}),
		percent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: PrometheusNamespace,
			Subsystem: subsystem,
			Name:      "percent",
			Help:      "Current rollout percent by feature.",
		}, []string{"feature"}),
		degradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Subsystem: subsystem,
			Name:      "degraded_total",
			Help:      "Total number of degraded per-feature outcomes by kind.",
		}, []string{"feature", "kind"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: PrometheusNamespace,
			Subsystem: subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full controller tick in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.actionsTotal,
		m.percent,
		m.degradedTotal,
		m.tickDuration,
	)
	return m
}

// Registry exposes the underlying registry for /metrics exposition
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun counts a completed tick by outcome
func (m *Metrics) RecordRun(outcome string) {
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// RecordAction counts a per-feature decision
func (m *Metrics) RecordAction(featureName string, action rollout.Action) {
	m.actionsTotal.WithLabelValues(featureName, string(action)).Inc()
}

// SetPercent records the current rollout percent for a feature
func (m *Metrics) SetPercent(featureName string, percent int) {
	m.percent.WithLabelValues(featureName).Set(float64(percent))
}

// RecordDegraded counts a degraded per-feature outcome
func (m *Metrics) RecordDegraded(featureName string, kind string) {
	m.degradedTotal.WithLabelValues(featureName, kind).Inc()
}

// ObserveTickDuration records how long a full tick took
func (m *Metrics) ObserveTickDuration(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}
