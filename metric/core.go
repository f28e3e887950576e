package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semtopo"

// Metrics contains the topology-level metrics shared by every running topology
type Metrics struct {
	// Record flow
	RecordsEmitted   *prometheus.CounterVec
	RecordsProcessed *prometheus.CounterVec
	ProcessDuration  *prometheus.HistogramVec
	RecordsDropped   *prometheus.CounterVec

	// Task instances
	TaskRestarts *prometheus.CounterVec
	TasksRunning *prometheus.GaugeVec
	AlertsTotal  *prometheus.CounterVec

	// Delivery tracking
	DeliveryPending prometheus.Gauge
	DeliveryUnits   *prometheus.CounterVec
}

// NewMetrics creates unregistered topology metrics. Use NewMetricsRegistry to
// expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		RecordsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "emitted_total",
				Help:      "Total number of records emitted by a stage",
			},
			[]string{"stage"},
		),

		RecordsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "processed_total",
				Help:      "Total number of records processed by a stage",
			},
			[]string{"stage", "status"},
		),

		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "process_duration_seconds",
				Help:      "Time spent in a single Process call",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"stage"},
		),

		RecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "dropped_total",
				Help:      "Total number of records dropped before processing",
			},
			[]string{"stage", "reason"},
		),

		TaskRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "restarts_total",
				Help:      "Total number of task instance restarts",
			},
			[]string{"stage"},
		),

		TasksRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "running",
				Help:      "Number of task instances currently running",
			},
			[]string{"stage"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "alerts_total",
				Help:      "Total number of unrecoverable task errors",
			},
			[]string{"stage", "kind"},
		),

		DeliveryPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "delivery",
				Name:      "units_pending",
				Help:      "Delivery units awaiting completion",
			},
		),

		DeliveryUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delivery",
				Name:      "units_total",
				Help:      "Delivery units by outcome (completed, timed_out, abandoned)",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsEmitted,
		m.RecordsProcessed,
		m.ProcessDuration,
		m.RecordsDropped,
		m.TaskRestarts,
		m.TasksRunning,
		m.AlertsTotal,
		m.DeliveryPending,
		m.DeliveryUnits,
	}
}

// RecordEmitted counts one record emitted by stage
func (m *Metrics) RecordEmitted(stage string) {
	m.RecordsEmitted.WithLabelValues(stage).Inc()
}

// RecordProcessed counts one Process call and its duration
func (m *Metrics) RecordProcessed(stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RecordsProcessed.WithLabelValues(stage, status).Inc()
	m.ProcessDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDropped counts records discarded without processing
func (m *Metrics) RecordDropped(stage, reason string, n int) {
	m.RecordsDropped.WithLabelValues(stage, reason).Add(float64(n))
}

// RecordRestart counts one task instance restart
func (m *Metrics) RecordRestart(stage string) {
	m.TaskRestarts.WithLabelValues(stage).Inc()
}

// RecordAlert counts one unrecoverable error
func (m *Metrics) RecordAlert(stage, kind string) {
	m.AlertsTotal.WithLabelValues(stage, kind).Inc()
}

// RecordDeliveryOutcome counts a delivery unit leaving the pending set
func (m *Metrics) RecordDeliveryOutcome(outcome string) {
	m.DeliveryUnits.WithLabelValues(outcome).Inc()
}
