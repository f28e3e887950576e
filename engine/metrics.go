package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semtopo/metric"
)

// engineMetrics holds Prometheus metrics for topology lifecycle operations.
type engineMetrics struct {
	schedules        *prometheus.CounterVec   // By topology and status (success/failure)
	scheduleDuration *prometheus.HistogramVec // By topology
	shutdowns        *prometheus.CounterVec   // By topology and mode (graceful/forced)
	shutdownDuration *prometheus.HistogramVec // By topology
	replays          *prometheus.CounterVec   // By topology and stage
	running          prometheus.Gauge         // Currently running topologies
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		schedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtopo",
			Subsystem: "engine",
			Name:      "schedules_total",
			Help:      "Total number of topology schedule operations",
		}, []string{"topology", "status"}),

		scheduleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semtopo",
			Subsystem: "engine",
			Name:      "schedule_duration_seconds",
			Help:      "Time to open and initialize every task instance",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"topology"}),

		shutdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtopo",
			Subsystem: "engine",
			Name:      "shutdowns_total",
			Help:      "Total number of topology shutdowns",
		}, []string{"topology", "mode"}),

		shutdownDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semtopo",
			Subsystem: "engine",
			Name:      "shutdown_duration_seconds",
			Help:      "Topology shutdown duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		}, []string{"topology"}),

		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtopo",
			Subsystem: "engine",
			Name:      "replays_total",
			Help:      "Source records re-emitted after their delivery unit timed out",
		}, []string{"topology", "stage"}),

		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semtopo",
			Subsystem: "engine",
			Name:      "running_topologies",
			Help:      "Current number of running topologies",
		}),
	}

	if err := registry.RegisterCounterVec("engine", "schedules", m.schedules); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "schedule_duration", m.scheduleDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "shutdowns", m.shutdowns); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "shutdown_duration", m.shutdownDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "replays", m.replays); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "running_topologies", m.running); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) recordSchedule(topology string, success bool, duration float64) {
	if m == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	m.schedules.WithLabelValues(topology, status).Inc()
	m.scheduleDuration.WithLabelValues(topology).Observe(duration)
	if success {
		m.running.Inc()
	}
}

func (m *engineMetrics) recordShutdown(topology string, forced bool, duration float64) {
	if m == nil {
		return
	}

	mode := "graceful"
	if forced {
		mode = "forced"
	}

	m.shutdowns.WithLabelValues(topology, mode).Inc()
	m.shutdownDuration.WithLabelValues(topology).Observe(duration)
	m.running.Dec()
}

func (m *engineMetrics) recordReplay(topology, stage string) {
	if m != nil {
		m.replays.WithLabelValues(topology, stage).Inc()
	}
}
