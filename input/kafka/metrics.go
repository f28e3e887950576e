package kafka

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semtopo/metric"
)

// sourceMetrics counts record outcomes of every source built by one factory.
// A nil *sourceMetrics records nothing.
type sourceMetrics struct {
	records     *prometheus.CounterVec
	commits     prometheus.Counter
	fetchErrors prometheus.Counter
}

func newSourceMetrics(registry *metric.MetricsRegistry) (*sourceMetrics, error) {
	m := &sourceMetrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtopo",
			Subsystem: "kafka_source",
			Name:      "records_total",
			Help:      "Records consumed from Kafka by outcome",
		}, []string{"outcome"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semtopo",
			Subsystem: "kafka_source",
			Name:      "committed_partitions_total",
			Help:      "Partition offsets committed",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semtopo",
			Subsystem: "kafka_source",
			Name:      "fetch_errors_total",
			Help:      "Fetch errors returned by the brokers",
		}),
	}
	if err := registry.RegisterCounterVec("kafka_source", "records", m.records); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("kafka_source", "commits", m.commits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("kafka_source", "fetch_errors", m.fetchErrors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *sourceMetrics) consumed() {
	if m != nil {
		m.records.WithLabelValues("consumed").Inc()
	}
}

func (m *sourceMetrics) acked() {
	if m != nil {
		m.records.WithLabelValues("acked").Inc()
	}
}

func (m *sourceMetrics) failed() {
	if m != nil {
		m.records.WithLabelValues("timed_out").Inc()
	}
}

func (m *sourceMetrics) committed(partitions int) {
	if m != nil {
		m.commits.Add(float64(partitions))
	}
}

func (m *sourceMetrics) fetchError() {
	if m != nil {
		m.fetchErrors.Inc()
	}
}
