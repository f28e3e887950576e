package natsclient

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semtopo/metric"
)

// jetstreamMetrics polls the streams and consumers this client created.
type jetstreamMetrics struct {
	streamMessages      *prometheus.GaugeVec
	consumerPending     *prometheus.GaugeVec
	consumerAckPending  *prometheus.GaugeVec
	consumerRedelivered *prometheus.GaugeVec
	errors              *prometheus.CounterVec

	interval time.Duration

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "semtopo",
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, labels)
	}
	m := &jetstreamMetrics{
		streamMessages:      gauge("stream_messages", "Current number of messages in stream", "stream"),
		consumerPending:     gauge("consumer_pending_messages", "Messages not yet delivered to consumer", "stream", "consumer"),
		consumerAckPending:  gauge("consumer_ack_pending", "Messages delivered but not acknowledged", "stream", "consumer"),
		consumerRedelivered: gauge("consumer_redelivered", "Messages redelivered to consumer", "stream", "consumer"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtopo",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Total number of JetStream operation errors",
		}, []string{"operation"}),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}

	for name, vec := range map[string]*prometheus.GaugeVec{
		"stream_messages":      m.streamMessages,
		"consumer_pending":     m.consumerPending,
		"consumer_ack_pending": m.consumerAckPending,
		"consumer_redelivered": m.consumerRedelivered,
	} {
		if err := registry.RegisterGaugeVec("jetstream", name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.streams[name] = stream
	m.mu.Unlock()
}

func (m *jetstreamMetrics) trackConsumer(stream, consumer string, c jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.consumers[stream+":"+consumer] = c
	m.mu.Unlock()
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes every tracked resource. Unavailable ones are skipped.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	m.mu.RLock()
	streams := maps.Clone(m.streams)
	consumers := maps.Clone(m.consumers)
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			continue
		}
		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
	}
	for _, c := range consumers {
		info, err := c.Info(ctx)
		if err != nil {
			continue
		}
		m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
		m.consumerAckPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumAckPending))
		m.consumerRedelivered.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumRedelivered))
	}
}

// startPoller polls every interval until the returned cancel func is called.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
