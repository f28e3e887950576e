package metric

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/health"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	err := registry.RegisterCounter("test-service", "test_counter", counter)
	require.NoError(t, err)

	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["test_counter"], "Counter should be registered in Prometheus registry")
}

func TestMetricsRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "A test histogram"})

	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))

	gauge.Set(3)
	histogram.Observe(0.2)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_histogram"])
}

func TestMetricsRegistry_RegisterGaugeVec(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "A test gauge vector"},
		[]string{"stream"})
	require.NoError(t, registry.RegisterGaugeVec("svc", "test_gauge_vec", vec))
	assert.Error(t, registry.RegisterGaugeVec("svc", "test_gauge_vec", vec))

	vec.WithLabelValues("words").Set(7)
	assert.True(t, gatheredNames(t, registry)["test_gauge_vec"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "First counter"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "First counter"})

	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", counter1))

	// Same key is rejected by our own bookkeeping
	err := registry.RegisterCounter("service1", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	// Different key, same prometheus name is rejected by prometheus
	err = registry.RegisterCounter("service2", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_UnregisterMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unregister_counter",
		Help: "A counter to unregister",
	})

	require.NoError(t, registry.RegisterCounter("test-service", "unregister_counter", counter))
	assert.True(t, gatheredNames(t, registry)["unregister_counter"])

	assert.True(t, registry.Unregister("test-service", "unregister_counter"))
	assert.False(t, gatheredNames(t, registry)["unregister_counter"])
	assert.False(t, registry.Unregister("test-service", "unregister_counter"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", id),
				Help: "A concurrent counter",
			})

			err := registry.RegisterCounter("concurrent-service",
				fmt.Sprintf("concurrent_counter_%d", id), counter)
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	counterCount := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			counterCount++
		}
	}
	assert.Equal(t, numGoroutines, counterCount, "All concurrent counters should be registered")
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "interface_counter_total",
		Help: "Counter registered through interface",
	}, []string{"partition"})

	require.NoError(t, registrar.RegisterCounterVec("kafka", "interface_counter_total", vec))
}

func TestMetricsRegistry_CoreMetricsInitialization(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	// Vector metrics only appear in Gather once a label set has a value
	m.RecordEmitted("split")
	m.RecordProcessed("split", nil, time.Millisecond)
	m.RecordDropped("split", "shutdown", 2)
	m.RecordRestart("split")
	m.TasksRunning.WithLabelValues("split").Set(2)
	m.RecordAlert("split", "processing")
	m.RecordDeliveryOutcome("completed")
	m.DeliveryPending.Set(1)

	names := gatheredNames(t, registry)
	for _, expected := range []string{
		"semtopo_records_emitted_total",
		"semtopo_records_processed_total",
		"semtopo_records_process_duration_seconds",
		"semtopo_records_dropped_total",
		"semtopo_tasks_restarts_total",
		"semtopo_tasks_running",
		"semtopo_tasks_alerts_total",
		"semtopo_delivery_units_pending",
		"semtopo_delivery_units_total",
		"go_goroutines",
	} {
		assert.True(t, names[expected], "core metric %s should be initialized", expected)
	}
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	m := NewMetrics()

	m.RecordProcessed("writer", nil, time.Millisecond)
	m.RecordProcessed("writer", errors.New("disk"), time.Millisecond)
	m.RecordProcessed("writer", nil, time.Millisecond)
	m.RecordDropped("writer", "shutdown", 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsProcessed.WithLabelValues("writer", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsProcessed.WithLabelValues("writer", "error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("writer", "shutdown")))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordEmitted("kafka")

	srv := httptest.NewServer(NewServer(0, "", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `semtopo_records_emitted_total{stage="kafka"} 1`)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_HealthSource(t *testing.T) {
	s := NewServer(0, "", NewMetricsRegistry())
	current := health.NewHealthy("topology", "running")
	s.SetHealthSource(func() health.Status { return current })

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	current = health.NewUnhealthy("topology", "split[0] failed")
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Defaults(t *testing.T) {
	s := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())
	assert.NoError(t, s.Stop())
}
