// Package metric provides Prometheus-based metrics collection and an HTTP
// server for topology monitoring.
//
// The registry owns a private prometheus.Registry holding the core topology
// metrics (records emitted, processed and dropped per stage, task restarts,
// alerts and delivery unit outcomes), the Go runtime collectors and any
// component-specific metrics registered through MetricsRegistrar.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	running, err := engine.Schedule(ctx, graph, placement,
//	    engine.WithMetricsRegistry(registry))
//
// Component metrics are keyed by owner and metric name. Registering the
// same key twice fails with an invalid-class error:
//
//	err := registry.RegisterCounterVec("kafka", "commits_total", commits)
package metric
