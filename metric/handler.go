package metric

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/health"
)

const (
	defaultPort     = 9090
	defaultPath     = "/metrics"
	healthPath      = "/health"
	shutdownTimeout = 5 * time.Second
)

// Server exposes a registry over HTTP together with a health endpoint.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry

	mu       sync.Mutex
	srv      *http.Server
	healthFn func() health.Status
}

// NewServer creates a server. Zero values select port 9090 and /metrics.
func NewServer(port int, path string, registry *MetricsRegistry) *Server {
	if port == 0 {
		port = defaultPort
	}
	if path == "" {
		path = defaultPath
	}
	return &Server{port: port, path: path, registry: registry}
}

// Handler returns the HTTP handler serving metrics and the health endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc(healthPath, s.serveHealth)
	return mux
}

// SetHealthSource makes /health report fn. Unhealthy answers 503.
func (s *Server) SetHealthSource(fn func() health.Status) {
	s.mu.Lock()
	s.healthFn = fn
	s.mu.Unlock()
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	fn := s.healthFn
	s.mu.Unlock()

	if fn == nil {
		_, _ = w.Write([]byte("OK"))
		return
	}
	status := fn()
	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	if s.registry == nil {
		return errors.WrapFatal(stderrors.New("nil registry"), "Server", "Start", "serve metrics")
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(stderrors.New("server already running"), "Server", "Start", "serve metrics")
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if err == nil || stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
}

// Stop shuts the server down. A stopped server may be started again.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shut down HTTP server")
	}
	return nil
}

// Address returns the URL metrics are served on.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
