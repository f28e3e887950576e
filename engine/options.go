package engine

import (
	"log/slog"
	"time"

	"github.com/c360/semtopo/delivery"
	"github.com/c360/semtopo/health"
	"github.com/c360/semtopo/metric"
	"github.com/c360/semtopo/pkg/retry"
)

const (
	defaultQueueSize    = 1024
	defaultGracePeriod  = 10 * time.Second
	defaultForceTimeout = 5 * time.Second
)

type options struct {
	name         string
	logger       *slog.Logger
	registry     *metric.MetricsRegistry
	delivery     delivery.Config
	deliverySet  bool
	policy       ErrorPolicy
	alerts       AlertHandler
	monitor      *health.Monitor
	dependencies []func() health.Status
	queueSize    int
	gracePeriod  time.Duration
	forceTimeout time.Duration
	restart      retry.Config
	sourceRetry  retry.Config
}

func defaultOptions() options {
	return options{
		name:         "topology",
		logger:       slog.Default(),
		policy:       PolicyRestart,
		queueSize:    defaultQueueSize,
		gracePeriod:  defaultGracePeriod,
		forceTimeout: defaultForceTimeout,
		restart:      retry.Persistent(),
		sourceRetry:  retry.DefaultConfig(),
	}
}

// Option configures Schedule.
type Option func(*options)

// WithName names the topology in logs, metrics and health.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the engine logger. Task loggers derive from it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRegistry records topology and executor metrics in r.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = r }
}

// WithDelivery chooses the delivery mode. It is required.
func WithDelivery(cfg delivery.Config) Option {
	return func(o *options) {
		o.delivery = cfg
		o.deliverySet = true
	}
}

// WithErrorPolicy sets what transform instances do after a processing error.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithAlertHandler receives every alert.
func WithAlertHandler(h AlertHandler) Option {
	return func(o *options) { o.alerts = h }
}

// WithHealthMonitor reports task health to m instead of a private monitor.
func WithHealthMonitor(m *health.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithDependencyHealth adds fn to Running.Health next to the stages. Use it
// for connections the sources rely on. Nil functions are ignored.
func WithDependencyHealth(fn func() health.Status) Option {
	return func(o *options) {
		if fn != nil {
			o.dependencies = append(o.dependencies, fn)
		}
	}
}

// WithQueueSize bounds the inbound queue of every transform executor.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithGracePeriod is used when the Schedule context ends.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) { o.gracePeriod = d }
}

// WithForceTimeout bounds how long forced shutdown waits for a cancelled
// execution context to return.
func WithForceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.forceTimeout = d
		}
	}
}

// WithRestartBackoff sets the backoff between restart attempts. MaxAttempts
// bounds how many Init attempts one restart makes before the instance fails.
func WithRestartBackoff(cfg retry.Config) Option {
	return func(o *options) { o.restart = cfg }
}

// WithSourceBackoff sets the backoff applied after transient source errors.
func WithSourceBackoff(cfg retry.Config) Option {
	return func(o *options) { o.sourceRetry = cfg }
}
