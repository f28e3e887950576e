// Package worker provides a generic worker pool for concurrent task processing
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semtopo/metric"
)

// Pool lifecycle errors.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	// ErrPoolStopped is returned once the intake is closed.
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull    = errors.New("worker pool queue full")
	ErrNilProcessor = errors.New("processor function cannot be nil")
	// ErrStopTimeout is returned when a processor outlives the stop timeout.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

type poolState int

const (
	stateIdle poolState = iota
	stateRunning
	stateStopped
)

// Pool runs a fixed number of goroutines over a bounded queue of T.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error
	onDrop    func(T)

	queue   chan T
	metrics *poolMetrics
	cancel  context.CancelFunc
	exited  chan struct{}

	stateMu sync.Mutex
	state   poolState

	// Senders hold gate for reading while they enqueue, so once CloseIntake
	// returns no further item can be accepted.
	gate       sync.RWMutex
	gateClosed bool
	closing    chan struct{}
	closeOnce  sync.Once
	aborted    atomic.Bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry *metric.MetricsRegistry
	prefix   string
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports the pool's counters under prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// WithDropHandler is called for every queued item discarded by Stop.
func WithDropHandler[T any](fn func(T)) Option[T] {
	return func(p *Pool[T]) {
		p.onDrop = fn
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000. It panics on a nil processor.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   processor,
		queue:     make(chan T, queueSize),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.prefix != "" {
		p.metrics = newPoolMetrics(p.registry, p.prefix)
	}
	return p
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	const owner = "worker_pool"
	counter := func(suffix, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + suffix, Help: help})
		// A duplicate prefix leaves the counter unexported but still updated.
		_ = registry.RegisterCounter(owner, prefix+suffix, c)
		return c
	}

	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Items waiting in the executor queue",
		}),
		submitted: counter("_submitted_total", "Items accepted by the executor"),
		processed: counter("_processed_total", "Items the executor finished"),
		failed:    counter("_failed_total", "Items whose processor returned an error"),
		dropped:   counter("_dropped_total", "Items rejected on a full queue or discarded on stop"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Processor latency by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}
	_ = registry.RegisterGauge(owner, prefix+"_queue_depth", m.queueDepth)
	_ = registry.RegisterHistogramVec(owner, prefix+"_processing_duration_seconds", m.duration)
	return m
}

func (p *Pool[T]) checkRunning() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	switch p.state {
	case stateIdle:
		return ErrPoolNotStarted
	case stateStopped:
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) setStopped() {
	p.stateMu.Lock()
	p.state = stateStopped
	p.stateMu.Unlock()
}

func (p *Pool[T]) onAccepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
}

func (p *Pool[T]) onDropped(work T, notify bool) {
	p.dropped.Add(1)
	if p.metrics != nil {
		p.metrics.dropped.Inc()
	}
	if notify && p.onDrop != nil {
		p.onDrop(work)
	}
}

// enqueue admits work under the intake gate. Without wait a full queue
// rejects the item.
func (p *Pool[T]) enqueue(ctx context.Context, work T, wait bool) error {
	if err := p.checkRunning(); err != nil {
		return err
	}
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.gateClosed {
		return ErrPoolStopped
	}

	if !wait {
		select {
		case p.queue <- work:
			p.onAccepted()
			return nil
		default:
			p.onDropped(work, false)
			return ErrQueueFull
		}
	}

	select {
	case p.queue <- work:
		p.onAccepted()
		return nil
	case <-p.closing:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	return p.enqueue(context.Background(), work, false)
}

// SubmitWait submits work, blocking while the queue is full. It returns
// ErrPoolStopped once the intake is closed and ctx.Err() if ctx ends first.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	return p.enqueue(ctx, work, true)
}

// Start launches the workers. Processors receive a context derived from ctx
// that Stop cancels.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state != stateIdle {
		return ErrPoolAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.exited = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(p.workers)
	for range p.workers {
		go func() {
			defer wg.Done()
			p.run(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(p.exited)
	}()

	p.state = stateRunning
	return nil
}

// CloseIntake stops accepting work. Items already queued are still processed.
// Senders blocked in SubmitWait return ErrPoolStopped. After CloseIntake
// returns no further item is accepted.
func (p *Pool[T]) CloseIntake() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.gate.Lock()
		p.gateClosed = true
		p.gate.Unlock()
		close(p.queue)
	})
}

// Drain closes the intake and waits until every queued item has been
// processed and the workers have exited, or ctx ends.
func (p *Pool[T]) Drain(ctx context.Context) error {
	if err := p.checkRunning(); err != nil {
		if errors.Is(err, ErrPoolStopped) {
			return nil
		}
		return err
	}
	p.CloseIntake()

	select {
	case <-p.exited:
		p.setStopped()
		p.cancel()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the worker pool immediately. Queued items are dropped, the
// context passed to running processors is cancelled and Stop waits up to
// timeout for them to return.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	if p.checkRunning() != nil {
		return nil
	}

	p.aborted.Store(true)
	p.CloseIntake()
	p.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		for work := range p.queue {
			p.onDropped(work, true)
		}
		p.setStopped()
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Done returns a channel closed once every worker has exited. It is nil
// before Start.
func (p *Pool[T]) Done() <-chan struct{} {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.exited
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// run is one worker loop. It exits when ctx ends or the queue is closed and
// empty; after Stop it discards what it dequeues.
func (p *Pool[T]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}
			if p.aborted.Load() {
				p.onDropped(work, true)
				continue
			}
			p.handle(ctx, work)
		}
	}
}

func (p *Pool[T]) handle(ctx context.Context, work T) {
	start := time.Now()
	err := p.process(ctx, work)
	elapsed := time.Since(start)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
	}
	if p.metrics == nil {
		return
	}
	p.metrics.processed.Inc()
	p.metrics.queueDepth.Set(float64(len(p.queue)))
	if err != nil {
		p.metrics.failed.Inc()
	}
	p.metrics.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}
