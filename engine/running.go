package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semtopo/delivery"
	"github.com/c360/semtopo/health"
	"github.com/c360/semtopo/metric"
	"github.com/c360/semtopo/pkg/worker"
	"github.com/c360/semtopo/topology"
)

type stageCounters struct {
	emitted   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	restarts  atomic.Int64
	replayed  atomic.Int64
}

// Running is a scheduled topology.
type Running struct {
	graph         *topology.Graph
	plan          *plan
	opts          options
	log           *slog.Logger
	metrics       *metric.Metrics
	engineMetrics *engineMetrics
	tracker       *delivery.Tracker
	monitor       *health.Monitor

	ctx    context.Context
	cancel context.CancelFunc

	sources    []*sourceExecutor
	transforms map[string][]*transformExecutor
	tasks      []*task
	stats      map[string]*stageCounters

	stopSources    chan struct{}
	releaseSources chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}

	alertMu sync.Mutex
	alerts  []Alert
}

// StageStats summarizes one stage.
type StageStats struct {
	Kind       string `json:"kind"`
	Tasks      int    `json:"tasks"`
	Executors  int    `json:"executors"`
	Emitted    int64  `json:"emitted"`
	Processed  int64  `json:"processed"`
	Failed     int64  `json:"failed"`
	Dropped    int64  `json:"dropped"`
	Restarts   int64  `json:"restarts"`
	Replayed   int64  `json:"replayed"`
	QueueDepth int    `json:"queue_depth"`
}

// Stats is a snapshot of a running topology.
type Stats struct {
	Topology string                `json:"topology"`
	Stages   map[string]StageStats `json:"stages"`
	Delivery *delivery.Stats       `json:"delivery,omitempty"`
	Alerts   int                   `json:"alerts"`
}

// Name returns the topology name.
func (r *Running) Name() string { return r.opts.name }

// Graph returns the scheduled graph.
func (r *Running) Graph() *topology.Graph { return r.graph }

func (r *Running) counters(stage string) *stageCounters {
	return r.stats[stage]
}

func (r *Running) dropped(stage, reason string, n int) {
	if n <= 0 {
		return
	}
	r.counters(stage).dropped.Add(int64(n))
	r.metrics.RecordDropped(stage, reason, n)
}

func (r *Running) raise(a Alert) {
	r.alertMu.Lock()
	r.alerts = append(r.alerts, a)
	r.alertMu.Unlock()

	r.metrics.RecordAlert(a.Stage, a.Kind)
	r.log.Error("Topology alert",
		"stage", a.Stage,
		"instance", a.Instance,
		"worker", a.Worker,
		"kind", a.Kind,
		"error", a.Err)
	if r.opts.alerts != nil {
		r.opts.alerts.HandleAlert(a)
	}
}

// Alerts returns every alert raised so far.
func (r *Running) Alerts() []Alert {
	r.alertMu.Lock()
	defer r.alertMu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Health returns the aggregated health of every task instance and of every
// dependency added with WithDependencyHealth.
func (r *Running) Health() health.Status {
	for _, t := range r.tasks {
		r.monitor.UpdateTask(t.report())
	}
	status := r.monitor.AggregateHealth(r.opts.name)
	if len(r.opts.dependencies) == 0 {
		return status
	}
	parts := status.SubStatuses
	for _, fn := range r.opts.dependencies {
		parts = append(parts, fn())
	}
	return health.Combine(r.opts.name, parts...)
}

// Stats returns per-stage counters and the delivery tracker state.
func (r *Running) Stats() Stats {
	s := Stats{
		Topology: r.opts.name,
		Stages:   make(map[string]StageStats, len(r.plan.order)),
		Alerts:   len(r.Alerts()),
	}
	for _, name := range r.plan.order {
		sp := r.plan.stages[name]
		c := r.counters(name)
		st := StageStats{
			Kind:      sp.decl.Kind.String(),
			Tasks:     sp.tasks,
			Executors: len(sp.executors),
			Emitted:   c.emitted.Load(),
			Processed: c.processed.Load(),
			Failed:    c.failed.Load(),
			Dropped:   c.dropped.Load(),
			Restarts:  c.restarts.Load(),
			Replayed:  c.replayed.Load(),
		}
		for _, x := range r.transforms[name] {
			st.QueueDepth += x.pool.Stats().QueueDepth
		}
		s.Stages[name] = st
	}
	if r.tracker != nil {
		ds := r.tracker.Stats()
		s.Delivery = &ds
	}
	return s
}

// Done is closed once the topology has shut down.
func (r *Running) Done() <-chan struct{} { return r.done }

// Wait blocks until the topology has shut down and returns the shutdown error.
func (r *Running) Wait() error {
	<-r.done
	return r.shutdownErr
}

// Shutdown stops the topology. Sources stop at their next poll, transform
// stages drain in topological order and, once grace has elapsed, no executor
// accepts another record. Work still queued is then dropped and running
// Process calls are cancelled. The returned error wraps worker.ErrStopTimeout
// for every execution context that did not return within the force timeout.
// Concurrent and repeated calls wait for the first shutdown and return its error.
func (r *Running) Shutdown(grace time.Duration) error {
	r.shutdownOnce.Do(func() {
		r.shutdownErr = r.shutdown(grace)
		close(r.done)
	})
	<-r.done
	return r.shutdownErr
}

func (r *Running) shutdown(grace time.Duration) error {
	start := time.Now()
	grace = max(grace, 0)
	r.log.Info("Shutting down topology", "grace_period", grace)

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	gate := time.AfterFunc(grace, r.closeIntakes)
	defer gate.Stop()

	close(r.stopSources)
	graceful := r.waitSourcesIdle(ctx) && r.drainTransforms(ctx)

	var errs []error
	stuck := make(map[*transformExecutor]bool)
	if !graceful {
		r.log.Warn("Grace period expired, forcing shutdown")
		r.closeIntakes()
		r.cancel()
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, x := range r.allTransforms() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := x.pool.Stop(r.opts.forceTimeout); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("executor %s[%d]: %w", x.stage, x.index, err))
					stuck[x] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	}

	for _, x := range r.allTransforms() {
		if stuck[x] {
			r.log.Error("Execution context did not return, teardown deferred", "stage", x.stage, "executor", x.index)
			go func() {
				<-x.pool.Done()
				x.teardown()
			}()
			continue
		}
		x.teardown()
	}

	r.cancel()
	close(r.releaseSources)

	fctx, fcancel := context.WithTimeout(context.Background(), r.opts.forceTimeout)
	defer fcancel()
	for _, x := range r.sources {
		select {
		case <-x.done:
		case <-fctx.Done():
			errs = append(errs, fmt.Errorf("source executor %s[%d]: %w", x.stage, x.index, worker.ErrStopTimeout))
		}
	}

	if r.tracker != nil {
		r.tracker.Stop()
	}

	r.engineMetrics.recordShutdown(r.opts.name, !graceful, time.Since(start).Seconds())
	r.log.Info("Topology stopped", "graceful", graceful, "duration", time.Since(start))
	return stderrors.Join(errs...)
}

func (r *Running) allTransforms() []*transformExecutor {
	var out []*transformExecutor
	for _, name := range r.plan.order {
		out = append(out, r.transforms[name]...)
	}
	return out
}

// closeIntakes stops every transform executor from accepting records.
func (r *Running) closeIntakes() {
	for _, x := range r.allTransforms() {
		x.pool.CloseIntake()
	}
}

func (r *Running) waitSourcesIdle(ctx context.Context) bool {
	for _, x := range r.sources {
		select {
		case <-x.idle:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (r *Running) drainTransforms(ctx context.Context) bool {
	for _, x := range r.allTransforms() {
		if err := x.pool.Drain(ctx); err != nil {
			return false
		}
	}
	return true
}
