package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/health"
)

// task is the bookkeeping shared by source and transform instances.
type task struct {
	r        *Running
	stage    string
	instance int
	worker   int
	tc       component.TaskContext
	log      *slog.Logger

	processed atomic.Int64

	mu       sync.Mutex
	state    component.State
	lastErr  error
	alerted  bool
	restarts int
	errCount int
	started  time.Time
	lastSeen time.Time
}

func newTask(r *Running, stage string, instance, parallelism, worker int) *task {
	t := &task{
		r:        r,
		stage:    stage,
		instance: instance,
		worker:   worker,
		state:    component.StateCreated,
	}
	decl, _ := r.graph.Stage(stage)
	t.tc = component.TaskContext{
		Stage:       stage,
		Instance:    instance,
		Parallelism: parallelism,
		Worker:      worker,
		Logger:      r.log,
		Config:      decl.Config,
	}
	t.log = t.tc.Log()
	return t
}

// setState moves the task to s and publishes its health. Invalid transitions
// are logged and ignored.
func (t *task) setState(s component.State, err error) {
	t.mu.Lock()
	if t.state == s && err == nil {
		t.mu.Unlock()
		return
	}
	if t.state != s && !t.state.CanTransition(s) {
		from := t.state
		t.mu.Unlock()
		t.log.Debug("Ignoring task state transition", "from", from, "to", s)
		return
	}
	from := t.state
	t.state = s
	if err != nil {
		t.lastErr = err
	}
	if s == component.StateRunning && t.started.IsZero() {
		t.started = time.Now()
	}
	report := t.reportLocked()
	t.mu.Unlock()

	switch {
	case s == component.StateRunning && from != component.StateRunning:
		t.r.metrics.TasksRunning.WithLabelValues(t.stage).Inc()
	case from == component.StateRunning && s != component.StateRunning:
		t.r.metrics.TasksRunning.WithLabelValues(t.stage).Dec()
	}
	t.r.monitor.UpdateTask(report)
}

func (t *task) current() component.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) failed() bool {
	return t.current() == component.StateFailed
}

func (t *task) noteError(err error) {
	t.mu.Lock()
	t.errCount++
	t.lastErr = err
	t.mu.Unlock()
}

func (t *task) noteProcessed() {
	t.processed.Add(1)
	t.mu.Lock()
	t.lastSeen = time.Now()
	t.mu.Unlock()
}

func (t *task) noteRestart() {
	t.mu.Lock()
	t.restarts++
	t.mu.Unlock()
	t.r.counters(t.stage).restarts.Add(1)
	t.r.metrics.RecordRestart(t.stage)
}

// alert records an unrecoverable error and marks the task unhealthy.
func (t *task) alert(kind string, err error) {
	t.mu.Lock()
	t.alerted = true
	t.lastErr = err
	report := t.reportLocked()
	t.mu.Unlock()

	t.r.monitor.UpdateTask(report)
	t.r.raise(Alert{
		Stage:    t.stage,
		Instance: t.instance,
		Worker:   t.worker,
		Kind:     kind,
		Err:      err,
		Time:     time.Now(),
	})
}

func (t *task) report() health.TaskReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reportLocked()
}

func (t *task) reportLocked() health.TaskReport {
	return health.TaskReport{
		Stage:     t.stage,
		Instance:  t.instance,
		Worker:    t.worker,
		State:     t.state,
		LastError: t.lastErr,
		Alerted:   t.alerted,
		Restarts:  t.restarts,
		Errors:    t.errCount,
		Processed: t.processed.Load(),
		Started:   t.started,
		LastSeen:  t.lastSeen,
	}
}
