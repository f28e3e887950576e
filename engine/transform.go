package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/pkg/retry"
	"github.com/c360/semtopo/pkg/worker"
	"github.com/c360/semtopo/tuple"
)

// transformExecutor is one execution context of a transform stage. Its pool
// has a single worker, so its tasks are only ever touched by one goroutine.
type transformExecutor struct {
	r      *Running
	stage  string
	index  int
	worker int
	first  int
	tasks  []*transformTask
	pool   *worker.Pool[envelope]
}

func (x *transformExecutor) process(ctx context.Context, env envelope) error {
	return x.tasks[env.task-x.first].handle(ctx, env)
}

func (x *transformExecutor) drop(envelope) {
	x.r.dropped(x.stage, "shutdown", 1)
}

// teardown releases every task of the executor. It must only run once the
// pool has returned.
func (x *transformExecutor) teardown() {
	for _, tt := range x.tasks {
		tt.teardown()
		if !tt.failed() {
			tt.setState(component.StateStopped, nil)
		}
	}
}

type transformTask struct {
	*task
	factory component.TransformFactory
	impl    component.Transform
	out     *emitter
	backoff *retry.Backoff
}

func (tt *transformTask) init(ctx context.Context) error {
	if err := tt.impl.Init(ctx, tt.tc); err != nil {
		err = errors.Processing(tt.stage, tt.instance, err)
		tt.setState(component.StateFailed, err)
		return err
	}
	tt.setState(component.StateInitialized, nil)
	return nil
}

func (tt *transformTask) teardown() {
	if tt.impl == nil {
		return
	}
	if err := tt.impl.Teardown(); err != nil {
		tt.log.Warn("Teardown failed", "error", err)
	}
	tt.impl = nil
}

// handle processes one delivery.
func (tt *transformTask) handle(ctx context.Context, env envelope) error {
	if tt.impl == nil || tt.failed() {
		tt.r.dropped(tt.stage, "task_failed", 1)
		return nil
	}

	rec := env.rec
	if env.wire != nil {
		decoded, err := tuple.Unmarshal(env.wire)
		if err != nil {
			err = errors.Processing(tt.stage, tt.instance, err)
			tt.noteError(err)
			tt.log.Error("Dropping undecodable record", "error", err)
			tt.r.dropped(tt.stage, "decode", 1)
			return err
		}
		rec = decoded
	}

	col := &collector{tt: tt, ctx: ctx, parent: rec}
	start := time.Now()
	err := tt.invoke(ctx, rec, col)
	tt.r.metrics.RecordProcessed(tt.stage, err, time.Since(start))

	if col.routeErr != nil {
		tt.fail(AlertRouting, col.routeErr)
		return col.routeErr
	}
	if err != nil {
		tt.r.counters(tt.stage).failed.Add(1)
		return tt.onError(ctx, err)
	}

	tt.noteProcessed()
	tt.r.counters(tt.stage).processed.Add(1)
	tt.backoff.Reset()
	if l := rec.Lineage(); l.Tracked() && tt.r.tracker != nil {
		tt.r.tracker.Ack(l.Unit, l.Edge^col.ledger)
	}
	return nil
}

func (tt *transformTask) invoke(ctx context.Context, rec tuple.Record, col *collector) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Processing(tt.stage, tt.instance, fmt.Errorf("panic: %v", p))
		}
	}()
	return errors.Processing(tt.stage, tt.instance, tt.impl.Process(ctx, rec, col))
}

func (tt *transformTask) onError(ctx context.Context, err error) error {
	tt.noteError(err)

	if tt.r.opts.policy == PolicyContinue {
		if errors.IsFatal(err) {
			tt.fail(AlertProcessing, err)
			return err
		}
		tt.log.Warn("Record processing failed", "error", err)
		return err
	}

	tt.restart(ctx, err)
	return err
}

// restart replaces the instance with a fresh one from the factory. Init is
// retried with backoff; when every attempt fails the task fails for good.
func (tt *transformTask) restart(ctx context.Context, cause error) {
	tt.log.Warn("Restarting task after processing error", "error", cause)
	tt.teardown()
	tt.setState(component.StateFailed, cause)

	attempts := max(tt.r.opts.restart.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := retry.Sleep(ctx, tt.backoff.Next()); err != nil {
			return
		}

		tt.setState(component.StateCreated, nil)
		impl := tt.factory()
		if impl == nil {
			lastErr = fmt.Errorf("factory returned nil")
			break
		}
		if err := impl.Init(ctx, tt.tc); err != nil {
			lastErr = err
			tt.log.Warn("Restart attempt failed", "attempt", attempt, "error", err)
			tt.setState(component.StateFailed, err)
			continue
		}

		tt.impl = impl
		tt.noteRestart()
		tt.setState(component.StateInitialized, nil)
		tt.setState(component.StateRunning, nil)
		tt.log.Info("Task restarted", "attempt", attempt)
		return
	}

	tt.fail(AlertRestartFailed, errors.Processing(tt.stage, tt.instance,
		fmt.Errorf("restart gave up after %d attempts: %w", attempts, lastErr)))
}

// fail stops the task for good and raises an alert.
func (tt *transformTask) fail(kind string, err error) {
	tt.log.Error("Task failed", "kind", kind, "error", err)
	tt.teardown()
	tt.setState(component.StateFailed, err)
	tt.alert(kind, err)
}

// collector receives the emissions of one Process call.
type collector struct {
	tt       *transformTask
	ctx      context.Context
	parent   tuple.Record
	ordinal  int
	ledger   uint64
	routeErr error
}

func (c *collector) Emit(values ...tuple.Value) error {
	tt := c.tt
	rec, err := tt.out.build(values)
	if err != nil {
		return errors.Processing(tt.stage, tt.instance, err)
	}
	rec = rec.WithIdentity(tuple.DeriveID(c.parent.ID(), c.ordinal), tt.stage)
	c.ordinal++

	ledger, err := tt.out.route(rec, c.parent.Lineage().Unit)
	if err != nil {
		if errors.IsRouting(err) {
			c.routeErr = err
		}
		return err
	}
	if err := tt.out.submit(c.ctx); err != nil {
		return errors.Processing(tt.stage, tt.instance, err)
	}
	c.ledger ^= ledger
	return nil
}
