package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/delivery"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/pkg/retry"
	"github.com/c360/semtopo/tuple"
)

// root is the payload of a delivery unit: the source record and what is
// needed to ack, fail or replay it.
type root struct {
	task    *sourceTask
	rec     tuple.Record
	msgID   any
	replays int
}

type controlKind int

const (
	controlCompleted controlKind = iota
	controlTimedOut
)

type control struct {
	kind controlKind
	root *root
}

// sourceExecutor is one execution context of a source stage. It polls its
// tasks in turn and runs the tracker callbacks between polls.
type sourceExecutor struct {
	r      *Running
	stage  string
	index  int
	worker int
	tasks  []*sourceTask

	mu      sync.Mutex
	mailbox []control
	wake    chan struct{}

	// idle is closed once the executor stops polling; done once it has
	// closed its sources.
	idle chan struct{}
	done chan struct{}
}

var _ delivery.Owner = (*sourceExecutor)(nil)

// Completed implements delivery.Owner.
func (x *sourceExecutor) Completed(_ uint64, payload any) {
	x.post(control{kind: controlCompleted, root: payload.(*root)})
}

// TimedOut implements delivery.Owner.
func (x *sourceExecutor) TimedOut(_ uint64, payload any) {
	x.post(control{kind: controlTimedOut, root: payload.(*root)})
}

func (x *sourceExecutor) post(c control) {
	x.mu.Lock()
	x.mailbox = append(x.mailbox, c)
	x.mu.Unlock()
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

func (x *sourceExecutor) take() []control {
	x.mu.Lock()
	defer x.mu.Unlock()
	msgs := x.mailbox
	x.mailbox = nil
	return msgs
}

func (x *sourceExecutor) stopping() bool {
	select {
	case <-x.r.stopSources:
		return true
	default:
		return false
	}
}

func (x *sourceExecutor) run(ctx context.Context) {
	defer close(x.done)

	x.poll(ctx)
	close(x.idle)

	// Keep acking until the transforms are drained so completed records are
	// still committed upstream. Timed out units are no longer replayed.
	for {
		select {
		case <-x.wake:
			x.handleControl(ctx, false)
		case <-x.r.releaseSources:
			x.handleControl(ctx, false)
			x.closeAll()
			return
		}
	}
}

// poll loops over the tasks until shutdown or until every task has failed.
func (x *sourceExecutor) poll(ctx context.Context) {
	for {
		if x.stopping() || ctx.Err() != nil {
			return
		}
		x.handleControl(ctx, true)

		active, polled := 0, 0
		var earliest time.Time
		now := time.Now()
		for _, st := range x.tasks {
			if st.impl == nil || st.failed() {
				continue
			}
			active++
			if now.Before(st.retryAt) {
				if earliest.IsZero() || st.retryAt.Before(earliest) {
					earliest = st.retryAt
				}
				continue
			}
			polled++
			x.next(ctx, st)
			if x.stopping() {
				return
			}
		}

		if active == 0 {
			x.r.log.Warn("Source executor has no running tasks", "stage", x.stage, "executor", x.index)
			return
		}
		if polled == 0 {
			timer := time.NewTimer(time.Until(earliest))
			select {
			case <-timer.C:
			case <-x.wake:
			case <-x.r.stopSources:
			case <-ctx.Done():
			}
			timer.Stop()
		}
	}
}

func (x *sourceExecutor) next(ctx context.Context, st *sourceTask) {
	em, err := st.impl.Next(ctx)
	switch {
	case err == nil:
		st.backoff.Reset()
		x.emit(ctx, st, em)
	case stderrors.Is(err, component.ErrEmpty):
		st.backoff.Reset()
	case ctx.Err() != nil:
	default:
		err = st.classify(err)
		st.noteError(err)
		if errors.IsTransient(err) {
			delay := st.backoff.Next()
			st.retryAt = time.Now().Add(delay)
			st.log.Warn("Transient source error, backing off", "error", err, "delay", delay)
			return
		}
		st.fail(AlertSource, err)
	}
}

func (x *sourceExecutor) emit(ctx context.Context, st *sourceTask, em component.Emission) {
	rec, err := st.out.build(em.Values)
	if err != nil {
		st.fail(AlertSource, errors.SourceFatal(st.stage, st.instance, err))
		return
	}
	rec = rec.WithIdentity(tuple.NewID(), st.stage)
	x.send(ctx, &root{task: st, rec: rec, msgID: em.MsgID})
}

// send routes a source record, registering a delivery unit first when
// tracking is enabled. Untracked records are acked as soon as they are
// queued downstream.
func (x *sourceExecutor) send(ctx context.Context, rt *root) {
	st := rt.task
	var unit uint64
	if x.r.tracker != nil {
		unit = delivery.NewID()
	}

	ledger, err := st.out.route(rt.rec, unit)
	if err != nil {
		st.fail(AlertRouting, err)
		return
	}
	if x.r.tracker != nil {
		x.r.tracker.Register(unit, ledger, x, rt)
	}
	if err := st.out.submit(ctx); err != nil {
		st.log.Debug("Source record not delivered", "record", rt.rec.ID(), "error", err)
		return
	}
	st.noteProcessed()
	// Without tracking a record counts as consumed once it is handed on.
	if x.r.tracker == nil && st.impl != nil {
		st.impl.Ack(rt.msgID)
	}
}

func (x *sourceExecutor) handleControl(ctx context.Context, replay bool) {
	for _, c := range x.take() {
		st := c.root.task
		if st.impl == nil {
			continue
		}

		switch c.kind {
		case controlCompleted:
			st.impl.Ack(c.root.msgID)
		case controlTimedOut:
			st.impl.Fail(c.root.msgID)
			if !replay || st.failed() {
				continue
			}
			maxReplays := x.r.tracker.Config().MaxReplays
			if maxReplays > 0 && c.root.replays >= maxReplays {
				x.r.dropped(st.stage, "replay_exhausted", 1)
				st.alert(AlertReplayExhausted, errors.Processing(st.stage, st.instance,
					fmt.Errorf("record %s not completed after %d replays", c.root.rec.ID(), c.root.replays)))
				continue
			}
			c.root.replays++
			x.r.counters(st.stage).replayed.Add(1)
			x.r.engineMetrics.recordReplay(x.r.opts.name, st.stage)
			st.log.Debug("Replaying timed out record", "record", c.root.rec.ID(), "replay", c.root.replays)
			x.send(ctx, c.root)
		}
	}
}

func (x *sourceExecutor) closeAll() {
	for _, st := range x.tasks {
		st.close()
		if !st.failed() {
			st.setState(component.StateStopped, nil)
		}
	}
}

type sourceTask struct {
	*task
	impl    component.Source
	out     *emitter
	backoff *retry.Backoff
	retryAt time.Time
}

func (st *sourceTask) open(ctx context.Context) error {
	if err := st.impl.Open(ctx, st.tc); err != nil {
		err = st.classify(err)
		st.setState(component.StateFailed, err)
		return err
	}
	st.setState(component.StateInitialized, nil)
	return nil
}

func (st *sourceTask) close() {
	if st.impl == nil {
		return
	}
	if err := st.impl.Close(); err != nil {
		st.log.Warn("Source close failed", "error", err)
	}
	st.impl = nil
}

// classify turns err into a source error of this task. Errors that are not
// transient are fatal.
func (st *sourceTask) classify(err error) error {
	if errors.IsSource(err) {
		return errors.Attribute(err, st.stage, st.instance)
	}
	if errors.IsTransient(err) {
		return errors.SourceTransient(st.stage, st.instance, err)
	}
	return errors.SourceFatal(st.stage, st.instance, err)
}

func (st *sourceTask) fail(kind string, err error) {
	st.log.Error("Source task failed", "kind", kind, "error", err)
	st.close()
	st.setState(component.StateFailed, err)
	st.alert(kind, err)
}
