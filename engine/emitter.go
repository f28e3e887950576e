package engine

import (
	"context"
	"fmt"

	"github.com/c360/semtopo/delivery"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/grouping"
	"github.com/c360/semtopo/tuple"
)

// envelope is one delivery of a record to a task instance. Records crossing
// a worker boundary travel encoded in wire.
type envelope struct {
	task int
	rec  tuple.Record
	wire []byte
}

// outlet routes records of one upstream instance to one downstream stage.
type outlet struct {
	to      string
	tasks   int
	router  grouping.Router
	targets []*transformExecutor
}

type send struct {
	x   *transformExecutor
	env envelope
}

// emitter builds, routes and submits the records of one task instance. It is
// owned by the instance's execution context.
type emitter struct {
	r        *Running
	stage    string
	instance int
	worker   int
	schema   tuple.Schema
	outlets  []outlet
	dst      []int
	sends    []send
}

func newEmitter(r *Running, t *task, seed uint64) *emitter {
	e := &emitter{
		r:        r,
		stage:    t.stage,
		instance: t.instance,
		worker:   t.worker,
		schema:   r.plan.stages[t.stage].schema,
	}
	for _, edge := range r.graph.Outbound(t.stage) {
		down := r.plan.stages[edge.To]
		targets := make([]*transformExecutor, down.tasks)
		for i := range targets {
			targets[i] = r.transforms[edge.To][down.taskExec[i]]
		}
		e.outlets = append(e.outlets, outlet{
			to:      edge.To,
			tasks:   down.tasks,
			router:  edge.Grouping.NewRouter(seed),
			targets: targets,
		})
		seed++
	}
	return e
}

// build checks values against the stage schema.
func (e *emitter) build(values []tuple.Value) (tuple.Record, error) {
	if e.schema.Len() == 0 {
		return tuple.Record{}, fmt.Errorf("%w: stage %q declares no output fields",
			errors.ErrSchemaMismatch, e.stage)
	}
	return tuple.New(e.schema, values...)
}

// route selects the receiving instances of rec and prepares one envelope per
// delivery. With a non-zero unit every delivery gets a fresh edge id and the
// XOR of those ids is returned.
func (e *emitter) route(rec tuple.Record, unit uint64) (uint64, error) {
	e.sends = e.sends[:0]
	var ledger uint64

	for i := range e.outlets {
		o := &e.outlets[i]
		var err error
		e.dst, err = o.router.Route(rec, o.tasks, e.dst[:0])
		if err != nil {
			return 0, errors.Attribute(err, e.stage, e.instance)
		}
		for _, idx := range e.dst {
			if idx < 0 || idx >= o.tasks {
				return 0, errors.Routing(e.stage, e.instance,
					fmt.Errorf("grouping to %q selected instance %d outside [0, %d)", o.to, idx, o.tasks))
			}
			var edge uint64
			if unit != 0 {
				edge = delivery.NewID()
				ledger ^= edge
			}
			r := rec.WithLineage(tuple.Lineage{Unit: unit, Edge: edge})
			x := o.targets[idx]
			env := envelope{task: idx, rec: r}
			if x.worker != e.worker {
				wire, err := tuple.Marshal(r)
				if err != nil {
					return 0, err
				}
				env = envelope{task: idx, wire: wire}
			}
			e.sends = append(e.sends, send{x: x, env: env})
		}
	}
	return ledger, nil
}

// submit hands the prepared envelopes to their executors, blocking while a
// queue is full.
func (e *emitter) submit(ctx context.Context) error {
	for i, s := range e.sends {
		if err := s.x.pool.SubmitWait(ctx, s.env); err != nil {
			e.r.dropped(e.stage, "shutdown", len(e.sends)-i)
			e.sends = e.sends[:0]
			return err
		}
	}
	e.sends = e.sends[:0]
	e.r.counters(e.stage).emitted.Add(1)
	e.r.metrics.RecordEmitted(e.stage)
	return nil
}
