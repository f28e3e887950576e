package engine

import (
	"maps"
	"slices"

	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/topology"
	"github.com/c360/semtopo/tuple"
)

// StagePlacement overrides how one stage is run. Zero values keep the
// defaults: the declared parallelism and one executor per task.
type StagePlacement struct {
	Tasks     int `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Executors int `json:"executors,omitempty" yaml:"executors,omitempty"`
}

// Placement distributes task instances over workers and execution contexts.
// ContextsPerWorker 0 means unbounded.
type Placement struct {
	Workers           int                       `json:"workers" yaml:"workers"`
	ContextsPerWorker int                       `json:"contexts_per_worker" yaml:"contexts_per_worker"`
	Stages            map[string]StagePlacement `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// executorPlan is one execution context running tasks [first, first+count).
type executorPlan struct {
	index  int
	worker int
	first  int
	count  int
}

type stagePlan struct {
	decl      topology.StageDeclaration
	schema    tuple.Schema
	tasks     int
	executors []executorPlan
	// taskExec maps a task index to its executor index.
	taskExec []int
}

type plan struct {
	workers   int
	order     []string
	stages    map[string]*stagePlan
	executors int
}

// plan validates the placement against g and assigns tasks to executors and
// executors to workers.
func (p Placement) plan(g *topology.Graph) (*plan, error) {
	var problems errors.ValidationErrors

	workers := p.Workers
	switch {
	case workers < 0:
		problems.Addf("placement: workers %d must be >= 1", workers)
	case workers == 0:
		workers = 1
	}
	if p.ContextsPerWorker < 0 {
		problems.Addf("placement: contexts_per_worker %d must not be negative", p.ContextsPerWorker)
	}

	order := g.Order()
	for _, name := range slices.Sorted(maps.Keys(p.Stages)) {
		if _, ok := g.Stage(name); !ok {
			problems.Addf("placement: unknown stage %q", name)
		}
	}

	pl := &plan{
		workers: max(workers, 1),
		order:   order,
		stages:  make(map[string]*stagePlan, len(order)),
	}

	next := 0
	for _, name := range order {
		decl, _ := g.Stage(name)
		schema, _ := g.Schema(name)
		sp := p.Stages[name]

		tasks := decl.Parallelism
		if sp.Tasks < 0 {
			problems.Addf("placement: stage %q: tasks %d must be >= 1", name, sp.Tasks)
		} else if sp.Tasks > 0 {
			tasks = sp.Tasks
		}

		executors := tasks
		if sp.Executors < 0 {
			problems.Addf("placement: stage %q: executors %d must be >= 1", name, sp.Executors)
		} else if sp.Executors > 0 && sp.Executors < tasks {
			executors = sp.Executors
		}

		st := &stagePlan{decl: decl, schema: schema, tasks: tasks, taskExec: make([]int, tasks)}
		base, extra := tasks/executors, tasks%executors
		first := 0
		for i := range executors {
			count := base
			if i < extra {
				count++
			}
			st.executors = append(st.executors, executorPlan{
				index:  i,
				worker: next % pl.workers,
				first:  first,
				count:  count,
			})
			for t := first; t < first+count; t++ {
				st.taskExec[t] = i
			}
			first += count
			next++
		}
		pl.stages[name] = st
		pl.executors += executors
	}

	if p.ContextsPerWorker > 0 && pl.executors > workers*p.ContextsPerWorker {
		problems.Addf("placement: %d executors exceed capacity of %d workers x %d contexts",
			pl.executors, workers, p.ContextsPerWorker)
	}

	for _, name := range order {
		for _, e := range g.Inbound(name) {
			if err := e.Grouping.Validate(pl.stages[name].tasks); err != nil {
				problems.Addf("edge %s -> %s: %v", e.From, e.To, err)
			}
		}
	}

	if err := problems.Err(); err != nil {
		return nil, err
	}
	return pl, nil
}
