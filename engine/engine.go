package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/delivery"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/health"
	"github.com/c360/semtopo/metric"
	"github.com/c360/semtopo/pkg/retry"
	"github.com/c360/semtopo/pkg/worker"
	"github.com/c360/semtopo/topology"
)

// Schedule places g according to placement, opens and initializes every task
// instance and starts the topology. When ctx ends the topology is shut down
// with the configured grace period; use Running.Shutdown to stop it earlier.
func Schedule(ctx context.Context, g *topology.Graph, placement Placement, opts ...Option) (*Running, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if g == nil {
		return nil, errors.Validationf("topology graph is nil")
	}
	if !o.deliverySet {
		return nil, errors.Validation(fmt.Errorf("%w: delivery mode not chosen, use WithDelivery",
			errors.ErrMissingConfig))
	}
	if err := o.delivery.Validate(); err != nil {
		return nil, err
	}
	if _, err := retry.NewBackoff(o.restart); err != nil {
		return nil, errors.Validation(err)
	}
	if _, err := retry.NewBackoff(o.sourceRetry); err != nil {
		return nil, errors.Validation(err)
	}

	pl, err := placement.plan(g)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r, err := newRunning(g, pl, o)
	if err != nil {
		return nil, err
	}

	r.log.Info("Scheduling topology",
		"stages", len(pl.order),
		"executors", pl.executors,
		"workers", pl.workers,
		"delivery", o.delivery.Enabled)

	if err := r.initAll(ctx); err != nil {
		r.engineMetrics.recordSchedule(o.name, false, time.Since(start).Seconds())
		r.log.Error("Topology failed to start", "error", err)
		return nil, err
	}

	if err := r.start(ctx); err != nil {
		r.engineMetrics.recordSchedule(o.name, false, time.Since(start).Seconds())
		return nil, err
	}
	r.engineMetrics.recordSchedule(o.name, true, time.Since(start).Seconds())

	go r.watch(ctx)
	return r, nil
}

func newRunning(g *topology.Graph, pl *plan, o options) (*Running, error) {
	r := &Running{
		graph:          g,
		plan:           pl,
		opts:           o,
		log:            o.logger.With("component", "engine", "topology", o.name),
		monitor:        o.monitor,
		transforms:     make(map[string][]*transformExecutor),
		stats:          make(map[string]*stageCounters, len(pl.order)),
		stopSources:    make(chan struct{}),
		releaseSources: make(chan struct{}),
		done:           make(chan struct{}),
	}
	if r.monitor == nil {
		r.monitor = health.NewMonitor()
	}

	if o.registry != nil {
		r.metrics = o.registry.CoreMetrics()
		em, err := newEngineMetrics(o.registry)
		if err != nil {
			r.log.Error("Failed to initialize engine metrics", "error", err)
		}
		r.engineMetrics = em
	} else {
		r.metrics = metric.NewMetrics()
	}

	if o.delivery.Enabled {
		var trackerOpts []delivery.Option
		if o.registry != nil {
			trackerOpts = append(trackerOpts, delivery.WithMetrics(r.metrics))
		}
		tracker, err := delivery.NewTracker(o.delivery, trackerOpts...)
		if err != nil {
			return nil, err
		}
		r.tracker = tracker
	}

	for _, name := range pl.order {
		r.stats[name] = &stageCounters{}
	}

	var problems errors.ValidationErrors

	// Transform executors first so emitters can resolve their targets.
	for _, name := range pl.order {
		sp := pl.stages[name]
		if sp.decl.Kind != topology.KindTransform {
			continue
		}
		for _, ep := range sp.executors {
			x := &transformExecutor{r: r, stage: name, index: ep.index, worker: ep.worker, first: ep.first}
			for i := ep.first; i < ep.first+ep.count; i++ {
				impl := sp.decl.Transform()
				if impl == nil {
					problems.Addf("stage %q: factory returned nil for task %d", name, i)
					continue
				}
				backoff, _ := retry.NewBackoff(o.restart)
				tt := &transformTask{
					task:    newTask(r, name, i, sp.tasks, ep.worker),
					factory: sp.decl.Transform,
					impl:    impl,
					backoff: backoff,
				}
				x.tasks = append(x.tasks, tt)
				r.tasks = append(r.tasks, tt.task)
			}

			poolOpts := []worker.Option[envelope]{worker.WithDropHandler(x.drop)}
			if o.registry != nil {
				poolOpts = append(poolOpts,
					worker.WithMetricsRegistry[envelope](o.registry, poolPrefix(o.name, name, ep.index)))
			}
			x.pool = worker.NewPool(1, o.queueSize, x.process, poolOpts...)
			r.transforms[name] = append(r.transforms[name], x)
		}
	}

	for _, name := range pl.order {
		sp := pl.stages[name]
		if sp.decl.Kind != topology.KindSource {
			continue
		}
		for _, ep := range sp.executors {
			x := &sourceExecutor{
				r:      r,
				stage:  name,
				index:  ep.index,
				worker: ep.worker,
				wake:   make(chan struct{}, 1),
				idle:   make(chan struct{}),
				done:   make(chan struct{}),
			}
			for i := ep.first; i < ep.first+ep.count; i++ {
				impl := sp.decl.Source()
				if impl == nil {
					problems.Addf("stage %q: factory returned nil for task %d", name, i)
					continue
				}
				backoff, _ := retry.NewBackoff(o.sourceRetry)
				x.tasks = append(x.tasks, &sourceTask{
					task:    newTask(r, name, i, sp.tasks, ep.worker),
					impl:    impl,
					backoff: backoff,
				})
				r.tasks = append(r.tasks, x.tasks[len(x.tasks)-1].task)
			}
			r.sources = append(r.sources, x)
		}
	}

	if err := problems.Err(); err != nil {
		return nil, err
	}

	seed := rand.Uint64()
	for _, name := range pl.order {
		for _, x := range r.transforms[name] {
			for _, tt := range x.tasks {
				tt.out = newEmitter(r, tt.task, seed)
				seed += 0x9e3779b97f4a7c15
			}
		}
	}
	for _, x := range r.sources {
		for _, st := range x.tasks {
			st.out = newEmitter(r, st.task, seed)
			seed += 0x9e3779b97f4a7c15
		}
	}

	return r, nil
}

// initAll opens every source and initializes every transform concurrently.
// On failure the instances that did start are released again.
func (r *Running) initAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, xs := range r.transforms {
		for _, x := range xs {
			for _, tt := range x.tasks {
				g.Go(func() error { return tt.init(gctx) })
			}
		}
	}
	for _, x := range r.sources {
		for _, st := range x.tasks {
			g.Go(func() error { return st.open(gctx) })
		}
	}

	err := g.Wait()
	if err == nil {
		return nil
	}

	for _, xs := range r.transforms {
		for _, x := range xs {
			for _, tt := range x.tasks {
				if tt.current() == component.StateInitialized {
					tt.teardown()
					tt.setState(component.StateStopped, nil)
				}
			}
		}
	}
	for _, x := range r.sources {
		for _, st := range x.tasks {
			if st.current() == component.StateInitialized {
				st.close()
				st.setState(component.StateStopped, nil)
			}
		}
	}
	return err
}

// start runs the transform executors, then the tracker, then the sources.
func (r *Running) start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, name := range r.plan.order {
		for _, x := range r.transforms[name] {
			if err := x.pool.Start(r.ctx); err != nil {
				r.cancel()
				return errors.WrapFatal(err, "engine", "Schedule", "start executor")
			}
			for _, tt := range x.tasks {
				tt.setState(component.StateRunning, nil)
			}
		}
	}

	if r.tracker != nil {
		if err := r.tracker.Start(r.ctx); err != nil {
			r.cancel()
			return errors.WrapFatal(err, "engine", "Schedule", "start delivery tracker")
		}
	}

	for _, x := range r.sources {
		for _, st := range x.tasks {
			st.setState(component.StateRunning, nil)
		}
		go x.run(r.ctx)
	}
	return nil
}

func (r *Running) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		r.log.Info("Context ended, shutting down topology")
		if err := r.Shutdown(r.opts.gracePeriod); err != nil {
			r.log.Error("Topology shutdown incomplete", "error", err)
		}
	case <-r.done:
	}
}

var metricNameRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func poolPrefix(topologyName, stage string, executor int) string {
	clean := func(s string) string {
		return strings.ToLower(metricNameRegex.ReplaceAllString(s, "_"))
	}
	return fmt.Sprintf("semtopo_%s_%s_%d", clean(topologyName), clean(stage), executor)
}
