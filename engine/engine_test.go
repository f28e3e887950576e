package engine

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/delivery"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/grouping"
	"github.com/c360/semtopo/health"
	"github.com/c360/semtopo/pkg/retry"
	"github.com/c360/semtopo/pkg/worker"
	"github.com/c360/semtopo/testutil"
	"github.com/c360/semtopo/topology"
	"github.com/c360/semtopo/tuple"
)

const waitFor = 3 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tracked(timeout time.Duration) delivery.Config {
	return delivery.Config{Enabled: true, Timeout: timeout, Shards: 4}
}

func untracked() delivery.Config {
	return delivery.Config{Enabled: false}
}

func fastBackoff() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func build(t *testing.T, b *topology.Builder) *topology.Graph {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func schedule(t *testing.T, g *topology.Graph, placement Placement, opts ...Option) *Running {
	t.Helper()
	base := []Option{
		WithName("test"),
		WithLogger(quietLogger()),
		WithForceTimeout(time.Second),
		WithRestartBackoff(fastBackoff()),
		WithSourceBackoff(fastBackoff()),
	}
	r, err := Schedule(context.Background(), g, placement, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown(time.Second) })
	return r
}

func alertKinds(r *Running) []string {
	var kinds []string
	for _, a := range r.Alerts() {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func TestSchedule_RequiresDeliveryChoice(t *testing.T) {
	g := build(t, func() *topology.Builder {
		b := topology.NewBuilder()
		b.SetSource("source", testutil.NewMockSource("msg").Factory(), 1)
		b.SetTransform("sink", testutil.Sink(nil), 1).Shuffle("source")
		return b
	}())

	_, err := Schedule(context.Background(), g, Placement{}, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = Schedule(context.Background(), nil, Placement{}, WithDelivery(untracked()))
	assert.True(t, errors.IsValidation(err))

	_, err = Schedule(context.Background(), g, Placement{},
		WithLogger(quietLogger()), WithDelivery(delivery.Config{Enabled: true}))
	assert.Error(t, err)
}

func TestWordSplit_FieldsGroupingAndAck(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("split", testutil.Transform(nil, []string{"word"}, testutil.SplitWords("msg")), 2).
		Shuffle("source")
	b.SetTransform("count", testutil.Sink(rec), 3).Fields("split", "word")

	r := schedule(t, build(t, b), Placement{}, WithDelivery(tracked(5*time.Second)))

	id := src.PushStrings("a b a")
	require.Eventually(t, func() bool { return len(src.Acked()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []any{id}, src.Acked())
	assert.Empty(t, src.Failed())
	assert.Equal(t, 3, rec.Count())

	counts := map[string]int{}
	holders := map[string]map[int]bool{}
	for instance, recs := range rec.ByInstance("count") {
		for _, rc := range recs {
			w, err := rc.GetString("word")
			require.NoError(t, err)
			counts[w]++
			if holders[w] == nil {
				holders[w] = map[int]bool{}
			}
			holders[w][instance] = true
		}
	}
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, counts)
	assert.Len(t, holders["a"], 1, "equal keys must reach one instance")

	stats := r.Stats()
	assert.Equal(t, int64(3), stats.Stages["count"].Processed)
	require.NotNil(t, stats.Delivery)
	assert.Equal(t, int64(1), stats.Delivery.Completed)
	assert.Zero(t, stats.Delivery.Pending)
}

func TestDerivedRecordIDs(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("split", testutil.Transform(nil, []string{"word"}, testutil.SplitWords("msg")), 1).
		Shuffle("source")
	b.SetTransform("sink", testutil.Sink(rec), 1).Shuffle("split")
	schedule(t, build(t, b), Placement{}, WithDelivery(untracked()))

	src.PushStrings("x y")
	require.Eventually(t, func() bool { return rec.Count() == 2 }, waitFor, 5*time.Millisecond)

	got := rec.Received()
	assert.NotEqual(t, got[0].Record.ID(), got[1].Record.ID())
	assert.Equal(t, "split", got[0].Record.Source())
}

func TestInitFailure_ReleasesStartedInstances(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()
	broken := func() component.Transform {
		return &testutil.MockTransform{InitErr: testutil.ErrMockFailed}
	}

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("good", testutil.Sink(rec), 2).Shuffle("source")
	b.SetTransform("broken", broken, 1).Shuffle("source")

	_, err := Schedule(context.Background(), build(t, b), Placement{},
		WithLogger(quietLogger()), WithDelivery(untracked()))
	require.Error(t, err)
	assert.True(t, errors.IsProcessing(err))
	assert.ErrorIs(t, err, testutil.ErrMockFailed)

	assert.Equal(t, rec.Inits(), rec.Teardowns())
	assert.Equal(t, src.Opened.Load(), src.Closed.Load())
}

func TestReplay_OncePerTimeout(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("check", testutil.Transform(rec, []string{"msg"}, testutil.FailOn("msg", "bad")), 1).
		Shuffle("source")

	const timeout = 100 * time.Millisecond
	r := schedule(t, build(t, b), Placement{},
		WithDelivery(tracked(timeout)),
		WithErrorPolicy(PolicyContinue))

	goodID := src.PushStrings("good")
	pushed := time.Now()
	badID := src.PushStrings("bad")

	require.Eventually(t, func() bool { return len(src.Failed()) >= 3 }, waitFor, 5*time.Millisecond)
	failures := len(src.Failed())
	elapsed := time.Since(pushed)
	assert.LessOrEqual(t, failures, int(elapsed/timeout)+1, "at most one replay per timeout window")
	assert.Equal(t, []any{goodID}, src.Acked())
	for _, id := range src.Failed() {
		assert.Equal(t, badID, id)
	}

	var badIDs []string
	for _, rc := range rec.Received() {
		if v, _ := rc.Record.GetString("msg"); v == "bad" {
			badIDs = append(badIDs, rc.Record.ID())
		}
	}
	require.GreaterOrEqual(t, len(badIDs), 3)
	for _, id := range badIDs[1:] {
		assert.Equal(t, badIDs[0], id, "replays keep the record id")
	}
	assert.GreaterOrEqual(t, r.Stats().Stages["source"].Replayed, int64(2))
	assert.Empty(t, r.Alerts())
}

func TestReplay_ExhaustedRaisesAlert(t *testing.T) {
	src := testutil.NewMockSource("msg")

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("check", testutil.Transform(nil, []string{"msg"}, testutil.FailOn("msg", "bad")), 1).
		Shuffle("source")

	cfg := tracked(50 * time.Millisecond)
	cfg.MaxReplays = 2
	r := schedule(t, build(t, b), Placement{}, WithDelivery(cfg), WithErrorPolicy(PolicyContinue))

	src.PushStrings("bad")
	require.Eventually(t, func() bool { return len(r.Alerts()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{AlertReplayExhausted}, alertKinds(r))
	assert.Len(t, src.Failed(), 3)
	assert.Equal(t, int64(2), r.Stats().Stages["source"].Replayed)
	assert.True(t, r.Health().IsUnhealthy())

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, src.Failed(), 3, "no replay after exhaustion")
}

func TestUntracked_FailureDoesNotBlock(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("check", testutil.Transform(rec, []string{"msg"}, testutil.FailOn("msg", "bad")), 1).
		Shuffle("source")

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()), WithErrorPolicy(PolicyContinue))

	badID := src.PushStrings("bad")
	goodID := src.PushStrings("good")
	require.Eventually(t, func() bool { return rec.Count() == 2 }, waitFor, 5*time.Millisecond)
	require.NoError(t, r.Shutdown(time.Second))

	assert.Equal(t, []any{badID, goodID}, src.Acked(), "acked on consumption")
	assert.Empty(t, src.Failed())
	assert.Nil(t, r.Stats().Delivery)
	assert.Equal(t, int64(1), r.Stats().Stages["check"].Failed)
}

func TestRestartPolicy_ReplacesInstance(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("flaky", testutil.Transform(rec, []string{"msg"}, testutil.FailOn("msg", "bad")), 2).
		Output("msg").
		Table("source", "msg", map[string]int{"bad": 1, "after": 1})

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()))
	assert.Equal(t, 2, rec.Inits())

	src.PushStrings("bad")
	require.Eventually(t, func() bool { return rec.Inits() == 3 }, waitFor, 5*time.Millisecond)

	src.PushStrings("after")
	require.Eventually(t, func() bool { return len(rec.ByInstance("flaky")[1]) == 2 }, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, rec.Teardowns())
	assert.Equal(t, int64(1), r.Stats().Stages["flaky"].Restarts)
	assert.Empty(t, r.Alerts())
	assert.True(t, r.Health().IsDegraded())
}

func TestRestartPolicy_GivesUp(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()
	// Only the first instance initializes; every replacement fails Init.
	factory := func() component.Transform {
		m := &testutil.MockTransform{Fields: []string{"msg"}, Body: testutil.FailOn("msg", "bad"), Recorder: rec}
		if rec.Inits() > 0 {
			m.InitErr = testutil.ErrMockFailed
		}
		return m
	}

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("flaky", factory, 1).Shuffle("source")

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()))

	src.PushStrings("bad")
	require.Eventually(t, func() bool { return len(r.Alerts()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{AlertRestartFailed}, alertKinds(r))
	assert.ErrorIs(t, r.Alerts()[0].Err, testutil.ErrMockFailed)
	assert.True(t, r.Health().IsUnhealthy())

	// the failed instance drops further input
	src.PushStrings("good")
	require.Eventually(t, func() bool { return r.Stats().Stages["flaky"].Dropped == 1 }, waitFor, 5*time.Millisecond)
}

func TestContinuePolicy_FatalErrorFailsInstance(t *testing.T) {
	src := testutil.NewMockSource("msg")
	fatal := func(_ context.Context, _ tuple.Record, _ component.Collector) error {
		return errors.WrapFatal(stderrors.New("disk gone"), "sink", "Process", "write")
	}

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Transform(nil, nil, fatal), 1).Shuffle("source")

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()), WithErrorPolicy(PolicyContinue))

	src.PushStrings("x")
	require.Eventually(t, func() bool { return len(r.Alerts()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{AlertProcessing}, alertKinds(r))
	assert.True(t, errors.IsProcessing(r.Alerts()[0].Err))
}

func TestPanicRecovered(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()
	body := func(_ context.Context, r tuple.Record, _ component.Collector) error {
		if v, _ := r.GetString("msg"); v == "boom" {
			panic("boom")
		}
		return nil
	}

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Transform(rec, nil, body), 1).Shuffle("source")

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()), WithErrorPolicy(PolicyContinue))

	src.PushStrings("boom")
	src.PushStrings("fine")
	require.Eventually(t, func() bool { return r.Stats().Stages["sink"].Processed == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, int64(1), r.Stats().Stages["sink"].Failed)
	assert.Equal(t, 2, rec.Count())
}

// overflow routes every record one past the last instance.
type overflow struct{}

func (overflow) Name() string             { return "overflow" }
func (overflow) RequiredFields() []string { return nil }
func (overflow) Validate(int) error       { return nil }
func (o overflow) NewRouter(uint64) grouping.Router {
	return o
}
func (overflow) Route(_ tuple.Record, parallelism int, dst []int) ([]int, error) {
	return append(dst, parallelism), nil
}

func TestRoutingError_FailsInstance(t *testing.T) {
	src := testutil.NewMockSource("msg")
	pass := func(_ context.Context, r tuple.Record, out component.Collector) error {
		return out.Emit(r.Values()...)
	}

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("pass", testutil.Transform(nil, []string{"msg"}, pass), 1).Shuffle("source")
	b.SetTransform("sink", testutil.Sink(nil), 2).Grouping("pass", overflow{})

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()), WithErrorPolicy(PolicyContinue))
	src.PushStrings("x")

	require.Eventually(t, func() bool { return len(r.Alerts()) == 1 }, waitFor, 5*time.Millisecond)
	a := r.Alerts()[0]
	assert.Equal(t, AlertRouting, a.Kind)
	assert.Equal(t, "pass", a.Stage)
	assert.True(t, errors.IsRouting(a.Err))
	assert.Zero(t, r.Stats().Stages["sink"].Processed)
}

func TestOrderPreservedOnOneInstance(t *testing.T) {
	src := testutil.NewMockSource("n")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Sink(rec), 1).Global("source")
	schedule(t, build(t, b), Placement{}, WithDelivery(untracked()))

	const n = 100
	for i := range n {
		src.Push(tuple.Int(int64(i)))
	}
	require.Eventually(t, func() bool { return rec.Count() == n }, waitFor, 5*time.Millisecond)

	for i, rc := range rec.Received() {
		v, err := rc.Record.GetInt("n")
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}
}

func TestCrossWorkerRouting(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("split", testutil.Transform(nil, []string{"word"}, testutil.SplitWords("msg")), 1).
		Shuffle("source")
	b.SetTransform("count", testutil.Sink(rec), 1).Shuffle("split")

	r := schedule(t, build(t, b), Placement{Workers: 2}, WithDelivery(tracked(5*time.Second)))
	require.Equal(t, 0, r.plan.stages["source"].executors[0].worker)
	require.Equal(t, 1, r.plan.stages["split"].executors[0].worker)
	require.Equal(t, 0, r.plan.stages["count"].executors[0].worker)

	id := src.PushStrings("one two three")
	require.Eventually(t, func() bool { return len(src.Acked()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []any{id}, src.Acked())

	var words []string
	for _, rc := range rec.Received() {
		w, err := rc.Record.GetString("word")
		require.NoError(t, err)
		words = append(words, w)
		assert.Equal(t, 0, rc.Instance)
	}
	assert.Equal(t, []string{"one", "two", "three"}, words)
}

func TestSourceFatalError(t *testing.T) {
	src := testutil.NewMockSource("msg")
	src.NextErr = func() error { return stderrors.New("corrupt frame") }

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Sink(nil), 1).Shuffle("source")

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()))

	require.Eventually(t, func() bool { return len(r.Alerts()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{AlertSource}, alertKinds(r))
	assert.True(t, errors.IsSource(r.Alerts()[0].Err))
	assert.True(t, errors.IsFatal(r.Alerts()[0].Err))
	assert.True(t, r.Health().IsUnhealthy())
	assert.Equal(t, int32(1), src.Closed.Load())
}

func TestSourceTransientErrorsRetry(t *testing.T) {
	src := testutil.NewMockSource("msg")
	var calls atomic.Int32
	src.NextErr = func() error {
		if calls.Add(1) <= 3 {
			return testutil.ErrMockConnection
		}
		return nil
	}
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Sink(rec), 1).Shuffle("source")

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()))
	src.PushStrings("late")

	require.Eventually(t, func() bool { return rec.Count() == 1 }, waitFor, 5*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(4))
	assert.Empty(t, r.Alerts())
	assert.True(t, r.Health().IsHealthy())
}

func TestShutdown_StopsIntake(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Sink(rec), 2).Shuffle("source")

	r, err := Schedule(context.Background(), build(t, b), Placement{},
		WithLogger(quietLogger()), WithDelivery(tracked(time.Second)))
	require.NoError(t, err)

	for range 10 {
		src.PushStrings("x")
	}
	require.Eventually(t, func() bool { return len(src.Acked()) == 10 }, waitFor, 5*time.Millisecond)

	require.NoError(t, r.Shutdown(time.Second))
	assert.NoError(t, r.Wait())

	for _, x := range r.allTransforms() {
		err := x.pool.SubmitWait(context.Background(), envelope{})
		assert.ErrorIs(t, err, worker.ErrPoolStopped)
	}
	for _, tk := range r.tasks {
		assert.Equal(t, component.StateStopped, tk.current(), tk.stage)
	}
	assert.Equal(t, 2, rec.Teardowns())
	assert.Equal(t, int32(1), src.Closed.Load())

	// repeated calls return the first result
	assert.NoError(t, r.Shutdown(0))
}

func TestShutdown_ContextCancel(t *testing.T) {
	src := testutil.NewMockSource("msg")

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Sink(nil), 1).Shuffle("source")

	ctx, cancel := context.WithCancel(context.Background())
	r, err := Schedule(ctx, build(t, b), Placement{},
		WithLogger(quietLogger()), WithDelivery(untracked()), WithGracePeriod(time.Second))
	require.NoError(t, err)

	cancel()
	select {
	case <-r.Done():
	case <-time.After(waitFor):
		t.Fatal("topology did not stop after context cancel")
	}
	assert.NoError(t, r.Wait())
}

func TestShutdown_StuckProcessorTimesOut(t *testing.T) {
	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()
	release := make(chan struct{})
	var entered sync.Once
	inside := make(chan struct{})
	body := func(context.Context, tuple.Record, component.Collector) error {
		entered.Do(func() { close(inside) })
		<-release
		return nil
	}

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("stuck", testutil.Transform(rec, nil, body), 1).Shuffle("source")

	r, err := Schedule(context.Background(), build(t, b), Placement{},
		WithLogger(quietLogger()), WithDelivery(untracked()), WithForceTimeout(50*time.Millisecond))
	require.NoError(t, err)

	src.PushStrings("x")
	src.PushStrings("y")
	<-inside

	err = r.Shutdown(50 * time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, worker.ErrStopTimeout)
	assert.Zero(t, rec.Teardowns(), "teardown waits for the stuck call")

	close(release)
	require.Eventually(t, func() bool { return rec.Teardowns() == 1 }, waitFor, 5*time.Millisecond)
}

func TestAlertHandlerReceivesAlerts(t *testing.T) {
	src := testutil.NewMockSource("msg")
	src.NextErr = func() error { return stderrors.New("corrupt frame") }

	got := make(chan Alert, 1)
	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Sink(nil), 1).Shuffle("source")

	schedule(t, build(t, b), Placement{}, WithDelivery(untracked()),
		WithAlertHandler(AlertFunc(func(a Alert) { got <- a })))

	select {
	case a := <-got:
		assert.Equal(t, "source", a.Stage)
		assert.Equal(t, 0, a.Instance)
		assert.Contains(t, a.String(), "corrupt frame")
	case <-time.After(waitFor):
		t.Fatal("no alert delivered")
	}
}

func TestShutdown_BacklogOutlastsGrace(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := testutil.NewMockSource("msg")
	rec := testutil.NewRecorder()
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	body := func(ctx context.Context, _ tuple.Record, _ component.Collector) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(20 * time.Millisecond):
		}
		return nil
	}
	processed := func() (int, time.Time) {
		mu.Lock()
		defer mu.Unlock()
		if len(starts) == 0 {
			return 0, time.Time{}
		}
		return len(starts), starts[len(starts)-1]
	}

	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("slow", testutil.Transform(rec, nil, body), 1).Shuffle("source")

	const (
		grace = 100 * time.Millisecond
		force = 200 * time.Millisecond
		total = 50
	)
	r, err := Schedule(context.Background(), build(t, b), Placement{},
		WithLogger(quietLogger()), WithDelivery(untracked()),
		WithQueueSize(2), WithForceTimeout(force))
	require.NoError(t, err)

	for range total {
		src.PushStrings("x")
	}
	require.Eventually(t, func() bool { n, _ := processed(); return n > 0 }, waitFor, time.Millisecond)

	begin := time.Now()
	require.NoError(t, r.Shutdown(grace))
	assert.Less(t, time.Since(begin), grace+2*force+100*time.Millisecond)

	n, last := processed()
	assert.Less(t, n, total, "backlog still queued when grace ran out")
	assert.False(t, last.After(begin.Add(grace+force)), "Process started %v after shutdown began", last.Sub(begin))

	stats := r.allTransforms()[0].pool.Stats()
	time.Sleep(50 * time.Millisecond)
	after, _ := processed()
	assert.Equal(t, n, after, "nothing processed once shutdown returned")
	for _, x := range r.allTransforms() {
		assert.ErrorIs(t, x.pool.SubmitWait(context.Background(), envelope{}), worker.ErrPoolStopped)
		assert.Equal(t, stats.Submitted, x.pool.Stats().Submitted)
	}
	for _, tk := range r.tasks {
		assert.Equal(t, component.StateStopped, tk.current(), tk.stage)
	}
	assert.Equal(t, 1, rec.Teardowns())
	assert.Equal(t, int32(1), src.Closed.Load())
}

func TestHealth_IncludesDependencies(t *testing.T) {
	src := testutil.NewMockSource("msg")
	b := topology.NewBuilder()
	b.SetSource("source", src.Factory(), 1)
	b.SetTransform("sink", testutil.Sink(nil), 1).Shuffle("source")

	var connected atomic.Bool
	connected.Store(true)
	conn := func() health.Status {
		if connected.Load() {
			return health.NewHealthy("natsclient", "connected")
		}
		return health.NewUnhealthy("natsclient", "disconnected")
	}

	r := schedule(t, build(t, b), Placement{}, WithDelivery(untracked()),
		WithDependencyHealth(conn), WithDependencyHealth(nil))

	st := r.Health()
	assert.True(t, st.IsHealthy())
	require.Len(t, st.SubStatuses, 3, "two stages and one dependency")
	assert.Equal(t, "natsclient", st.SubStatuses[2].Component)

	connected.Store(false)
	assert.True(t, r.Health().IsUnhealthy())
}
