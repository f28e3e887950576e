package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	pkgerrors "github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/metric"
)

type recordingOwner struct {
	mu        sync.Mutex
	completed []uint64
	timedOut  []uint64
	payloads  []any
}

func (o *recordingOwner) Completed(unit uint64, payload any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, unit)
	o.payloads = append(o.payloads, payload)
}

func (o *recordingOwner) TimedOut(unit uint64, payload any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timedOut = append(o.timedOut, unit)
	o.payloads = append(o.payloads, payload)
}

func (o *recordingOwner) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.completed), len(o.timedOut)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T, clock *fakeClock, opts ...Option) *Tracker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	cfg.Shards = 4
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	tr, err := NewTracker(cfg, opts...)
	require.NoError(t, err)
	return tr
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"disabled ignores other fields", Config{Enabled: false, Timeout: -1}, false},
		{"zero timeout", Config{Enabled: true}, true},
		{"negative shards", Config{Enabled: true, Timeout: time.Second, Shards: -1}, true},
		{"negative replays", Config{Enabled: true, Timeout: time.Second, MaxReplays: -2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTracker_RequiresEnabled(t *testing.T) {
	_, err := NewTracker(Config{Enabled: false, Timeout: time.Second})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestNewID_NonZero(t *testing.T) {
	seen := make(map[uint64]bool)
	for range 1000 {
		id := NewID()
		require.NotZero(t, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 990)
}

func TestTracker_CompletesWhenLedgerReachesZero(t *testing.T) {
	tr := newTestTracker(t, nil)
	owner := &recordingOwner{}

	// Source delivers to e1 and e2. The e1 task emits c1; c1 and e2 are leaves.
	e1, e2, c1 := NewID(), NewID(), NewID()
	unit := NewID()
	tr.Register(unit, e1^e2, owner, "root")
	assert.Equal(t, 1, tr.Pending())

	tr.Ack(unit, c1) // leaf ack may arrive before its parent acks
	tr.Ack(unit, e2)
	done, _ := owner.counts()
	assert.Zero(t, done)

	tr.Ack(unit, e1^c1)
	done, timedOut := owner.counts()
	assert.Equal(t, 1, done)
	assert.Zero(t, timedOut)
	assert.Equal(t, []any{"root"}, owner.payloads)
	assert.Zero(t, tr.Pending())
}

func TestTracker_CompletesAtMostOnce(t *testing.T) {
	tr := newTestTracker(t, nil)
	owner := &recordingOwner{}

	e := NewID()
	unit := NewID()
	tr.Register(unit, e, owner, nil)
	tr.Ack(unit, e)
	tr.Ack(unit, e)
	tr.Ack(unit, 0)

	done, _ := owner.counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, int64(1), tr.Stats().Completed)
}

func TestTracker_ZeroLedgerCompletesImmediately(t *testing.T) {
	tr := newTestTracker(t, nil)
	owner := &recordingOwner{}

	tr.Register(NewID(), 0, owner, "empty")

	done, _ := owner.counts()
	assert.Equal(t, 1, done)
	assert.Zero(t, tr.Pending())
}

func TestTracker_UnknownUnitAckIsNoop(t *testing.T) {
	tr := newTestTracker(t, nil)
	assert.NotPanics(t, func() { tr.Ack(42, 7) })
	assert.Zero(t, tr.Stats().Completed)
}

func TestTracker_SweepTimesOutExpiredUnits(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tr := newTestTracker(t, clock)
	owner := &recordingOwner{}

	stale := NewID()
	tr.Register(stale, NewID(), owner, "stale")

	clock.Advance(600 * time.Millisecond)
	fresh := NewID()
	tr.Register(fresh, NewID(), owner, "fresh")

	assert.Zero(t, tr.sweep(clock.Now()))

	clock.Advance(400 * time.Millisecond)
	assert.Equal(t, 1, tr.sweep(clock.Now()))

	owner.mu.Lock()
	assert.Equal(t, []uint64{stale}, owner.timedOut)
	assert.Equal(t, []any{"stale"}, owner.payloads)
	owner.mu.Unlock()
	assert.Equal(t, 1, tr.Pending())

	// Late acks for the timed out unit are ignored.
	tr.Ack(stale, 0)
	done, timedOut := owner.counts()
	assert.Zero(t, done)
	assert.Equal(t, 1, timedOut)

	// A second sweep at the same instant must not time the unit out again.
	assert.Zero(t, tr.sweep(clock.Now()))

	clock.Advance(time.Second)
	assert.Equal(t, 1, tr.sweep(clock.Now()))
	assert.Zero(t, tr.Pending())
	assert.Equal(t, int64(2), tr.Stats().TimedOut)
}

func TestTracker_Discard(t *testing.T) {
	tr := newTestTracker(t, nil)
	owner := &recordingOwner{}

	unit := NewID()
	e := NewID()
	tr.Register(unit, e, owner, nil)

	assert.True(t, tr.Discard(unit))
	assert.False(t, tr.Discard(unit))
	tr.Ack(unit, e)

	done, timedOut := owner.counts()
	assert.Zero(t, done)
	assert.Zero(t, timedOut)
	assert.Equal(t, int64(1), tr.Stats().Discarded)
	assert.Zero(t, tr.Pending())
}

func TestTracker_ConcurrentAcks(t *testing.T) {
	tr := newTestTracker(t, nil)
	owner := &recordingOwner{}

	const units = 200
	const fanout = 8

	edges := make([][]uint64, units)
	ids := make([]uint64, units)
	for i := range units {
		ids[i] = NewID()
		var ledger uint64
		for range fanout {
			e := NewID()
			edges[i] = append(edges[i], e)
			ledger ^= e
		}
		tr.Register(ids[i], ledger, owner, i)
	}

	var wg sync.WaitGroup
	for j := range fanout {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			for i := range units {
				tr.Ack(ids[i], edges[i][j])
			}
		}(j)
	}
	wg.Wait()

	done, _ := owner.counts()
	assert.Equal(t, units, done)
	assert.Zero(t, tr.Pending())
}

func TestTracker_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := Config{Enabled: true, Timeout: 40 * time.Millisecond, Shards: 2}
	tr, err := NewTracker(cfg)
	require.NoError(t, err)

	owner := &recordingOwner{}
	tr.Register(NewID(), NewID(), owner, nil)

	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Start(context.Background()), pkgerrors.ErrAlreadyStarted)

	assert.Eventually(t, func() bool {
		_, timedOut := owner.counts()
		return timedOut == 1
	}, time.Second, 5*time.Millisecond)

	tr.Stop()
	tr.Stop()
}

func TestTracker_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	m := reg.CoreMetrics()

	tr := newTestTracker(t, nil, WithMetrics(m))
	owner := &recordingOwner{}

	unit, e := NewID(), NewID()
	tr.Register(unit, e, owner, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryPending))

	tr.Ack(unit, e)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DeliveryPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryUnits.WithLabelValues("completed")))
}
