package delivery

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/metric"
)

// Config toggles and tunes delivery tracking.
type Config struct {
	// Enabled turns on at-least-once tracking. When false records are best-effort.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Timeout is how long a unit may stay open before it is replayed.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Shards is the number of independently locked unit tables.
	Shards int `json:"shards" yaml:"shards"`
	// MaxReplays caps replays of one root record. 0 means unlimited.
	MaxReplays int `json:"max_replays" yaml:"max_replays"`
}

// DefaultConfig returns tracking enabled with a 30s timeout.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Timeout: 30 * time.Second,
		Shards:  16,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Timeout <= 0 {
		return errors.Validationf("delivery timeout must be positive, got %s", c.Timeout)
	}
	if c.Shards < 0 {
		return errors.Validationf("delivery shards must not be negative, got %d", c.Shards)
	}
	if c.MaxReplays < 0 {
		return errors.Validationf("delivery max_replays must not be negative, got %d", c.MaxReplays)
	}
	return nil
}

// Owner receives the outcome of the units it registered. Callbacks run on
// tracker goroutines and must not block.
type Owner interface {
	Completed(unit uint64, payload any)
	TimedOut(unit uint64, payload any)
}

type entry struct {
	ledger   uint64
	deadline time.Time
	owner    Owner
	payload  any
}

type shard struct {
	mu    sync.Mutex
	units map[uint64]*entry
}

// Stats is a snapshot of tracker counters.
type Stats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	TimedOut  int64 `json:"timed_out"`
	Discarded int64 `json:"discarded"`
}

// Tracker holds the open delivery units.
type Tracker struct {
	cfg     Config
	shards  []shard
	now     func() time.Time
	metrics *metric.Metrics

	pending   atomic.Int64
	completed atomic.Int64
	timedOut  atomic.Int64
	discarded atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics reports pending units and outcomes to m.
func WithMetrics(m *metric.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker. cfg must be enabled and valid.
func NewTracker(cfg Config, opts ...Option) (*Tracker, error) {
	if !cfg.Enabled {
		return nil, errors.Validationf("delivery tracker requires tracking to be enabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Shards == 0 {
		cfg.Shards = 16
	}

	t := &Tracker{
		cfg:    cfg,
		shards: make([]shard, cfg.Shards),
		now:    time.Now,
	}
	for i := range t.shards {
		t.shards[i].units = make(map[uint64]*entry)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config { return t.cfg }

// NewID returns a random non-zero id usable as a unit or edge id.
func NewID() uint64 {
	for {
		if id := rand.Uint64(); id != 0 {
			return id
		}
	}
}

func (t *Tracker) shardFor(unit uint64) *shard {
	return &t.shards[unit%uint64(len(t.shards))]
}

// Register opens a unit whose ledger starts at ledger. A zero ledger means
// the root record had no deliveries, and the unit completes immediately.
func (t *Tracker) Register(unit, ledger uint64, owner Owner, payload any) {
	if ledger == 0 {
		t.complete(owner, unit, payload)
		return
	}

	s := t.shardFor(unit)
	s.mu.Lock()
	s.units[unit] = &entry{
		ledger:   ledger,
		deadline: t.now().Add(t.cfg.Timeout),
		owner:    owner,
		payload:  payload,
	}
	s.mu.Unlock()
	t.setPending(t.pending.Add(1))
}

// Ack folds value into the unit's ledger. The unit completes when the ledger
// reaches zero. Unknown units are ignored.
func (t *Tracker) Ack(unit, value uint64) {
	s := t.shardFor(unit)
	s.mu.Lock()
	e, ok := s.units[unit]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.ledger ^= value
	if e.ledger != 0 {
		s.mu.Unlock()
		return
	}
	delete(s.units, unit)
	s.mu.Unlock()

	t.setPending(t.pending.Add(-1))
	t.complete(e.owner, unit, e.payload)
}

// Discard drops a unit without notifying its owner.
func (t *Tracker) Discard(unit uint64) bool {
	s := t.shardFor(unit)
	s.mu.Lock()
	_, ok := s.units[unit]
	delete(s.units, unit)
	s.mu.Unlock()
	if ok {
		t.discarded.Add(1)
		t.setPending(t.pending.Add(-1))
		t.outcome("discarded")
	}
	return ok
}

func (t *Tracker) complete(owner Owner, unit uint64, payload any) {
	t.completed.Add(1)
	t.outcome("completed")
	owner.Completed(unit, payload)
}

// sweep removes every unit whose deadline is not after now and notifies
// the owners. It returns the number of timed out units.
func (t *Tracker) sweep(now time.Time) int {
	type expired struct {
		unit uint64
		e    *entry
	}
	var out []expired

	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for unit, e := range s.units {
			if !e.deadline.After(now) {
				delete(s.units, unit)
				out = append(out, expired{unit, e})
			}
		}
		s.mu.Unlock()
	}

	if len(out) == 0 {
		return 0
	}
	t.setPending(t.pending.Add(-int64(len(out))))
	for _, x := range out {
		t.timedOut.Add(1)
		t.outcome("timed_out")
		x.e.owner.TimedOut(x.unit, x.e.payload)
	}
	return len(out)
}

// Start runs the timeout sweeper until ctx ends or Stop is called.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return errors.ErrAlreadyStarted
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.stopped = make(chan struct{})

	interval := t.cfg.Timeout / 4
	if interval <= 0 {
		interval = time.Millisecond
	}

	go func() {
		defer close(t.stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep(t.now())
			}
		}
	}()
	return nil
}

// Stop ends the sweeper and waits for it to exit. Open units are kept.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, stopped := t.cancel, t.stopped
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Pending returns the number of open units.
func (t *Tracker) Pending() int {
	return int(t.pending.Load())
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Pending:   t.Pending(),
		Completed: t.completed.Load(),
		TimedOut:  t.timedOut.Load(),
		Discarded: t.discarded.Load(),
	}
}

func (t *Tracker) setPending(n int64) {
	if t.metrics != nil {
		t.metrics.DeliveryPending.Set(float64(n))
	}
}

func (t *Tracker) outcome(name string) {
	if t.metrics != nil {
		t.metrics.RecordDeliveryOutcome(name)
	}
}
