package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/tuple"
)

// Common test errors
var (
	ErrMockFailed     = errors.New("mock operation failed")
	ErrMockConnection = errors.New("mock connection error")
)

// MockSource is an in-memory source. Rows pushed with Push are emitted in
// order; when the queue is empty Next waits up to PollInterval and returns
// component.ErrEmpty.
type MockSource struct {
	Fields       []string
	PollInterval time.Duration
	// OpenErr is returned by Open.
	OpenErr error
	// NextErr, when set, is consulted before every Next.
	NextErr func() error

	mu     sync.Mutex
	queue  []component.Emission
	acked  []any
	failed []any
	seq    int
	notify chan struct{}

	Opened atomic.Int32
	Closed atomic.Int32
	Polls  atomic.Int64
}

// NewMockSource creates a source emitting records with the given fields.
func NewMockSource(fields ...string) *MockSource {
	return &MockSource{
		Fields:       fields,
		PollInterval: 5 * time.Millisecond,
		notify:       make(chan struct{}, 1),
	}
}

// Factory returns a factory handing out s itself. Use it with parallelism 1.
func (s *MockSource) Factory() component.SourceFactory {
	return func() component.Source { return s }
}

// Push queues one row and returns its message id.
func (s *MockSource) Push(values ...tuple.Value) any {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.queue = append(s.queue, component.Emission{Values: values, MsgID: id})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return id
}

// PushStrings queues one row of string values.
func (s *MockSource) PushStrings(values ...string) any {
	vals := make([]tuple.Value, len(values))
	for i, v := range values {
		vals[i] = tuple.String(v)
	}
	return s.Push(vals...)
}

// Open implements component.Source.
func (s *MockSource) Open(context.Context, component.TaskContext) error {
	s.Opened.Add(1)
	return s.OpenErr
}

// Next implements component.Source.
func (s *MockSource) Next(ctx context.Context) (component.Emission, error) {
	s.Polls.Add(1)
	if s.NextErr != nil {
		if err := s.NextErr(); err != nil {
			return component.Emission{}, err
		}
	}
	if em, ok := s.pop(); ok {
		return em, nil
	}

	timer := time.NewTimer(s.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return component.Emission{}, ctx.Err()
	case <-timer.C:
	case <-s.notify:
	}
	if em, ok := s.pop(); ok {
		return em, nil
	}
	return component.Emission{}, component.ErrEmpty
}

func (s *MockSource) pop() (component.Emission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return component.Emission{}, false
	}
	em := s.queue[0]
	s.queue = s.queue[1:]
	return em, true
}

// Ack implements component.Source.
func (s *MockSource) Ack(msgID any) {
	s.mu.Lock()
	s.acked = append(s.acked, msgID)
	s.mu.Unlock()
}

// Fail implements component.Source.
func (s *MockSource) Fail(msgID any) {
	s.mu.Lock()
	s.failed = append(s.failed, msgID)
	s.mu.Unlock()
}

// Close implements component.Source.
func (s *MockSource) Close() error {
	s.Closed.Add(1)
	return nil
}

// OutputFields implements component.Source.
func (s *MockSource) OutputFields() []string { return s.Fields }

// Acked returns the acknowledged message ids in order.
func (s *MockSource) Acked() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.acked...)
}

// Failed returns the failed message ids in order.
func (s *MockSource) Failed() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.failed...)
}

// Pending returns the number of rows not yet emitted.
func (s *MockSource) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Received is one Process call seen by a Recorder.
type Received struct {
	Stage    string
	Instance int
	Record   tuple.Record
}

// Recorder collects what MockTransform instances receive.
type Recorder struct {
	mu        sync.Mutex
	received  []Received
	inits     atomic.Int32
	teardowns atomic.Int32
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(rc Received) {
	r.mu.Lock()
	r.received = append(r.received, rc)
	r.mu.Unlock()
}

// Received returns every recorded call in arrival order.
func (r *Recorder) Received() []Received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Received(nil), r.received...)
}

// Count returns the number of recorded calls.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

// ByInstance groups the recorded records of stage by instance.
func (r *Recorder) ByInstance(stage string) map[int][]tuple.Record {
	out := make(map[int][]tuple.Record)
	for _, rc := range r.Received() {
		if rc.Stage == stage {
			out[rc.Instance] = append(out[rc.Instance], rc.Record)
		}
	}
	return out
}

// Inits returns how many instances were initialized.
func (r *Recorder) Inits() int { return int(r.inits.Load()) }

// Teardowns returns how many instances were torn down.
func (r *Recorder) Teardowns() int { return int(r.teardowns.Load()) }

// ProcessFunc is the body of a MockTransform.
type ProcessFunc func(ctx context.Context, rec tuple.Record, out component.Collector) error

// MockTransform is a configurable transform reporting to a Recorder.
type MockTransform struct {
	Fields   []string
	Body     ProcessFunc
	InitErr  error
	Recorder *Recorder

	tc component.TaskContext
}

// Init implements component.Transform.
func (m *MockTransform) Init(_ context.Context, tc component.TaskContext) error {
	if m.InitErr != nil {
		return m.InitErr
	}
	m.tc = tc
	if m.Recorder != nil {
		m.Recorder.inits.Add(1)
	}
	return nil
}

// Process implements component.Transform. The call is recorded before the
// body runs.
func (m *MockTransform) Process(ctx context.Context, rec tuple.Record, out component.Collector) error {
	if m.Recorder != nil {
		m.Recorder.add(Received{Stage: m.tc.Stage, Instance: m.tc.Instance, Record: rec})
	}
	if m.Body == nil {
		return nil
	}
	return m.Body(ctx, rec, out)
}

// Teardown implements component.Transform.
func (m *MockTransform) Teardown() error {
	if m.Recorder != nil {
		m.Recorder.teardowns.Add(1)
	}
	return nil
}

// OutputFields implements component.Transform.
func (m *MockTransform) OutputFields() []string { return m.Fields }

// Transform returns a factory of MockTransforms running fn.
func Transform(rec *Recorder, fields []string, fn ProcessFunc) component.TransformFactory {
	return func() component.Transform {
		return &MockTransform{Fields: fields, Body: fn, Recorder: rec}
	}
}

// Sink returns a factory of terminal transforms that only record.
func Sink(rec *Recorder) component.TransformFactory {
	return Transform(rec, nil, nil)
}

// FailOn returns a process function failing for records whose field equals
// value and passing every other record through unchanged.
func FailOn(field, value string) ProcessFunc {
	return func(_ context.Context, rec tuple.Record, out component.Collector) error {
		v, _ := rec.GetString(field)
		if v == value {
			return ErrMockFailed
		}
		return out.Emit(rec.Values()...)
	}
}

// SplitWords emits one "word" record per space separated word of field.
func SplitWords(field string) ProcessFunc {
	return func(_ context.Context, rec tuple.Record, out component.Collector) error {
		s, err := rec.GetString(field)
		if err != nil {
			return err
		}
		for _, w := range splitFields(s) {
			if err := out.Emit(tuple.String(w)); err != nil {
				return err
			}
		}
		return nil
	}
}
