package component

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/c360/semtopo/tuple"
)

// ErrEmpty is returned by Source.Next when nothing arrived within the poll interval.
var ErrEmpty = errors.New("no record available")

// Emission is one record produced by a source. MsgID is handed back to the
// source in Ack or Fail when delivery tracking is enabled; it may be nil.
type Emission struct {
	Values []tuple.Value
	MsgID  any
}

// TaskContext describes the task instance a stage runs as.
type TaskContext struct {
	Stage       string
	Instance    int
	Parallelism int
	Worker      int
	Logger      *slog.Logger
	Config      json.RawMessage
}

// Source reads records from an upstream stream.
//
// All methods of one instance are called from the same execution context,
// so implementations need no locking for their own state.
type Source interface {
	// Open is called once before the first Next.
	Open(ctx context.Context, tc TaskContext) error
	// Next returns the next emission, or ErrEmpty when no record arrived
	// within a bounded wait. It must honor ctx cancellation.
	Next(ctx context.Context) (Emission, error)
	// Ack reports that every record derived from msgID was processed.
	Ack(msgID any)
	// Fail reports that the record identified by msgID timed out and is being replayed.
	Fail(msgID any)
	// Close is called once after the last Next.
	Close() error
	// OutputFields declares the schema of emitted records.
	OutputFields() []string
}

// Collector receives the records a transform emits while processing one input.
type Collector interface {
	Emit(values ...tuple.Value) error
}

// Transform consumes records and emits zero or more records per input.
//
// Process may be re-run for the same input when delivery tracking replays a
// unit, so side effects must tolerate at-least-once delivery.
type Transform interface {
	// Init is called once before the first Process.
	Init(ctx context.Context, tc TaskContext) error
	// Process handles one input record.
	Process(ctx context.Context, rec tuple.Record, out Collector) error
	// Teardown releases resources. It is called on normal and forced shutdown
	// and before a restart.
	Teardown() error
	// OutputFields declares the schema of emitted records. Sinks return nil.
	OutputFields() []string
}

// InputDeclarer is implemented by transforms that read named fields. Every
// upstream stage feeding the transform must declare those fields, or the
// topology fails to build.
type InputDeclarer interface {
	InputFields() []string
}

// SourceFactory builds a fresh source for each task instance.
type SourceFactory func() Source

// TransformFactory builds a fresh transform for each task instance.
type TransformFactory func() Transform

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(values ...tuple.Value) error

// Emit calls f(values...).
func (f CollectorFunc) Emit(values ...tuple.Value) error {
	return f(values...)
}

// Log returns tc.Logger, or slog.Default when unset, tagged with the task identity.
func (tc TaskContext) Log() *slog.Logger {
	l := tc.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("stage", tc.Stage, "instance", tc.Instance, "worker", tc.Worker)
}

// DecodeConfig unmarshals the stage config into v. An empty config leaves v untouched.
func (tc TaskContext) DecodeConfig(v any) error {
	if len(tc.Config) == 0 {
		return nil
	}
	return json.Unmarshal(tc.Config, v)
}
