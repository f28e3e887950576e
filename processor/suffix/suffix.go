// Package suffix provides a transform that appends the processing time in
// Unix milliseconds to a string field.
package suffix

import (
	"context"
	"strconv"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/pkg/timestamp"
	"github.com/c360/semtopo/tuple"
)

// Default field names of the random suffix demo.
const (
	DefaultInput  = "upperName"
	DefaultOutput = "suffixName"
)

// Config configures the suffix transform.
type Config struct {
	InputField  string `json:"input_field"  yaml:"input_field"`
	OutputField string `json:"output_field" yaml:"output_field"`
	Separator   string `json:"separator"    yaml:"separator"`
}

// Suffix emits "<input><separator><unix millis>".
type Suffix struct {
	cfg   Config
	clock timestamp.Clock
}

// Option configures a suffix factory.
type Option func(*Suffix)

// WithClock replaces the wall clock.
func WithClock(c timestamp.Clock) Option {
	return func(s *Suffix) { s.clock = c }
}

// New returns a factory for Suffix transforms.
func New(cfg Config, opts ...Option) component.TransformFactory {
	if cfg.InputField == "" {
		cfg.InputField = DefaultInput
	}
	if cfg.OutputField == "" {
		cfg.OutputField = DefaultOutput
	}
	if cfg.Separator == "" {
		cfg.Separator = "-"
	}
	return func() component.Transform {
		s := &Suffix{cfg: cfg, clock: timestamp.System()}
		for _, opt := range opts {
			opt(s)
		}
		return s
	}
}

// Init implements component.Transform.
func (s *Suffix) Init(context.Context, component.TaskContext) error { return nil }

// Process implements component.Transform.
func (s *Suffix) Process(_ context.Context, rec tuple.Record, out component.Collector) error {
	name, err := rec.GetString(s.cfg.InputField)
	if err != nil {
		return errors.WrapInvalid(err, "Suffix", "Process", "read field")
	}
	return out.Emit(tuple.String(name + s.cfg.Separator + strconv.FormatInt(s.clock.NowMillis(), 10)))
}

// Teardown implements component.Transform.
func (s *Suffix) Teardown() error { return nil }

// OutputFields implements component.Transform.
func (s *Suffix) OutputFields() []string { return []string{s.cfg.OutputField} }

// InputFields implements component.InputDeclarer.
func (s *Suffix) InputFields() []string { return []string{s.cfg.InputField} }
