// Package upper provides a transform that uppercases one string field.
package upper

import (
	"context"
	"strings"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/tuple"
)

// Default field names of the random suffix demo.
const (
	DefaultInput  = "originName"
	DefaultOutput = "upperName"
)

// Config configures the upper transform.
type Config struct {
	InputField  string `json:"input_field"  yaml:"input_field"`
	OutputField string `json:"output_field" yaml:"output_field"`
}

// Upper emits its input field uppercased.
type Upper struct {
	cfg Config
}

// New returns a factory for Upper transforms.
func New(cfg Config) component.TransformFactory {
	if cfg.InputField == "" {
		cfg.InputField = DefaultInput
	}
	if cfg.OutputField == "" {
		cfg.OutputField = DefaultOutput
	}
	return func() component.Transform { return &Upper{cfg: cfg} }
}

// Init implements component.Transform.
func (u *Upper) Init(context.Context, component.TaskContext) error { return nil }

// Process implements component.Transform.
func (u *Upper) Process(_ context.Context, rec tuple.Record, out component.Collector) error {
	s, err := rec.GetString(u.cfg.InputField)
	if err != nil {
		return errors.WrapInvalid(err, "Upper", "Process", "read field")
	}
	return out.Emit(tuple.String(strings.ToUpper(s)))
}

// Teardown implements component.Transform.
func (u *Upper) Teardown() error { return nil }

// OutputFields implements component.Transform.
func (u *Upper) OutputFields() []string { return []string{u.cfg.OutputField} }

// InputFields implements component.InputDeclarer.
func (u *Upper) InputFields() []string { return []string{u.cfg.InputField} }
