// Package split provides a transform that breaks a line of text into
// lowercase words.
package split

import (
	"context"
	"strings"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/tuple"
)

// WordField is the output field carrying one word.
const WordField = "word"

// Config configures the split transform.
type Config struct {
	// InputField is the string field holding the line. Defaults to "message".
	InputField string `json:"input_field" yaml:"input_field"`
	// Separator splits the line. Defaults to a single space.
	Separator string `json:"separator" yaml:"separator"`
}

// Splitter emits one record per non-blank word of its input line. Words are
// trimmed and lowercased.
type Splitter struct {
	cfg Config
}

// New returns a factory for splitters.
func New(cfg Config) component.TransformFactory {
	if cfg.InputField == "" {
		cfg.InputField = "message"
	}
	if cfg.Separator == "" {
		cfg.Separator = " "
	}
	return func() component.Transform { return &Splitter{cfg: cfg} }
}

// Init implements component.Transform.
func (s *Splitter) Init(context.Context, component.TaskContext) error { return nil }

// Process implements component.Transform.
func (s *Splitter) Process(_ context.Context, rec tuple.Record, out component.Collector) error {
	line, err := rec.GetString(s.cfg.InputField)
	if err != nil {
		return errors.WrapInvalid(err, "Splitter", "Process", "read line")
	}
	for _, w := range Words(line, s.cfg.Separator) {
		if err := out.Emit(tuple.String(w)); err != nil {
			return err
		}
	}
	return nil
}

// Words splits line on sep, dropping blank words and lowercasing the rest.
func Words(line, sep string) []string {
	parts := strings.Split(line, sep)
	words := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		words = append(words, strings.ToLower(p))
	}
	return words
}

// Teardown implements component.Transform.
func (s *Splitter) Teardown() error { return nil }

// OutputFields implements component.Transform.
func (s *Splitter) OutputFields() []string { return []string{WordField} }

// InputFields implements component.InputDeclarer.
func (s *Splitter) InputFields() []string { return []string{s.cfg.InputField} }
