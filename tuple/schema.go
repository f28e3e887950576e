package tuple

import (
	"fmt"

	"github.com/c360/semtopo/errors"
)

// Schema is the ordered, duplicate-free list of field names a stage emits.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds a schema. Empty or repeated names are rejected.
func NewSchema(names ...string) (Schema, error) {
	s := Schema{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return Schema{}, errors.Validationf("field %d has an empty name", i)
		}
		if _, dup := s.index[name]; dup {
			return Schema{}, errors.Validationf("duplicate field name %q", name)
		}
		s.names[i] = name
		s.index[name] = i
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error. Intended for static declarations.
func MustSchema(names ...string) Schema {
	s, err := NewSchema(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.names) }

// Fields returns a copy of the field names in order.
func (s Schema) Fields() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Index returns the position of name.
func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Contains reports whether name is a field of the schema.
func (s Schema) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Equal reports whether both schemas list the same names in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.names) != len(o.names) {
		return false
	}
	for i := range s.names {
		if s.names[i] != o.names[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	return fmt.Sprintf("%v", s.names)
}
