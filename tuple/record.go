package tuple

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/c360/semtopo/errors"
)

// derivedNamespace seeds the name-based UUIDs of derived records.
var derivedNamespace = uuid.MustParse("8b7e4f2a-51c6-4d8e-9a3b-6f1c2d7e9a40")

// Lineage ties a record to its delivery unit. Unit is 0 for untracked records.
type Lineage struct {
	Unit uint64
	Edge uint64
}

// Tracked reports whether the record belongs to a delivery unit.
func (l Lineage) Tracked() bool { return l.Unit != 0 }

// Record is an immutable tuple of values conforming to a Schema.
type Record struct {
	id      string
	source  string
	schema  Schema
	values  []Value
	lineage Lineage
}

// New creates a record. It fails when the value count differs from the
// schema length or a value is invalid.
func New(schema Schema, values ...Value) (Record, error) {
	if len(values) != schema.Len() {
		return Record{}, errors.Validation(fmt.Errorf("%w: %d values for fields %v",
			errors.ErrSchemaMismatch, len(values), schema.names))
	}
	cp := make([]Value, len(values))
	for i, v := range values {
		if !v.IsValid() {
			return Record{}, errors.Validation(fmt.Errorf("%w: field %q has no value",
				errors.ErrSchemaMismatch, schema.names[i]))
		}
		cp[i] = v
	}
	return Record{schema: schema, values: cp}, nil
}

// NewID returns a fresh random record identity.
func NewID() string {
	return uuid.NewString()
}

// DeriveID returns the identity of the ordinal-th record emitted while
// processing parent. The same inputs always give the same ID.
func DeriveID(parent string, ordinal int) string {
	return uuid.NewSHA1(derivedNamespace, []byte(parent+"/"+strconv.Itoa(ordinal))).String()
}

// WithIdentity returns a copy of r carrying id and source.
func (r Record) WithIdentity(id, source string) Record {
	r.id = id
	r.source = source
	return r
}

// WithLineage returns a copy of r carrying l.
func (r Record) WithLineage(l Lineage) Record {
	r.lineage = l
	return r
}

// ID returns the record identity.
func (r Record) ID() string { return r.id }

// Source returns the name of the producing stage.
func (r Record) Source() string { return r.source }

// Schema returns the record's field names.
func (r Record) Schema() Schema { return r.schema }

// Lineage returns the delivery lineage.
func (r Record) Lineage() Lineage { return r.lineage }

// Len returns the number of values.
func (r Record) Len() int { return len(r.values) }

// At returns the value at position i. It panics if i is out of range.
func (r Record) At(i int) Value { return r.values[i] }

// Values returns a copy of all values in schema order.
func (r Record) Values() []Value {
	out := make([]Value, len(r.values))
	copy(out, r.values)
	return out
}

// Get returns the value of the named field.
func (r Record) Get(name string) (Value, bool) {
	i, ok := r.schema.Index(name)
	if !ok {
		return Value{}, false
	}
	return r.values[i], true
}

func (r Record) typed(name string, kind Kind) (Value, error) {
	v, ok := r.Get(name)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", errors.ErrUnknownField, name)
	}
	if v.kind != kind {
		return Value{}, fmt.Errorf("%w: field %q is %s, not %s", errors.ErrSchemaMismatch, name, v.kind, kind)
	}
	return v, nil
}

// GetString returns the named string field.
func (r Record) GetString(name string) (string, error) {
	v, err := r.typed(name, KindString)
	return v.s, err
}

// GetInt returns the named integer field.
func (r Record) GetInt(name string) (int64, error) {
	v, err := r.typed(name, KindInt)
	return v.i, err
}

// GetBytes returns a copy of the named byte field.
func (r Record) GetBytes(name string) ([]byte, error) {
	v, err := r.typed(name, KindBytes)
	if err != nil {
		return nil, err
	}
	return v.AsBytes(), nil
}
