package tuple

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/semtopo/errors"
)

type wireValue struct {
	Kind  Kind   `msgpack:"k"`
	Str   string `msgpack:"s,omitempty"`
	Int   int64  `msgpack:"i,omitempty"`
	Bytes []byte `msgpack:"b,omitempty"`
}

type wireRecord struct {
	ID     string      `msgpack:"id"`
	Source string      `msgpack:"src"`
	Fields []string    `msgpack:"f"`
	Values []wireValue `msgpack:"v"`
	Unit   uint64      `msgpack:"u,omitempty"`
	Edge   uint64      `msgpack:"e,omitempty"`
}

// Marshal encodes a record for transport between workers.
func Marshal(r Record) ([]byte, error) {
	w := wireRecord{
		ID:     r.id,
		Source: r.source,
		Fields: r.schema.names,
		Values: make([]wireValue, len(r.values)),
		Unit:   r.lineage.Unit,
		Edge:   r.lineage.Edge,
	}
	for i, v := range r.values {
		w.Values[i] = wireValue{Kind: v.kind, Str: v.s, Int: v.i, Bytes: v.b}
	}
	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, errors.WrapFatal(err, "tuple", "Marshal", "encode record")
	}
	return data, nil
}

// Unmarshal decodes a record produced by Marshal. The result shares no
// memory with data.
func Unmarshal(data []byte) (Record, error) {
	var w wireRecord
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Record{}, errors.WrapInvalid(err, "tuple", "Unmarshal", "decode record")
	}
	schema, err := NewSchema(w.Fields...)
	if err != nil {
		return Record{}, errors.WrapInvalid(err, "tuple", "Unmarshal", "decode schema")
	}
	values := make([]Value, len(w.Values))
	for i, wv := range w.Values {
		switch wv.Kind {
		case KindString:
			values[i] = String(wv.Str)
		case KindInt:
			values[i] = Int(wv.Int)
		case KindBytes:
			values[i] = Bytes(wv.Bytes)
		default:
			return Record{}, errors.WrapInvalid(
				fmt.Errorf("%w: value %d has kind %d", errors.ErrInvalidData, i, wv.Kind),
				"tuple", "Unmarshal", "decode value")
		}
	}
	rec, err := New(schema, values...)
	if err != nil {
		return Record{}, errors.WrapInvalid(err, "tuple", "Unmarshal", "build record")
	}
	return rec.WithIdentity(w.ID, w.Source).WithLineage(Lineage{Unit: w.Unit, Edge: w.Edge}), nil
}
