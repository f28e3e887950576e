package tuple

import (
	"bytes"
	"fmt"
	"strconv"
)

// Kind is the primitive type of a Value.
type Kind uint8

const (
	// KindString is a UTF-8 string.
	KindString Kind = iota + 1
	// KindInt is a signed 64-bit integer.
	KindInt
	// KindBytes is an opaque byte sequence.
	KindBytes
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k >= KindString && k <= KindBytes
}

// Value is one field of a Record. The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	i    int64
	b    []byte
}

// String creates a string value.
func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// Int creates an integer value.
func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// Bytes creates a byte value. The slice is copied.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, b: cp}
}

// Kind returns the value's type.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v was built by one of the constructors.
func (v Value) IsValid() bool { return v.kind.valid() }

// AsString returns the string payload, or "" for other kinds.
func (v Value) AsString() string { return v.s }

// AsInt returns the integer payload, or 0 for other kinds.
func (v Value) AsInt() int64 { return v.i }

// AsBytes returns a copy of the byte payload, or nil for other kinds.
func (v Value) AsBytes() []byte {
	if v.kind != KindBytes {
		return nil
	}
	cp := make([]byte, len(v.b))
	copy(cp, v.b)
	return cp
}

// Equal reports whether both values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	default:
		return true
	}
}

// String formats the value for logs and file sinks.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBytes:
		return fmt.Sprintf("%x", v.b)
	default:
		return "<invalid>"
	}
}

// AppendKey appends a kind-tagged encoding of v to dst. Distinct values always
// produce distinct encodings, so the result is safe to hash for partitioning.
func (v Value) AppendKey(dst []byte) []byte {
	dst = append(dst, byte(v.kind))
	switch v.kind {
	case KindString:
		dst = strconv.AppendInt(dst, int64(len(v.s)), 10)
		dst = append(dst, ':')
		dst = append(dst, v.s...)
	case KindInt:
		dst = strconv.AppendInt(dst, v.i, 10)
	case KindBytes:
		dst = strconv.AppendInt(dst, int64(len(v.b)), 10)
		dst = append(dst, ':')
		dst = append(dst, v.b...)
	}
	return append(dst, 0)
}
