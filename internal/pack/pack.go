// Package pack is the packing service spec.md treats as a black box:
// pack_init/pack_next/pack_write/unpack_read/pack_size. It serializes the
// typed values a projection plan (internal/project) moves between an
// application argument vector and a set of dependent cursors. Each value is
// encoded individually with github.com/vmihailenco/msgpack/v5 so a
// variable-width int or a raw byte string takes only the space it needs,
// matching the original's variable-width encoding without hand-rolling one.
package pack

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Type is one packing format character, drawn from a tree's key_format or
// value_format string.
type Type byte

const (
	TypeRaw    Type = 'u' // raw byte string
	TypeString Type = 'S' // string, encoded as a msgpack string
	TypeInt    Type = 'q' // signed 64-bit varint
	TypeUint   Type = 'Q' // unsigned 64-bit varint
	TypeRecno  Type = 'r' // record number (column-store; rejected for LSM)
)

// Value is one decoded or to-be-encoded packed item.
type Value struct {
	Type Type
	V    any
}

// Cursor walks a format string one type at a time. This is pack_init plus
// repeated pack_next.
type Cursor struct {
	format string
	pos    int
}

// Init constructs a format cursor over a key_format/value_format string
// (pack_init).
func Init(format string) *Cursor {
	return &Cursor{format: format}
}

// Next returns the next type in the format string (pack_next). Returns
// false once the format is exhausted.
func (c *Cursor) Next() (Type, bool) {
	if c.pos >= len(c.format) {
		return 0, false
	}
	t := Type(c.format[c.pos])
	c.pos++
	return t, true
}

// Reset rewinds the cursor to the start of its format string, for callers
// that need to re-walk it.
func (c *Cursor) Reset() {
	c.pos = 0
}

// Write encodes v and appends it to buf (pack_write).
func Write(buf *bytes.Buffer, v Value) error {
	enc := msgpack.NewEncoder(buf)
	switch v.Type {
	case TypeRaw:
		b, _ := v.V.([]byte)
		return enc.EncodeBytes(b)
	case TypeString:
		s, _ := v.V.(string)
		return enc.EncodeString(s)
	case TypeInt:
		n, _ := v.V.(int64)
		return enc.EncodeInt64(n)
	case TypeUint, TypeRecno:
		n, _ := v.V.(uint64)
		return enc.EncodeUint64(n)
	default:
		return fmt.Errorf("pack: unknown type %q", byte(v.Type))
	}
}

// UnpackRead decodes a single value of the given type from the front of r,
// returning the value and the number of bytes consumed (unpack_read).
func UnpackRead(t Type, r *bytes.Reader) (Value, int, error) {
	start := r.Len()
	dec := msgpack.NewDecoder(r)

	var v Value
	v.Type = t
	var err error
	switch t {
	case TypeRaw:
		v.V, err = dec.DecodeBytes()
	case TypeString:
		v.V, err = dec.DecodeString()
	case TypeInt:
		v.V, err = dec.DecodeInt64()
	case TypeUint, TypeRecno:
		v.V, err = dec.DecodeUint64()
	default:
		err = fmt.Errorf("pack: unknown type %q", byte(t))
	}
	if err != nil {
		return Value{}, 0, err
	}
	return v, start - r.Len(), nil
}

// Size returns the number of bytes Write would emit for v (pack_size).
func Size(v Value) (int, error) {
	var buf bytes.Buffer
	if err := Write(&buf, v); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

// ZeroValue returns the typed zero value used by the projection layer's
// out-of-order SKIP handling: an empty string for string types, 0 for
// numeric types, nil for raw.
func ZeroValue(t Type) Value {
	switch t {
	case TypeString:
		return Value{Type: t, V: ""}
	case TypeInt:
		return Value{Type: t, V: int64(0)}
	case TypeUint, TypeRecno:
		return Value{Type: t, V: uint64(0)}
	default:
		return Value{Type: t, V: []byte(nil)}
	}
}
