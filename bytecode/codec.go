package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"

	"ipe/value"
)

// Version 1 on-disk layout (not normatively fixed by the engine's
// contracts, only required to round-trip and reject unknown tags):
//
//	u8      version
//	string  name
//	u32     len(Triggers)   Triggers bytes
//	u32     len(Requires)   Requires bytes
//	u16     constant count  [tagged constant]...
//	u16     field count     [path]...
//	string  DenyReason
const currentVersion = 1

// tag identifies a constant's Kind on the wire; kept distinct from
// value.Kind so the wire format doesn't silently break if the in-memory
// Kind enumeration is ever reordered.
type tag byte

const (
	tagInt tag = iota
	tagFloat
	tagBool
	tagString
	tagArray
)

// SerializationError reports a malformed byte stream: truncated input or an
// unrecognized version/tag.
type SerializationError struct {
	Message string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("SerializationError: %s", e.Message)
}

type writer struct {
	buf []byte
}

func (w *writer) putU8(b byte)      { w.buf = append(w.buf, b) }
func (w *writer) putBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) putU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.putBytes(b[:])
}

func (w *writer) putU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.putBytes(b[:])
}

func (w *writer) putU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.putBytes(b[:])
}

func (w *writer) putString(s string) {
	w.putU32(uint32(len(s)))
	w.putBytes([]byte(s))
}

func (w *writer) putValue(v value.Value) {
	switch v.Kind() {
	case value.KindInt:
		w.putU8(byte(tagInt))
		w.putU64(uint64(v.AsInt()))
	case value.KindFloat:
		w.putU8(byte(tagFloat))
		w.putU64(math.Float64bits(v.AsFloat()))
	case value.KindBool:
		w.putU8(byte(tagBool))
		if v.AsBool() {
			w.putU8(1)
		} else {
			w.putU8(0)
		}
	case value.KindString:
		w.putU8(byte(tagString))
		w.putString(v.AsString())
	case value.KindArray:
		w.putU8(byte(tagArray))
		items := v.AsArray()
		w.putU32(uint32(len(items)))
		for _, item := range items {
			w.putValue(item)
		}
	}
}

// Encode serializes cp into a version-tagged byte sequence.
func Encode(cp *CompiledPredicate) []byte {
	w := &writer{}
	w.putU8(currentVersion)
	w.putString(cp.Name)

	w.putU32(uint32(len(cp.Triggers)))
	w.putBytes(cp.Triggers)
	w.putU32(uint32(len(cp.Requires)))
	w.putBytes(cp.Requires)

	constants := cp.Constants.Values()
	w.putU16(uint16(len(constants)))
	for _, c := range constants {
		w.putValue(c)
	}

	w.putU16(uint16(cp.Fields.Len()))
	for i := 0; i < cp.Fields.Len(); i++ {
		path, _ := cp.Fields.Path(uint16(i))
		w.putU16(uint16(len(path)))
		for _, seg := range path {
			w.putString(seg)
		}
	}

	w.putString(cp.DenyReason)
	return w.buf
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return &SerializationError{Message: "truncated input"}
	}
	return nil
}

func (r *reader) getU8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) getU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) getU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) getU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) getBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) getString() (string, error) {
	n, err := r.getU32()
	if err != nil {
		return "", err
	}
	b, err := r.getBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) getValue() (value.Value, error) {
	t, err := r.getU8()
	if err != nil {
		return value.Value{}, err
	}
	switch tag(t) {
	case tagInt:
		raw, err := r.getU64()
		if err != nil {
			return value.Value{}, err
		}
		return value.Int(int64(raw)), nil
	case tagFloat:
		raw, err := r.getU64()
		if err != nil {
			return value.Value{}, err
		}
		return value.Float(math.Float64frombits(raw)), nil
	case tagBool:
		raw, err := r.getU8()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(raw != 0), nil
	case tagString:
		s, err := r.getString()
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case tagArray:
		n, err := r.getU32()
		if err != nil {
			return value.Value{}, err
		}
		items := make([]value.Value, n)
		for i := range items {
			items[i], err = r.getValue()
			if err != nil {
				return value.Value{}, err
			}
		}
		return value.Array(items), nil
	default:
		return value.Value{}, &SerializationError{Message: fmt.Sprintf("unknown value tag %d", t)}
	}
}

// Decode deserializes a byte sequence produced by Encode. An unrecognized
// version tag is rejected with SerializationError.
func Decode(buf []byte) (*CompiledPredicate, error) {
	r := &reader{buf: buf}

	version, err := r.getU8()
	if err != nil {
		return nil, err
	}
	if version != currentVersion {
		return nil, &SerializationError{Message: fmt.Sprintf("unknown bytecode version %d", version)}
	}

	name, err := r.getString()
	if err != nil {
		return nil, err
	}

	triggersLen, err := r.getU32()
	if err != nil {
		return nil, err
	}
	triggers, err := r.getBytes(int(triggersLen))
	if err != nil {
		return nil, err
	}

	requiresLen, err := r.getU32()
	if err != nil {
		return nil, err
	}
	requires, err := r.getBytes(int(requiresLen))
	if err != nil {
		return nil, err
	}

	constCount, err := r.getU16()
	if err != nil {
		return nil, err
	}
	constants := &ConstantPool{}
	for i := uint16(0); i < constCount; i++ {
		v, err := r.getValue()
		if err != nil {
			return nil, err
		}
		constants.Index(v)
	}

	fieldCount, err := r.getU16()
	if err != nil {
		return nil, err
	}
	fields := NewFieldMap()
	for i := uint16(0); i < fieldCount; i++ {
		segCount, err := r.getU16()
		if err != nil {
			return nil, err
		}
		segs := make([]string, segCount)
		for j := range segs {
			segs[j], err = r.getString()
			if err != nil {
				return nil, err
			}
		}
		fields.Offset(segs)
	}

	denyReason, err := r.getString()
	if err != nil {
		return nil, err
	}

	return &CompiledPredicate{
		Name:       name,
		Triggers:   append(Instructions(nil), triggers...),
		Requires:   append(Instructions(nil), requires...),
		Constants:  constants,
		Fields:     fields,
		DenyReason: denyReason,
	}, nil
}
