package gdata

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// ValueKind is the discriminant of a Value. The numeric values are part of
// the on-disk format.
type ValueKind uint8

const (
	KindNull   ValueKind = 0
	KindBool   ValueKind = 1
	KindUint   ValueKind = 2
	KindInt    ValueKind = 3
	KindFloat  ValueKind = 4
	KindString ValueKind = 5
	KindBytes  ValueKind = 6
	KindLink   ValueKind = 7
	KindMap    ValueKind = 8
)

var valueKindNames = [...]string{"Null", "Bool", "Uint", "Int", "Float", "String", "Bytes", "Link", "Map"}

// String returns the kind name used in the YAML form.
func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "Value(" + strconv.Itoa(int(k)) + ")"
}

// Value is the payload of an entity. The zero Value is Null.
type Value struct {
	kind ValueKind
	num  uint64
	str  string
	link *Link
}

// Null returns the absent value.
func Null() Value { return Value{} }

// Map is the marker declaring an entity to be the root of a sub-tree.
func Map() Value { return Value{kind: KindMap} }

// Bool returns a Bool value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Uint returns a Uint value.
func Uint(u uint64) Value { return Value{kind: KindUint, num: u} }

// Int returns an Int value.
func Int(i int64) Value { return Value{kind: KindInt, num: uint64(i)} }

// Float returns a Float value. NaN payloads are kept bit for bit.
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }

// String returns a String value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bytes returns a Bytes value holding a copy of b.
func Bytes(b []byte) Value { return Value{kind: KindBytes, str: string(b)} }

// LinkTo returns a value pointing at l. The key is copied.
func LinkTo(l Link) Value {
	l.Key = l.Key.Append()
	return Value{kind: KindLink, link: &l}
}

// Kind returns the value kind.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsMap reports whether v is the Map marker.
func (v Value) IsMap() bool { return v.kind == KindMap }

func (v Value) mismatch(want ValueKind) error {
	return fmt.Errorf("%w: want %s, have %s", types.ErrKindMismatch, want, v.kind)
}

// AsBool returns the payload of a Bool value. Other kinds are
// types.ErrKindMismatch, as for the other accessors.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.num != 0, nil
}

// AsUint returns the payload of a Uint value.
func (v Value) AsUint() (uint64, error) {
	if v.kind != KindUint {
		return 0, v.mismatch(KindUint)
	}
	return v.num, nil
}

// AsInt returns the payload of an Int value.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return int64(v.num), nil
}

// AsFloat returns the payload of a Float value.
func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, v.mismatch(KindFloat)
	}
	return math.Float64frombits(v.num), nil
}

// AsStr returns the payload of a String value.
func (v Value) AsStr() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.str, nil
}

// AsBytes returns a copy of the payload of a Bytes value.
func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, v.mismatch(KindBytes)
	}
	return []byte(v.str), nil
}

// AsLink returns the target of a Link value.
func (v Value) AsLink() (Link, error) {
	if v.kind != KindLink {
		return Link{}, v.mismatch(KindLink)
	}
	return *v.link, nil
}

// Equal compares kind and payload. Floats compare by bit pattern, so a NaN
// equals the same NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.num != o.num || v.str != o.str {
		return false
	}
	if v.kind == KindLink {
		return v.link.Equal(*o.link)
	}
	return true
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNull, KindMap:
		return v.kind.String()
	case KindBool:
		return "Bool(" + strconv.FormatBool(v.num != 0) + ")"
	case KindUint:
		return "Uint(" + strconv.FormatUint(v.num, 10) + ")"
	case KindInt:
		return "Int(" + strconv.FormatInt(int64(v.num), 10) + ")"
	case KindFloat:
		return "Float(" + strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64) + ")"
	case KindString:
		return "String(" + strconv.Quote(v.str) + ")"
	case KindBytes:
		return fmt.Sprintf("Bytes(%x)", v.str)
	case KindLink:
		return "Link(" + v.link.String() + ")"
	default:
		return v.kind.String()
	}
}

// Encode returns the discriminant byte followed by the payload.
func (v Value) Encode() ([]byte, error) {
	switch v.kind {
	case KindNull, KindMap:
		return []byte{byte(v.kind)}, nil
	case KindBool:
		return []byte{byte(v.kind), byte(v.num)}, nil
	case KindUint, KindInt, KindFloat:
		b := make([]byte, 9)
		b[0] = byte(v.kind)
		binary.LittleEndian.PutUint64(b[1:], v.num)
		return b, nil
	case KindString, KindBytes:
		b := make([]byte, 1+len(v.str))
		b[0] = byte(v.kind)
		copy(b[1:], v.str)
		return b, nil
	case KindLink:
		l, err := v.link.Encode()
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(v.kind)}, l...), nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind %d", types.ErrInvalidFormat, v.kind)
	}
}

// DecodeValue parses the form written by Value.Encode.
func DecodeValue(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, fmt.Errorf("%w: empty value", types.ErrInvalidFormat)
	}
	kind, payload := ValueKind(b[0]), b[1:]
	switch kind {
	case KindNull, KindMap:
		if len(payload) != 0 {
			return Value{}, fmt.Errorf("%w: %s value with payload", types.ErrInvalidFormat, kind)
		}
		return Value{kind: kind}, nil
	case KindBool:
		if len(payload) != 1 || payload[0] > 1 {
			return Value{}, fmt.Errorf("%w: malformed bool value", types.ErrInvalidFormat)
		}
		return Bool(payload[0] == 1), nil
	case KindUint, KindInt, KindFloat:
		if len(payload) != 8 {
			return Value{}, fmt.Errorf("%w: %s value of %d bytes", types.ErrInvalidFormat, kind, len(payload))
		}
		return Value{kind: kind, num: binary.LittleEndian.Uint64(payload)}, nil
	case KindString:
		if !utf8.Valid(payload) {
			return Value{}, fmt.Errorf("%w: string value is not utf-8", types.ErrInvalidFormat)
		}
		return String(string(payload)), nil
	case KindBytes:
		return Bytes(payload), nil
	case KindLink:
		l, err := DecodeLink(payload)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindLink, link: &l}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value discriminant %d", types.ErrInvalidFormat, b[0])
	}
}
