package gdata

import (
	"cmp"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mesh-intelligence/weird/internal/cobs"
	"github.com/mesh-intelligence/weird/pkg/types"
)

// MaxSegmentLen is the largest COBS-framed segment a key can carry; the
// per-segment length prefix is a u16.
const MaxSegmentLen = 0xFFFF

// ErrSegmentTooLong is returned when a key segment does not fit in its u16
// length prefix after framing.
var ErrSegmentTooLong = errors.New("key segment too long")

// SegmentKind is the discriminant of a KeySegment. The numeric values are
// part of the on-disk format.
type SegmentKind uint8

const (
	SegmentBool   SegmentKind = 0
	SegmentUint   SegmentKind = 1
	SegmentInt    SegmentKind = 2
	SegmentString SegmentKind = 3
	SegmentBytes  SegmentKind = 4
)

var segmentKindNames = [...]string{"bool", "uint", "int", "str", "bytes"}

// String returns the kind name used in the text form.
func (k SegmentKind) String() string {
	if int(k) < len(segmentKindNames) {
		return segmentKindNames[k]
	}
	return "segment(" + strconv.Itoa(int(k)) + ")"
}

// KeySegment is one component of a Key. It is a comparable value and can be
// used as a map key.
type KeySegment struct {
	kind SegmentKind
	num  uint64
	str  string
}

// SegBool returns a Bool segment.
func SegBool(b bool) KeySegment {
	var n uint64
	if b {
		n = 1
	}
	return KeySegment{kind: SegmentBool, num: n}
}

// SegUint returns a Uint segment.
func SegUint(u uint64) KeySegment { return KeySegment{kind: SegmentUint, num: u} }

// SegInt returns an Int segment.
func SegInt(i int64) KeySegment { return KeySegment{kind: SegmentInt, num: uint64(i)} }

// SegStr returns a String segment.
func SegStr(s string) KeySegment { return KeySegment{kind: SegmentString, str: s} }

// SegBytes returns a Bytes segment holding a copy of b.
func SegBytes(b []byte) KeySegment { return KeySegment{kind: SegmentBytes, str: string(b)} }

// Kind returns the segment kind.
func (s KeySegment) Kind() SegmentKind { return s.kind }

// AsBool returns the payload; ok is false for other kinds.
func (s KeySegment) AsBool() (bool, bool) { return s.num != 0, s.kind == SegmentBool }

// AsUint returns the payload; ok is false for other kinds.
func (s KeySegment) AsUint() (uint64, bool) { return s.num, s.kind == SegmentUint }

// AsInt returns the payload; ok is false for other kinds.
func (s KeySegment) AsInt() (int64, bool) { return int64(s.num), s.kind == SegmentInt }

// AsStr returns the string payload of a String segment.
func (s KeySegment) AsStr() (string, bool) {
	if s.kind != SegmentString {
		return "", false
	}
	return s.str, true
}

// AsBytes returns a copy of the payload of a Bytes segment.
func (s KeySegment) AsBytes() ([]byte, bool) {
	if s.kind != SegmentBytes {
		return nil, false
	}
	return []byte(s.str), true
}

// Compare orders segments by kind, then by payload.
func (s KeySegment) Compare(o KeySegment) int {
	if c := cmp.Compare(s.kind, o.kind); c != 0 {
		return c
	}
	switch s.kind {
	case SegmentInt:
		return cmp.Compare(int64(s.num), int64(o.num))
	case SegmentString, SegmentBytes:
		return strings.Compare(s.str, o.str)
	default:
		return cmp.Compare(s.num, o.num)
	}
}

// raw returns the unframed discriminant and payload.
func (s KeySegment) raw() []byte {
	switch s.kind {
	case SegmentBool:
		return []byte{byte(s.kind), byte(s.num)}
	case SegmentUint, SegmentInt:
		b := make([]byte, 9)
		b[0] = byte(s.kind)
		binary.LittleEndian.PutUint64(b[1:], s.num)
		return b
	default:
		b := make([]byte, 1+len(s.str))
		b[0] = byte(s.kind)
		copy(b[1:], s.str)
		return b
	}
}

// EncodeSegment returns the COBS-framed form of s, without its length prefix.
func EncodeSegment(s KeySegment) ([]byte, error) {
	framed := cobs.Encode(s.raw())
	if len(framed) > MaxSegmentLen {
		return nil, fmt.Errorf("%w: %s segment frames to %d bytes", ErrSegmentTooLong, s.kind, len(framed))
	}
	return framed, nil
}

// DecodeSegment parses a COBS-framed segment.
func DecodeSegment(framed []byte) (KeySegment, error) {
	buf := append([]byte(nil), framed...)
	n, err := cobs.DecodeInPlace(buf)
	if err != nil {
		return KeySegment{}, fmt.Errorf("%w: segment: %v", types.ErrInvalidFormat, err)
	}
	return segmentFromRaw(buf[:n])
}

func segmentFromRaw(b []byte) (KeySegment, error) {
	if len(b) == 0 {
		return KeySegment{}, fmt.Errorf("%w: empty segment", types.ErrInvalidFormat)
	}
	payload := b[1:]
	switch SegmentKind(b[0]) {
	case SegmentBool:
		if len(payload) != 1 {
			return KeySegment{}, fmt.Errorf("%w: bool segment of %d bytes", types.ErrInvalidFormat, len(payload))
		}
		return SegBool(payload[0] != 0), nil
	case SegmentUint:
		if len(payload) != 8 {
			return KeySegment{}, fmt.Errorf("%w: uint segment of %d bytes", types.ErrInvalidFormat, len(payload))
		}
		return SegUint(binary.LittleEndian.Uint64(payload)), nil
	case SegmentInt:
		if len(payload) != 8 {
			return KeySegment{}, fmt.Errorf("%w: int segment of %d bytes", types.ErrInvalidFormat, len(payload))
		}
		return SegInt(int64(binary.LittleEndian.Uint64(payload))), nil
	case SegmentString:
		if !utf8.Valid(payload) {
			return KeySegment{}, fmt.Errorf("%w: string segment is not utf-8", types.ErrInvalidFormat)
		}
		return SegStr(string(payload)), nil
	case SegmentBytes:
		return SegBytes(payload), nil
	default:
		return KeySegment{}, fmt.Errorf("%w: unknown segment discriminant %d", types.ErrInvalidFormat, b[0])
	}
}

// String renders the text form: bool:true, uint:7, int:-3, str:alice,
// bytes:<hex>.
func (s KeySegment) String() string {
	switch s.kind {
	case SegmentBool:
		return "bool:" + strconv.FormatBool(s.num != 0)
	case SegmentUint:
		return "uint:" + strconv.FormatUint(s.num, 10)
	case SegmentInt:
		return "int:" + strconv.FormatInt(int64(s.num), 10)
	case SegmentString:
		return "str:" + s.str
	case SegmentBytes:
		return "bytes:" + hex.EncodeToString([]byte(s.str))
	default:
		return s.kind.String()
	}
}

// ParseSegment parses the text form produced by String.
func ParseSegment(text string) (KeySegment, error) {
	kind, body, ok := strings.Cut(text, ":")
	if !ok {
		return KeySegment{}, fmt.Errorf("%w: segment %q lacks a kind prefix", types.ErrInvalidFormat, text)
	}
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(body)
		if err != nil {
			return KeySegment{}, fmt.Errorf("%w: %v", types.ErrInvalidFormat, err)
		}
		return SegBool(b), nil
	case "uint":
		u, err := strconv.ParseUint(body, 10, 64)
		if err != nil {
			return KeySegment{}, fmt.Errorf("%w: %v", types.ErrInvalidFormat, err)
		}
		return SegUint(u), nil
	case "int":
		i, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return KeySegment{}, fmt.Errorf("%w: %v", types.ErrInvalidFormat, err)
		}
		return SegInt(i), nil
	case "str":
		return SegStr(body), nil
	case "bytes":
		b, err := hex.DecodeString(body)
		if err != nil {
			return KeySegment{}, fmt.Errorf("%w: %v", types.ErrInvalidFormat, err)
		}
		return SegBytes(b), nil
	default:
		return KeySegment{}, fmt.Errorf("%w: unknown segment kind %q", types.ErrInvalidFormat, kind)
	}
}

// MarshalText returns the kind:payload form read by ParseSegment.
func (s KeySegment) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses with ParseSegment.
func (s *KeySegment) UnmarshalText(text []byte) error {
	parsed, err := ParseSegment(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Key is a path of segments inside a namespace. The empty key is the root.
type Key []KeySegment

// NewKey builds a key of String segments.
func NewKey(parts ...string) Key {
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = SegStr(p)
	}
	return k
}

// Append returns a new key extending k by segs. k is not modified.
func (k Key) Append(segs ...KeySegment) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Last returns the final segment; ok is false for the root key.
func (k Key) Last() (seg KeySegment, ok bool) {
	if len(k) == 0 {
		return KeySegment{}, false
	}
	return k[len(k)-1], true
}

// HasPrefix reports whether k starts with every segment of p.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

// Equal reports whether k and o have the same segments.
func (k Key) Equal(o Key) bool {
	return len(k) == len(o) && k.HasPrefix(o)
}

// Compare orders keys segment by segment; a proper prefix sorts first.
func (k Key) Compare(o Key) int {
	for i := 0; i < len(k) && i < len(o); i++ {
		if c := k[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(k), len(o))
}

// String renders the segments in brackets, for logs.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, s := range k {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Encode returns the wire form of k: a u16-LE length and the framed bytes
// for each segment, then a single 0x00 terminator.
func (k Key) Encode() ([]byte, error) {
	prefix, err := k.Prefix()
	if err != nil {
		return nil, err
	}
	return append(prefix, 0), nil
}

// Prefix returns the encoding of k without its terminator. Every descendant
// of k, and nothing else, has an encoding starting with these bytes.
func (k Key) Prefix() ([]byte, error) {
	var buf []byte
	for _, s := range k {
		framed, err := EncodeSegment(s)
		if err != nil {
			return nil, err
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(framed)))
		buf = append(buf, framed...)
	}
	if buf == nil {
		buf = []byte{}
	}
	return buf, nil
}

// DecodeKey parses a key. The terminator is found by walking the segment
// lengths, since length prefixes may themselves contain zero bytes.
func DecodeKey(b []byte) (Key, error) {
	key := Key{}
	pos := 0
	for {
		switch {
		case pos >= len(b):
			return nil, fmt.Errorf("%w: key is missing its terminator", types.ErrInvalidFormat)
		case pos == len(b)-1:
			if b[pos] != 0 {
				return nil, fmt.Errorf("%w: key is missing its terminator", types.ErrInvalidFormat)
			}
			return key, nil
		}
		n := int(binary.LittleEndian.Uint16(b[pos:]))
		pos += 2
		if n == 0 {
			return nil, fmt.Errorf("%w: zero length key segment", types.ErrInvalidFormat)
		}
		if pos+n > len(b) {
			return nil, fmt.Errorf("%w: truncated key segment", types.ErrInvalidFormat)
		}
		seg, err := DecodeSegment(b[pos : pos+n])
		if err != nil {
			return nil, err
		}
		key = append(key, seg)
		pos += n
	}
}

// MustEncode is Encode for keys known to fit, such as fixed schema keys.
func (k Key) MustEncode() []byte {
	b, err := k.Encode()
	if err != nil {
		panic(err)
	}
	return b
}
