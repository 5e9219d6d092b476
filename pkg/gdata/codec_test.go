package gdata

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mesh-intelligence/weird/internal/cobs"
	"github.com/mesh-intelligence/weird/pkg/types"
)

// Generators

func genSegment(t *rapid.T) KeySegment {
	switch rapid.IntRange(0, 4).Draw(t, "segKind") {
	case 0:
		return SegBool(rapid.Bool().Draw(t, "bool"))
	case 1:
		return SegUint(rapid.Uint64().Draw(t, "uint"))
	case 2:
		return SegInt(rapid.Int64().Draw(t, "int"))
	case 3:
		return SegStr(rapid.String().Draw(t, "str"))
	default:
		return SegBytes(rapid.SliceOfN(rapid.Byte(), 0, 600).Draw(t, "bytes"))
	}
}

func genKey(t *rapid.T) Key {
	return Key(rapid.SliceOfN(rapid.Custom(genSegment), 0, 6).Draw(t, "key"))
}

func genNamespace(t *rapid.T) types.NamespaceID {
	var ns types.NamespaceID
	copy(ns[:], rapid.SliceOfN(rapid.Byte(), types.IDSize, types.IDSize).Draw(t, "ns"))
	return ns
}

func genLink(t *rapid.T) Link {
	return Link{Namespace: genNamespace(t), Key: genKey(t)}
}

func genValue(t *rapid.T) Value {
	switch rapid.IntRange(0, 8).Draw(t, "valueKind") {
	case 0:
		return Null()
	case 1:
		return Bool(rapid.Bool().Draw(t, "bool"))
	case 2:
		return Uint(rapid.Uint64().Draw(t, "uint"))
	case 3:
		return Int(rapid.Int64().Draw(t, "int"))
	case 4:
		// Raw bits so every NaN payload is covered.
		return Float(math.Float64frombits(rapid.Uint64().Draw(t, "floatBits")))
	case 5:
		return String(rapid.String().Draw(t, "str"))
	case 6:
		return Bytes(rapid.SliceOf(rapid.Byte()).Draw(t, "bytes"))
	case 7:
		return LinkTo(genLink(t))
	default:
		return Map()
	}
}

// checkFraming walks an encoded key, asserting that zeros appear only in
// length prefixes and as the final terminator.
func checkFraming(t require.TestingT, enc []byte, segments int) {
	require.NotEmpty(t, enc)
	require.Equal(t, byte(0), enc[len(enc)-1])
	pos := 0
	for i := 0; i < segments; i++ {
		n := int(binary.LittleEndian.Uint16(enc[pos:]))
		pos += 2
		require.NotContains(t, string(enc[pos:pos+n]), "\x00", "segment %d is not zero-free", i)
		pos += n
	}
	require.Equal(t, len(enc)-1, pos, "terminator follows the last segment")
}

func TestSegmentRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genSegment(t)
		framed, err := EncodeSegment(s)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if bytes.IndexByte(framed, 0) >= 0 {
			t.Fatalf("framed segment contains a zero: %x", framed)
		}
		got, err := DecodeSegment(framed)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != s {
			t.Fatalf("round trip: got %v, want %v", got, s)
		}
	})
}

func TestKeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := genKey(t)
		enc, err := k.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		checkFraming(t, enc, len(k))
		got, err := DecodeKey(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Equal(k) {
			t.Fatalf("round trip: got %v, want %v", got, k)
		}
	})
}

func TestValueRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := genValue(t)
		enc, err := v.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeValue(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Equal(v) {
			t.Fatalf("round trip: got %v, want %v", got, v)
		}
	})
}

func TestLinkRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := genLink(t)
		enc, err := l.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeLink(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Equal(l) {
			t.Fatalf("round trip: got %v, want %v", got, l)
		}
	})
}

// A child's encoding always extends its parent's prefix, and a sibling's
// never does.
func TestKeyPrefixLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		parent := genKey(t)
		seg := genSegment(t)
		child := parent.Append(seg)

		prefix, err := parent.Prefix()
		if err != nil {
			t.Fatalf("prefix: %v", err)
		}
		enc, err := child.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if !bytes.HasPrefix(enc, prefix) {
			t.Fatalf("%v does not extend %v", child, parent)
		}

		other := genSegment(t)
		if len(parent) == 0 || other == parent[len(parent)-1] {
			return
		}
		sibling := parent[:len(parent)-1].Append(other)
		senc, err := sibling.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if bytes.HasPrefix(senc, prefix) {
			t.Fatalf("sibling %v extends %v", sibling, parent)
		}
	})
}

func TestKeyEncoding_Literal(t *testing.T) {
	k := Key{SegStr("profiles"), SegBytes([]byte{0x00, 0x01, 0x02})}
	enc, err := k.Encode()
	require.NoError(t, err)

	first := cobs.Encode(append([]byte{byte(SegmentString)}, "profiles"...))
	assert.Equal(t, uint16(len(first)), binary.LittleEndian.Uint16(enc))
	assert.Equal(t, first, enc[2:2+len(first)])
	checkFraming(t, enc, 2)

	got, err := DecodeKey(enc)
	require.NoError(t, err)
	assert.True(t, got.Equal(k))
}

func TestKeyEncoding_Root(t *testing.T) {
	enc, err := Key{}.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, enc)

	prefix, err := Key{}.Prefix()
	require.NoError(t, err)
	assert.Empty(t, prefix)
}

func TestDecodeKey_Malformed(t *testing.T) {
	valid := NewKey("a").MustEncode()
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"no terminator", valid[:len(valid)-1]},
		{"trailing garbage", append(append([]byte(nil), valid...), 0x01)},
		{"truncated segment", []byte{0x05, 0x00, 0x02, 0x03, 0x00}},
		{"zero length", []byte{0x00, 0x00, 0x00}},
		{"unknown discriminant", append([]byte{0x03, 0x00}, append(cobs.Encode([]byte{9, 1}), 0)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeKey(tt.in)
			assert.ErrorIs(t, err, types.ErrInvalidFormat)
		})
	}
}

func TestEncodeSegment_TooLong(t *testing.T) {
	_, err := EncodeSegment(SegBytes(bytes.Repeat([]byte{1}, MaxSegmentLen)))
	assert.ErrorIs(t, err, ErrSegmentTooLong)

	_, err = Key{SegStr(string(bytes.Repeat([]byte{'x'}, 70000)))}.Encode()
	assert.ErrorIs(t, err, ErrSegmentTooLong)
}

func TestDecodeSegment_LenientBool(t *testing.T) {
	s, err := DecodeSegment(cobs.Encode([]byte{byte(SegmentBool), 7}))
	require.NoError(t, err)
	b, ok := s.AsBool()
	assert.True(t, ok)
	assert.True(t, b)
	assert.Equal(t, SegBool(true), s)
}

func TestDecodeValue_Strict(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"bool out of range", []byte{byte(KindBool), 2}},
		{"bool without payload", []byte{byte(KindBool)}},
		{"short uint", []byte{byte(KindUint), 1, 2}},
		{"null with payload", []byte{byte(KindNull), 0}},
		{"bad utf-8", []byte{byte(KindString), 0xff}},
		{"short link", []byte{byte(KindLink), 1, 2, 3}},
		{"unknown kind", []byte{42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeValue(tt.in)
			assert.ErrorIs(t, err, types.ErrInvalidFormat)
		})
	}
}

func TestValueEncoding_Layout(t *testing.T) {
	enc, err := Uint(0x0102).Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(KindUint), 0x02, 0x01, 0, 0, 0, 0, 0, 0}, enc)

	enc, err = Map().Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(KindMap)}, enc)

	enc, err = String("hi").Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(KindString), 'h', 'i'}, enc)
}

func TestValue_NaNBits(t *testing.T) {
	nan := math.Float64frombits(0x7ff8_0000_dead_beef)
	enc, err := Float(nan).Encode()
	require.NoError(t, err)
	got, err := DecodeValue(enc)
	require.NoError(t, err)
	f, err := got.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7ff8_0000_dead_beef), math.Float64bits(f))
	assert.False(t, Float(math.NaN()).Equal(Float(nan)), "different NaN payloads differ")
}

func TestValue_KindMismatch(t *testing.T) {
	_, err := String("x").AsUint()
	assert.ErrorIs(t, err, types.ErrKindMismatch)
	_, err = Null().AsLink()
	assert.ErrorIs(t, err, types.ErrKindMismatch)
	_, err = Map().AsStr()
	assert.ErrorIs(t, err, types.ErrKindMismatch)
}

func TestSegmentText(t *testing.T) {
	segs := []KeySegment{
		SegBool(false), SegUint(7), SegInt(-3), SegStr("alice:bob"), SegBytes([]byte{0, 0xab}),
	}
	for _, s := range segs {
		got, err := ParseSegment(s.String())
		require.NoError(t, err, s.String())
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "bytes:00ab", SegBytes([]byte{0, 0xab}).String())

	_, err := ParseSegment("nokind")
	assert.ErrorIs(t, err, types.ErrInvalidFormat)
	_, err = ParseSegment("float:1.5")
	assert.ErrorIs(t, err, types.ErrInvalidFormat)
}

func TestKeyOrdering(t *testing.T) {
	a := Key{SegStr("a"), SegInt(-1)}
	b := Key{SegStr("a"), SegInt(2)}
	assert.Negative(t, a.Compare(b))
	assert.Negative(t, Key{SegStr("a")}.Compare(a))
	assert.Negative(t, Key{SegBool(true)}.Compare(Key{SegUint(0)}), "kind orders first")
	assert.True(t, a.HasPrefix(Key{SegStr("a")}))
	assert.False(t, Key{SegStr("a")}.HasPrefix(a))

	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, SegInt(2), last)
	_, ok = Key{}.Last()
	assert.False(t, ok)
}

func TestKeyAppend_DoesNotAlias(t *testing.T) {
	base := make(Key, 1, 4)
	base[0] = SegStr("root")
	x := base.Append(SegUint(1))
	y := base.Append(SegUint(2))
	assert.Equal(t, SegUint(1), x[1])
	assert.Equal(t, SegUint(2), y[1])
}
