package cobs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncode_KnownVectors(t *testing.T) {
	long := bytes.Repeat([]byte{0x01}, 254)

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"empty", []byte{}, []byte{0x01}},
		{"single zero", []byte{0x00}, []byte{0x01, 0x01}},
		{"two zeros", []byte{0x00, 0x00}, []byte{0x01, 0x01, 0x01}},
		{"zero between", []byte{0x11, 0x00, 0x22}, []byte{0x02, 0x11, 0x02, 0x22}},
		{"no zeros", []byte{0x11, 0x22, 0x33, 0x44}, []byte{0x05, 0x11, 0x22, 0x33, 0x44}},
		{"trailing zero", []byte{0x11, 0x00}, []byte{0x02, 0x11, 0x01}},
		{"full block", long, append([]byte{0xFF}, long...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.in)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), MaxEncodedLen(len(tt.in)))
		})
	}
}

func TestDecode_AcceptsTrailingEmptyBlock(t *testing.T) {
	long := bytes.Repeat([]byte{0x07}, 254)
	encoded := append(append([]byte{0xFF}, long...), 0x01)

	got, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, long, got)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte{0x03, 0x11})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode([]byte{0x02, 0x11, 0x00})
	assert.ErrorIs(t, err, ErrZeroByte)

	_, err = Decode([]byte{0x03, 0x00, 0x11})
	assert.ErrorIs(t, err, ErrZeroByte)
}

func TestDecodeInPlace(t *testing.T) {
	buf := Encode([]byte("a\x00bc\x00"))
	n, err := DecodeInPlace(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("a\x00bc\x00"), buf[:n])
}

func TestRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOfN(rapid.Byte(), 0, 1200).Draw(t, "in")

		enc := Encode(in)
		if bytes.IndexByte(enc, 0) >= 0 {
			t.Fatalf("encoded output contains zero byte: %x", enc)
		}
		if len(enc) > MaxEncodedLen(len(in)) {
			t.Fatalf("encoded length %d exceeds bound %d", len(enc), MaxEncodedLen(len(in)))
		}

		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(dec, in) {
			t.Fatalf("round trip mismatch: got %x want %x", dec, in)
		}
	})
}
