// Package cobs implements consistent overhead byte stuffing.
//
// Encoded output never contains a 0x00 byte, which lets callers reserve 0x00
// as a frame delimiter. The encoder emits the minimal form (no trailing
// 0x01 block after a full 254 byte run); the decoder accepts both forms.
package cobs

import "errors"

// Decoding errors.
var (
	ErrZeroByte  = errors.New("cobs: unexpected zero byte in encoded data")
	ErrTruncated = errors.New("cobs: encoded block runs past end of input")
)

// MaxEncodedLen returns the largest possible encoded size of n input bytes.
func MaxEncodedLen(n int) int {
	return n + (n+253)/254 + boolInt(n == 0)
}

// Encode returns the COBS encoding of src.
func Encode(src []byte) []byte {
	dst := make([]byte, MaxEncodedLen(len(src)))
	return dst[:EncodeTo(dst, src)]
}

// EncodeTo writes the encoding of src into dst and returns the number of bytes
// written. dst must hold at least MaxEncodedLen(len(src)) bytes.
func EncodeTo(dst, src []byte) int {
	codeIdx := 0
	out := 1
	code := byte(1)
	for i, b := range src {
		if b != 0 {
			dst[out] = b
			out++
			code++
		}
		if b == 0 || code == 0xFF {
			dst[codeIdx] = code
			code = 1
			codeIdx = out
			if b == 0 || i < len(src)-1 {
				out++
			}
		}
	}
	if codeIdx < out {
		dst[codeIdx] = code
	}
	return out
}

// Decode returns the decoded form of src.
func Decode(src []byte) ([]byte, error) {
	dst := make([]byte, len(src))
	n, err := decode(dst, src)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// DecodeInPlace decodes buf over itself and returns the decoded length.
func DecodeInPlace(buf []byte) (int, error) {
	return decode(buf, buf)
}

// decode never writes ahead of the read position, so dst may alias src.
func decode(dst, src []byte) (int, error) {
	n, i := 0, 0
	for i < len(src) {
		code := src[i]
		if code == 0 {
			return 0, ErrZeroByte
		}
		i++
		run := int(code) - 1
		if i+run > len(src) {
			return 0, ErrTruncated
		}
		for _, b := range src[i : i+run] {
			if b == 0 {
				return 0, ErrZeroByte
			}
		}
		n += copy(dst[n:], src[i:i+run])
		i += run
		if code != 0xFF && i < len(src) {
			dst[n] = 0
			n++
		}
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
