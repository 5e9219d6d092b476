package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// IDSize is the byte length of namespace ids, author ids, secrets, and digests.
const IDSize = 32

// base32 text form: RFC 4648 alphabet, lowercase, no padding.
var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

func encodeBase32(b []byte) string {
	return strings.ToLower(b32.EncodeToString(b))
}

func parse32(what, s string) ([IDSize]byte, error) {
	var out [IDSize]byte
	raw, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, what, err)
	}
	if len(raw) != IDSize {
		return out, fmt.Errorf("%w: %s: expected %d bytes, got %d", ErrInvalidFormat, what, IDSize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func from32(what string, b []byte) ([IDSize]byte, error) {
	var out [IDSize]byte
	if len(b) != IDSize {
		return out, fmt.Errorf("%w: %s: expected %d bytes, got %d", ErrInvalidFormat, what, IDSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// NamespaceID identifies a replicated document. It is the ed25519 public
// key derived from the namespace secret.
type NamespaceID [IDSize]byte

// ParseNamespaceID parses the base32 text form of a namespace id.
func ParseNamespaceID(s string) (NamespaceID, error) {
	b, err := parse32("namespace id", s)
	return NamespaceID(b), err
}

// NamespaceIDFromBytes copies a 32 byte slice into a NamespaceID.
func NamespaceIDFromBytes(b []byte) (NamespaceID, error) {
	id, err := from32("namespace id", b)
	return NamespaceID(id), err
}

// String returns the lowercase base32 form.
func (id NamespaceID) String() string { return encodeBase32(id[:]) }

// Short returns the first ten characters of the text form, for logs.
func (id NamespaceID) Short() string { return id.String()[:10] }

// MarshalText implements encoding.TextMarshaler.
func (id NamespaceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NamespaceID) UnmarshalText(text []byte) error {
	parsed, err := ParseNamespaceID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AuthorID identifies a writer. It is the ed25519 public key derived from
// the author secret.
type AuthorID [IDSize]byte

// ParseAuthorID parses the base32 text form of an author id.
func ParseAuthorID(s string) (AuthorID, error) {
	b, err := parse32("author id", s)
	return AuthorID(b), err
}

// AuthorIDFromBytes copies a 32 byte slice into an AuthorID.
func AuthorIDFromBytes(b []byte) (AuthorID, error) {
	id, err := from32("author id", b)
	return AuthorID(id), err
}

// String returns the lowercase base32 form.
func (id AuthorID) String() string { return encodeBase32(id[:]) }

// Short returns the first ten characters of the text form, for logs.
func (id AuthorID) Short() string { return id.String()[:10] }

// MarshalText implements encoding.TextMarshaler.
func (id AuthorID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *AuthorID) UnmarshalText(text []byte) error {
	parsed, err := ParseAuthorID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Digest is the BLAKE3 hash of a blob.
type Digest [IDSize]byte

// DigestOf hashes data.
func DigestOf(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// ParseDigest parses the base32 text form of a digest.
func ParseDigest(s string) (Digest, error) {
	b, err := parse32("digest", s)
	return Digest(b), err
}

// DigestFromBytes copies a 32 byte slice into a Digest.
func DigestFromBytes(b []byte) (Digest, error) {
	d, err := from32("digest", b)
	return Digest(d), err
}

// String returns the base32 form of the hash.
func (d Digest) String() string { return encodeBase32(d[:]) }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NamespaceSecret is the ed25519 seed that grants write access to a namespace.
type NamespaceSecret [IDSize]byte

// NewNamespaceSecret generates a random namespace secret.
func NewNamespaceSecret() (NamespaceSecret, error) {
	var s NamespaceSecret
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("generate namespace secret: %w", err)
	}
	return s, nil
}

// ParseNamespaceSecret parses the base32 text form of a namespace secret.
func ParseNamespaceSecret(s string) (NamespaceSecret, error) {
	b, err := parse32("namespace secret", s)
	return NamespaceSecret(b), err
}

// ID derives the public namespace id.
func (s NamespaceSecret) ID() NamespaceID {
	return NamespaceID(publicKey(s))
}

// String returns the base32 form of the secret. Treat it as a credential.
func (s NamespaceSecret) String() string { return encodeBase32(s[:]) }

// MarshalText implements encoding.TextMarshaler.
func (s NamespaceSecret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *NamespaceSecret) UnmarshalText(text []byte) error {
	parsed, err := ParseNamespaceSecret(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AuthorSecret is the ed25519 seed of an author.
type AuthorSecret [IDSize]byte

// NewAuthorSecret generates a random author secret.
func NewAuthorSecret() (AuthorSecret, error) {
	var s AuthorSecret
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("generate author secret: %w", err)
	}
	return s, nil
}

// ParseAuthorSecret parses the base32 text form of an author secret.
func ParseAuthorSecret(s string) (AuthorSecret, error) {
	b, err := parse32("author secret", s)
	return AuthorSecret(b), err
}

// ID derives the public author id.
func (s AuthorSecret) ID() AuthorID {
	return AuthorID(publicKey(s))
}

// String returns the base32 form of the secret.
func (s AuthorSecret) String() string { return encodeBase32(s[:]) }

// MarshalText implements encoding.TextMarshaler.
func (s AuthorSecret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *AuthorSecret) UnmarshalText(text []byte) error {
	parsed, err := ParseAuthorSecret(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func publicKey(seed [IDSize]byte) [IDSize]byte {
	var out [IDSize]byte
	pub := ed25519.NewKeyFromSeed(seed[:]).Public().(ed25519.PublicKey)
	copy(out[:], pub)
	return out
}
