package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// CapabilityKind says whether a namespace is held read-only or writable.
type CapabilityKind uint8

const (
	CapabilityRead  CapabilityKind = 1
	CapabilityWrite CapabilityKind = 2
)

// String returns "write" or "read".
func (k CapabilityKind) String() string {
	switch k {
	case CapabilityRead:
		return "read"
	case CapabilityWrite:
		return "write"
	default:
		return fmt.Sprintf("capability(%d)", uint8(k))
	}
}

// Capability grants access to a namespace. A write capability carries the
// namespace secret, a read capability only its id.
type Capability struct {
	Kind   CapabilityKind
	Secret NamespaceSecret
	NS     NamespaceID
}

// WriteCapability returns the write capability for secret.
func WriteCapability(secret NamespaceSecret) Capability {
	return Capability{Kind: CapabilityWrite, Secret: secret, NS: secret.ID()}
}

// ReadCapability returns the read capability for id.
func ReadCapability(id NamespaceID) Capability {
	return Capability{Kind: CapabilityRead, NS: id}
}

// ID returns the namespace the capability refers to.
func (c Capability) ID() NamespaceID { return c.NS }

// CanWrite reports whether the capability permits writes.
func (c Capability) CanWrite() bool { return c.Kind == CapabilityWrite }

// Read downgrades the capability to read access.
func (c Capability) Read() Capability { return ReadCapability(c.NS) }

// Merge returns the stronger of c and other. Both must refer to the same
// namespace.
func (c Capability) Merge(other Capability) (Capability, error) {
	if c.NS != other.NS {
		return c, fmt.Errorf("%w: capabilities refer to different namespaces", ErrInvalidFormat)
	}
	if other.CanWrite() {
		return other, nil
	}
	return c, nil
}

// String renders "write:<secret>" or "read:<namespace id>".
func (c Capability) String() string {
	if c.CanWrite() {
		return "write:" + c.Secret.String()
	}
	return "read:" + c.NS.String()
}

// ParseCapability parses the text form produced by String.
func ParseCapability(s string) (Capability, error) {
	kind, body, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Capability{}, fmt.Errorf("%w: capability %q lacks a kind prefix", ErrInvalidFormat, s)
	}
	switch strings.ToLower(kind) {
	case "write":
		secret, err := ParseNamespaceSecret(body)
		if err != nil {
			return Capability{}, err
		}
		return WriteCapability(secret), nil
	case "read":
		id, err := ParseNamespaceID(body)
		if err != nil {
			return Capability{}, err
		}
		return ReadCapability(id), nil
	default:
		return Capability{}, fmt.Errorf("%w: unknown capability kind %q", ErrInvalidFormat, kind)
	}
}

// MarshalText returns the String form.
func (c Capability) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText parses the String form.
func (c *Capability) UnmarshalText(text []byte) error {
	parsed, err := ParseCapability(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML renders the capability as a single-entry map, {Write: <secret>}
// or {Read: <id>}.
func (c Capability) MarshalYAML() (any, error) {
	if c.CanWrite() {
		return map[string]string{"Write": c.Secret.String()}, nil
	}
	return map[string]string{"Read": c.NS.String()}, nil
}

// UnmarshalYAML accepts either the map written by MarshalYAML or the
// String form as a scalar.
func (c *Capability) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return c.UnmarshalText([]byte(node.Value))
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("%w: capability must have exactly one of Write or Read", ErrInvalidFormat)
	}
	for k, v := range m {
		switch k {
		case "Write":
			secret, err := ParseNamespaceSecret(v)
			if err != nil {
				return err
			}
			*c = WriteCapability(secret)
		case "Read":
			id, err := ParseNamespaceID(v)
			if err != nil {
				return err
			}
			*c = ReadCapability(id)
		default:
			return fmt.Errorf("%w: unknown capability kind %q", ErrInvalidFormat, k)
		}
	}
	return nil
}

// ShareMode selects the capability embedded in a share ticket.
type ShareMode uint8

const (
	ShareRead ShareMode = iota
	ShareWrite
)

// NamespaceInfo describes a namespace held by a store.
type NamespaceInfo struct {
	ID   NamespaceID
	Kind CapabilityKind
}
