package gdata

import (
	"bytes"
	"fmt"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Link addresses an entity: a key inside a namespace.
type Link struct {
	Namespace types.NamespaceID `yaml:"namespace"`
	Key       Key               `yaml:"key"`
}

// NewLink builds a link from a namespace and key segments.
func NewLink(ns types.NamespaceID, segs ...KeySegment) Link {
	return Link{Namespace: ns, Key: Key(segs)}
}

// Child returns the link of the direct child seg of l.
func (l Link) Child(seg KeySegment) Link {
	return Link{Namespace: l.Namespace, Key: l.Key.Append(seg)}
}

// Equal reports whether l and o name the same entity.
func (l Link) Equal(o Link) bool {
	return l.Namespace == o.Namespace && l.Key.Equal(o.Key)
}

// Compare orders links by namespace bytes, then key.
func (l Link) Compare(o Link) int {
	if c := bytes.Compare(l.Namespace[:], o.Namespace[:]); c != 0 {
		return c
	}
	return l.Key.Compare(o.Key)
}

// String renders the short namespace id and key, for logs.
func (l Link) String() string {
	return l.Namespace.Short() + l.Key.String()
}

// Encode returns the 32 namespace bytes followed by the key encoding.
func (l Link) Encode() ([]byte, error) {
	key, err := l.Key.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, types.IDSize+len(key))
	out = append(out, l.Namespace[:]...)
	return append(out, key...), nil
}

// DecodeLink parses the form written by Link.Encode.
func DecodeLink(b []byte) (Link, error) {
	if len(b) < types.IDSize {
		return Link{}, fmt.Errorf("%w: link of %d bytes", types.ErrInvalidFormat, len(b))
	}
	ns, err := types.NamespaceIDFromBytes(b[:types.IDSize])
	if err != nil {
		return Link{}, err
	}
	key, err := DecodeKey(b[types.IDSize:])
	if err != nil {
		return Link{}, err
	}
	return Link{Namespace: ns, Key: key}, nil
}
