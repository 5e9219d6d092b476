// Package node implements types.DocStore on top of a small persistence
// Engine. The SQLite and Badger packages provide engines.
package node

import (
	"context"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Engine is the persistence a Store needs. Engines must be safe for
// concurrent use. Lists are returned fully materialized so callers may write
// while walking them.
type Engine interface {
	Setting(ctx context.Context, name string) (value []byte, ok bool, err error)
	PutSetting(ctx context.Context, name string, value []byte) error

	PutAuthor(ctx context.Context, secret types.AuthorSecret) error
	Author(ctx context.Context, id types.AuthorID) (secret types.AuthorSecret, ok bool, err error)
	AuthorIDs(ctx context.Context) ([]types.AuthorID, error)

	PutNamespace(ctx context.Context, c types.Capability) error
	Namespace(ctx context.Context, ns types.NamespaceID) (c types.Capability, ok bool, err error)
	NamespaceList(ctx context.Context) ([]types.Capability, error)
	// DeleteNamespace removes the namespace and every entry in it.
	DeleteNamespace(ctx context.Context, ns types.NamespaceID) error

	// Entries returns the entries of ns matching kind and key, tombstones
	// included, ordered by key then author.
	Entries(ctx context.Context, ns types.NamespaceID, kind types.QueryKind, key []byte) ([]types.Entry, error)
	Entry(ctx context.Context, ns types.NamespaceID, key []byte, author types.AuthorID) (e types.Entry, ok bool, err error)
	// PutEntry stores e, replacing any entry with the same key and author.
	PutEntry(ctx context.Context, ns types.NamespaceID, e types.Entry) error

	// PutBlob stores already-compressed blob data.
	PutBlob(ctx context.Context, d types.Digest, data []byte) error
	Blob(ctx context.Context, d types.Digest) (data []byte, ok bool, err error)
	HasBlob(ctx context.Context, d types.Digest) (bool, error)

	PutPin(ctx context.Context, path []byte, d types.Digest) error
	DeletePin(ctx context.Context, path []byte) error
	PinList(ctx context.Context) ([]types.Pin, error)

	Close() error
}
