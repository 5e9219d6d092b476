package types

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// Entry is one authored record in a document. An entry with Len zero is a
// tombstone left by a delete.
type Entry struct {
	Key       []byte
	Author    AuthorID
	Hash      Digest
	Len       uint64
	Timestamp uint64
}

// IsEmpty reports whether the entry is a tombstone.
func (e Entry) IsEmpty() bool { return e.Len == 0 }

// QueryKind selects which keys a Query matches.
type QueryKind uint8

const (
	QueryKindAll QueryKind = iota
	QueryKindKeyExact
	QueryKindKeyPrefix
)

// Query filters the entries of a document. Results come back ordered by key,
// then author.
type Query struct {
	Kind QueryKind
	Key  []byte

	// LatestPerKey keeps only the newest entry for each key across all
	// authors. Ties on timestamp go to the greater author id.
	LatestPerKey bool

	// IncludeEmpty keeps tombstones in the result.
	IncludeEmpty bool

	Offset uint64
	// Limit of zero means unlimited.
	Limit uint64
}

// QueryAll matches every entry.
func QueryAll() Query { return Query{Kind: QueryKindAll} }

// QueryKeyExact matches entries whose key equals key.
func QueryKeyExact(key []byte) Query {
	return Query{Kind: QueryKindKeyExact, Key: key}
}

// QueryKeyPrefix matches entries whose key starts with prefix.
func QueryKeyPrefix(prefix []byte) Query {
	return Query{Kind: QueryKindKeyPrefix, Key: prefix}
}

// SingleLatestPerKey keeps only the newest entry of each key, across
// authors.
func (q Query) SingleLatestPerKey() Query {
	q.LatestPerKey = true
	return q
}

// WithOffset skips the first n results.
func (q Query) WithOffset(n uint64) Query {
	q.Offset = n
	return q
}

// WithLimit caps the results at n. Zero means no limit.
func (q Query) WithLimit(n uint64) Query {
	q.Limit = n
	return q
}

// WithEmpty keeps tombstones in the results.
func (q Query) WithEmpty() Query {
	q.IncludeEmpty = true
	return q
}

// Doc is an open handle on one namespace.
type Doc interface {
	ID() NamespaceID
	Capability() Capability

	// GetOne returns the first entry matching q, or nil when none does.
	GetOne(ctx context.Context, q Query) (*Entry, error)
	GetMany(ctx context.Context, q Query) iter.Seq2[Entry, error]
	ContentBytes(ctx context.Context, e Entry) ([]byte, error)

	// SetBytes stores value under key for author. It fails with ErrReadOnly
	// unless the doc is held with a write capability.
	SetBytes(ctx context.Context, author AuthorID, key, value []byte) (Digest, error)

	// Del removes the author's entry at key and records a tombstone. It
	// returns the number of entries removed.
	Del(ctx context.Context, author AuthorID, key []byte) (uint64, error)

	// Insert applies an entry received from elsewhere. The entry keeps its
	// author and timestamp; an older entry never replaces a newer one.
	Insert(ctx context.Context, e Entry, content []byte) error

	// Share returns a ticket for the doc. ShareWrite requires a write
	// capability.
	Share(ctx context.Context, mode ShareMode) (Ticket, error)
}

// Authors manages the signing identities held by a store.
type Authors interface {
	// Default returns the store's default author, creating it on first use.
	Default(ctx context.Context) (AuthorID, error)
	Create(ctx context.Context) (AuthorID, error)
	List(ctx context.Context) iter.Seq2[AuthorID, error]
	Import(ctx context.Context, secret AuthorSecret) (AuthorID, error)
	// Export returns the secret of id; ok is false when the author is unknown.
	Export(ctx context.Context, id AuthorID) (secret AuthorSecret, ok bool, err error)
}

// Pin keeps a blob alive under an arbitrary byte path.
type Pin struct {
	Path []byte
	Hash Digest
}

// Blobs is a content-addressed byte store.
type Blobs interface {
	AddBytes(ctx context.Context, data []byte) (Digest, error)
	// ReadToBytes fails with ErrNotFound when the digest is unknown.
	ReadToBytes(ctx context.Context, d Digest) ([]byte, error)
	Pin(ctx context.Context, path []byte, d Digest) error
	Unpin(ctx context.Context, path []byte) error
	Pins(ctx context.Context) iter.Seq2[Pin, error]
}

// DocStore is a local node holding namespaces, authors, and blobs.
type DocStore interface {
	NodeID() uuid.UUID

	// Open returns the doc for ns, or ErrDocNotFound.
	Open(ctx context.Context, ns NamespaceID) (Doc, error)

	// Create makes a fresh namespace held with write capability.
	Create(ctx context.Context) (Doc, error)

	// ImportNamespace adds or upgrades a namespace. A write capability is
	// never downgraded by importing the read capability.
	ImportNamespace(ctx context.Context, c Capability) (Doc, error)

	// Drop removes a namespace and all of its entries.
	Drop(ctx context.Context, ns NamespaceID) error

	Namespaces(ctx context.Context) iter.Seq2[NamespaceInfo, error]

	// Capability returns the capability held for ns.
	Capability(ctx context.Context, ns NamespaceID) (Capability, error)

	Authors() Authors
	Blobs() Blobs

	Close() error
}
