package gdata

import (
	"context"
	"fmt"
	"iter"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Store is the entity API over a document store. Absence is never an error
// for reads: a missing entity reads as Null.
type Store interface {
	// DefaultAuthor is the identity used for writes that name no author.
	DefaultAuthor() types.AuthorID

	// Get reads the latest value at link.
	Get(ctx context.Context, link Link) (*GraphValue, error)

	// GetIdx reads the idx-th latest entry stored under link's exact key.
	GetIdx(ctx context.Context, link Link, idx uint64) (*GraphValue, error)

	// SetWithAuthor writes v at link, replacing the author's previous value.
	SetWithAuthor(ctx context.Context, link Link, v Value, author types.AuthorID) (*GraphValue, error)

	// DelWithAuthor deletes the author's value at link.
	DelWithAuthor(ctx context.Context, link Link, author types.AuthorID) error

	// List enumerates the descendants of link. Without recursive it yields
	// direct children only. The entity at link itself is never yielded.
	List(ctx context.Context, link Link, recursive bool) iter.Seq2[*GraphValue, error]

	// ClearCache drops any cached document handles.
	ClearCache()
}

// Set writes v at link as the store's default author.
func Set(ctx context.Context, s Store, link Link, v Value) (*GraphValue, error) {
	return s.SetWithAuthor(ctx, link, v, s.DefaultAuthor())
}

// Del deletes the default author's value at link.
func Del(ctx context.Context, s Store, link Link) error {
	return s.DelWithAuthor(ctx, link, s.DefaultAuthor())
}

// GetOrInitMap reads link and writes a Map marker there if it is Null.
func GetOrInitMap(ctx context.Context, s Store, link Link) (*GraphValue, error) {
	return GetOrInitMapWithAuthor(ctx, s, link, s.DefaultAuthor())
}

// GetOrInitMapWithAuthor is GetOrInitMap writing as author. It fails with
// ErrKindMismatch when link holds anything other than Null or Map.
func GetOrInitMapWithAuthor(ctx context.Context, s Store, link Link, author types.AuthorID) (*GraphValue, error) {
	gv, err := s.Get(ctx, link)
	if err != nil {
		return nil, err
	}
	switch gv.Value.Kind() {
	case KindMap:
		return gv, nil
	case KindNull:
		return s.SetWithAuthor(ctx, link, Map(), author)
	default:
		return nil, fmt.Errorf("%w: value is not null or a map, not initializing map: %v", types.ErrKindMismatch, gv.Value)
	}
}
