package gdata

import (
	"context"
	"fmt"
	"iter"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// GraphValue is a cursor on one entity. It holds the value last read or
// written through it and an optional author used for writes made from it
// and from cursors derived from it. It does not buffer writes.
type GraphValue struct {
	Link  Link
	Value Value

	store  Store
	author *types.AuthorID
}

// String renders "link = value" for logs.
func (g *GraphValue) String() string {
	return fmt.Sprintf("%s = %s", g.Link, g.Value)
}

// Store returns the store the cursor reads and writes through.
func (g *GraphValue) Store() Store { return g.store }

// WithAuthor returns a copy of the cursor that writes as a.
func (g *GraphValue) WithAuthor(a types.AuthorID) *GraphValue {
	c := *g
	c.author = &a
	return &c
}

// Author returns the author writes through this cursor use: its override
// if set, else the store default.
func (g *GraphValue) Author() types.AuthorID {
	if g.author != nil {
		return *g.author
	}
	return g.store.DefaultAuthor()
}

// inherit carries the author override onto a cursor produced by the store.
func (g *GraphValue) inherit(c *GraphValue) *GraphValue {
	c.author = g.author
	return c
}

// IsNull reports whether the cursor points at nothing.
func (g *GraphValue) IsNull() bool { return g.Value.IsNull() }

// IsMap reports whether the cursor is a map root.
func (g *GraphValue) IsMap() bool { return g.Value.IsMap() }

// AsStr returns the String payload.
func (g *GraphValue) AsStr() (string, error) { return g.Value.AsStr() }

// AsBytes returns a copy of the Bytes payload.
func (g *GraphValue) AsBytes() ([]byte, error) { return g.Value.AsBytes() }

func (g *GraphValue) requireMap() error {
	if !g.Value.IsMap() {
		return fmt.Errorf("%w: item is not a map: %v", types.ErrKindMismatch, g.Value)
	}
	return nil
}

// GetKey reads the child seg.
func (g *GraphValue) GetKey(ctx context.Context, seg KeySegment) (*GraphValue, error) {
	if err := g.requireMap(); err != nil {
		return nil, err
	}
	c, err := g.store.Get(ctx, g.Link.Child(seg))
	if err != nil {
		return nil, err
	}
	return g.inherit(c), nil
}

// GetKeyOrInitMap reads the child seg, writing a Map there if it is Null.
func (g *GraphValue) GetKeyOrInitMap(ctx context.Context, seg KeySegment) (*GraphValue, error) {
	if err := g.requireMap(); err != nil {
		return nil, err
	}
	c, err := GetOrInitMapWithAuthor(ctx, g.store, g.Link.Child(seg), g.Author())
	if err != nil {
		return nil, err
	}
	return g.inherit(c), nil
}

// GetIdx reads the idx-th entry at this link through the store.
func (g *GraphValue) GetIdx(ctx context.Context, idx uint64) (*GraphValue, error) {
	if err := g.requireMap(); err != nil {
		return nil, err
	}
	c, err := g.store.GetIdx(ctx, g.Link, idx)
	if err != nil {
		return nil, err
	}
	return g.inherit(c), nil
}

// ListItems yields the direct children of the map.
func (g *GraphValue) ListItems(ctx context.Context) iter.Seq2[*GraphValue, error] {
	return g.list(ctx, false)
}

// ListItemsRecursive yields every descendant of the map.
func (g *GraphValue) ListItemsRecursive(ctx context.Context) iter.Seq2[*GraphValue, error] {
	return g.list(ctx, true)
}

func (g *GraphValue) list(ctx context.Context, recursive bool) iter.Seq2[*GraphValue, error] {
	return func(yield func(*GraphValue, error) bool) {
		if err := g.requireMap(); err != nil {
			yield(nil, err)
			return
		}
		for c, err := range g.store.List(ctx, g.Link, recursive) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(g.inherit(c), nil) {
				return
			}
		}
	}
}

// Set writes v at the cursor's own link.
func (g *GraphValue) Set(ctx context.Context, v Value) error {
	if _, err := g.store.SetWithAuthor(ctx, g.Link, v, g.Author()); err != nil {
		return err
	}
	g.Value = v
	return nil
}

// SetKey writes v at the child seg.
func (g *GraphValue) SetKey(ctx context.Context, seg KeySegment, v Value) (*GraphValue, error) {
	if err := g.requireMap(); err != nil {
		return nil, err
	}
	c, err := g.store.SetWithAuthor(ctx, g.Link.Child(seg), v, g.Author())
	if err != nil {
		return nil, err
	}
	return g.inherit(c), nil
}

// DelKey deletes the child seg.
func (g *GraphValue) DelKey(ctx context.Context, seg KeySegment) error {
	if err := g.requireMap(); err != nil {
		return err
	}
	return g.store.DelWithAuthor(ctx, g.Link.Child(seg), g.Author())
}

// DelAllKeys deletes every descendant, children of a map before the map
// entry itself. The cursor's own entry is kept. It stops at the first error;
// entries already deleted stay deleted.
func (g *GraphValue) DelAllKeys(ctx context.Context) error {
	for c, err := range g.ListItems(ctx) {
		if err != nil {
			return err
		}
		if c.IsMap() {
			if err := c.DelAllKeys(ctx); err != nil {
				return err
			}
		}
		if err := g.store.DelWithAuthor(ctx, c.Link, g.Author()); err != nil {
			return err
		}
	}
	return nil
}

// FollowLink reads the entity a Link value points at.
func (g *GraphValue) FollowLink(ctx context.Context) (*GraphValue, error) {
	target, err := g.Value.AsLink()
	if err != nil {
		return nil, fmt.Errorf("%w: item is not a link: %v", types.ErrKindMismatch, g.Value)
	}
	c, err := g.store.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	return g.inherit(c), nil
}
