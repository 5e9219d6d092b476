package gdata

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// DocGraph implements Store over a types.DocStore. Keys and values are
// stored in their wire encodings.
type DocGraph struct {
	docs   types.DocStore
	author types.AuthorID
	cache  *docCache
	logger *slog.Logger
}

// Option configures a DocGraph.
type Option func(*graphOptions)

type graphOptions struct {
	cacheSize int
	logger    *slog.Logger
}

// WithCacheSize sets how many document handles are kept open.
func WithCacheSize(n int) Option {
	return func(o *graphOptions) { o.cacheSize = n }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *graphOptions) { o.logger = l }
}

// NewDocGraph returns a graph store writing as author unless told otherwise.
func NewDocGraph(docs types.DocStore, author types.AuthorID, opts ...Option) (*DocGraph, error) {
	o := graphOptions{cacheSize: DefaultDocCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	cache, err := newDocCache(docs, o.cacheSize)
	if err != nil {
		return nil, err
	}
	return &DocGraph{docs: docs, author: author, cache: cache, logger: o.logger}, nil
}

// DefaultAuthor is the author used by writes that do not name one.
func (g *DocGraph) DefaultAuthor() types.AuthorID { return g.author }

// ClearCache drops every cached document handle. Call it after namespaces
// are imported or dropped.
func (g *DocGraph) ClearCache() {
	g.cache.clear()
	g.logger.Debug("cleared doc cache")
}

func (g *DocGraph) open(ctx context.Context, ns types.NamespaceID) (types.Doc, error) {
	doc, err := g.cache.open(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("open doc %s: %w", ns.Short(), err)
	}
	return doc, nil
}

func (g *DocGraph) cursor(link Link, v Value) *GraphValue {
	return &GraphValue{Link: link, Value: v, store: g}
}

// Get reads the latest value at link. An absent or deleted key reads as
// Null.
func (g *DocGraph) Get(ctx context.Context, link Link) (*GraphValue, error) {
	key, err := link.Key.Encode()
	if err != nil {
		return nil, err
	}
	return g.getOne(ctx, link, types.QueryKeyExact(key).SingleLatestPerKey())
}

// GetIdx reads the idx-th latest entry at link, or Null past the end.
func (g *DocGraph) GetIdx(ctx context.Context, link Link, idx uint64) (*GraphValue, error) {
	key, err := link.Key.Encode()
	if err != nil {
		return nil, err
	}
	q := types.QueryKeyExact(key).SingleLatestPerKey().WithOffset(idx).WithLimit(1)
	return g.getOne(ctx, link, q)
}

func (g *DocGraph) getOne(ctx context.Context, link Link, q types.Query) (*GraphValue, error) {
	doc, err := g.open(ctx, link.Namespace)
	if err != nil {
		return nil, err
	}
	entry, err := doc.GetOne(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", link, err)
	}
	if entry == nil {
		return g.cursor(link, Null()), nil
	}
	v, err := g.load(ctx, doc, *entry)
	if err != nil {
		return nil, err
	}
	return g.cursor(link, v), nil
}

func (g *DocGraph) load(ctx context.Context, doc types.Doc, e types.Entry) (Value, error) {
	content, err := doc.ContentBytes(ctx, e)
	if err != nil {
		return Value{}, fmt.Errorf("read content %s: %w", e.Hash, err)
	}
	return DecodeValue(content)
}

// SetWithAuthor writes v at link as author and returns a cursor on it.
func (g *DocGraph) SetWithAuthor(ctx context.Context, link Link, v Value, author types.AuthorID) (*GraphValue, error) {
	key, err := link.Key.Encode()
	if err != nil {
		return nil, err
	}
	content, err := v.Encode()
	if err != nil {
		return nil, err
	}
	doc, err := g.open(ctx, link.Namespace)
	if err != nil {
		return nil, err
	}
	if _, err := doc.SetBytes(ctx, author, key, content); err != nil {
		return nil, fmt.Errorf("set %s: %w", link, err)
	}
	return g.cursor(link, v), nil
}

// DelWithAuthor tombstones the entry author wrote at link. Entries by
// other authors are left as they are.
func (g *DocGraph) DelWithAuthor(ctx context.Context, link Link, author types.AuthorID) error {
	key, err := link.Key.Encode()
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, link.Namespace)
	if err != nil {
		return err
	}
	if _, err := doc.Del(ctx, author, key); err != nil {
		return fmt.Errorf("del %s: %w", link, err)
	}
	return nil
}

// List yields the children of link in key order, or every descendant when
// recursive is set. The entity at link itself is not yielded.
func (g *DocGraph) List(ctx context.Context, link Link, recursive bool) iter.Seq2[*GraphValue, error] {
	return func(yield func(*GraphValue, error) bool) {
		prefix, err := link.Key.Prefix()
		if err != nil {
			yield(nil, err)
			return
		}
		doc, err := g.open(ctx, link.Namespace)
		if err != nil {
			yield(nil, err)
			return
		}
		depth := len(link.Key)
		q := types.QueryKeyPrefix(prefix).SingleLatestPerKey()
		for entry, err := range doc.GetMany(ctx, q) {
			if err != nil {
				yield(nil, fmt.Errorf("list %s: %w", link, err))
				return
			}
			key, err := DecodeKey(entry.Key)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(key) <= depth || (!recursive && len(key) != depth+1) {
				continue
			}
			v, err := g.load(ctx, doc, entry)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(g.cursor(Link{Namespace: link.Namespace, Key: key}, v), nil) {
				return
			}
		}
	}
}
