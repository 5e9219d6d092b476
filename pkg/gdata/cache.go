package gdata

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// DefaultDocCacheSize is the number of open document handles kept.
const DefaultDocCacheSize = 5

// docCache keeps recently opened documents. Concurrent opens of the same
// namespace share one call to the underlying store.
type docCache struct {
	store types.DocStore
	docs  *lru.Cache[types.NamespaceID, types.Doc]
	group singleflight.Group

	// gen is bumped by clear so that opens racing a clear do not repopulate
	// the cache with handles from before it.
	gen atomic.Uint64
}

func newDocCache(store types.DocStore, size int) (*docCache, error) {
	if size <= 0 {
		size = DefaultDocCacheSize
	}
	docs, err := lru.New[types.NamespaceID, types.Doc](size)
	if err != nil {
		return nil, fmt.Errorf("create doc cache: %w", err)
	}
	return &docCache{store: store, docs: docs}, nil
}

func (c *docCache) open(ctx context.Context, ns types.NamespaceID) (types.Doc, error) {
	if doc, ok := c.docs.Get(ns); ok {
		return doc, nil
	}
	gen := c.gen.Load()
	ch := c.group.DoChan(ns.String(), func() (any, error) {
		doc, err := c.store.Open(context.WithoutCancel(ctx), ns)
		if err != nil {
			return nil, err
		}
		if c.gen.Load() == gen {
			c.docs.Add(ns, doc)
		}
		return doc, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(types.Doc), nil
	}
}

func (c *docCache) clear() {
	c.gen.Add(1)
	c.docs.Purge()
}

func (c *docCache) len() int { return c.docs.Len() }
