package node

import (
	"context"
	"fmt"
	"iter"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// doc is a handle on one namespace of a Store. It holds no state of its
// own; the capability is looked up on every write so that imports and drops
// take effect on existing handles.
type doc struct {
	store *Store
	ns    types.NamespaceID
}

var _ types.Doc = (*doc)(nil)

// ID returns the namespace id.
func (d *doc) ID() types.NamespaceID { return d.ns }

// Capability returns the capability held for the namespace, read-only if
// it cannot be loaded.
func (d *doc) Capability() types.Capability {
	c, err := d.store.capability(context.Background(), d.ns)
	if err != nil {
		return types.ReadCapability(d.ns)
	}
	return c
}

func (d *doc) query(ctx context.Context, q types.Query) ([]types.Entry, error) {
	if err := d.store.live(); err != nil {
		return nil, err
	}
	if _, err := d.store.capability(ctx, d.ns); err != nil {
		return nil, err
	}
	entries, err := d.store.engine.Entries(ctx, d.ns, q.Kind, q.Key)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return Select(entries, q), nil
}

// GetOne returns the first entry matching q, or nil.
func (d *doc) GetOne(ctx context.Context, q types.Query) (*types.Entry, error) {
	entries, err := d.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	e := entries[0]
	return &e, nil
}

// GetMany yields the entries matching q in key order.
func (d *doc) GetMany(ctx context.Context, q types.Query) iter.Seq2[types.Entry, error] {
	return func(yield func(types.Entry, error) bool) {
		entries, err := d.query(ctx, q)
		if err != nil {
			yield(types.Entry{}, err)
			return
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(types.Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ContentBytes reads the value of e. Tombstones read as empty.
func (d *doc) ContentBytes(ctx context.Context, e types.Entry) ([]byte, error) {
	if e.IsEmpty() {
		return []byte{}, nil
	}
	return d.store.Blobs().ReadToBytes(ctx, e.Hash)
}

func (d *doc) writable(ctx context.Context) error {
	if err := d.store.live(); err != nil {
		return err
	}
	c, err := d.store.capability(ctx, d.ns)
	if err != nil {
		return err
	}
	if !c.CanWrite() {
		return fmt.Errorf("%w: %s", types.ErrReadOnly, d.ns.Short())
	}
	return nil
}

// SetBytes stores value under key. An empty value is a delete.
func (d *doc) SetBytes(ctx context.Context, author types.AuthorID, key, value []byte) (types.Digest, error) {
	if len(value) == 0 {
		_, err := d.Del(ctx, author, key)
		return types.DigestOf(nil), err
	}
	if err := d.writable(ctx); err != nil {
		return types.Digest{}, err
	}
	if err := d.store.authorKnown(ctx, author); err != nil {
		return types.Digest{}, err
	}
	hash, err := d.store.Blobs().AddBytes(ctx, value)
	if err != nil {
		return types.Digest{}, err
	}
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	e := types.Entry{
		Key:       key,
		Author:    author,
		Hash:      hash,
		Len:       uint64(len(value)),
		Timestamp: d.store.clock.Now(),
	}
	if err := d.store.engine.PutEntry(ctx, d.ns, e); err != nil {
		return types.Digest{}, fmt.Errorf("store entry: %w", err)
	}
	return hash, nil
}

// Del tombstones key for author and reports how many live entries it
// replaced (0 or 1).
func (d *doc) Del(ctx context.Context, author types.AuthorID, key []byte) (uint64, error) {
	if err := d.writable(ctx); err != nil {
		return 0, err
	}
	if err := d.store.authorKnown(ctx, author); err != nil {
		return 0, err
	}
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	var removed uint64
	prev, ok, err := d.store.engine.Entry(ctx, d.ns, key, author)
	if err != nil {
		return 0, fmt.Errorf("read entry: %w", err)
	}
	if ok && !prev.IsEmpty() {
		removed = 1
	}
	tomb := types.Entry{
		Key:       key,
		Author:    author,
		Hash:      types.DigestOf(nil),
		Timestamp: d.store.clock.Now(),
	}
	if err := d.store.engine.PutEntry(ctx, d.ns, tomb); err != nil {
		return 0, fmt.Errorf("store tombstone: %w", err)
	}
	return removed, nil
}

// Insert applies an entry produced elsewhere. A zero timestamp is stamped
// with the local clock. The content must hash to the entry's digest when
// one is given.
func (d *doc) Insert(ctx context.Context, e types.Entry, content []byte) error {
	if err := d.store.live(); err != nil {
		return err
	}
	if _, err := d.store.capability(ctx, d.ns); err != nil {
		return err
	}
	hash := types.DigestOf(content)
	if e.Hash != (types.Digest{}) && e.Hash != hash {
		return fmt.Errorf("%w: entry content does not match its digest", types.ErrInvalidFormat)
	}
	e.Hash = hash
	e.Len = uint64(len(content))
	if len(content) > 0 {
		if _, err := d.store.Blobs().AddBytes(ctx, content); err != nil {
			return err
		}
	}

	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if e.Timestamp == 0 {
		e.Timestamp = d.store.clock.Now()
	} else {
		d.store.clock.Observe(e.Timestamp)
	}
	prev, ok, err := d.store.engine.Entry(ctx, d.ns, e.Key, e.Author)
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}
	if ok && !newer(e, prev) {
		return nil
	}
	if err := d.store.engine.PutEntry(ctx, d.ns, e); err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	return nil
}

// Share returns a ticket for the namespace. Write tickets need a write
// capability.
func (d *doc) Share(ctx context.Context, mode types.ShareMode) (types.Ticket, error) {
	if err := d.store.live(); err != nil {
		return types.Ticket{}, err
	}
	c, err := d.store.capability(ctx, d.ns)
	if err != nil {
		return types.Ticket{}, err
	}
	switch mode {
	case types.ShareWrite:
		if !c.CanWrite() {
			return types.Ticket{}, fmt.Errorf("%w: cannot share write access", types.ErrReadOnly)
		}
	default:
		c = c.Read()
	}
	return types.Ticket{
		Capability: c,
		Nodes:      []types.NodeAddr{{ID: d.store.nodeID, Addrs: d.store.addrs}},
	}, nil
}
