package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/mesh-intelligence/weird/internal/node"
	"github.com/mesh-intelligence/weird/pkg/types"
)

var _ node.Engine = (*Backend)(nil)

var (
	metaEncMode cbor.EncMode
	metaDecMode cbor.DecMode
)

func init() {
	var err error
	metaEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badger: cbor encoder: " + err.Error())
	}
	metaDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("badger: cbor decoder: " + err.Error())
	}
}

// entryMeta is the value stored under an entry key.
type entryMeta struct {
	Hash      []byte `cbor:"1,keyasint"`
	Len       uint64 `cbor:"2,keyasint"`
	Timestamp uint64 `cbor:"3,keyasint"`
}

// entryKey is e/<namespace><key><author>. The author has a fixed width so
// the document key is recovered by trimming both ends.
func entryKey(ns types.NamespaceID, key []byte, author types.AuthorID) []byte {
	return join(prefixEntry, ns[:], key, author[:])
}

func decodeEntry(k, v []byte) (types.Entry, error) {
	head := len(prefixEntry) + types.IDSize
	if len(k) < head+types.IDSize {
		return types.Entry{}, fmt.Errorf("%w: entry key of %d bytes", types.ErrInvalidFormat, len(k))
	}
	var meta entryMeta
	if err := metaDecMode.Unmarshal(v, &meta); err != nil {
		return types.Entry{}, fmt.Errorf("%w: entry meta: %v", types.ErrInvalidFormat, err)
	}
	author, err := types.AuthorIDFromBytes(k[len(k)-types.IDSize:])
	if err != nil {
		return types.Entry{}, err
	}
	hash, err := types.DigestFromBytes(meta.Hash)
	if err != nil {
		return types.Entry{}, err
	}
	return types.Entry{
		Key:       bytes.Clone(k[head : len(k)-types.IDSize]),
		Author:    author,
		Hash:      hash,
		Len:       meta.Len,
		Timestamp: meta.Timestamp,
	}, nil
}

func (b *Backend) get(key []byte) ([]byte, bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, false, err
	}
	defer release()

	var out []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (b *Backend) set(key, value []byte) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// scan calls fn for every key with prefix, in key order.
func (b *Backend) scan(ctx context.Context, prefix []byte, keysOnly bool, fn func(k, v []byte) error) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = !keysOnly
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var v []byte
			if !keysOnly {
				var err error
				if v, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Setting reads the named store setting from the s/ prefix.
func (b *Backend) Setting(_ context.Context, name string) ([]byte, bool, error) {
	return b.get(join(prefixSetting, []byte(name)))
}

// PutSetting writes a store setting.
func (b *Backend) PutSetting(_ context.Context, name string, value []byte) error {
	return b.set(join(prefixSetting, []byte(name)), value)
}

// PutAuthor stores an author secret under its id.
func (b *Backend) PutAuthor(_ context.Context, secret types.AuthorSecret) error {
	id := secret.ID()
	return b.set(join(prefixAuthor, id[:]), secret[:])
}

// Author returns the secret for id, if known.
func (b *Backend) Author(_ context.Context, id types.AuthorID) (types.AuthorSecret, bool, error) {
	raw, ok, err := b.get(join(prefixAuthor, id[:]))
	if err != nil || !ok {
		return types.AuthorSecret{}, false, err
	}
	var secret types.AuthorSecret
	if len(raw) != len(secret) {
		return secret, false, fmt.Errorf("%w: stored author secret", types.ErrInvalidFormat)
	}
	copy(secret[:], raw)
	return secret, true, nil
}

// AuthorIDs lists every stored author in key order.
func (b *Backend) AuthorIDs(ctx context.Context) ([]types.AuthorID, error) {
	var ids []types.AuthorID
	err := b.scan(ctx, prefixAuthor, true, func(k, _ []byte) error {
		id, err := types.AuthorIDFromBytes(k[len(prefixAuthor):])
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// Namespace records are the capability kind byte, followed by the secret
// for write capabilities.
func encodeCapability(c types.Capability) []byte {
	if c.CanWrite() {
		return join([]byte{byte(c.Kind)}, c.Secret[:])
	}
	return []byte{byte(c.Kind)}
}

func decodeCapability(ns, raw []byte) (types.Capability, error) {
	if len(raw) == 0 {
		return types.Capability{}, fmt.Errorf("%w: empty namespace record", types.ErrInvalidFormat)
	}
	switch types.CapabilityKind(raw[0]) {
	case types.CapabilityWrite:
		var s types.NamespaceSecret
		if len(raw) != 1+len(s) {
			return types.Capability{}, fmt.Errorf("%w: stored namespace secret", types.ErrInvalidFormat)
		}
		copy(s[:], raw[1:])
		return types.WriteCapability(s), nil
	case types.CapabilityRead:
		id, err := types.NamespaceIDFromBytes(ns)
		if err != nil {
			return types.Capability{}, err
		}
		return types.ReadCapability(id), nil
	default:
		return types.Capability{}, fmt.Errorf("%w: stored capability kind %d", types.ErrInvalidFormat, raw[0])
	}
}

// PutNamespace stores c, replacing any capability already held for its
// namespace.
func (b *Backend) PutNamespace(_ context.Context, c types.Capability) error {
	ns := c.ID()
	return b.set(join(prefixNamespace, ns[:]), encodeCapability(c))
}

// Namespace returns the capability held for ns.
func (b *Backend) Namespace(_ context.Context, ns types.NamespaceID) (types.Capability, bool, error) {
	raw, ok, err := b.get(join(prefixNamespace, ns[:]))
	if err != nil || !ok {
		return types.Capability{}, false, err
	}
	c, err := decodeCapability(ns[:], raw)
	return c, err == nil, err
}

// NamespaceList returns every held capability.
func (b *Backend) NamespaceList(ctx context.Context) ([]types.Capability, error) {
	var caps []types.Capability
	err := b.scan(ctx, prefixNamespace, false, func(k, v []byte) error {
		c, err := decodeCapability(k[len(prefixNamespace):], v)
		if err != nil {
			return err
		}
		caps = append(caps, c)
		return nil
	})
	return caps, err
}

// DeleteNamespace drops the capability and every entry under the
// namespace prefix.
func (b *Backend) DeleteNamespace(ctx context.Context, ns types.NamespaceID) error {
	var keys [][]byte
	err := b.scan(ctx, join(prefixEntry, ns[:]), true, func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}

	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	wb := db.NewWriteBatch()
	for _, k := range append(keys, join(prefixNamespace, ns[:])) {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

// Entries scans the entry prefix of ns. Exact and prefix queries narrow
// the scan to keys starting with key. Tombstones are returned too.
func (b *Backend) Entries(ctx context.Context, ns types.NamespaceID, kind types.QueryKind, key []byte) ([]types.Entry, error) {
	scanPrefix := join(prefixEntry, ns[:])
	if kind != types.QueryKindAll {
		scanPrefix = join(scanPrefix, key)
	}
	var entries []types.Entry
	err := b.scan(ctx, scanPrefix, false, func(k, v []byte) error {
		e, err := decodeEntry(k, v)
		if err != nil {
			return err
		}
		if node.Matches(kind, key, e.Key) {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	node.SortEntries(entries)
	return entries, nil
}

// Entry reads the one entry for key written by author.
func (b *Backend) Entry(_ context.Context, ns types.NamespaceID, key []byte, author types.AuthorID) (types.Entry, bool, error) {
	k := entryKey(ns, key, author)
	raw, ok, err := b.get(k)
	if err != nil || !ok {
		return types.Entry{}, false, err
	}
	e, err := decodeEntry(k, raw)
	return e, err == nil, err
}

// PutEntry writes e. The key embeds the author, so a newer write by the
// same author overwrites the old one.
func (b *Backend) PutEntry(_ context.Context, ns types.NamespaceID, e types.Entry) error {
	meta, err := metaEncMode.Marshal(entryMeta{Hash: e.Hash[:], Len: e.Len, Timestamp: e.Timestamp})
	if err != nil {
		return err
	}
	return b.set(entryKey(ns, e.Key, e.Author), meta)
}

// PutBlob stores compressed blob data under its digest.
func (b *Backend) PutBlob(_ context.Context, d types.Digest, data []byte) error {
	return b.set(join(prefixBlob, d[:]), data)
}

// Blob returns the stored, still compressed, data for d.
func (b *Backend) Blob(_ context.Context, d types.Digest) ([]byte, bool, error) {
	return b.get(join(prefixBlob, d[:]))
}

// HasBlob reports whether d is stored without reading its value.
func (b *Backend) HasBlob(_ context.Context, d types.Digest) (bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return false, err
	}
	defer release()

	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(join(prefixBlob, d[:]))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// PutPin pins d at path.
func (b *Backend) PutPin(_ context.Context, path []byte, d types.Digest) error {
	return b.set(join(prefixPin, path), d[:])
}

// DeletePin removes the pin at path. A missing pin is not an error.
func (b *Backend) DeletePin(_ context.Context, path []byte) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(join(prefixPin, path))
	})
}

// PinList returns every pin in path order.
func (b *Backend) PinList(ctx context.Context) ([]types.Pin, error) {
	var pins []types.Pin
	err := b.scan(ctx, prefixPin, false, func(k, v []byte) error {
		hash, err := types.DigestFromBytes(v)
		if err != nil {
			return err
		}
		pins = append(pins, types.Pin{Path: k[len(prefixPin):], Hash: hash})
		return nil
	})
	return pins, err
}
