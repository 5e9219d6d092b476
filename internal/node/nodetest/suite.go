// Package nodetest is a conformance suite for types.DocStore
// implementations. Each storage engine runs it from its own tests.
package nodetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Opener opens a store rooted at dir. Opening the same dir twice, after
// closing the first store, must see the same data.
type Opener func(t *testing.T, dir string) types.DocStore

// Run runs every conformance test against stores from open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"SetThenGetLatest", testSetThenGetLatest},
		{"LatestAcrossAuthors", testLatestAcrossAuthors},
		{"DelLeavesTombstone", testDelLeavesTombstone},
		{"DelHidesOtherAuthors", testDelHidesOtherAuthors},
		{"PrefixScan", testPrefixScan},
		{"OffsetAndLimit", testOffsetAndLimit},
		{"WriteWhileIterating", testWriteWhileIterating},
		{"ReadOnlyNamespace", testReadOnlyNamespace},
		{"ImportNeverDowngrades", testImportNeverDowngrades},
		{"OpenAndDrop", testOpenAndDrop},
		{"Authors", testAuthors},
		{"UnknownAuthorCannotWrite", testUnknownAuthorCannotWrite},
		{"InsertKeepsNewest", testInsertKeepsNewest},
		{"Blobs", testBlobs},
		{"Share", testShare},
		{"Reopen", testReopen},
		{"Closed", testClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open)
		})
	}
}

func openTemp(t *testing.T, open Opener) types.DocStore {
	t.Helper()
	s := open(t, t.TempDir())
	t.Cleanup(func() { s.Close() })
	return s
}

func content(t *testing.T, d types.Doc, e *types.Entry) string {
	t.Helper()
	require.NotNil(t, e)
	b, err := d.ContentBytes(context.Background(), *e)
	require.NoError(t, err)
	return string(b)
}

func collect(t *testing.T, d types.Doc, q types.Query) []types.Entry {
	t.Helper()
	var out []types.Entry
	for e, err := range d.GetMany(context.Background(), q) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func keys(entries []types.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Key)
	}
	return out
}

func testSetThenGetLatest(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	_, err = d.SetBytes(ctx, author, []byte("k"), []byte("one"))
	require.NoError(t, err)
	hash, err := d.SetBytes(ctx, author, []byte("k"), []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, types.DigestOf([]byte("two")), hash)

	e, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Equal(t, "two", content(t, d, e))
	assert.Equal(t, author, e.Author)
	assert.Equal(t, uint64(3), e.Len)

	// One author, one key: a single entry.
	assert.Len(t, collect(t, d, types.QueryKeyExact([]byte("k"))), 1)

	missing, err := d.GetOne(ctx, types.QueryKeyExact([]byte("nope")))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testLatestAcrossAuthors(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	a1, err := s.Authors().Create(ctx)
	require.NoError(t, err)
	a2, err := s.Authors().Create(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	_, err = d.SetBytes(ctx, a1, []byte("k"), []byte("first"))
	require.NoError(t, err)
	_, err = d.SetBytes(ctx, a2, []byte("k"), []byte("second"))
	require.NoError(t, err)

	all := collect(t, d, types.QueryKeyExact([]byte("k")))
	require.Len(t, all, 2)
	assert.True(t, string(all[0].Author[:]) < string(all[1].Author[:]), "entries ordered by author")

	e, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Equal(t, "second", content(t, d, e))
	assert.Equal(t, a2, e.Author)
}

func testDelLeavesTombstone(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	_, err = d.SetBytes(ctx, author, []byte("k"), []byte("v"))
	require.NoError(t, err)

	n, err := d.Del(ctx, author, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	n, err = d.Del(ctx, author, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	e, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Nil(t, e)

	tomb, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey().WithEmpty())
	require.NoError(t, err)
	require.NotNil(t, tomb)
	assert.True(t, tomb.IsEmpty())
	assert.Equal(t, "", content(t, d, tomb))
}

func testDelHidesOtherAuthors(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	a1, err := s.Authors().Create(ctx)
	require.NoError(t, err)
	a2, err := s.Authors().Create(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	_, err = d.SetBytes(ctx, a1, []byte("k"), []byte("v"))
	require.NoError(t, err)
	_, err = d.Del(ctx, a2, []byte("k"))
	require.NoError(t, err)

	e, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Nil(t, e, "a newer tombstone from any author hides the key")

	// Without latest-per-key the older live entry is still visible.
	assert.Len(t, collect(t, d, types.QueryKeyExact([]byte("k"))), 1)
}

func testPrefixScan(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	for _, k := range []string{"b", "abc", "ab", "a\xff\xff", "a\xff", "c"} {
		_, err := d.SetBytes(ctx, author, []byte(k), []byte("x"))
		require.NoError(t, err)
	}

	got := keys(collect(t, d, types.QueryKeyPrefix([]byte("ab"))))
	assert.Equal(t, []string{"ab", "abc"}, got)

	got = keys(collect(t, d, types.QueryKeyPrefix([]byte("a\xff"))))
	assert.Equal(t, []string{"a\xff", "a\xff\xff"}, got)

	got = keys(collect(t, d, types.QueryAll()))
	assert.Equal(t, []string{"ab", "abc", "a\xff", "a\xff\xff", "b", "c"}, got)

	got = keys(collect(t, d, types.QueryKeyPrefix(nil)))
	assert.Len(t, got, 6)
}

func testOffsetAndLimit(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	for _, k := range []string{"p1", "p2", "p3", "p4"} {
		_, err := d.SetBytes(ctx, author, []byte(k), []byte(k))
		require.NoError(t, err)
	}

	q := types.QueryKeyPrefix([]byte("p")).SingleLatestPerKey()
	assert.Equal(t, []string{"p2", "p3"}, keys(collect(t, d, q.WithOffset(1).WithLimit(2))))
	assert.Empty(t, collect(t, d, q.WithOffset(10)))

	e, err := d.GetOne(ctx, q.WithOffset(3).WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, "p4", content(t, d, e))
}

func testWriteWhileIterating(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	for _, k := range []string{"x1", "x2", "x3"} {
		_, err := d.SetBytes(ctx, author, []byte(k), []byte(k))
		require.NoError(t, err)
	}
	seen := 0
	for e, err := range d.GetMany(ctx, types.QueryKeyPrefix([]byte("x")).SingleLatestPerKey()) {
		require.NoError(t, err)
		_, err = d.Del(ctx, author, e.Key)
		require.NoError(t, err)
		seen++
	}
	assert.Equal(t, 3, seen)
	assert.Empty(t, collect(t, d, types.QueryKeyPrefix([]byte("x")).SingleLatestPerKey()))
}

func testReadOnlyNamespace(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	secret, err := types.NewNamespaceSecret()
	require.NoError(t, err)

	d, err := s.ImportNamespace(ctx, types.ReadCapability(secret.ID()))
	require.NoError(t, err)
	assert.False(t, d.Capability().CanWrite())

	_, err = d.SetBytes(ctx, author, []byte("k"), []byte("v"))
	require.ErrorIs(t, err, types.ErrReadOnly)
	_, err = d.Del(ctx, author, []byte("k"))
	require.ErrorIs(t, err, types.ErrReadOnly)

	require.NoError(t, d.Insert(ctx, types.Entry{Key: []byte("k"), Author: author}, []byte("replicated")))
	e, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Equal(t, "replicated", content(t, d, e))
}

func testImportNeverDowngrades(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	secret, err := types.NewNamespaceSecret()
	require.NoError(t, err)

	_, err = s.ImportNamespace(ctx, types.WriteCapability(secret))
	require.NoError(t, err)
	d, err := s.ImportNamespace(ctx, types.ReadCapability(secret.ID()))
	require.NoError(t, err)
	assert.True(t, d.Capability().CanWrite())

	// And a read namespace upgrades when the secret arrives.
	other, err := types.NewNamespaceSecret()
	require.NoError(t, err)
	_, err = s.ImportNamespace(ctx, types.ReadCapability(other.ID()))
	require.NoError(t, err)
	_, err = s.ImportNamespace(ctx, types.WriteCapability(other))
	require.NoError(t, err)
	c, err := s.Capability(ctx, other.ID())
	require.NoError(t, err)
	assert.True(t, c.CanWrite())
}

func testOpenAndDrop(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)

	unknown, err := types.NewNamespaceSecret()
	require.NoError(t, err)
	_, err = s.Open(ctx, unknown.ID())
	require.ErrorIs(t, err, types.ErrDocNotFound)

	d, err := s.Create(ctx)
	require.NoError(t, err)
	_, err = d.SetBytes(ctx, author, []byte("k"), []byte("v"))
	require.NoError(t, err)

	reopened, err := s.Open(ctx, d.ID())
	require.NoError(t, err)
	assert.Len(t, collect(t, reopened, types.QueryAll()), 1)

	var listed []types.NamespaceID
	for info, err := range s.Namespaces(ctx) {
		require.NoError(t, err)
		listed = append(listed, info.ID)
		assert.Equal(t, types.CapabilityWrite, info.Kind)
	}
	assert.Contains(t, listed, d.ID())

	require.NoError(t, s.Drop(ctx, d.ID()))
	_, err = s.Open(ctx, d.ID())
	require.ErrorIs(t, err, types.ErrDocNotFound)
	require.ErrorIs(t, s.Drop(ctx, d.ID()), types.ErrDocNotFound)

	// Stale handles fail instead of writing into a dropped namespace.
	_, err = d.SetBytes(ctx, author, []byte("k"), []byte("v"))
	require.ErrorIs(t, err, types.ErrDocNotFound)

	// Re-importing starts empty.
	again, err := s.ImportNamespace(ctx, d.Capability())
	require.NoError(t, err)
	assert.Empty(t, collect(t, again, types.QueryAll()))
}

func testAuthors(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)

	def, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	created, err := s.Authors().Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, def, created)

	secret, err := types.NewAuthorSecret()
	require.NoError(t, err)
	imported, err := s.Authors().Import(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, secret.ID(), imported)

	// Importing twice is harmless.
	_, err = s.Authors().Import(ctx, secret)
	require.NoError(t, err)

	var ids []types.AuthorID
	for id, err := range s.Authors().List(ctx) {
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.ElementsMatch(t, []types.AuthorID{def, created, imported}, ids)

	exported, ok, err := s.Authors().Export(ctx, imported)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secret, exported)

	stranger, err := types.NewAuthorSecret()
	require.NoError(t, err)
	_, ok, err = s.Authors().Export(ctx, stranger.ID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUnknownAuthorCannotWrite(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	d, err := s.Create(ctx)
	require.NoError(t, err)
	stranger, err := types.NewAuthorSecret()
	require.NoError(t, err)

	_, err = d.SetBytes(ctx, stranger.ID(), []byte("k"), []byte("v"))
	require.ErrorIs(t, err, types.ErrAuthorUnknown)
}

func testInsertKeepsNewest(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	newer := types.Entry{Key: []byte("k"), Author: author, Timestamp: 2000}
	older := types.Entry{Key: []byte("k"), Author: author, Timestamp: 1000}
	require.NoError(t, d.Insert(ctx, newer, []byte("new")))
	require.NoError(t, d.Insert(ctx, older, []byte("old")))

	e, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")))
	require.NoError(t, err)
	assert.Equal(t, "new", content(t, d, e))
	assert.Equal(t, uint64(2000), e.Timestamp)

	bad := types.Entry{Key: []byte("k"), Author: author, Timestamp: 3000, Hash: types.DigestOf([]byte("other"))}
	require.ErrorIs(t, d.Insert(ctx, bad, []byte("mismatch")), types.ErrInvalidFormat)

	// A remote entry from the future moves the local clock past it.
	remote, err := types.NewAuthorSecret()
	require.NoError(t, err)
	future := uint64(time.Now().Add(time.Hour).UnixMicro())
	require.NoError(t, d.Insert(ctx, types.Entry{Key: []byte("k"), Author: remote.ID(), Timestamp: future}, []byte("remote")))
	e, err = d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Equal(t, "remote", content(t, d, e))

	_, err = d.SetBytes(ctx, author, []byte("k"), []byte("local"))
	require.NoError(t, err)
	e, err = d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Equal(t, "local", content(t, d, e))
	assert.Greater(t, e.Timestamp, future)
}

func testBlobs(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	data := []byte("a blob that compresses, a blob that compresses, a blob that compresses")

	d, err := s.Blobs().AddBytes(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, types.DigestOf(data), d)

	again, err := s.Blobs().AddBytes(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, d, again)

	got, err := s.Blobs().ReadToBytes(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Blobs().ReadToBytes(ctx, types.DigestOf([]byte("missing")))
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.Blobs().Pin(ctx, []byte("leaf/1"), d))
	require.NoError(t, s.Blobs().Pin(ctx, []byte("leaf/2"), d))
	require.NoError(t, s.Blobs().Unpin(ctx, []byte("leaf/1")))
	var pins []types.Pin
	for p, err := range s.Blobs().Pins(ctx) {
		require.NoError(t, err)
		pins = append(pins, p)
	}
	require.Len(t, pins, 1)
	assert.Equal(t, []byte("leaf/2"), pins[0].Path)
	assert.Equal(t, d, pins[0].Hash)
}

func testShare(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openTemp(t, open)
	d, err := s.Create(ctx)
	require.NoError(t, err)

	tk, err := d.Share(ctx, types.ShareRead)
	require.NoError(t, err)
	assert.False(t, tk.Capability.CanWrite())
	assert.Equal(t, d.ID(), tk.Capability.ID())
	require.Len(t, tk.Nodes, 1)
	assert.Equal(t, s.NodeID(), tk.Nodes[0].ID)

	parsed, err := types.ParseTicket(tk.String())
	require.NoError(t, err)
	assert.Equal(t, tk.Capability, parsed.Capability)

	wt, err := d.Share(ctx, types.ShareWrite)
	require.NoError(t, err)
	assert.True(t, wt.Capability.CanWrite())

	ro, err := s.ImportNamespace(ctx, tk.Capability)
	require.NoError(t, err)
	assert.True(t, ro.Capability().CanWrite(), "already held for write")

	other, err := types.NewNamespaceSecret()
	require.NoError(t, err)
	readOnly, err := s.ImportNamespace(ctx, types.ReadCapability(other.ID()))
	require.NoError(t, err)
	_, err = readOnly.Share(ctx, types.ShareWrite)
	require.ErrorIs(t, err, types.ErrReadOnly)
}

func testReopen(t *testing.T, open Opener) {
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	node := s.NodeID()
	author, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	d, err := s.Create(ctx)
	require.NoError(t, err)
	_, err = d.SetBytes(ctx, author, []byte("k"), []byte("persisted"))
	require.NoError(t, err)
	ns := d.ID()
	require.NoError(t, s.Close())

	s = open(t, dir)
	defer s.Close()
	assert.Equal(t, node, s.NodeID())
	again, err := s.Authors().Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, author, again)

	d, err = s.Open(ctx, ns)
	require.NoError(t, err)
	e, err := d.GetOne(ctx, types.QueryKeyExact([]byte("k")).SingleLatestPerKey())
	require.NoError(t, err)
	assert.Equal(t, "persisted", content(t, d, e))
}

func testClosed(t *testing.T, open Opener) {
	ctx := context.Background()
	s := open(t, t.TempDir())
	d, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err = s.Open(ctx, d.ID())
	require.ErrorIs(t, err, types.ErrStoreClosed)
	_, err = s.Authors().Create(ctx)
	require.ErrorIs(t, err, types.ErrStoreClosed)
	_, err = d.GetOne(ctx, types.QueryAll())
	require.ErrorIs(t, err, types.ErrStoreClosed)
}
