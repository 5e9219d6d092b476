package weird

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/weird/pkg/docstore"
	"github.com/mesh-intelligence/weird/pkg/gdata"
	"github.com/mesh-intelligence/weird/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) types.DocStore {
	t.Helper()
	s, err := docstore.Open(context.Background(), types.Config{
		Backend: types.BackendBadger,
		Badger:  &types.BadgerConfig{InMemory: true, LogLevel: "error"},
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newInstance starts an instance for domain on a fresh in-memory store.
func newInstance(t *testing.T, domain string, opts ...Option) *Weird {
	t.Helper()
	secret, err := types.NewNamespaceSecret()
	require.NoError(t, err)
	opts = append([]Option{WithLogger(quietLogger()), WithResolver(stubResolver{})}, opts...)
	w, err := New(context.Background(), openStore(t), secret, domain, opts...)
	require.NoError(t, err)
	return w
}

func ptr[T any](v T) *T { return &v }

func mustUsername(t *testing.T, s string) *Username {
	t.Helper()
	u, err := ParseUsername(s)
	require.NoError(t, err)
	return &u
}

// stubResolver answers TXT lookups from a fixed table.
type stubResolver map[string][]string

func (r stubResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	records, ok := r[name]
	if !ok {
		return nil, types.ErrAbsent
	}
	return records, nil
}

// copySyncer fills an imported namespace with the live entries another
// store holds for it.
type copySyncer struct {
	from  types.DocStore
	calls int
}

func (s *copySyncer) Sync(ctx context.Context, doc types.Doc, _ []types.NodeAddr) error {
	s.calls++
	src, err := s.from.Open(ctx, doc.ID())
	if err != nil {
		return err
	}
	for e, err := range src.GetMany(ctx, types.QueryAll()) {
		if err != nil {
			return err
		}
		content, err := src.ContentBytes(ctx, e)
		if err != nil {
			return err
		}
		if err := doc.Insert(ctx, e, content); err != nil {
			return err
		}
	}
	return nil
}

func TestNew_InitializesInstanceData(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")

	c, err := w.Store().Capability(ctx, w.NamespaceID())
	require.NoError(t, err)
	assert.True(t, c.CanWrite())

	root, err := w.Graph().Get(ctx, w.link(instanceDataKey))
	require.NoError(t, err)
	assert.True(t, root.IsMap())
	assert.Equal(t, "example.org", w.Domain())
}

func TestNew_Restart(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	secret, err := types.NewNamespaceSecret()
	require.NoError(t, err)

	w, err := New(ctx, store, secret, "example.org", WithLogger(quietLogger()))
	require.NoError(t, err)
	author, err := w.GetOrInitAuthor(ctx, gdata.SegStr("alice-id"))
	require.NoError(t, err)
	require.NoError(t, w.SetProfile(ctx, author, Profile{Username: mustUsername(t, "alice@example.org")}))
	require.NoError(t, w.Close())

	again, err := New(ctx, store, secret, "example.org", WithLogger(quietLogger()))
	require.NoError(t, err)
	got, ok, err := again.UserAuthor(ctx, gdata.SegStr("alice-id"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, author, got)

	p, err := again.GetProfile(ctx, author)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", p.Username.String())
}

func TestOpen_OwnsStore(t *testing.T) {
	ctx := context.Background()
	secret, err := types.NewNamespaceSecret()
	require.NoError(t, err)
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}

	w, err := Open(ctx, cfg, secret, "example.org", WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Store().Open(ctx, w.NamespaceID())
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}

func TestInstanceTicket(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")

	ticket, err := w.InstanceTicket(ctx)
	require.NoError(t, err)
	assert.False(t, ticket.Capability.CanWrite())
	assert.Equal(t, w.NamespaceID(), ticket.Capability.ID())

	parsed, err := types.ParseTicket(ticket.String())
	require.NoError(t, err)
	assert.Equal(t, w.NamespaceID(), parsed.Capability.ID())
}

func TestULIDSegmentsIncrease(t *testing.T) {
	ids := newULIDSource()
	prev := ids.segment()
	for range 1000 {
		next := ids.segment()
		require.Negative(t, prev.Compare(next))
		prev = next
	}
}
