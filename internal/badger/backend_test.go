package badger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/weird/internal/node"
	"github.com/mesh-intelligence/weird/internal/node/nodetest"
	"github.com/mesh-intelligence/weird/pkg/types"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func diskConfig(dir string) types.Config {
	return types.Config{Backend: types.BackendBadger, DataDir: dir}
}

func memConfig() types.Config {
	return types.Config{Backend: types.BackendBadger, Badger: &types.BadgerConfig{InMemory: true}}
}

func TestBackend_AttachDetach(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(quietLogger())
	require.NoError(t, b.Attach(memConfig()))
	assert.ErrorIs(t, b.Attach(memConfig()), types.ErrAlreadyAttached)

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "detach is idempotent")

	_, _, err := b.Setting(ctx, "node_id")
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}

func TestBackend_DefaultLogger(t *testing.T) {
	cfg := memConfig()
	cfg.Badger.LogLevel = "error"
	b := NewBackend(nil)
	require.NoError(t, b.Attach(cfg))
	defer b.Detach()
	assert.Equal(t, logrus.ErrorLevel, b.log.GetLevel())
}

func TestDecodeEntry(t *testing.T) {
	ns, err := types.NewNamespaceSecret()
	require.NoError(t, err)
	author, err := types.NewAuthorSecret()
	require.NoError(t, err)
	hash := types.DigestOf([]byte("v"))

	for _, key := range [][]byte{{}, []byte("k"), {0x00, 0xff, 0x00}} {
		meta, err := metaEncMode.Marshal(entryMeta{Hash: hash[:], Len: 1, Timestamp: 42})
		require.NoError(t, err)
		e, err := decodeEntry(entryKey(ns.ID(), key, author.ID()), meta)
		require.NoError(t, err)
		assert.Equal(t, key, e.Key)
		assert.NotNil(t, e.Key)
		assert.Equal(t, author.ID(), e.Author)
		assert.Equal(t, hash, e.Hash)
		assert.Equal(t, uint64(42), e.Timestamp)
	}

	_, err = decodeEntry([]byte("e/short"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidFormat)
}

func TestBackend_EntriesFilteredByNamespace(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(quietLogger())
	require.NoError(t, b.Attach(memConfig()))
	defer b.Detach()

	a, _ := types.NewNamespaceSecret()
	c, _ := types.NewNamespaceSecret()
	author, _ := types.NewAuthorSecret()
	for _, ns := range []types.NamespaceSecret{a, c} {
		require.NoError(t, b.PutNamespace(ctx, types.WriteCapability(ns)))
		e := types.Entry{Key: []byte("k"), Author: author.ID(), Hash: types.DigestOf([]byte("v")), Len: 1, Timestamp: 1}
		require.NoError(t, b.PutEntry(ctx, ns.ID(), e))
	}

	require.NoError(t, b.DeleteNamespace(ctx, a.ID()))
	gone, err := b.Entries(ctx, a.ID(), types.QueryKindAll, nil)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := b.Entries(ctx, c.ID(), types.QueryKindKeyExact, []byte("k"))
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, uint64(1), kept[0].Timestamp)
}

func TestStore_Conformance(t *testing.T) {
	nodetest.Run(t, func(t *testing.T, dir string) types.DocStore {
		t.Helper()
		b := NewBackend(quietLogger())
		require.NoError(t, b.Attach(diskConfig(dir)))
		s, err := node.New(context.Background(), b)
		require.NoError(t, err)
		return s
	})
}
