package weird

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/weird/pkg/gdata"
	"github.com/mesh-intelligence/weird/pkg/types"
)

// populate registers alice and bob with profiles on w.
func populate(t *testing.T, w *Weird) (alice, bob types.AuthorID) {
	t.Helper()
	ctx := context.Background()
	alice = newAuthor(t, w, "alice-id")
	require.NoError(t, w.SetProfile(ctx, alice, fullProfile(t)))
	bob = newAuthor(t, w, "bob-id")
	require.NoError(t, w.SetProfile(ctx, bob, Profile{
		Username:   mustUsername(t, "bob@example.org"),
		AvatarSeed: ptr("bob"),
		Links:      []WebLink{{URL: "https://bob.example.org"}},
	}))
	return alice, bob
}

func profilesOf(t *testing.T, w *Weird) map[types.AuthorID]Profile {
	t.Helper()
	out := map[types.AuthorID]Profile{}
	for ap, err := range w.Profiles(context.Background()) {
		require.NoError(t, err)
		out[ap.Author] = ap.Profile
	}
	return out
}

func TestExportDB(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	alice, bob := populate(t, w)

	out, err := w.ExportDB(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExportVersion, out.Version)
	assert.Equal(t, w.Graph().DefaultAuthor(), out.InstanceAuthor.ID())
	assert.Len(t, out.Authors, 3)
	assert.Len(t, out.Profiles, 2)
	assert.Equal(t, alice, out.Usernames["alice@example.org"])
	assert.Equal(t, bob, out.Usernames["bob@example.org"])
	assert.Equal(t, alice, out.UserIDs[gdata.SegStr("alice-id").String()])
	assert.Equal(t, bob, out.UserIDs[gdata.SegStr("bob-id").String()])
}

func TestExportImportDB_AcrossStores(t *testing.T) {
	ctx := context.Background()
	src := newInstance(t, "example.org")
	alice, _ := populate(t, src)
	out, err := src.ExportDB(ctx)
	require.NoError(t, err)

	encoded, err := yaml.Marshal(out)
	require.NoError(t, err)
	var decoded ExportFormat
	require.NoError(t, yaml.Unmarshal(encoded, &decoded))

	dst := newInstance(t, "example.org")
	rescue, err := dst.ImportDB(ctx, &decoded)
	require.NoError(t, err)
	require.NotNil(t, rescue)

	assert.Equal(t, profilesOf(t, src), profilesOf(t, dst))
	got, ok, err := dst.UserAuthor(ctx, gdata.SegStr("alice-id"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, got)

	p, err := dst.GetProfileByName(ctx, *mustUsername(t, "alice@example.org"))
	require.NoError(t, err)
	assert.Equal(t, fullProfile(t), p)

	_, ok, err = dst.Store().Authors().Export(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	// Imported authors can keep writing.
	require.NoError(t, dst.SetProfile(ctx, alice, Profile{Bio: ptr("after import")}))
}

func TestImportDB_ReplacesInstanceData(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	alice := newAuthor(t, w, "alice-id")
	require.NoError(t, w.SetProfile(ctx, alice, Profile{Username: mustUsername(t, "alice@example.org")}))
	snapshot, err := w.ExportDB(ctx)
	require.NoError(t, err)

	bob := newAuthor(t, w, "bob-id")
	require.NoError(t, w.SetProfile(ctx, bob, Profile{Username: mustUsername(t, "bob@example.org")}))

	rescue, err := w.ImportDB(ctx, snapshot)
	require.NoError(t, err)

	_, err = w.GetProfile(ctx, bob)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, ok, err := w.UserAuthor(ctx, gdata.SegStr("bob-id"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = w.GetProfileByName(ctx, *mustUsername(t, "alice@example.org"))
	require.NoError(t, err)

	// The rescue export restores what the import replaced.
	_, err = w.ImportDBRaw(ctx, rescue)
	require.NoError(t, err)
	p, err := w.GetProfile(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.org", p.Username.String())
}

func TestImportDB_RejectsVersion(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	alice, _ := populate(t, w)
	out, err := w.ExportDB(ctx)
	require.NoError(t, err)

	out.Version = 2
	rescue, err := w.ImportDB(ctx, out)
	assert.ErrorIs(t, err, types.ErrUnsupportedVersion)
	assert.Nil(t, rescue)

	_, err = w.GetProfile(ctx, alice)
	assert.NoError(t, err)
}

func TestExportDBRaw(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	alice, _ := populate(t, w)
	require.NoError(t, w.SetProfile(ctx, alice, Profile{}))

	raw, err := w.ExportDBRaw(ctx)
	require.NoError(t, err)
	require.Len(t, raw.Namespaces, 1)
	ns := raw.Namespaces[0]
	assert.True(t, ns.Capability.CanWrite())
	assert.Equal(t, w.NamespaceID(), ns.Capability.ID())

	// Deleted entries are not exported.
	for _, r := range ns.Records {
		assert.False(t, r.Key.HasPrefix(usernamesKey.Append(gdata.SegStr("alice@example.org"))), r.Key)
		assert.False(t, r.Key.HasPrefix(profileKey(alice).Append(fieldTags, gdata.SegStr("go"))), r.Key)
	}
}

func TestExportImportDBRaw_AcrossStores(t *testing.T) {
	ctx := context.Background()
	src := newInstance(t, "example.org")
	alice, bob := populate(t, src)
	other, err := src.Store().Create(ctx)
	require.NoError(t, err)
	_, err = gdata.Set(ctx, src.Graph(), gdata.NewLink(other.ID(), gdata.SegStr("k")), gdata.Float(1.5))
	require.NoError(t, err)

	raw, err := src.ExportDBRaw(ctx)
	require.NoError(t, err)
	encoded, err := yaml.Marshal(raw)
	require.NoError(t, err)
	var decoded RawExport
	require.NoError(t, yaml.Unmarshal(encoded, &decoded))

	dst := newInstance(t, "elsewhere.org")
	rescue, err := dst.ImportDBRaw(ctx, &decoded)
	require.NoError(t, err)
	require.Len(t, rescue.Namespaces, 1)
	assert.Equal(t, dst.NamespaceID(), rescue.Namespaces[0].Capability.ID())

	for _, a := range []types.AuthorID{alice, bob} {
		want, err := src.GetProfile(ctx, a)
		require.NoError(t, err)
		got, err := dst.profileIn(ctx, src.NamespaceID(), a)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	gv, err := dst.Graph().Get(ctx, gdata.NewLink(other.ID(), gdata.SegStr("k")))
	require.NoError(t, err)
	f, err := gv.Value.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	c, err := dst.Store().Capability(ctx, src.NamespaceID())
	require.NoError(t, err)
	assert.True(t, c.CanWrite())

	// The instance's own namespace is back and writable.
	root, err := dst.Graph().Get(ctx, dst.link(instanceDataKey))
	require.NoError(t, err)
	assert.True(t, root.IsMap())
	b := newAuthor(t, dst, "new-id")
	require.NoError(t, dst.SetProfile(ctx, b, Profile{Username: mustUsername(t, "new@elsewhere.org")}))
}

func TestImportDBRaw_LinkOrderFollowsKeys(t *testing.T) {
	ctx := context.Background()
	src := newInstance(t, "example.org")
	alice, _ := populate(t, src)

	raw, err := src.ExportDBRaw(ctx)
	require.NoError(t, err)
	for _, ns := range raw.Namespaces {
		slices.Reverse(ns.Records)
	}

	dst := newInstance(t, "example.org")
	_, err = dst.ImportDBRaw(ctx, raw)
	require.NoError(t, err)

	want, err := src.GetProfile(ctx, alice)
	require.NoError(t, err)
	require.Greater(t, len(want.Links), 1)
	got, err := dst.profileIn(ctx, src.NamespaceID(), alice)
	require.NoError(t, err)
	assert.Equal(t, want.Links, got.Links)
	assert.Equal(t, want.Lists, got.Lists)
}
