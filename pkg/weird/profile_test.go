package weird

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/weird/pkg/gdata"
	"github.com/mesh-intelligence/weird/pkg/types"
)

func newAuthor(t *testing.T, w *Weird, userID string) types.AuthorID {
	t.Helper()
	a, err := w.GetOrInitAuthor(context.Background(), gdata.SegStr(userID))
	require.NoError(t, err)
	return a
}

// usernameHolder reads the usernames index directly.
func usernameHolder(t *testing.T, w *Weird, name string) (types.AuthorID, bool) {
	t.Helper()
	gv, err := w.Graph().Get(context.Background(), w.link(usernamesKey.Append(gdata.SegStr(name))))
	require.NoError(t, err)
	if gv.IsNull() {
		return types.AuthorID{}, false
	}
	a, err := authorFromValue(gv.Value)
	require.NoError(t, err)
	return a, true
}

func fullProfile(t *testing.T) Profile {
	return Profile{
		Username:         mustUsername(t, "alice@example.org"),
		DisplayName:      ptr("Alice"),
		ContactInfo:      ptr("alice@mail.example.org"),
		AvatarSeed:       ptr("seed"),
		Location:         ptr("Lisbon"),
		Tags:             []string{"go", "rust", "zig"},
		WorkCapacity:     ptr(PartTime),
		WorkCompensation: ptr(Volunteer),
		Bio:              ptr("hello"),
		Links: []WebLink{
			{URL: "https://z.example.org", Label: ptr("last alphabetically")},
			{URL: "https://a.example.org"},
			{URL: "https://m.example.org", Label: ptr("middle")},
		},
		Lists: map[string][]WebLink{
			"reading": {{URL: "https://book.example.org"}, {URL: "https://article.example.org", Label: ptr("article")}},
			"friends": {{URL: "https://bob.example.org"}},
		},
	}
}

func TestGetOrInitAuthor_Stable(t *testing.T) {
	w := newInstance(t, "example.org")
	a1 := newAuthor(t, w, "alice-id")
	a2 := newAuthor(t, w, "alice-id")
	b := newAuthor(t, w, "bob-id")
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)

	_, ok, err := w.UserAuthor(context.Background(), gdata.SegStr("carol-id"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetProfile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	p := fullProfile(t)

	require.NoError(t, w.SetProfile(ctx, a, p))

	got, err := w.GetProfile(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	byName, err := w.GetProfileByName(ctx, *p.Username)
	require.NoError(t, err)
	assert.Equal(t, p, byName)
}

func TestSetProfile_MembershipAndOrder(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	links := []WebLink{{URL: "l1"}, {URL: "l2"}, {URL: "l3"}}
	require.NoError(t, w.SetProfile(ctx, a, Profile{Tags: []string{"t3", "t1", "t2"}, Links: links}))

	got, err := w.GetProfile(ctx, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, got.Tags)
	assert.Equal(t, links, got.Links)
}

func TestSetProfile_Replaces(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	require.NoError(t, w.SetProfile(ctx, a, fullProfile(t)))

	require.NoError(t, w.SetProfile(ctx, a, Profile{Bio: ptr("only a bio"), Tags: []string{"new"}}))

	got, err := w.GetProfile(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, Profile{Bio: ptr("only a bio"), Tags: []string{"new"}}, got)
}

func TestSetProfile_AvatarSeedDefaultsToUsername(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	require.NoError(t, w.SetProfile(ctx, a, Profile{Username: mustUsername(t, "alice@example.org")}))

	got, err := w.GetProfile(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, got.AvatarSeed)
	assert.Equal(t, "alice@example.org", *got.AvatarSeed)
}

func TestSetProfile_DomainMismatch(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")

	err := w.SetProfile(ctx, a, Profile{Username: mustUsername(t, "alice@other.test")})
	assert.ErrorIs(t, err, types.ErrDomainMismatch)
	_, ok := usernameHolder(t, w, "alice@other.test")
	assert.False(t, ok)
	_, err = w.GetProfile(ctx, a)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSetProfile_MixedCaseInstanceDomain(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "Example.ORG")
	assert.Equal(t, "example.org", w.Domain())
	a := newAuthor(t, w, "alice-id")

	u, err := w.ParseUsername("alice")
	require.NoError(t, err)
	require.NoError(t, w.SetProfile(ctx, a, Profile{Username: &u, DisplayName: ptr("Alice")}))

	got, err := w.GetProfileByName(ctx, *mustUsername(t, "alice@EXAMPLE.org"))
	require.NoError(t, err)
	assert.Equal(t, "Alice", *got.DisplayName)
}

func TestUsernameClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	alice := mustUsername(t, "alice@example.org")

	aa := newAuthor(t, w, "alice-id")
	require.NoError(t, w.SetProfile(ctx, aa, Profile{Username: alice}))
	ab := newAuthor(t, w, "bob-id")
	require.NotEqual(t, aa, ab)

	err := w.SetProfile(ctx, ab, Profile{Username: alice, DisplayName: ptr("Bob")})
	assert.ErrorIs(t, err, types.ErrUsernameConflict)
	holder, ok := usernameHolder(t, w, alice.String())
	require.True(t, ok)
	assert.Equal(t, aa, holder)

	require.NoError(t, w.SetProfile(ctx, aa, Profile{}))
	_, ok = usernameHolder(t, w, alice.String())
	assert.False(t, ok)

	require.NoError(t, w.SetProfile(ctx, ab, Profile{Username: alice, DisplayName: ptr("Bob")}))
	got, err := w.GetProfileByName(ctx, *alice)
	require.NoError(t, err)
	require.NotNil(t, got.DisplayName)
	assert.Equal(t, "Bob", *got.DisplayName)
}

func TestSetProfile_RenameFreesPrevious(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	u1 := mustUsername(t, "alice@example.org")
	u2 := mustUsername(t, "al@example.org")

	require.NoError(t, w.SetProfile(ctx, a, Profile{Username: u1}))
	require.NoError(t, w.SetProfile(ctx, a, Profile{Username: u2}))

	_, ok := usernameHolder(t, w, u1.String())
	assert.False(t, ok)
	holder, ok := usernameHolder(t, w, u2.String())
	require.True(t, ok)
	assert.Equal(t, a, holder)

	_, err := w.GetProfileByName(ctx, *u1)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSetProfile_SameUsernameAgain(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	u := mustUsername(t, "alice@example.org")

	require.NoError(t, w.SetProfile(ctx, a, Profile{Username: u}))
	require.NoError(t, w.SetProfile(ctx, a, Profile{Username: u, Bio: ptr("again")}))

	holder, ok := usernameHolder(t, w, u.String())
	require.True(t, ok)
	assert.Equal(t, a, holder)
}

func TestGetProfile_Missing(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")

	_, err := w.GetProfile(ctx, a)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = w.GetProfileByName(ctx, *mustUsername(t, "nobody@example.org"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetProfile_SkipsMalformedLinks(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	require.NoError(t, w.SetProfile(ctx, a, Profile{Links: []WebLink{{URL: "https://ok.example.org"}}}))

	links := w.link(profileKey(a).Append(fieldLinks))
	bad, err := gdata.GetOrInitMap(ctx, w.Graph(), links.Child(gdata.SegStr("bad")))
	require.NoError(t, err)
	_, err = bad.SetKey(ctx, fieldLabel, gdata.String("no url"))
	require.NoError(t, err)
	_, err = gdata.Set(ctx, w.Graph(), links.Child(gdata.SegStr("scalar")), gdata.Uint(1))
	require.NoError(t, err)

	got, err := w.GetProfile(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []WebLink{{URL: "https://ok.example.org"}}, got.Links)
}

func TestDeleteProfile(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	id := gdata.SegStr("alice-id")
	a := newAuthor(t, w, "alice-id")
	require.NoError(t, w.SetProfile(ctx, a, fullProfile(t)))
	require.NoError(t, w.SetAvatar(ctx, a, Avatar{Data: []byte{1, 2, 3}, ContentType: "image/png"}))

	require.NoError(t, w.DeleteProfile(ctx, id))

	_, err := w.GetProfile(ctx, a)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, ok := usernameHolder(t, w, "alice@example.org")
	assert.False(t, ok)
	avatar, err := w.GetAvatar(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, avatar)

	kept, ok, err := w.UserAuthor(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a, kept)

	b := newAuthor(t, w, "bob-id")
	require.NoError(t, w.SetProfile(ctx, b, Profile{Username: mustUsername(t, "alice@example.org")}))

	assert.ErrorIs(t, w.DeleteProfile(ctx, id), types.ErrNotFound)
	assert.ErrorIs(t, w.DeleteProfile(ctx, gdata.SegStr("nobody")), types.ErrNotFound)
}

func TestDeleteProfile_KeepsOtherHoldersName(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")
	b := newAuthor(t, w, "bob-id")
	u := mustUsername(t, "shared@example.org")

	require.NoError(t, w.SetProfile(ctx, a, Profile{Username: u}))
	require.NoError(t, w.SetProfile(ctx, a, Profile{}))
	require.NoError(t, w.SetProfile(ctx, b, Profile{Username: u}))
	require.NoError(t, w.DeleteProfile(ctx, gdata.SegStr("alice-id")))

	holder, ok := usernameHolder(t, w, u.String())
	require.True(t, ok)
	assert.Equal(t, b, holder)
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	want := map[types.AuthorID]Profile{}
	for _, name := range []string{"alice", "bob", "carol"} {
		a := newAuthor(t, w, name+"-id")
		p := Profile{Username: mustUsername(t, name+"@example.org"), AvatarSeed: ptr(name)}
		require.NoError(t, w.SetProfile(ctx, a, p))
		want[a] = p
	}

	got := map[types.AuthorID]Profile{}
	for ap, err := range w.Profiles(ctx) {
		require.NoError(t, err)
		got[ap.Author] = ap.Profile
	}
	assert.Equal(t, want, got)
}

func TestProfiles_Empty(t *testing.T) {
	w := newInstance(t, "example.org")
	for _, err := range w.Profiles(context.Background()) {
		require.NoError(t, err)
		t.Fatal("expected no profiles")
	}
}

func TestAvatar(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org")
	a := newAuthor(t, w, "alice-id")

	got, err := w.GetAvatar(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := Avatar{Data: []byte("\x89PNG"), ContentType: "image/png"}
	require.NoError(t, w.SetAvatar(ctx, a, want))
	require.NoError(t, w.SetProfile(ctx, a, Profile{Bio: ptr("bio")}))

	got, err = w.GetAvatar(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	assert.Error(t, w.SetAvatar(ctx, a, Avatar{Data: []byte{1}}))
}

func TestGetProfileByName_Remote(t *testing.T) {
	ctx := context.Background()
	remote := newInstance(t, "other.test")
	carolAuthor := newAuthor(t, remote, "carol-id")
	carol := Profile{Username: mustUsername(t, "carol@other.test"), AvatarSeed: ptr("c"), Bio: ptr("remote")}
	require.NoError(t, remote.SetProfile(ctx, carolAuthor, carol))
	ticket, err := remote.InstanceTicket(ctx)
	require.NoError(t, err)

	syncer := &copySyncer{from: remote.Store()}
	local := newInstance(t, "example.org",
		WithResolver(stubResolver{"instance.weird.other.test.": {ticket.String()}}),
		WithSyncer(syncer))

	got, err := local.GetProfileByName(ctx, *carol.Username)
	require.NoError(t, err)
	assert.Equal(t, carol, got)
	assert.Equal(t, 1, syncer.calls)

	c, err := local.Store().Capability(ctx, remote.NamespaceID())
	require.NoError(t, err)
	assert.False(t, c.CanWrite())
}

func TestGetProfileByName_RemoteAbsent(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org", WithResolver(stubResolver{"instance.weird.empty.test.": nil}))

	_, err := w.GetProfileByName(ctx, *mustUsername(t, "dave@nowhere.test"))
	assert.ErrorIs(t, err, types.ErrAbsent)
	_, err = w.GetProfileByName(ctx, *mustUsername(t, "dave@empty.test"))
	assert.ErrorIs(t, err, types.ErrAbsent)
}

func TestGetProfileByName_RemoteBadTicket(t *testing.T) {
	ctx := context.Background()
	w := newInstance(t, "example.org", WithResolver(stubResolver{"instance.weird.bad.test.": {"not a ticket"}}))

	_, err := w.GetProfileByName(ctx, *mustUsername(t, "eve@bad.test"))
	assert.ErrorIs(t, err, types.ErrInvalidFormat)
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(`
username: alice@Example.org
display_name: Alice
tags: [go, rust]
work_capacity: full_time
links:
  - url: https://a.example.org
    label: A
lists:
  reading:
    - url: https://book.example.org
`))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", p.Username.String())
	assert.Equal(t, FullTime, *p.WorkCapacity)
	assert.Equal(t, []WebLink{{URL: "https://a.example.org", Label: ptr("A")}}, p.Links)
	assert.Len(t, p.Lists["reading"], 1)

	fromJSON, err := ParseProfile([]byte(`{"bio": "hi", "tags": ["x"]}`))
	require.NoError(t, err)
	assert.Equal(t, Profile{Bio: ptr("hi"), Tags: []string{"x"}}, fromJSON)

	for _, bad := range []string{
		"nickname: al\n",
		"username: no-domain\n",
		"links:\n  - label: missing url\n",
		"lists:\n  reading:\n    - url: https://ok.example.org\n    - label: missing url\n",
		"lists:\n  reading:\n    - url: \"\"\n",
	} {
		_, err := ParseProfile([]byte(bad))
		assert.ErrorIs(t, err, types.ErrInvalidFormat, bad)
	}
}
