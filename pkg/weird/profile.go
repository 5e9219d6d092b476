package weird

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/weird/pkg/gdata"
	"github.com/mesh-intelligence/weird/pkg/types"
)

// WorkCapacity is how much time a user has for work.
type WorkCapacity string

const (
	FullTime WorkCapacity = "full_time"
	PartTime WorkCapacity = "part_time"
)

// WorkCompensation is how a user expects to be paid for work.
type WorkCompensation string

const (
	Paid      WorkCompensation = "paid"
	Volunteer WorkCompensation = "volunteer"
)

// WebLink is a link shown on a profile.
type WebLink struct {
	URL   string  `json:"url" yaml:"url"`
	Label *string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Profile is the public data of a user. Absent optional fields are nil.
type Profile struct {
	Username         *Username            `json:"username,omitempty" yaml:"username,omitempty"`
	DisplayName      *string              `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	ContactInfo      *string              `json:"contact_info,omitempty" yaml:"contact_info,omitempty"`
	AvatarSeed       *string              `json:"avatar_seed,omitempty" yaml:"avatar_seed,omitempty"`
	Location         *string              `json:"location,omitempty" yaml:"location,omitempty"`
	Tags             []string             `json:"tags,omitempty" yaml:"tags,omitempty"`
	WorkCapacity     *WorkCapacity        `json:"work_capacity,omitempty" yaml:"work_capacity,omitempty"`
	WorkCompensation *WorkCompensation    `json:"work_compensation,omitempty" yaml:"work_compensation,omitempty"`
	Bio              *string              `json:"bio,omitempty" yaml:"bio,omitempty"`
	Links            []WebLink            `json:"links,omitempty" yaml:"links,omitempty"`
	Lists            map[string][]WebLink `json:"lists,omitempty" yaml:"lists,omitempty"`
}

// ParseProfile decodes a profile from YAML or JSON. Unknown fields are
// rejected.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%w: profile: %v", types.ErrInvalidFormat, err)
	}
	if err := checkLinks("links", p.Links); err != nil {
		return Profile{}, err
	}
	for name, items := range p.Lists {
		if err := checkLinks("list "+name, items); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

func checkLinks(where string, links []WebLink) error {
	for i, l := range links {
		if l.URL == "" {
			return fmt.Errorf("%w: profile %s item %d has no url", types.ErrInvalidFormat, where, i)
		}
	}
	return nil
}

// Avatar is a profile picture.
type Avatar struct {
	Data        []byte
	ContentType string
}

// AuthorProfile pairs a profile with the author it belongs to.
type AuthorProfile struct {
	Author  types.AuthorID
	Profile Profile
}

// Fixed keys inside a profile map.
var (
	fieldUsername         = gdata.SegStr("username")
	fieldDisplayName      = gdata.SegStr("display_name")
	fieldContactInfo      = gdata.SegStr("contact_info")
	fieldAvatarSeed       = gdata.SegStr("avatar_seed")
	fieldLocation         = gdata.SegStr("location")
	fieldTags             = gdata.SegStr("tags")
	fieldWorkCapacity     = gdata.SegStr("work_capacity")
	fieldWorkCompensation = gdata.SegStr("work_compensation")
	fieldBio              = gdata.SegStr("bio")
	fieldLinks            = gdata.SegStr("links")
	fieldLists            = gdata.SegStr("lists")
	fieldAvatar           = gdata.SegStr("avatar")

	fieldURL         = gdata.SegStr("url")
	fieldLabel       = gdata.SegStr("label")
	fieldData        = gdata.SegStr("data")
	fieldContentType = gdata.SegStr("content_type")
)

func authorSegment(a types.AuthorID) gdata.KeySegment { return gdata.SegBytes(a[:]) }

func authorFromValue(v gdata.Value) (types.AuthorID, error) {
	b, err := v.AsBytes()
	if err != nil {
		return types.AuthorID{}, err
	}
	return types.AuthorIDFromBytes(b)
}

func strOrNull(s *string) gdata.Value {
	if s == nil {
		return gdata.Null()
	}
	return gdata.String(*s)
}

// optStr reads child seg of m as a string. Anything but a String is nil.
func optStr(ctx context.Context, m *gdata.GraphValue, seg gdata.KeySegment) (*string, error) {
	gv, err := m.GetKey(ctx, seg)
	if err != nil {
		return nil, err
	}
	s, err := gv.AsStr()
	if err != nil {
		return nil, nil
	}
	return &s, nil
}

// submap reads child seg of m, reporting ok only when it is a map.
func submap(ctx context.Context, m *gdata.GraphValue, seg gdata.KeySegment) (*gdata.GraphValue, bool, error) {
	gv, err := m.GetKey(ctx, seg)
	if err != nil {
		return nil, false, err
	}
	return gv, gv.IsMap(), nil
}

// readProfile loads the profile stored in map m.
func readProfile(ctx context.Context, m *gdata.GraphValue) (Profile, error) {
	var p Profile
	var err error
	for _, f := range []struct {
		seg gdata.KeySegment
		dst **string
	}{
		{fieldDisplayName, &p.DisplayName},
		{fieldContactInfo, &p.ContactInfo},
		{fieldAvatarSeed, &p.AvatarSeed},
		{fieldLocation, &p.Location},
		{fieldBio, &p.Bio},
	} {
		if *f.dst, err = optStr(ctx, m, f.seg); err != nil {
			return Profile{}, err
		}
	}

	name, err := optStr(ctx, m, fieldUsername)
	if err != nil {
		return Profile{}, err
	}
	if name != nil {
		if u, err := ParseUsername(*name); err == nil {
			p.Username = &u
		}
	}

	capacity, err := optStr(ctx, m, fieldWorkCapacity)
	if err != nil {
		return Profile{}, err
	}
	if capacity != nil {
		switch c := WorkCapacity(*capacity); c {
		case FullTime, PartTime:
			p.WorkCapacity = &c
		}
	}
	compensation, err := optStr(ctx, m, fieldWorkCompensation)
	if err != nil {
		return Profile{}, err
	}
	if compensation != nil {
		switch c := WorkCompensation(*compensation); c {
		case Paid, Volunteer:
			p.WorkCompensation = &c
		}
	}

	if tags, ok, err := submap(ctx, m, fieldTags); err != nil {
		return Profile{}, err
	} else if ok {
		for item, err := range tags.ListItems(ctx) {
			if err != nil {
				return Profile{}, err
			}
			seg, _ := item.Link.Key.Last()
			tag, ok := seg.AsStr()
			if !ok {
				return Profile{}, fmt.Errorf("%w: tag key %s is not a string", types.ErrKindMismatch, seg)
			}
			p.Tags = append(p.Tags, tag)
		}
		slices.Sort(p.Tags)
	}

	if links, ok, err := submap(ctx, m, fieldLinks); err != nil {
		return Profile{}, err
	} else if ok {
		if p.Links, err = readLinks(ctx, links); err != nil {
			return Profile{}, err
		}
	}

	if lists, ok, err := submap(ctx, m, fieldLists); err != nil {
		return Profile{}, err
	} else if ok {
		for item, err := range lists.ListItems(ctx) {
			if err != nil {
				return Profile{}, err
			}
			seg, _ := item.Link.Key.Last()
			name, isStr := seg.AsStr()
			if !isStr || !item.IsMap() {
				continue
			}
			links, err := readLinks(ctx, item)
			if err != nil {
				return Profile{}, err
			}
			if p.Lists == nil {
				p.Lists = make(map[string][]WebLink)
			}
			p.Lists[name] = links
		}
	}
	return p, nil
}

// readLinks reads the link maps under m in ULID order. Entries without a
// url are skipped.
func readLinks(ctx context.Context, m *gdata.GraphValue) ([]WebLink, error) {
	var items []*gdata.GraphValue
	for item, err := range m.ListItems(ctx) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	// Framed segments do not sort like their raw bytes.
	slices.SortFunc(items, func(a, b *gdata.GraphValue) int {
		sa, _ := a.Link.Key.Last()
		sb, _ := b.Link.Key.Last()
		return sa.Compare(sb)
	})

	var out []WebLink
	for _, item := range items {
		if !item.IsMap() {
			continue
		}
		url, err := optStr(ctx, item, fieldURL)
		if err != nil {
			return nil, err
		}
		if url == nil {
			continue
		}
		label, err := optStr(ctx, item, fieldLabel)
		if err != nil {
			return nil, err
		}
		out = append(out, WebLink{URL: *url, Label: label})
	}
	return out, nil
}

// writeProfile stores p into map m, replacing every field.
func (w *Weird) writeProfile(ctx context.Context, m *gdata.GraphValue, p Profile) error {
	var username *string
	if p.Username != nil {
		s := p.Username.String()
		username = &s
	}
	avatarSeed := p.AvatarSeed
	if avatarSeed == nil {
		avatarSeed = username
	}
	var capacity, compensation *string
	if p.WorkCapacity != nil {
		s := string(*p.WorkCapacity)
		capacity = &s
	}
	if p.WorkCompensation != nil {
		s := string(*p.WorkCompensation)
		compensation = &s
	}

	for _, f := range []struct {
		seg gdata.KeySegment
		val *string
	}{
		{fieldUsername, username},
		{fieldDisplayName, p.DisplayName},
		{fieldAvatarSeed, avatarSeed},
		{fieldLocation, p.Location},
		{fieldContactInfo, p.ContactInfo},
		{fieldWorkCapacity, capacity},
		{fieldWorkCompensation, compensation},
		{fieldBio, p.Bio},
	} {
		if _, err := m.SetKey(ctx, f.seg, strOrNull(f.val)); err != nil {
			return err
		}
	}

	tags, err := clearedSubmap(ctx, m, fieldTags)
	if err != nil {
		return err
	}
	for _, tag := range p.Tags {
		if _, err := tags.SetKey(ctx, gdata.SegStr(tag), gdata.Null()); err != nil {
			return err
		}
	}

	links, err := clearedSubmap(ctx, m, fieldLinks)
	if err != nil {
		return err
	}
	if err := w.writeLinks(ctx, links, p.Links); err != nil {
		return err
	}

	lists, err := clearedSubmap(ctx, m, fieldLists)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(p.Lists))
	for name := range p.Lists {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		list, err := lists.GetKeyOrInitMap(ctx, gdata.SegStr(name))
		if err != nil {
			return err
		}
		if err := w.writeLinks(ctx, list, p.Lists[name]); err != nil {
			return err
		}
	}
	return nil
}

// clearedSubmap returns child seg of m as an empty map.
func clearedSubmap(ctx context.Context, m *gdata.GraphValue, seg gdata.KeySegment) (*gdata.GraphValue, error) {
	sub, err := m.GetKeyOrInitMap(ctx, seg)
	if err != nil {
		return nil, err
	}
	if err := sub.DelAllKeys(ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

func (w *Weird) writeLinks(ctx context.Context, m *gdata.GraphValue, links []WebLink) error {
	for _, l := range links {
		item, err := m.GetKeyOrInitMap(ctx, w.ids.segment())
		if err != nil {
			return err
		}
		if _, err := item.SetKey(ctx, fieldURL, gdata.String(l.URL)); err != nil {
			return err
		}
		if _, err := item.SetKey(ctx, fieldLabel, strOrNull(l.Label)); err != nil {
			return err
		}
	}
	return nil
}

// GetOrInitAuthor returns the author bound to userID, creating and binding
// a new author on first use. A binding is never changed afterwards.
func (w *Weird) GetOrInitAuthor(ctx context.Context, userID gdata.KeySegment) (types.AuthorID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if author, ok, err := w.UserAuthor(ctx, userID); err != nil || ok {
		return author, err
	}
	author, err := w.store.Authors().Create(ctx)
	if err != nil {
		return types.AuthorID{}, fmt.Errorf("create author: %w", err)
	}
	ids, err := gdata.GetOrInitMap(ctx, w.graph, w.link(userIDsKey))
	if err != nil {
		return types.AuthorID{}, err
	}
	if _, err := ids.SetKey(ctx, userID, gdata.Bytes(author[:])); err != nil {
		return types.AuthorID{}, err
	}
	w.logger.Debug("created author for user", "user_id", userID, "author", author.Short())
	return author, nil
}

// UserAuthor returns the author bound to userID; ok is false when there is
// none.
func (w *Weird) UserAuthor(ctx context.Context, userID gdata.KeySegment) (author types.AuthorID, ok bool, err error) {
	gv, err := w.graph.Get(ctx, w.link(userIDsKey.Append(userID)))
	if err != nil {
		return types.AuthorID{}, false, err
	}
	if gv.IsNull() {
		return types.AuthorID{}, false, nil
	}
	author, err = authorFromValue(gv.Value)
	if err != nil {
		return types.AuthorID{}, false, fmt.Errorf("user id %s: %w", userID, err)
	}
	return author, true, nil
}

func profileKey(author types.AuthorID) gdata.Key {
	return profilesKey.Append(authorSegment(author))
}

// GetProfile returns the profile of author on this instance.
func (w *Weird) GetProfile(ctx context.Context, author types.AuthorID) (Profile, error) {
	return w.profileIn(ctx, w.ns, author)
}

func (w *Weird) profileIn(ctx context.Context, ns types.NamespaceID, author types.AuthorID) (Profile, error) {
	m, err := w.graph.Get(ctx, gdata.Link{Namespace: ns, Key: profileKey(author)})
	if err != nil {
		return Profile{}, err
	}
	if !m.IsMap() {
		return Profile{}, fmt.Errorf("%w: no profile for author %s", types.ErrNotFound, author.Short())
	}
	return readProfile(ctx, m)
}

// SetProfile replaces the profile of author. A username must belong to this
// instance's domain and must not be held by another author; claiming one
// releases the author's previous username.
func (w *Weird) SetProfile(ctx context.Context, author types.AuthorID, p Profile) error {
	if p.Username != nil {
		if err := p.Username.validate(); err != nil {
			return err
		}
		if p.Username.Domain != w.domain {
			return fmt.Errorf("%w: %s is not on %s", types.ErrDomainMismatch, p.Username, w.domain)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.claimUsername(ctx, author, p.Username); err != nil {
		return err
	}

	profiles, err := gdata.GetOrInitMap(ctx, w.graph, w.link(profilesKey))
	if err != nil {
		return err
	}
	m, err := profiles.WithAuthor(author).GetKeyOrInitMap(ctx, authorSegment(author))
	if err != nil {
		return err
	}
	if err := w.writeProfile(ctx, m, p); err != nil {
		return fmt.Errorf("write profile %s: %w", author.Short(), err)
	}
	return nil
}

// claimUsername points username at author and releases whatever username
// author held before. A nil username only releases.
func (w *Weird) claimUsername(ctx context.Context, author types.AuthorID, username *Username) error {
	usernames, err := gdata.GetOrInitMap(ctx, w.graph, w.link(usernamesKey))
	if err != nil {
		return err
	}
	if username != nil {
		holder, err := usernames.GetKey(ctx, gdata.SegStr(username.String()))
		if err != nil {
			return err
		}
		if !holder.IsNull() {
			current, err := authorFromValue(holder.Value)
			if err != nil {
				return fmt.Errorf("username %s: %w", username, err)
			}
			if current != author {
				return fmt.Errorf("%w: %s", types.ErrUsernameConflict, username)
			}
		}
	}

	prev, err := w.heldUsername(ctx, author)
	if err != nil {
		return err
	}
	if prev != nil && (username == nil || *prev != *username) {
		if err := w.releaseUsername(ctx, usernames, author, *prev); err != nil {
			return err
		}
	}
	if username != nil {
		if _, err := usernames.SetKey(ctx, gdata.SegStr(username.String()), gdata.Bytes(author[:])); err != nil {
			return err
		}
	}
	return nil
}

// heldUsername returns the username recorded in author's profile.
func (w *Weird) heldUsername(ctx context.Context, author types.AuthorID) (*Username, error) {
	gv, err := w.graph.Get(ctx, w.link(profileKey(author).Append(fieldUsername)))
	if err != nil {
		return nil, err
	}
	s, err := gv.AsStr()
	if err != nil {
		return nil, nil
	}
	u, err := ParseUsername(s)
	if err != nil {
		return nil, nil
	}
	return &u, nil
}

// releaseUsername deletes the index entry for u if it points at author.
func (w *Weird) releaseUsername(ctx context.Context, usernames *gdata.GraphValue, author types.AuthorID, u Username) error {
	seg := gdata.SegStr(u.String())
	holder, err := usernames.GetKey(ctx, seg)
	if err != nil {
		return err
	}
	if current, err := authorFromValue(holder.Value); err != nil || current != author {
		return nil
	}
	return usernames.DelKey(ctx, seg)
}

// GetProfileByName finds the profile holding username. Usernames on other
// domains are resolved on their own instance: its namespace ticket is read
// from DNS, imported, synced, and searched the same way.
func (w *Weird) GetProfileByName(ctx context.Context, username Username) (Profile, error) {
	if username.Domain == w.domain {
		return w.profileByNameIn(ctx, w.ns, username)
	}

	record := instanceRecord(username.Domain)
	txts, err := w.resolver.LookupTXT(ctx, record)
	if err != nil {
		return Profile{}, fmt.Errorf("resolve instance for %s: %w", username.Domain, err)
	}
	if len(txts) == 0 {
		return Profile{}, fmt.Errorf("%w: no TXT record at %s", types.ErrAbsent, record)
	}
	ticket, err := types.ParseTicket(txts[0])
	if err != nil {
		return Profile{}, fmt.Errorf("parse ticket at %s: %w", record, err)
	}
	ns := ticket.Capability.ID()
	w.logger.Debug("resolved remote instance", "domain", username.Domain, "namespace", ns.Short())

	doc, err := w.store.ImportNamespace(ctx, ticket.Capability.Read())
	if err != nil {
		return Profile{}, fmt.Errorf("import namespace of %s: %w", username.Domain, err)
	}
	w.graph.ClearCache()
	if err := w.syncer.Sync(ctx, doc, ticket.Nodes); err != nil {
		return Profile{}, fmt.Errorf("sync namespace of %s: %w", username.Domain, err)
	}
	return w.profileByNameIn(ctx, ns, username)
}

func (w *Weird) profileByNameIn(ctx context.Context, ns types.NamespaceID, username Username) (Profile, error) {
	gv, err := w.graph.Get(ctx, gdata.Link{Namespace: ns, Key: usernamesKey.Append(gdata.SegStr(username.String()))})
	if err != nil {
		return Profile{}, err
	}
	if gv.IsNull() {
		return Profile{}, fmt.Errorf("%w: user %s", types.ErrNotFound, username)
	}
	author, err := authorFromValue(gv.Value)
	if err != nil {
		return Profile{}, fmt.Errorf("username %s: %w", username, err)
	}
	return w.profileIn(ctx, ns, author)
}

// DeleteProfile removes the profile of the user bound to userID and releases
// its username. The user id keeps its author.
func (w *Weird) DeleteProfile(ctx context.Context, userID gdata.KeySegment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	author, ok, err := w.UserAuthor(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user id %s", types.ErrNotFound, userID)
	}
	m, err := w.graph.Get(ctx, w.link(profileKey(author)))
	if err != nil {
		return err
	}
	if !m.IsMap() {
		return fmt.Errorf("%w: no profile for user id %s", types.ErrNotFound, userID)
	}
	if err := w.claimUsername(ctx, author, nil); err != nil {
		return err
	}
	m = m.WithAuthor(author)
	if err := m.DelAllKeys(ctx); err != nil {
		return fmt.Errorf("delete profile %s: %w", author.Short(), err)
	}
	return w.graph.DelWithAuthor(ctx, m.Link, author)
}

// Profiles yields every profile on this instance with its author.
func (w *Weird) Profiles(ctx context.Context) iter.Seq2[AuthorProfile, error] {
	return func(yield func(AuthorProfile, error) bool) {
		profiles, err := w.graph.Get(ctx, w.link(profilesKey))
		if err != nil {
			yield(AuthorProfile{}, err)
			return
		}
		if !profiles.IsMap() {
			return
		}
		for m, err := range profiles.ListItems(ctx) {
			if err != nil {
				yield(AuthorProfile{}, err)
				return
			}
			if !m.IsMap() {
				continue
			}
			seg, _ := m.Link.Key.Last()
			raw, _ := seg.AsBytes()
			author, err := types.AuthorIDFromBytes(raw)
			if err != nil {
				yield(AuthorProfile{}, fmt.Errorf("profile key %s: %w", seg, err))
				return
			}
			p, err := readProfile(ctx, m)
			if !yield(AuthorProfile{Author: author, Profile: p}, err) || err != nil {
				return
			}
		}
	}
}

// GetAvatar returns the avatar of author, or nil when none is set.
func (w *Weird) GetAvatar(ctx context.Context, author types.AuthorID) (*Avatar, error) {
	key := profileKey(author).Append(fieldAvatar)
	data, err := w.graph.Get(ctx, w.link(key.Append(fieldData)))
	if err != nil {
		return nil, err
	}
	ct, err := w.graph.Get(ctx, w.link(key.Append(fieldContentType)))
	if err != nil {
		return nil, err
	}
	b, errData := data.AsBytes()
	s, errCT := ct.AsStr()
	if errData != nil || errCT != nil {
		return nil, nil
	}
	return &Avatar{Data: b, ContentType: s}, nil
}

// SetAvatar stores the avatar of author.
func (w *Weird) SetAvatar(ctx context.Context, author types.AuthorID, a Avatar) error {
	if a.ContentType == "" {
		return errors.New("avatar content type is required")
	}
	profiles, err := gdata.GetOrInitMap(ctx, w.graph, w.link(profilesKey))
	if err != nil {
		return err
	}
	m, err := profiles.WithAuthor(author).GetKeyOrInitMap(ctx, authorSegment(author))
	if err != nil {
		return err
	}
	avatar, err := m.GetKeyOrInitMap(ctx, fieldAvatar)
	if err != nil {
		return err
	}
	if _, err := avatar.SetKey(ctx, fieldData, gdata.Bytes(a.Data)); err != nil {
		return err
	}
	_, err = avatar.SetKey(ctx, fieldContentType, gdata.String(a.ContentType))
	return err
}
