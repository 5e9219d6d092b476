package weird

import (
	"context"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/weird/pkg/gdata"
	"github.com/mesh-intelligence/weird/pkg/types"
)

// ExportVersion is the version of the stable export format written by
// ExportDB. ImportDB accepts only this version.
const ExportVersion uint32 = 1

// ExportFormat is the stable, version-tagged dump of an instance. Maps are
// keyed by text forms so the encoding is deterministic.
type ExportFormat struct {
	Version        uint32                    `json:"version" yaml:"version"`
	InstanceAuthor types.AuthorSecret        `json:"instance_author" yaml:"instance_author"`
	Authors        []types.AuthorSecret      `json:"authors" yaml:"authors"`
	Profiles       map[string]Profile        `json:"profiles" yaml:"profiles"`
	UserIDs        map[string]types.AuthorID `json:"user_ids" yaml:"user_ids"`
	Usernames      map[string]types.AuthorID `json:"usernames" yaml:"usernames"`
}

// RawExport is every author secret and every live record of every
// namespace held by the store.
type RawExport struct {
	Authors    []types.AuthorSecret `json:"authors" yaml:"authors"`
	Namespaces []RawNamespace       `json:"namespaces" yaml:"namespaces"`
}

// RawNamespace is one namespace of a RawExport.
type RawNamespace struct {
	Capability types.Capability `json:"capability" yaml:"capability"`
	Records    []RawRecord      `json:"records" yaml:"records"`
}

// RawRecord is one live entry.
type RawRecord struct {
	Key    gdata.Key      `json:"key" yaml:"key"`
	Value  gdata.Value    `json:"value" yaml:"value"`
	Author types.AuthorID `json:"author" yaml:"author"`
}

func (w *Weird) authorSecrets(ctx context.Context) ([]types.AuthorSecret, error) {
	var out []types.AuthorSecret
	for id, err := range w.store.Authors().List(ctx) {
		if err != nil {
			return nil, err
		}
		secret, ok, err := w.store.Authors().Export(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export author %s: %w", id.Short(), err)
		}
		if ok {
			out = append(out, secret)
		}
	}
	return out, nil
}

// indexEntries reads an index map of author ids keyed by segment.
func (w *Weird) indexEntries(ctx context.Context, key gdata.Key, text func(gdata.KeySegment) (string, bool)) (map[string]types.AuthorID, error) {
	out := make(map[string]types.AuthorID)
	m, err := w.graph.Get(ctx, w.link(key))
	if err != nil {
		return nil, err
	}
	if !m.IsMap() {
		return out, nil
	}
	for item, err := range m.ListItems(ctx) {
		if err != nil {
			return nil, err
		}
		seg, _ := item.Link.Key.Last()
		name, ok := text(seg)
		if !ok {
			continue
		}
		author, err := authorFromValue(item.Value)
		if err != nil {
			w.logger.Warn("skipping malformed index entry", "key", item.Link.Key, "error", err)
			continue
		}
		out[name] = author
	}
	return out, nil
}

// ExportDB returns the stable export of this instance.
func (w *Weird) ExportDB(ctx context.Context) (*ExportFormat, error) {
	def := w.graph.DefaultAuthor()
	instance, ok, err := w.store.Authors().Export(ctx, def)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: instance author %s", types.ErrAuthorUnknown, def.Short())
	}
	authors, err := w.authorSecrets(ctx)
	if err != nil {
		return nil, err
	}

	out := &ExportFormat{
		Version:        ExportVersion,
		InstanceAuthor: instance,
		Authors:        authors,
		Profiles:       make(map[string]Profile),
	}
	for ap, err := range w.Profiles(ctx) {
		if err != nil {
			return nil, err
		}
		out.Profiles[ap.Author.String()] = ap.Profile
	}
	if out.UserIDs, err = w.indexEntries(ctx, userIDsKey, func(s gdata.KeySegment) (string, bool) {
		return s.String(), true
	}); err != nil {
		return nil, err
	}
	if out.Usernames, err = w.indexEntries(ctx, usernamesKey, gdata.KeySegment.AsStr); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportDB replaces the instance data with data. It first takes a raw
// export of the whole store and returns it, so a failed or unwanted import
// can be undone with ImportDBRaw.
func (w *Weird) ImportDB(ctx context.Context, data *ExportFormat) (*RawExport, error) {
	if data.Version != ExportVersion {
		return nil, fmt.Errorf("%w: %d", types.ErrUnsupportedVersion, data.Version)
	}
	rescue, err := w.ExportDBRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("rescue export: %w", err)
	}

	if err := w.replaceIndexes(ctx, data); err != nil {
		return rescue, err
	}

	authors := make([]string, 0, len(data.Profiles))
	for a := range data.Profiles {
		authors = append(authors, a)
	}
	slices.Sort(authors)
	for _, text := range authors {
		author, err := types.ParseAuthorID(text)
		if err != nil {
			return rescue, fmt.Errorf("profile author %q: %w", text, err)
		}
		if err := w.SetProfile(ctx, author, data.Profiles[text]); err != nil {
			return rescue, fmt.Errorf("import profile %s: %w", author.Short(), err)
		}
	}

	w.logger.Info("imported instance data",
		"authors", len(data.Authors), "profiles", len(data.Profiles),
		"user_ids", len(data.UserIDs), "usernames", len(data.Usernames))
	return rescue, nil
}

// replaceIndexes wipes the instance data, imports the author secrets, and
// writes the user id and username indexes from data.
func (w *Weird) replaceIndexes(ctx context.Context, data *ExportFormat) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	root, err := gdata.GetOrInitMap(ctx, w.graph, w.link(instanceDataKey))
	if err != nil {
		return err
	}
	if err := root.DelAllKeys(ctx); err != nil {
		return fmt.Errorf("clear instance data: %w", err)
	}

	for _, secret := range append([]types.AuthorSecret{data.InstanceAuthor}, data.Authors...) {
		if _, err := w.store.Authors().Import(ctx, secret); err != nil {
			return fmt.Errorf("import author %s: %w", secret.ID().Short(), err)
		}
	}

	ids, err := gdata.GetOrInitMap(ctx, w.graph, w.link(userIDsKey))
	if err != nil {
		return err
	}
	for text, author := range data.UserIDs {
		seg, err := gdata.ParseSegment(text)
		if err != nil {
			return fmt.Errorf("user id %q: %w", text, err)
		}
		if _, err := ids.SetKey(ctx, seg, gdata.Bytes(author[:])); err != nil {
			return err
		}
	}

	usernames, err := gdata.GetOrInitMap(ctx, w.graph, w.link(usernamesKey))
	if err != nil {
		return err
	}
	for name, author := range data.Usernames {
		if _, err := usernames.SetKey(ctx, gdata.SegStr(name), gdata.Bytes(author[:])); err != nil {
			return err
		}
	}
	return nil
}

// ExportDBRaw dumps every author secret and the latest live entry of every
// key in every namespace held by the store.
func (w *Weird) ExportDBRaw(ctx context.Context) (*RawExport, error) {
	authors, err := w.authorSecrets(ctx)
	if err != nil {
		return nil, err
	}
	out := &RawExport{Authors: authors}

	var infos []types.NamespaceInfo
	for info, err := range w.store.Namespaces(ctx) {
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	for _, info := range infos {
		ns, err := w.exportNamespace(ctx, info.ID)
		if err != nil {
			return nil, fmt.Errorf("export namespace %s: %w", info.ID.Short(), err)
		}
		out.Namespaces = append(out.Namespaces, ns)
	}
	return out, nil
}

func (w *Weird) exportNamespace(ctx context.Context, id types.NamespaceID) (RawNamespace, error) {
	doc, err := w.store.Open(ctx, id)
	if err != nil {
		return RawNamespace{}, err
	}
	out := RawNamespace{Capability: doc.Capability()}
	for e, err := range doc.GetMany(ctx, types.QueryAll().SingleLatestPerKey()) {
		if err != nil {
			return RawNamespace{}, err
		}
		key, err := gdata.DecodeKey(e.Key)
		if err != nil {
			return RawNamespace{}, err
		}
		content, err := doc.ContentBytes(ctx, e)
		if err != nil {
			return RawNamespace{}, err
		}
		v, err := gdata.DecodeValue(content)
		if err != nil {
			return RawNamespace{}, fmt.Errorf("value at %s: %w", key, err)
		}
		out.Records = append(out.Records, RawRecord{Key: key, Value: v, Author: e.Author})
	}
	return out, nil
}

// ImportDBRaw replaces the whole store with data: every namespace is
// dropped, then the authors and namespaces in data are imported. Records
// are stamped with the local clock. It returns a raw export taken before
// anything was changed.
//
// Keys are copied as they are. Link and list items are read back in the
// byte order of their big-endian ULID keys, whatever order the records
// arrive in; items keyed by little-endian ULIDs keep their data but read
// back in arbitrary order.
func (w *Weird) ImportDBRaw(ctx context.Context, data *RawExport) (*RawExport, error) {
	rescue, err := w.ExportDBRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("rescue export: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var drop []types.NamespaceID
	for info, err := range w.store.Namespaces(ctx) {
		if err != nil {
			return rescue, err
		}
		drop = append(drop, info.ID)
	}
	for _, ns := range drop {
		if err := w.store.Drop(ctx, ns); err != nil {
			return rescue, fmt.Errorf("drop namespace %s: %w", ns.Short(), err)
		}
	}
	w.graph.ClearCache()

	for _, secret := range data.Authors {
		if _, err := w.store.Authors().Import(ctx, secret); err != nil {
			return rescue, fmt.Errorf("import author %s: %w", secret.ID().Short(), err)
		}
	}

	records := 0
	for _, ns := range data.Namespaces {
		doc, err := w.store.ImportNamespace(ctx, ns.Capability)
		if err != nil {
			return rescue, fmt.Errorf("import namespace %s: %w", ns.Capability.ID().Short(), err)
		}
		for _, r := range ns.Records {
			key, err := r.Key.Encode()
			if err != nil {
				return rescue, err
			}
			content, err := r.Value.Encode()
			if err != nil {
				return rescue, err
			}
			e := types.Entry{
				Key:    key,
				Author: r.Author,
				Hash:   types.DigestOf(content),
				Len:    uint64(len(content)),
			}
			if err := doc.Insert(ctx, e, content); err != nil {
				return rescue, fmt.Errorf("insert %s: %w", r.Key, err)
			}
			records++
		}
	}

	if err := w.initInstance(ctx); err != nil {
		return rescue, err
	}
	w.logger.Info("imported raw store",
		"authors", len(data.Authors), "namespaces", len(data.Namespaces), "records", records)
	return rescue, nil
}
