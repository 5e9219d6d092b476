// Package weird is the core of a Weird instance: user identities, unique
// usernames, and profiles stored in the instance namespace of a document
// store, with cross-instance username lookup over DNS.
package weird

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mesh-intelligence/weird/pkg/docstore"
	"github.com/mesh-intelligence/weird/pkg/gdata"
	"github.com/mesh-intelligence/weird/pkg/types"
)

// Version is the release version of the weird module.
const Version = "0.1.0"

// Instance data layout. All instance-level maps live under the versioned
// data key; a format change moves to a new version segment and migrates.
const instanceDataVersion = "v1"

var (
	instanceDataKey = gdata.NewKey("data", instanceDataVersion)
	profilesKey     = instanceDataKey.Append(gdata.SegStr("profiles"))
	usernamesKey    = instanceDataKey.Append(gdata.SegStr("usernames"))
	userIDsKey      = instanceDataKey.Append(gdata.SegStr("user_ids"))
)

// Weird is a running instance. It is safe for concurrent use.
type Weird struct {
	secret types.NamespaceSecret
	ns     types.NamespaceID
	domain string

	store     types.DocStore
	ownsStore bool
	graph     *gdata.DocGraph

	resolver Resolver
	syncer   Syncer
	logger   *slog.Logger
	ids      *ulidSource

	// mu serializes username claims and user id bindings, which read an
	// index and then write it.
	mu sync.Mutex
}

// Option configures a Weird instance.
type Option func(*Weird)

// WithResolver sets the resolver used for cross-instance username lookups.
// The default queries the system's nameservers.
func WithResolver(r Resolver) Option {
	return func(w *Weird) { w.resolver = r }
}

// WithSyncer sets how remote namespace data is fetched after a remote
// namespace is imported. The default does nothing.
func WithSyncer(s Syncer) Option {
	return func(w *Weird) { w.syncer = s }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Weird) { w.logger = l }
}

// Open opens the document store described by cfg and starts an instance on
// it. Close releases the store.
func Open(ctx context.Context, cfg types.Config, secret types.NamespaceSecret, domain string, opts ...Option) (*Weird, error) {
	var o Weird
	for _, opt := range opts {
		opt(&o)
	}
	store, err := docstore.Open(ctx, cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	w, err := New(ctx, store, secret, domain, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	w.ownsStore = true
	return w, nil
}

// New starts an instance on an already open store. The caller keeps
// ownership of store.
//
// Startup imports the instance namespace for writing, makes sure the
// instance data map exists, and runs any pending migrations. The domain
// is lowercased, as username domains are.
func New(ctx context.Context, store types.DocStore, secret types.NamespaceSecret, domain string, opts ...Option) (*Weird, error) {
	w := &Weird{
		secret: secret,
		ns:     secret.ID(),
		domain: strings.ToLower(strings.TrimSpace(domain)),
		store:  store,
		ids:    newULIDSource(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.resolver == nil {
		w.resolver = NewDNSResolver()
	}
	if w.syncer == nil {
		w.syncer = nopSyncer{logger: w.logger}
	}

	author, err := store.Authors().Default(ctx)
	if err != nil {
		return nil, fmt.Errorf("default author: %w", err)
	}
	w.graph, err = gdata.NewDocGraph(store, author, gdata.WithLogger(w.logger))
	if err != nil {
		return nil, err
	}
	if err := w.initInstance(ctx); err != nil {
		return nil, err
	}
	if err := w.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate instance data: %w", err)
	}

	w.logger.Info("started weird instance", "instance_id", w.ns, "domain", w.domain)
	return w, nil
}

// initInstance imports the instance namespace with write access and creates
// the instance data map if it is missing.
func (w *Weird) initInstance(ctx context.Context) error {
	if _, err := w.store.ImportNamespace(ctx, types.WriteCapability(w.secret)); err != nil {
		return fmt.Errorf("import instance namespace: %w", err)
	}
	w.graph.ClearCache()
	if _, err := gdata.GetOrInitMap(ctx, w.graph, w.link(instanceDataKey)); err != nil {
		return fmt.Errorf("init instance data: %w", err)
	}
	return nil
}

// migration upgrades instance data written by an older version.
type migration func(ctx context.Context, w *Weird) error

// migrations lists, per instance data version, the steps run on startup to
// bring data from the previous version forward.
var migrations = map[string][]migration{
	instanceDataVersion: nil,
}

func (w *Weird) migrate(ctx context.Context) error {
	for i, m := range migrations[instanceDataVersion] {
		if err := m(ctx, w); err != nil {
			return fmt.Errorf("migration %s/%d: %w", instanceDataVersion, i, err)
		}
	}
	return nil
}

// Close closes the document store if the instance opened it.
func (w *Weird) Close() error {
	if !w.ownsStore {
		return nil
	}
	return w.store.Close()
}

// NamespaceID returns the instance namespace.
func (w *Weird) NamespaceID() types.NamespaceID { return w.ns }

// Domain returns the domain the instance serves usernames for.
func (w *Weird) Domain() string { return w.domain }

// Store returns the underlying document store.
func (w *Weird) Store() types.DocStore { return w.store }

// Graph returns the graph store over the document store.
func (w *Weird) Graph() *gdata.DocGraph { return w.graph }

// InstanceTicket returns the read ticket for the instance namespace. Other
// instances find it in the TXT record at instance.weird.<domain>.
func (w *Weird) InstanceTicket(ctx context.Context) (types.Ticket, error) {
	doc, err := w.store.Open(ctx, w.ns)
	if err != nil {
		return types.Ticket{}, err
	}
	return doc.Share(ctx, types.ShareRead)
}

func (w *Weird) link(key gdata.Key) gdata.Link {
	return gdata.Link{Namespace: w.ns, Key: key}
}
