package node

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Setting names.
const (
	settingNodeID        = "node_id"
	settingDefaultAuthor = "default_author"
)

// Store is a types.DocStore backed by an Engine.
type Store struct {
	engine Engine
	logger *slog.Logger
	clock  *clock
	addrs  []string

	nodeID        uuid.UUID
	defaultAuthor types.AuthorID

	// mu serializes writes so read-compare-write sequences on entries are
	// not interleaved.
	mu     sync.Mutex
	closed atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAddrs sets the addresses advertised in share tickets.
func WithAddrs(addrs []string) Option {
	return func(s *Store) { s.addrs = addrs }
}

// New opens a Store over engine, creating the node id and default author on
// first use. The Store owns the engine and closes it on Close.
func New(ctx context.Context, engine Engine, opts ...Option) (*Store, error) {
	s := &Store{engine: engine, logger: slog.Default(), clock: newClock()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.loadNodeID(ctx); err != nil {
		return nil, err
	}
	if err := s.loadDefaultAuthor(ctx); err != nil {
		return nil, err
	}
	s.logger.Debug("opened doc store", "node_id", s.nodeID, "default_author", s.defaultAuthor.Short())
	return s, nil
}

func (s *Store) loadNodeID(ctx context.Context) error {
	raw, ok, err := s.engine.Setting(ctx, settingNodeID)
	if err != nil {
		return fmt.Errorf("read node id: %w", err)
	}
	if ok {
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return fmt.Errorf("%w: stored node id: %v", types.ErrInvalidFormat, err)
		}
		s.nodeID = id
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate node id: %w", err)
	}
	if err := s.engine.PutSetting(ctx, settingNodeID, id[:]); err != nil {
		return fmt.Errorf("write node id: %w", err)
	}
	s.nodeID = id
	return nil
}

func (s *Store) loadDefaultAuthor(ctx context.Context) error {
	raw, ok, err := s.engine.Setting(ctx, settingDefaultAuthor)
	if err != nil {
		return fmt.Errorf("read default author: %w", err)
	}
	if ok {
		id, err := types.AuthorIDFromBytes(raw)
		if err != nil {
			return err
		}
		s.defaultAuthor = id
		return nil
	}
	id, err := s.createAuthor(ctx)
	if err != nil {
		return err
	}
	if err := s.engine.PutSetting(ctx, settingDefaultAuthor, id[:]); err != nil {
		return fmt.Errorf("write default author: %w", err)
	}
	s.defaultAuthor = id
	return nil
}

func (s *Store) createAuthor(ctx context.Context) (types.AuthorID, error) {
	secret, err := types.NewAuthorSecret()
	if err != nil {
		return types.AuthorID{}, err
	}
	if err := s.engine.PutAuthor(ctx, secret); err != nil {
		return types.AuthorID{}, fmt.Errorf("store author: %w", err)
	}
	return secret.ID(), nil
}

func (s *Store) live() error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}
	return nil
}

// NodeID identifies this store. It is generated once and kept in settings.
func (s *Store) NodeID() uuid.UUID { return s.nodeID }

// Authors returns the author registry.
func (s *Store) Authors() types.Authors { return authors{s} }

// Blobs returns the blob store.
func (s *Store) Blobs() types.Blobs { return blobs{s} }

// Close closes the engine. Further calls fail with types.ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.engine.Close()
}

// Open returns a handle on a namespace the store holds a capability for.
func (s *Store) Open(ctx context.Context, ns types.NamespaceID) (types.Doc, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	if _, err := s.capability(ctx, ns); err != nil {
		return nil, err
	}
	return &doc{store: s, ns: ns}, nil
}

// Create makes a fresh namespace with a write capability.
func (s *Store) Create(ctx context.Context) (types.Doc, error) {
	secret, err := types.NewNamespaceSecret()
	if err != nil {
		return nil, err
	}
	return s.ImportNamespace(ctx, types.WriteCapability(secret))
}

// ImportNamespace records c, merging it with any capability already held.
// A write capability is never downgraded by a later read import.
func (s *Store) ImportNamespace(ctx context.Context, c types.Capability) (types.Doc, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok, err := s.engine.Namespace(ctx, c.ID())
	if err != nil {
		return nil, fmt.Errorf("read namespace: %w", err)
	}
	if ok {
		if c, err = existing.Merge(c); err != nil {
			return nil, err
		}
	}
	if err := s.engine.PutNamespace(ctx, c); err != nil {
		return nil, fmt.Errorf("store namespace: %w", err)
	}
	s.logger.Debug("imported namespace", "namespace", c.ID().Short(), "capability", c.Kind)
	return &doc{store: s, ns: c.ID()}, nil
}

// Drop forgets the namespace and all its entries. Unknown namespaces are
// types.ErrDocNotFound.
func (s *Store) Drop(ctx context.Context, ns types.NamespaceID) error {
	if err := s.live(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.engine.Namespace(ctx, ns); err != nil {
		return fmt.Errorf("read namespace: %w", err)
	} else if !ok {
		return types.ErrDocNotFound
	}
	if err := s.engine.DeleteNamespace(ctx, ns); err != nil {
		return fmt.Errorf("drop namespace: %w", err)
	}
	s.logger.Debug("dropped namespace", "namespace", ns.Short())
	return nil
}

// Namespaces yields the id and capability kind of every held namespace.
func (s *Store) Namespaces(ctx context.Context) iter.Seq2[types.NamespaceInfo, error] {
	return func(yield func(types.NamespaceInfo, error) bool) {
		if err := s.live(); err != nil {
			yield(types.NamespaceInfo{}, err)
			return
		}
		caps, err := s.engine.NamespaceList(ctx)
		if err != nil {
			yield(types.NamespaceInfo{}, fmt.Errorf("list namespaces: %w", err))
			return
		}
		for _, c := range caps {
			if !yield(types.NamespaceInfo{ID: c.ID(), Kind: c.Kind}, nil) {
				return
			}
		}
	}
}

// Capability returns the capability held for ns.
func (s *Store) Capability(ctx context.Context, ns types.NamespaceID) (types.Capability, error) {
	if err := s.live(); err != nil {
		return types.Capability{}, err
	}
	return s.capability(ctx, ns)
}

func (s *Store) capability(ctx context.Context, ns types.NamespaceID) (types.Capability, error) {
	c, ok, err := s.engine.Namespace(ctx, ns)
	if err != nil {
		return types.Capability{}, fmt.Errorf("read namespace: %w", err)
	}
	if !ok {
		return types.Capability{}, types.ErrDocNotFound
	}
	return c, nil
}

// authorKnown fails with types.ErrAuthorUnknown unless the store holds the
// secret for id; a store only signs as authors it holds.
func (s *Store) authorKnown(ctx context.Context, id types.AuthorID) error {
	_, ok, err := s.engine.Author(ctx, id)
	if err != nil {
		return fmt.Errorf("read author: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrAuthorUnknown, id.Short())
	}
	return nil
}

type authors struct{ s *Store }

// Default returns the author the store was opened with.
func (a authors) Default(context.Context) (types.AuthorID, error) {
	if err := a.s.live(); err != nil {
		return types.AuthorID{}, err
	}
	return a.s.defaultAuthor, nil
}

// Create generates and stores a new author.
func (a authors) Create(ctx context.Context) (types.AuthorID, error) {
	if err := a.s.live(); err != nil {
		return types.AuthorID{}, err
	}
	return a.s.createAuthor(ctx)
}

// List yields every stored author id.
func (a authors) List(ctx context.Context) iter.Seq2[types.AuthorID, error] {
	return func(yield func(types.AuthorID, error) bool) {
		if err := a.s.live(); err != nil {
			yield(types.AuthorID{}, err)
			return
		}
		ids, err := a.s.engine.AuthorIDs(ctx)
		if err != nil {
			yield(types.AuthorID{}, fmt.Errorf("list authors: %w", err))
			return
		}
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// Import stores secret and returns its id.
func (a authors) Import(ctx context.Context, secret types.AuthorSecret) (types.AuthorID, error) {
	if err := a.s.live(); err != nil {
		return types.AuthorID{}, err
	}
	if err := a.s.engine.PutAuthor(ctx, secret); err != nil {
		return types.AuthorID{}, fmt.Errorf("store author: %w", err)
	}
	return secret.ID(), nil
}

// Export returns the secret of a stored author.
func (a authors) Export(ctx context.Context, id types.AuthorID) (types.AuthorSecret, bool, error) {
	if err := a.s.live(); err != nil {
		return types.AuthorSecret{}, false, err
	}
	return a.s.engine.Author(ctx, id)
}

type blobs struct{ s *Store }

// AddBytes stores data compressed, once per digest.
func (b blobs) AddBytes(ctx context.Context, data []byte) (types.Digest, error) {
	if err := b.s.live(); err != nil {
		return types.Digest{}, err
	}
	d := types.DigestOf(data)
	have, err := b.s.engine.HasBlob(ctx, d)
	if err != nil {
		return d, fmt.Errorf("check blob: %w", err)
	}
	if have {
		return d, nil
	}
	if err := b.s.engine.PutBlob(ctx, d, compress(data)); err != nil {
		return d, fmt.Errorf("store blob: %w", err)
	}
	return d, nil
}

// ReadToBytes returns the decompressed blob. Missing blobs are
// types.ErrNotFound.
func (b blobs) ReadToBytes(ctx context.Context, d types.Digest) ([]byte, error) {
	if err := b.s.live(); err != nil {
		return nil, err
	}
	raw, ok, err := b.s.engine.Blob(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", types.ErrNotFound, d)
	}
	return decompress(raw)
}

// Pin records d at path.
func (b blobs) Pin(ctx context.Context, path []byte, d types.Digest) error {
	if err := b.s.live(); err != nil {
		return err
	}
	return b.s.engine.PutPin(ctx, path, d)
}

// Unpin removes the pin at path.
func (b blobs) Unpin(ctx context.Context, path []byte) error {
	if err := b.s.live(); err != nil {
		return err
	}
	return b.s.engine.DeletePin(ctx, path)
}

// Pins yields every pin.
func (b blobs) Pins(ctx context.Context) iter.Seq2[types.Pin, error] {
	return func(yield func(types.Pin, error) bool) {
		if err := b.s.live(); err != nil {
			yield(types.Pin{}, err)
			return
		}
		pins, err := b.s.engine.PinList(ctx)
		if err != nil {
			yield(types.Pin{}, fmt.Errorf("list pins: %w", err))
			return
		}
		for _, p := range pins {
			if !yield(p, nil) {
				return
			}
		}
	}
}

var _ types.DocStore = (*Store)(nil)
