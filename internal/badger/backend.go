// Package badger implements the Badger storage engine for the weird document
// store. All records share one key space, partitioned by short prefixes.
package badger

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Key space prefixes.
var (
	prefixSetting   = []byte("s/")
	prefixAuthor    = []byte("a/")
	prefixNamespace = []byte("n/")
	prefixEntry     = []byte("e/")
	prefixBlob      = []byte("b/")
	prefixPin       = []byte("p/")
)

// Backend implements node.Engine using Badger.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *badger.DB
	log      *logrus.Logger
}

// NewBackend creates a new Badger backend instance. Badger's own logging
// goes to logger; nil means a logrus logger on stderr at the configured
// level.
func NewBackend(logger *logrus.Logger) *Backend {
	return &Backend{log: logger}
}

// Attach opens the Badger database under config.DataDir, or in memory when
// config.Badger.InMemory is set.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	if b.log == nil {
		b.log = logrus.New()
		b.log.SetOutput(os.Stderr)
		level, err := logrus.ParseLevel(config.Badger.GetLogLevel())
		if err != nil {
			return fmt.Errorf("badger log level: %w", err)
		}
		b.log.SetLevel(level)
	}

	var opts badger.Options
	if config.Badger.IsInMemory() {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		opts = badger.DefaultOptions(config.DataDir)
	}
	opts = opts.
		WithLogger(b.log).
		WithSyncWrites(config.Badger != nil && config.Badger.SyncWrites).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger: %w", err)
	}

	b.db = db
	b.config = config
	b.attached = true
	return nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.attached = false
	return nil
}

// Close is Detach, satisfying node.Engine.
func (b *Backend) Close() error { return b.Detach() }

func (b *Backend) conn() (db *badger.DB, release func(), err error) {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return nil, nil, types.ErrStoreClosed
	}
	return b.db, b.mu.RUnlock, nil
}

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
