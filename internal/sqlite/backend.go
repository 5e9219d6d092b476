// Package sqlite implements the SQLite storage engine for the weird document
// store. Everything lives in a single weird.db file under the data dir.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// DBFile is the database file name inside the data dir.
const DBFile = "weird.db"

// Backend implements node.Engine using SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach opens (creating if needed) the database under config.DataDir and
// applies the schema.
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

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(filepath.Join(config.DataDir, DBFile), config.SQLite))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	for _, stmt := range indexDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("apply indexes: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true
	return nil
}

// dsn builds a modernc.org/sqlite connection string with the pragmas every
// connection in the pool needs.
func dsn(path string, cfg *types.SQLiteConfig) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.GetBusyTimeoutMS()))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.GetSynchronous()))
	return "file:" + path + "?" + q.Encode()
}

// Detach releases all resources held by the backend.
// After Detach, all operations return ErrStoreClosed.
// Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil // idempotent
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}

	b.attached = false
	return nil
}

// Close is Detach, satisfying node.Engine.
func (b *Backend) Close() error { return b.Detach() }

// conn returns the open database, holding the read lock until release is
// called.
func (b *Backend) conn() (db *sql.DB, release func(), err error) {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return nil, nil, types.ErrStoreClosed
	}
	return b.db, b.mu.RUnlock, nil
}
