package types

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds backend selection and parameters for opening a document store.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// NodeAddrs are advertised in share tickets.
	NodeAddrs []string `json:"node_addrs,omitempty" yaml:"node_addrs,omitempty"`

	SQLite *SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Badger *BadgerConfig `json:"badger,omitempty" yaml:"badger,omitempty"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config validation errors.
var (
	ErrBackendEmpty    = errors.New("backend must not be empty")
	ErrBackendUnknown  = errors.New("unknown backend")
	ErrDataDirEmpty    = errors.New("data dir must not be empty")
	ErrSyncModeUnknown = errors.New("unknown sqlite synchronous mode")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendBadger: true,
}

// SQLiteConfig tunes the SQLite engine.
type SQLiteConfig struct {
	// BusyTimeoutMS is how long a writer waits on a locked database.
	BusyTimeoutMS int `json:"busy_timeout_ms,omitempty" yaml:"busy_timeout_ms,omitempty"`
	// Synchronous is one of off, normal, full.
	Synchronous   string `json:"synchronous,omitempty" yaml:"synchronous,omitempty"`
}

const (
	defaultBusyTimeoutMS = 5000
	defaultSynchronous   = "normal"
)

var knownSyncModes = map[string]bool{"off": true, "normal": true, "full": true}

// GetBusyTimeoutMS returns the busy timeout, defaulting to five seconds.
func (s *SQLiteConfig) GetBusyTimeoutMS() int {
	if s == nil || s.BusyTimeoutMS <= 0 {
		return defaultBusyTimeoutMS
	}
	return s.BusyTimeoutMS
}

// GetSynchronous returns the synchronous pragma value, defaulting to normal.
func (s *SQLiteConfig) GetSynchronous() string {
	if s == nil || s.Synchronous == "" {
		return defaultSynchronous
	}
	return strings.ToLower(s.Synchronous)
}

// BadgerConfig tunes the Badger engine.
type BadgerConfig struct {
	// InMemory keeps all data in memory; DataDir is ignored.
	InMemory   bool   `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`
	SyncWrites bool   `json:"sync_writes,omitempty" yaml:"sync_writes,omitempty"`
	// LogLevel is a logrus level name for Badger's own logging.
	LogLevel   string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// GetLogLevel returns Badger's log level, defaulting to warning.
func (b *BadgerConfig) GetLogLevel() string {
	if b == nil || b.LogLevel == "" {
		return "warning"
	}
	return b.LogLevel
}

// IsInMemory reports whether the Badger engine should run without disk.
func (b *BadgerConfig) IsInMemory() bool {
	return b != nil && b.InMemory
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return fmt.Errorf("%w: %q", ErrBackendUnknown, c.Backend)
	}
	if c.DataDir == "" && !(c.Backend == BackendBadger && c.Badger.IsInMemory()) {
		return ErrDataDirEmpty
	}
	if c.Backend == BackendSQLite && !knownSyncModes[c.SQLite.GetSynchronous()] {
		return fmt.Errorf("%w: %q", ErrSyncModeUnknown, c.SQLite.Synchronous)
	}
	return nil
}
