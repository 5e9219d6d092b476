// Package docstore provides the public factory for local document stores.
// It picks a storage engine from the Config while keeping the engines
// themselves internal.
package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/weird/internal/badger"
	"github.com/mesh-intelligence/weird/internal/node"
	"github.com/mesh-intelligence/weird/internal/sqlite"
	"github.com/mesh-intelligence/weird/pkg/types"
)

// attacher is the lifecycle shared by the storage engines.
type attacher interface {
	node.Engine
	Attach(types.Config) error
}

// Open validates cfg, attaches the selected engine, and returns a document
// store over it. Close the store to release the engine.
//
// Example:
//
//	store, err := docstore.Open(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".weird-db",
//	}, logger)
//	defer store.Close()
func Open(ctx context.Context, cfg types.Config, logger *slog.Logger) (types.DocStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var engine attacher
	switch cfg.Backend {
	case types.BackendSQLite:
		engine = sqlite.NewBackend()
	case types.BackendBadger:
		engine = badger.NewBackend(nil)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, cfg.Backend)
	}
	if err := engine.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attach %s backend: %w", cfg.Backend, err)
	}

	store, err := node.New(ctx, engine,
		node.WithLogger(logger.With("backend", cfg.Backend)),
		node.WithAddrs(cfg.NodeAddrs),
	)
	if err != nil {
		engine.Close()
		return nil, err
	}
	return store, nil
}
