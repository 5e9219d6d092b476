package weird

import (
	"context"
	"log/slog"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Syncer fetches the entries of a namespace from the nodes that shared it.
// It is called after a remote instance namespace is imported and before it
// is read.
type Syncer interface {
	Sync(ctx context.Context, doc types.Doc, nodes []types.NodeAddr) error
}

// nopSyncer leaves remote namespaces as they are locally.
type nopSyncer struct {
	logger *slog.Logger
}

// Sync logs and returns. Remote documents are read as they are locally.
func (s nopSyncer) Sync(_ context.Context, doc types.Doc, nodes []types.NodeAddr) error {
	s.logger.Debug("no syncer configured, reading local copy", "namespace", doc.ID().Short(), "nodes", len(nodes))
	return nil
}
