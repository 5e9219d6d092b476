package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mesh-intelligence/weird/internal/node"
	"github.com/mesh-intelligence/weird/internal/node/nodetest"
	"github.com/mesh-intelligence/weird/pkg/types"
)

func testConfig(dir string) types.Config {
	return types.Config{
		Backend: types.BackendSQLite,
		DataDir: dir,
	}
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()

	b := NewBackend()
	config := testConfig(tmpDir)

	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	// Verify database file created
	if _, err := os.Stat(filepath.Join(tmpDir, DBFile)); os.IsNotExist(err) {
		t.Errorf("%s not created", DBFile)
	}

	// Verify double attach fails
	if err := b.Attach(config); err != types.ErrAlreadyAttached {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}

	b.Detach()
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	b := NewBackend()
	if err := b.Attach(types.Config{Backend: types.BackendSQLite}); !errors.Is(err, types.ErrDataDirEmpty) {
		t.Errorf("expected ErrDataDirEmpty, got %v", err)
	}

	cfg := testConfig(t.TempDir())
	cfg.SQLite = &types.SQLiteConfig{Synchronous: "sometimes"}
	if err := b.Attach(cfg); !errors.Is(err, types.ErrSyncModeUnknown) {
		t.Errorf("expected ErrSyncModeUnknown, got %v", err)
	}
}

func TestBackend_Detach(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	b.Attach(testConfig(t.TempDir()))

	if err := b.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}

	// Verify idempotent
	if err := b.Detach(); err != nil {
		t.Errorf("second Detach should not error, got %v", err)
	}

	// Verify operations fail after detach
	if _, _, err := b.Setting(ctx, "node_id"); err != types.ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestBackend_Settings(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	if err := b.Attach(testConfig(t.TempDir())); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer b.Detach()

	if _, ok, err := b.Setting(ctx, "missing"); err != nil || ok {
		t.Errorf("Setting(missing) = ok %v, err %v", ok, err)
	}
	if err := b.PutSetting(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("PutSetting failed: %v", err)
	}
	if err := b.PutSetting(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("PutSetting overwrite failed: %v", err)
	}
	v, ok, err := b.Setting(ctx, "k")
	if err != nil || !ok || string(v) != "two" {
		t.Errorf("Setting(k) = %q, %v, %v", v, ok, err)
	}
}

func TestBackend_DeleteNamespaceCascades(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	if err := b.Attach(testConfig(t.TempDir())); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer b.Detach()

	secret, _ := types.NewNamespaceSecret()
	author, _ := types.NewAuthorSecret()
	ns := secret.ID()
	if err := b.PutNamespace(ctx, types.WriteCapability(secret)); err != nil {
		t.Fatalf("PutNamespace failed: %v", err)
	}
	e := types.Entry{Key: []byte("k"), Author: author.ID(), Hash: types.DigestOf([]byte("v")), Len: 1, Timestamp: 1}
	if err := b.PutEntry(ctx, ns, e); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	if err := b.DeleteNamespace(ctx, ns); err != nil {
		t.Fatalf("DeleteNamespace failed: %v", err)
	}
	entries, err := b.Entries(ctx, ns, types.QueryKindAll, nil)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries after delete, got %d", len(entries))
	}
}

func TestStore_Conformance(t *testing.T) {
	nodetest.Run(t, func(t *testing.T, dir string) types.DocStore {
		t.Helper()
		b := NewBackend()
		if err := b.Attach(testConfig(dir)); err != nil {
			t.Fatalf("Attach failed: %v", err)
		}
		s, err := node.New(context.Background(), b)
		if err != nil {
			t.Fatalf("node.New failed: %v", err)
		}
		return s
	})
}
