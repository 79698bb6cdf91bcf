// Package testutil provides shared test helpers for backends and
// filesystems.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/vfs"
)

// Logger returns a logger that swallows output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestSQLite creates a temporary SQLite backend that is automatically
// cleaned up.
func TestSQLite(t *testing.T) *storage.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tronos-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := storage.OpenSQLite(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestFS creates a filesystem over an in-memory backend.
func TestFS(t *testing.T) (*vfs.FS, *storage.Memory) {
	t.Helper()
	backend := storage.NewMemory()
	fs, err := vfs.New("test-ns", backend, Logger())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	return fs, backend
}
