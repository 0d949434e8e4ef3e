package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"readings", "connection_log"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}

	// Bootstrapping twice is harmless.
	if err := BootstrapSQLite(context.Background(), db); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "journal.db")

	var inspected string
	err := checkLocalFilesystem(dbPath, func(path string) (string, error) {
		inspected = path
		return "0xef53", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
	if inspected != root {
		t.Fatalf("expected detector to inspect nearest existing path %q, got %q", root, inspected)
	}

	err = checkLocalFilesystem(dbPath, func(string) (string, error) { return "NFS", nil })
	if err == nil || !strings.Contains(err.Error(), "journal.path") {
		t.Fatalf("expected network filesystem error, got %v", err)
	}
}
