package db

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a store in t.TempDir(), applies all migrations on the
// write pool, and registers cleanup.
func OpenTestSQLite(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite")

	store, err := Open(path, 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := Migrate(context.Background(), store.Write); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return store
}
