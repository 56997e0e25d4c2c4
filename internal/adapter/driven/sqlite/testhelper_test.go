package sqlite

import (
	"context"
	"net/url"
	"testing"
)

// setupTestDB opens a named shared in-memory database with the schema
// applied. The name is derived from t.Name() so parallel tests stay isolated;
// WAL does not apply to in-memory databases.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	name := url.PathEscape(t.Name())
	db, err := openDB(context.Background(), name, buildDSN(name, connPragmas, "mode=memory", "cache=shared"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}
