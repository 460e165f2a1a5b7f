package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Alias1177/TruthMesh/internal/database"
)

// OpenTestDB creates a SQLite database in a temp dir with the full schema applied.
// It is closed when the test ends.
func OpenTestDB(t *testing.T) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "truthmesh.db")
	db, err := database.New(context.Background(), database.DriverSQLite, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
