// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
	_ "github.com/joao-cbj/silo-watch-backend/migrations" // registers the schema
)

// Open returns an in-memory database with the full schema applied. It is
// closed when the test ends.
func Open(tb testing.TB) *database.DB {
	tb.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		tb.Fatalf("opening test database: %v", err)
	}
	tb.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		tb.Fatalf("migrating test database: %v", err)
	}
	return db
}
