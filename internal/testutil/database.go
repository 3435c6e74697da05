package testutil

import (
	"testing"

	"blockmail/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations
// applied. The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, clock *StubClock) *database.SQLiteDatabase {
	t.Helper()

	if clock == nil {
		clock = FixedClock()
	}
	db, err := database.NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}
