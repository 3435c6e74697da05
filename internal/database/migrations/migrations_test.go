package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	tables := []string{"keypairs", "cached_wallets", "settings", "sent_messages", "read_marks", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestReadStatus(t *testing.T) {
	db := openTestDB(t)

	st, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if st.Version != 0 || st.Current() {
		t.Errorf("fresh ReadStatus() = %+v, want version 0 and not current", st)
	}
	if st.Latest == 0 {
		t.Error("Latest = 0, want at least one embedded migration")
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	st, err = ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if !st.Current() {
		t.Errorf("ReadStatus() after migration = %+v, want current", st)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() error = %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("second MigrateUp() error = %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration error = %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO read_marks (owner, content_id, read_at)
		VALUES ('0x0000000000000000000000000000000000000001', 'bafk', datetime('now'))
	`)
	if err == nil {
		t.Error("expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_KeyPairAddressUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	insert := "INSERT INTO keypairs (address, public_key, secret_key, created_at) VALUES ('0xabc', x'01', x'02', datetime('now'))"
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("expected unique constraint violation for duplicate address, but insert succeeded")
	}
}

// openTestDB opens a single-connection in-memory SQLite database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	return db
}
