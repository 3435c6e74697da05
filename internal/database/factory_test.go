package database

import (
	"testing"

	"blockmail/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database is migrated", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"}, "install-1", nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database needs migration", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
		got, err := NewDatabaseFromConfig(cfg, "install-1", nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error before Migrate()")
		}
		if err := got.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() after Migrate() error = %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite"}, "install-1", nil)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "unknown"}, "install-1", nil)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})
}
