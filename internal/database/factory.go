package database

import (
	"fmt"
	"os"
	"path/filepath"

	"blockmail/internal/config"
	"blockmail/internal/mail"
)

// NewDatabaseFromConfig opens the local state database described by cfg.
// File databases are opened as-is and must be migrated by the caller;
// in-memory databases are migrated immediately.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, installID string, clock mail.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, installID+".db"), clock)
	case "memory":
		db, err := NewSQLiteDatabase(memoryPath, clock)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
