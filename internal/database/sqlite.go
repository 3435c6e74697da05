package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"blockmail/internal/database/migrations"
	"blockmail/internal/mail"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	memoryPath     = ":memory:"
	settingOffline = "disconnected"
)

// SQLiteDatabase is the device-local state store: keypairs, the outbox, read
// marks, the wallet cache and session settings.
type SQLiteDatabase struct {
	db    *sql.DB
	clock mail.Clock
	path  string
}

// CachedWallet is a wallet remembered for one-step reconnects.
type CachedWallet struct {
	Address    common.Address
	PrivateKey string // hex, without 0x
	LastUsedAt time.Time
}

// NewSQLiteDatabase opens the database at path, which can be a file path or
// ":memory:". A nil clock uses the system clock.
func NewSQLiteDatabase(path string, clock mail.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, clock, path), nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection. The caller is
// responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock mail.Clock, path string) *SQLiteDatabase {
	if clock == nil {
		clock = mail.RealClock{}
	}
	return &SQLiteDatabase{db: db, clock: clock, path: path}
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func addressKey(a common.Address) string {
	return a.Hex()
}

// Keypairs

func (s *SQLiteDatabase) GetKeyPair(ctx context.Context, address common.Address) (*mail.KeyPair, error) {
	kp, err := scanKeyPair(s.db.QueryRowContext(ctx,
		"SELECT public_key, secret_key FROM keypairs WHERE address = ?", addressKey(address)))
	if err != nil {
		return nil, fmt.Errorf("loading keypair for %s: %w", address.Hex(), err)
	}
	return kp, nil
}

func (s *SQLiteDatabase) GetOrCreateKeyPair(ctx context.Context, address common.Address) (*mail.KeyPair, error) {
	fresh, err := mail.NewKeyPair()
	if err != nil {
		return nil, err
	}
	defer fresh.Wipe()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO keypairs (address, public_key, secret_key, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(address) DO NOTHING`,
		addressKey(address), fresh.Public[:], fresh.Secret[:], s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("inserting keypair: %w", err)
	}

	kp, err := scanKeyPair(tx.QueryRowContext(ctx,
		"SELECT public_key, secret_key FROM keypairs WHERE address = ?", addressKey(address)))
	if err != nil {
		return nil, fmt.Errorf("loading keypair for %s: %w", address.Hex(), err)
	}
	if kp == nil {
		return nil, fmt.Errorf("keypair for %s vanished after insert", address.Hex())
	}

	if err := tx.Commit(); err != nil {
		kp.Wipe()
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return kp, nil
}

// ImportKeyPair stores kp for address. It fails with mail.ErrKeyPairExists
// when the address already has a pair.
func (s *SQLiteDatabase) ImportKeyPair(ctx context.Context, address common.Address, kp *mail.KeyPair) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keypairs (address, public_key, secret_key, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(address) DO NOTHING`,
		addressKey(address), kp.Public[:], kp.Secret[:], s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("importing keypair: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("importing keypair: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", mail.ErrKeyPairExists, address.Hex())
	}
	return nil
}

func scanKeyPair(row *sql.Row) (*mail.KeyPair, error) {
	var public, secret []byte
	if err := row.Scan(&public, &secret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	defer mail.Wipe(secret)
	return mail.KeyPairFromSecret(public, secret)
}

// Outbox

func (s *SQLiteDatabase) SaveSent(ctx context.Context, msg *mail.SentMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_messages (owner, content_id, recipient, ephemeral_key, sealed, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner, content_id) DO UPDATE SET
		   recipient = excluded.recipient,
		   ephemeral_key = excluded.ephemeral_key,
		   sealed = excluded.sealed,
		   sent_at = excluded.sent_at`,
		addressKey(msg.Owner), msg.ContentID, addressKey(msg.Recipient),
		msg.EphemeralKey[:], msg.Sealed, msg.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("saving sent message %s: %w", msg.ContentID, err)
	}
	return nil
}

func (s *SQLiteDatabase) FindSent(ctx context.Context, owner common.Address, contentID string) (*mail.SentMessage, error) {
	var (
		recipient string
		ephemeral []byte
		msg       = mail.SentMessage{Owner: owner, ContentID: contentID}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT recipient, ephemeral_key, sealed, sent_at
		 FROM sent_messages WHERE owner = ? AND content_id = ?`,
		addressKey(owner), contentID,
	).Scan(&recipient, &ephemeral, &msg.Sealed, &msg.SentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding sent message %s: %w", contentID, err)
	}
	if len(ephemeral) != mail.KeySize || !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("finding sent message %s: corrupt row", contentID)
	}
	msg.Recipient = common.HexToAddress(recipient)
	copy(msg.EphemeralKey[:], ephemeral)
	return &msg, nil
}

// Read marks

func (s *SQLiteDatabase) MarkRead(ctx context.Context, owner common.Address, contentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO read_marks (owner, content_id, read_at) VALUES (?, ?, ?)
		 ON CONFLICT(owner, content_id) DO NOTHING`,
		addressKey(owner), contentID, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking %s read: %w", contentID, err)
	}
	return nil
}

func (s *SQLiteDatabase) ReadSet(ctx context.Context, owner common.Address) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT content_id FROM read_marks WHERE owner = ?", addressKey(owner))
	if err != nil {
		return nil, fmt.Errorf("listing read marks: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning read mark: %w", err)
		}
		set[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing read marks: %w", err)
	}
	return set, nil
}

// Wallet cache

// RememberWallet records address as the most recently used wallet and trims
// the cache to the newest limit entries. limit <= 0 empties the cache.
func (s *SQLiteDatabase) RememberWallet(ctx context.Context, address common.Address, privateKeyHex string, limit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cached_wallets (address, private_key, last_used_at) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
		   private_key = excluded.private_key,
		   last_used_at = excluded.last_used_at`,
		addressKey(address), strings.TrimPrefix(privateKeyHex, "0x"), s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("caching wallet: %w", err)
	}

	if limit < 0 {
		limit = 0
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM cached_wallets WHERE address NOT IN (
		   SELECT address FROM cached_wallets ORDER BY last_used_at DESC, rowid DESC LIMIT ?
		 )`, limit)
	if err != nil {
		return fmt.Errorf("trimming wallet cache: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CachedWallets returns the cached wallets, most recently used first.
func (s *SQLiteDatabase) CachedWallets(ctx context.Context) ([]*CachedWallet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, private_key, last_used_at FROM cached_wallets
		 ORDER BY last_used_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing cached wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*CachedWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing cached wallets: %w", err)
	}
	return wallets, nil
}

// FindCachedWallet returns nil when address is not cached.
func (s *SQLiteDatabase) FindCachedWallet(ctx context.Context, address common.Address) (*CachedWallet, error) {
	w, err := scanWallet(s.db.QueryRowContext(ctx,
		"SELECT address, private_key, last_used_at FROM cached_wallets WHERE address = ?",
		addressKey(address)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	return w, err
}

// ForgetWallet drops address from the cache.
func (s *SQLiteDatabase) ForgetWallet(ctx context.Context, address common.Address) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cached_wallets WHERE address = ?", addressKey(address)); err != nil {
		return fmt.Errorf("forgetting wallet: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWallet(row scanner) (*CachedWallet, error) {
	var (
		w    CachedWallet
		addr string
	)
	if err := row.Scan(&addr, &w.PrivateKey, &w.LastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning cached wallet: %w", err)
	}
	w.Address = common.HexToAddress(addr)
	return &w, nil
}

// Settings

// SetDisconnected records whether the user explicitly disconnected, which
// suppresses automatic session restore.
func (s *SQLiteDatabase) SetDisconnected(ctx context.Context, disconnected bool) error {
	value := "0"
	if disconnected {
		value = "1"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		settingOffline, value)
	if err != nil {
		return fmt.Errorf("saving disconnected flag: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) IsDisconnected(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", settingOffline).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reading disconnected flag: %w", err)
	}
	return value == "1", nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrationStatus reports the schema version.
func (s *SQLiteDatabase) MigrationStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ mail.KeyStore  = (*SQLiteDatabase)(nil)
	_ mail.Outbox    = (*SQLiteDatabase)(nil)
	_ mail.ReadMarks = (*SQLiteDatabase)(nil)
)
