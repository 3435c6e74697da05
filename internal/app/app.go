package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"blockmail/internal/blobstore"
	"blockmail/internal/config"
	"blockmail/internal/database"
	"blockmail/internal/database/migrations"
	"blockmail/internal/encryption"
	"blockmail/internal/ledger"
	"blockmail/internal/mail"
)

// ErrNoWallet is returned when no wallet is connected and none can be
// restored from the cache.
var ErrNoWallet = errors.New("no wallet connected")

// BlockMailApp is the application layer between the CLI and the mail core.
// It constructs all dependencies from config, keeps the local wallet cache
// and owns at most one running session.
type BlockMailApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	blobs   mail.BlobStore
	ledgers *ledger.Factory
	cipher  *encryption.BoxCipher
	archive *encryption.KeyArchive
	clock   mail.Clock
	op      *Operation
	zl      *zap.Logger
	logger  mail.Logger
	logFile *os.File

	mu      sync.Mutex
	session *mail.Session
}

// NewBlockMailApp creates a fully wired BlockMailApp from the given config.
// command identifies the CLI command being run (e.g. "send", "inbox").
// The caller must call Close when done.
func NewBlockMailApp(ctx context.Context, cfg *config.Config, command string) (*BlockMailApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := NewOperation(command, mail.UUIDGenerator{}, mail.RealClock{})
	zl, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a, err := newBlockMailApp(ctx, cfg, op, zl, mail.RealClock{})
	if err != nil {
		zl.Sync()
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newBlockMailApp(ctx context.Context, cfg *config.Config, op *Operation, zl *zap.Logger, clock mail.Clock) (*BlockMailApp, error) {
	logger := newZapAdapter(zl)

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstallID, clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date (run `blockmail db migrate`): %w", err)
	}

	blobs, err := blobstore.NewBlobStoreFromConfig(ctx, cfg.Blobs)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	ledgers, err := ledger.NewFactoryFromConfig(cfg.Ledger, clock, logger)
	if err != nil {
		blobs.Close()
		db.Close()
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	logger.Debug("app initialized", "command", op.Command, "ledger", cfg.Ledger.Type, "blobs", cfg.Blobs.Type, "database", cfg.Database.Type)

	return &BlockMailApp{
		cfg:     cfg,
		db:      db,
		blobs:   blobs,
		ledgers: ledgers,
		cipher:  encryption.NewBoxCipher(),
		archive: encryption.NewKeyArchive(),
		clock:   clock,
		op:      op,
		zl:      zl,
		logger:  logger,
	}, nil
}

// Operation returns the operation this app was created for.
func (a *BlockMailApp) Operation() *Operation { return a.op }

// Fail marks the operation failed and logs err.
func (a *BlockMailApp) Fail(err error) {
	a.op.Fail()
	a.logger.Error("command failed", "command", a.op.Command, "error", err)
}

// Connect starts a session for the wallet controlled by keyHex, replacing any
// running session. On success the wallet is remembered as the most recently
// used one and the disconnected flag is cleared.
func (a *BlockMailApp) Connect(ctx context.Context, keyHex string) (*mail.Session, error) {
	key, err := ledger.ParsePrivateKey(keyHex)
	if err != nil {
		return nil, err
	}
	addr := ledger.AddressOf(key)

	if err := a.stopSession(); err != nil {
		a.logger.Warn("stopping previous session", "error", err)
	}

	client, err := a.ledgers.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("opening ledger for %s: %w", addr.Hex(), err)
	}

	s := mail.NewSession(mail.SessionConfig{
		Address:      addr,
		KeyStore:     a.db,
		Registry:     client,
		Ledger:       client,
		Blobs:        a.blobs,
		Cipher:       a.cipher,
		Outbox:       a.db,
		Reads:        a.db,
		PollInterval: time.Duration(a.cfg.Sync.PollIntervalSeconds) * time.Second,
		Logger:       a.logger,
		Clock:        a.clock,
	})
	if err := s.Start(ctx); err != nil {
		s.Stop()
		return nil, fmt.Errorf("starting session for %s: %w", addr.Hex(), err)
	}

	if err := a.db.RememberWallet(ctx, addr, hex.EncodeToString(crypto.FromECDSA(key)), a.cfg.Wallets.MaxCached); err != nil {
		a.logger.Warn("caching wallet", "address", addr.Hex(), "error", err)
	}
	if err := a.db.SetDisconnected(ctx, false); err != nil {
		a.logger.Warn("clearing disconnected flag", "error", err)
	}

	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
	return s, nil
}

// Restore reconnects the most recently used cached wallet unless the user
// disconnected explicitly.
func (a *BlockMailApp) Restore(ctx context.Context) (*mail.Session, error) {
	if s := a.Session(); s != nil {
		return s, nil
	}

	disconnected, err := a.db.IsDisconnected(ctx)
	if err != nil {
		return nil, err
	}
	if disconnected {
		return nil, ErrNoWallet
	}

	wallets, err := a.db.CachedWallets(ctx)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, ErrNoWallet
	}
	return a.Connect(ctx, wallets[0].PrivateKey)
}

// ConnectAddress reconnects a cached wallet by address.
func (a *BlockMailApp) ConnectAddress(ctx context.Context, addr common.Address) (*mail.Session, error) {
	w, err := a.db.FindCachedWallet(ctx, addr)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("wallet %s is not cached", addr.Hex())
	}
	return a.Connect(ctx, w.PrivateKey)
}

// Session returns the running session, or nil.
func (a *BlockMailApp) Session() *mail.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Disconnect stops the running session and records that the user
// disconnected, so the next Restore does not reconnect automatically.
// Cached wallets are kept.
func (a *BlockMailApp) Disconnect(ctx context.Context) error {
	if err := a.stopSession(); err != nil {
		return err
	}
	if err := a.db.SetDisconnected(ctx, true); err != nil {
		return fmt.Errorf("saving disconnected flag: %w", err)
	}
	a.logger.Info("wallet disconnected")
	return nil
}

func (a *BlockMailApp) stopSession() error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop()
}

// CachedWallets returns the remembered wallets, most recently used first.
func (a *BlockMailApp) CachedWallets(ctx context.Context) ([]*database.CachedWallet, error) {
	return a.db.CachedWallets(ctx)
}

// ForgetWallet removes a wallet from the cache.
func (a *BlockMailApp) ForgetWallet(ctx context.Context, addr common.Address) error {
	return a.db.ForgetWallet(ctx, addr)
}

// PublicKey returns the locally stored public key for addr, or nil if this
// device has no keypair for it.
func (a *BlockMailApp) PublicKey(ctx context.Context, addr common.Address) (*mail.PublicKey, error) {
	kp, err := a.db.GetKeyPair(ctx, addr)
	if err != nil {
		return nil, err
	}
	if kp == nil {
		return nil, nil
	}
	defer kp.Wipe()
	pub := kp.Public
	return &pub, nil
}

// ExportKeys writes the keypair for addr to w as a passphrase-protected
// archive.
func (a *BlockMailApp) ExportKeys(ctx context.Context, addr common.Address, w io.Writer, passphrase string) error {
	kp, err := a.db.GetKeyPair(ctx, addr)
	if err != nil {
		return err
	}
	if kp == nil {
		return fmt.Errorf("no keypair stored for %s", addr.Hex())
	}
	defer kp.Wipe()

	if err := a.archive.Export(w, addr, kp, passphrase); err != nil {
		return fmt.Errorf("exporting keypair: %w", err)
	}
	a.logger.Info("keypair exported", "address", addr.Hex())
	return nil
}

// ImportKeys reads an archive written by ExportKeys and stores its keypair.
// It fails with mail.ErrKeyPairExists if the address already has one.
func (a *BlockMailApp) ImportKeys(ctx context.Context, r io.Reader, passphrase string) (common.Address, error) {
	addr, kp, err := a.archive.Import(r, passphrase)
	if err != nil {
		return common.Address{}, fmt.Errorf("importing keypair: %w", err)
	}
	defer kp.Wipe()

	if err := a.db.ImportKeyPair(ctx, addr, kp); err != nil {
		return common.Address{}, err
	}
	a.logger.Info("keypair imported", "address", addr.Hex())
	return addr, nil
}

// BackupDatabase writes a consistent copy of the local database to path.
func (a *BlockMailApp) BackupDatabase(path string) error {
	if err := a.db.BackupTo(path); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	a.logger.Info("database backed up", "path", path)
	return nil
}

// Close stops the session and closes all resources.
func (a *BlockMailApp) Close() error {
	var firstErr error

	if err := a.stopSession(); err != nil {
		firstErr = fmt.Errorf("stopping session: %w", err)
	}

	if err := a.blobs.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing blob store: %w", err)
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Info("command finished", "command", a.op.Command, "status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock.Now()).Truncate(time.Millisecond).String())
	a.zl.Sync()

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// MigrateDatabase applies pending schema migrations to the configured
// database and returns the resulting status.
func MigrateDatabase(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstallID, mail.RealClock{})
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return migrations.Status{}, err
	}
	return db.MigrationStatus()
}

// DatabaseStatus reports the schema status of the configured database
// without changing it.
func DatabaseStatus(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstallID, mail.RealClock{})
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	return db.MigrationStatus()
}

// WatchMailbox calls fn for every message that appears in the session's
// mailbox after the call, checking every interval until ctx is done.
func WatchMailbox(ctx context.Context, s *mail.Session, interval time.Duration, fn func(mail.Message)) {
	w := newMailboxWatcher(s)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(fn)
		}
	}
}

// mailboxWatcher remembers which message IDs have been reported.
type mailboxWatcher struct {
	s    *mail.Session
	seen map[string]bool
}

func newMailboxWatcher(s *mail.Session) *mailboxWatcher {
	w := &mailboxWatcher{s: s, seen: make(map[string]bool)}
	for _, m := range s.Mailbox().Messages() {
		w.seen[m.ID] = true
	}
	return w
}

// poll reports unseen messages oldest first.
func (w *mailboxWatcher) poll(fn func(mail.Message)) {
	msgs := w.s.Mailbox().Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if w.seen[msgs[i].ID] {
			continue
		}
		w.seen[msgs[i].ID] = true
		fn(msgs[i])
	}
}
