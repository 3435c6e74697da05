package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for blockmail.
type Config struct {
	InstallID string         `toml:"install_id"`
	BaseDir   string         `toml:"base_dir"`
	LogDir    string         `toml:"log_dir"`
	LogLevel  string         `toml:"log_level"` // "debug", "info" (default), "warn", "error"
	Ledger    LedgerConfig   `toml:"ledger"`
	Blobs     BlobConfig     `toml:"blobs"`
	Database  DatabaseConfig `toml:"database"`
	Sync      SyncConfig     `toml:"sync"`
	Wallets   WalletConfig   `toml:"wallets"`
}

// LedgerConfig selects the message ledger and key registry.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type string `toml:"type"` // "ethereum" or "memory"

	// Ethereum-specific fields (only used when Type == "ethereum")
	RPCURL                string `toml:"rpc_url,omitempty"`
	MailboxAddress        string `toml:"mailbox_address,omitempty"`
	RegistryAddress       string `toml:"registry_address,omitempty"`
	StartBlock            uint64 `toml:"start_block,omitempty"`
	ConfirmIntervalMillis int    `toml:"confirm_interval_ms,omitempty"`
}

// BlobConfig selects the content-addressed payload store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type      string `toml:"type"`       // "memory", "filesystem", "s3", "redis", "mongo" or "pinata"
	CacheSize int    `toml:"cache_size"` // payloads kept in the in-process LRU; 0 disables it

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"-"`
	S3SecretAccessKey string `toml:"-"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	RedisPassword string `toml:"-"`

	// Mongo-specific fields (only used when Type == "mongo")
	MongoURI        string `toml:"mongo_uri,omitempty"`
	MongoDatabase   string `toml:"mongo_database,omitempty"`
	MongoCollection string `toml:"mongo_collection,omitempty"`

	// Pinata-specific fields (only used when Type == "pinata")
	PinataAPIURL  string `toml:"pinata_api_url,omitempty"`
	PinataGateway string `toml:"pinata_gateway,omitempty"`
	PinataJWT     string `toml:"-"`
}

// DatabaseConfig represents configuration for the local state database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig controls mailbox polling.
type SyncConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// WalletConfig controls the local wallet cache.
type WalletConfig struct {
	MaxCached int `toml:"max_cached"`
}

const (
	DefaultPollIntervalSeconds = 30
	DefaultMaxCachedWallets    = 3
	DefaultBlobCacheSize       = 256
	DefaultRPCURL              = "http://127.0.0.1:8545"
	DefaultMailboxAddress      = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	DefaultPinataAPIURL        = "https://api.pinata.cloud"
)

// NewConfig creates a Config for a local development chain with files under
// baseDir.
func NewConfig(installID, baseDir string) *Config {
	return &Config{
		InstallID: installID,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		LogLevel:  "info",
		Ledger: LedgerConfig{
			Type:           "ethereum",
			RPCURL:         DefaultRPCURL,
			MailboxAddress: DefaultMailboxAddress,
		},
		Blobs: BlobConfig{
			Type:      "filesystem",
			CacheSize: DefaultBlobCacheSize,
			FSRoot:    filepath.Join(baseDir, "blobs"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Sync:    SyncConfig{PollIntervalSeconds: DefaultPollIntervalSeconds},
		Wallets: WalletConfig{MaxCached: DefaultMaxCachedWallets},
	}
}

// Validate reports the first incomplete section.
func (c *Config) Validate() error {
	if c.InstallID == "" {
		return errors.New("install_id must be set")
	}
	if c.Ledger.Type == "" {
		return errors.New("ledger.type must be set")
	}
	if c.Blobs.Type == "" {
		return errors.New("blobs.type must be set")
	}
	if c.Database.Type == "" {
		return errors.New("database.type must be set")
	}
	if c.Sync.PollIntervalSeconds < 0 {
		return fmt.Errorf("sync.poll_interval_seconds must not be negative, got %d", c.Sync.PollIntervalSeconds)
	}
	if c.Wallets.MaxCached < 0 {
		return fmt.Errorf("wallets.max_cached must not be negative, got %d", c.Wallets.MaxCached)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies
// environment overrides.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	ApplyEnv(cfg)
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
