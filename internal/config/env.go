package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override or complete the TOML config. Secrets
// are only ever read from here.
const (
	EnvRPCURL            = "BLOCKMAIL_RPC_URL"
	EnvMailboxAddress    = "BLOCKMAIL_MAILBOX_ADDRESS"
	EnvRegistryAddress   = "BLOCKMAIL_REGISTRY_ADDRESS"
	EnvStartBlock        = "BLOCKMAIL_START_BLOCK"
	EnvPinataJWT         = "BLOCKMAIL_PINATA_JWT"
	EnvPinataGateway     = "BLOCKMAIL_PINATA_GATEWAY"
	EnvRedisPassword     = "BLOCKMAIL_REDIS_PASSWORD"
	EnvS3AccessKeyID     = "BLOCKMAIL_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "BLOCKMAIL_S3_SECRET_ACCESS_KEY"
	EnvMongoURI          = "BLOCKMAIL_MONGO_URI"
	EnvWalletKey         = "BLOCKMAIL_WALLET_KEY"
	EnvLogLevel          = "BLOCKMAIL_LOG_LEVEL"
)

// LoadEnvFiles loads KEY=VALUE pairs from the given .env files into the
// process environment. Missing files are skipped; variables that are
// already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays BLOCKMAIL_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Ledger.RPCURL, EnvRPCURL)
	setString(&cfg.Ledger.MailboxAddress, EnvMailboxAddress)
	setString(&cfg.Ledger.RegistryAddress, EnvRegistryAddress)
	if v := os.Getenv(EnvStartBlock); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Ledger.StartBlock = n
		}
	}
	setString(&cfg.Blobs.PinataJWT, EnvPinataJWT)
	setString(&cfg.Blobs.PinataGateway, EnvPinataGateway)
	setString(&cfg.Blobs.RedisPassword, EnvRedisPassword)
	setString(&cfg.Blobs.S3AccessKeyID, EnvS3AccessKeyID)
	setString(&cfg.Blobs.S3SecretAccessKey, EnvS3SecretAccessKey)
	setString(&cfg.Blobs.MongoURI, EnvMongoURI)
	setString(&cfg.LogLevel, EnvLogLevel)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
