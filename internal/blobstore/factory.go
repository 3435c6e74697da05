package blobstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"blockmail/internal/config"
	"blockmail/internal/mail"
)

// NewBlobStoreFromConfig creates the configured store, wrapped in an LRU
// cache when cfg.CacheSize is positive.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobConfig) (mail.BlobStore, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize <= 0 {
		return store, nil
	}

	cached, err := NewCachedStore(store, cfg.CacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	return cached, nil
}

func newStore(ctx context.Context, cfg config.BlobConfig) (mail.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis blob store requires redis_addr to be set")
		}
		return NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("mongo blob store requires mongo_uri to be set")
		}
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	case "pinata":
		return NewPinataStore(PinataConfig{
			APIURL:  cfg.PinataAPIURL,
			Gateway: cfg.PinataGateway,
			JWT:     cfg.PinataJWT,
		})
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
