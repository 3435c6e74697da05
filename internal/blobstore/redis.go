package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"blockmail/internal/mail"
)

const redisKeyPrefix = "blockmail:blob:"

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisStore keeps payloads as plain string values without expiry.
type RedisStore struct {
	rdb redisClient
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(opts)}
}

func (r *RedisStore) Upload(ctx context.Context, payload []byte) (string, error) {
	id, err := ContentID(payload)
	if err != nil {
		return "", err
	}
	// SetNX leaves an existing value untouched; its bytes are identical.
	if err := r.rdb.SetNX(ctx, redisKeyPrefix+id, payload, 0).Err(); err != nil {
		return "", mail.BlobUnavailable("upload", err)
	}
	return id, nil
}

func (r *RedisStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := ParseContentID(contentID); err != nil {
		return nil, err
	}

	data, err := r.rdb.Get(ctx, redisKeyPrefix+contentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, mail.BlobUnavailable("get", err)
	}
	if err := Verify(contentID, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

var _ mail.BlobStore = (*RedisStore)(nil)
