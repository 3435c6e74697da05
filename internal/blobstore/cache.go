package blobstore

import (
	"bytes"
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"blockmail/internal/mail"
)

// CachedStore keeps recently fetched payloads in memory. Payloads are
// immutable under their content ID, so entries never go stale. Misses are
// not cached: a payload may appear later.
type CachedStore struct {
	inner mail.BlobStore
	cache *lru.Cache
}

func NewCachedStore(inner mail.BlobStore, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating blob cache: %w", err)
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

func (c *CachedStore) Upload(ctx context.Context, payload []byte) (string, error) {
	id, err := c.inner.Upload(ctx, payload)
	if err != nil {
		return "", err
	}
	c.cache.Add(id, bytes.Clone(payload))
	return id, nil
}

func (c *CachedStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if v, ok := c.cache.Get(contentID); ok {
		return bytes.Clone(v.([]byte)), nil
	}

	data, err := c.inner.Get(ctx, contentID)
	if err != nil || data == nil {
		return data, err
	}
	c.cache.Add(contentID, bytes.Clone(data))
	return data, nil
}

// Len returns the number of cached payloads.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}

func (c *CachedStore) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

var _ mail.BlobStore = (*CachedStore)(nil)
