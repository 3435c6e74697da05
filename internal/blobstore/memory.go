package blobstore

import (
	"bytes"
	"context"
	"sync"

	"blockmail/internal/mail"
)

// MemoryStore keeps payloads in a map. It is safe for concurrent use and
// intended for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	failure error
	uploads int
	gets    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Upload(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := ContentID(payload)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.failure != nil {
		return "", mail.BlobUnavailable("upload", m.failure)
	}
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = bytes.Clone(payload)
	}
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failure != nil {
		return nil, mail.BlobUnavailable("get", m.failure)
	}
	data, ok := m.blobs[contentID]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(data), nil
}

// Put stores data under an arbitrary ID, bypassing content addressing.
func (m *MemoryStore) Put(contentID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[contentID] = bytes.Clone(data)
}

// Delete removes a payload.
func (m *MemoryStore) Delete(contentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, contentID)
}

// SetFailure makes every subsequent call fail as unavailable; nil clears it.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Len returns the number of stored payloads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Calls returns how many uploads and gets were attempted.
func (m *MemoryStore) Calls() (uploads, gets int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads, m.gets
}

func (m *MemoryStore) Close() error { return nil }

var _ mail.BlobStore = (*MemoryStore)(nil)
