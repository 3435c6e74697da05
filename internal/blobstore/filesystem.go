package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"blockmail/internal/mail"
)

// FileSystemStore stores payloads as files named by content ID:
//
//	<root>/
//	  content/
//	    <cid>
type FileSystemStore struct {
	root       string
	contentDir string
}

// NewFileSystemStore creates the directory structure under root.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FileSystemStore{root: root, contentDir: contentDir}, nil
}

// Upload is idempotent: an existing file for the same ID is left alone.
func (s *FileSystemStore) Upload(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := ContentID(payload)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.contentDir, id)
	if _, err := os.Stat(dest); err == nil {
		return id, nil
	}
	if err := writeFile(dest, payload); err != nil {
		return "", mail.BlobUnavailable("upload", err)
	}
	return id, nil
}

// Get returns nil for unknown IDs. Content that no longer matches its ID is
// reported as an error.
func (s *FileSystemStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := ParseContentID(contentID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.contentDir, contentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, mail.BlobUnavailable("get", err)
	}
	if err := Verify(contentID, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup() error {
	for _, dir := range []string{s.root, s.contentDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("blob directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("blob path is not a directory: %s", dir)
		}
	}
	return nil
}

func (s *FileSystemStore) Close() error { return nil }

// writeFile writes data to path using a temp file and rename so readers never
// see a partial payload.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	n, err := tmp.Write(data)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", len(data), n)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ mail.BlobStore = (*FileSystemStore)(nil)
