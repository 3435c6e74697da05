package mail

import "context"

// BlobStore is a content-addressed store for encrypted payloads.
// Uploading identical bytes twice yields the same content ID.
type BlobStore interface {
	// Upload stores a JSON payload and returns its content ID.
	Upload(ctx context.Context, payload []byte) (string, error)

	// Get returns the payload for contentID, or nil if the store has none.
	// Transport failures are reported as ErrBlobUnavailable.
	Get(ctx context.Context, contentID string) ([]byte, error)

	Close() error
}
