package mail

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// KeyStore persists one X25519 keypair per wallet address on the local
// device. Secret keys never leave it except to the owning session.
type KeyStore interface {
	// GetKeyPair returns the stored pair, or nil if none exists.
	GetKeyPair(ctx context.Context, address common.Address) (*KeyPair, error)

	// GetOrCreateKeyPair returns the stored pair, generating and persisting a
	// fresh one when absent. An existing pair is never overwritten.
	GetOrCreateKeyPair(ctx context.Context, address common.Address) (*KeyPair, error)
}

// Outbox keeps sealed copies of sent messages so the sender can read them
// back after a reload.
type Outbox interface {
	SaveSent(ctx context.Context, msg *SentMessage) error

	// FindSent returns nil when the content ID was not sent from here.
	FindSent(ctx context.Context, owner common.Address, contentID string) (*SentMessage, error)
}

// ReadMarks records which received messages the owner has opened.
type ReadMarks interface {
	MarkRead(ctx context.Context, owner common.Address, contentID string) error
	ReadSet(ctx context.Context, owner common.Address) (map[string]bool, error)
}
