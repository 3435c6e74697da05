package mail

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the append-only message log, bound to the signing identity of
// one session.
type Ledger interface {
	// Address is the identity that signs appends.
	Address() common.Address

	// SendMessage appends a record addressed to `to` and waits for it to be
	// confirmed. It returns the confirmed record.
	SendMessage(ctx context.Context, to common.Address, contentID string) (*LedgerRecord, error)

	// Messages returns every record matching q, in ledger order.
	Messages(ctx context.Context, q RecordQuery) ([]LedgerRecord, error)

	// Close releases the underlying transport.
	Close() error
}

// Registry maps addresses to published X25519 public keys.
type Registry interface {
	// PubKey returns the published key for address. The zero key means
	// nothing was published. A missing registry contract is reported as
	// ErrRegistryUndeployed.
	PubKey(ctx context.Context, address common.Address) (PublicKey, error)

	// SetPubKey publishes key for the session identity and waits for
	// inclusion.
	SetPubKey(ctx context.Context, key PublicKey) error
}
