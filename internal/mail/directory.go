package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// KeyDirectory publishes and resolves identity public keys through the
// on-ledger key registry.
type KeyDirectory struct {
	registry Registry
	logger   Logger
}

// NewKeyDirectory creates a KeyDirectory backed by registry.
func NewKeyDirectory(registry Registry, logger Logger) *KeyDirectory {
	return &KeyDirectory{registry: registry, logger: logger}
}

// Publish makes kp.Public the registered key for address. The registry is
// written only when it holds nothing or a different key, so repeated calls
// with the same pair cost at most one write.
func (d *KeyDirectory) Publish(ctx context.Context, address common.Address, kp *KeyPair) error {
	current, err := d.registry.PubKey(ctx, address)
	if err != nil {
		return fmt.Errorf("reading registered key: %w", err)
	}
	if current == kp.Public {
		d.logger.Debug("public key already registered", "address", address.Hex())
		return nil
	}

	if err := d.registry.SetPubKey(ctx, kp.Public); err != nil {
		return fmt.Errorf("registering public key: %w", err)
	}

	if current.IsZero() {
		d.logger.Info("public key registered", "address", address.Hex())
	} else {
		d.logger.Info("public key replaced", "address", address.Hex(), "previous", current.Hex())
	}
	return nil
}

// Resolve returns the registered key for address, or nil when none is
// published. A missing registry contract also resolves to nil; other read
// failures are returned as-is.
func (d *KeyDirectory) Resolve(ctx context.Context, address common.Address) (*PublicKey, error) {
	key, err := d.registry.PubKey(ctx, address)
	if err != nil {
		if errors.Is(err, ErrRegistryUndeployed) {
			d.logger.Warn("key registry not deployed at configured address", "address", address.Hex())
			return nil, nil
		}
		return nil, fmt.Errorf("resolving key for %s: %w", address.Hex(), err)
	}
	if key.IsZero() {
		d.logger.Debug("no public key registered", "address", address.Hex())
		return nil, nil
	}
	return &key, nil
}
