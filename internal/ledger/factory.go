package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"blockmail/internal/config"
	"blockmail/internal/mail"
)

// Client is a ledger connection that also serves key registry lookups.
type Client interface {
	mail.Ledger
	mail.Registry
}

// Factory opens per-wallet ledger clients according to the ledger config.
// A memory factory shares one MemoryChain between all clients it opens.
type Factory struct {
	cfg    config.LedgerConfig
	chain  *MemoryChain
	logger mail.Logger
}

// NewFactoryFromConfig validates cfg and returns a Factory.
func NewFactoryFromConfig(cfg config.LedgerConfig, clock mail.Clock, logger mail.Logger) (*Factory, error) {
	f := &Factory{cfg: cfg, logger: logger}
	switch cfg.Type {
	case "memory":
		f.chain = NewMemoryChain(clock)
	case "ethereum":
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("ethereum ledger requires rpc_url to be set")
		}
		if !common.IsHexAddress(cfg.MailboxAddress) {
			return nil, fmt.Errorf("ethereum ledger requires a valid mailbox_address, got %q", cfg.MailboxAddress)
		}
		if cfg.RegistryAddress != "" && !common.IsHexAddress(cfg.RegistryAddress) {
			return nil, fmt.Errorf("invalid registry_address %q", cfg.RegistryAddress)
		}
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
	return f, nil
}

// Chain returns the shared in-memory chain, or nil for other ledger types.
func (f *Factory) Chain() *MemoryChain { return f.chain }

// Open returns a client signing with key.
func (f *Factory) Open(ctx context.Context, key *ecdsa.PrivateKey) (Client, error) {
	addr := AddressOf(key)
	switch f.cfg.Type {
	case "memory":
		return f.chain.Client(addr), nil
	case "ethereum":
		ecfg := EthereumConfig{
			RPCURL:          f.cfg.RPCURL,
			MailboxAddress:  common.HexToAddress(f.cfg.MailboxAddress),
			StartBlock:      f.cfg.StartBlock,
			ConfirmInterval: time.Duration(f.cfg.ConfirmIntervalMillis) * time.Millisecond,
		}
		if f.cfg.RegistryAddress != "" {
			ecfg.RegistryAddress = common.HexToAddress(f.cfg.RegistryAddress)
		}
		return DialEthereum(ctx, ecfg, key, f.logger)
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", f.cfg.Type)
	}
}
