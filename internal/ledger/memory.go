package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"blockmail/internal/mail"
)

// MemoryChain is an in-process stand-in for the mailbox and key registry
// contracts. Every write is mined into its own block. It is safe for
// concurrent use by many clients.
type MemoryChain struct {
	mu         sync.RWMutex
	clock      mail.Clock
	height     uint64
	records    []mail.LedgerRecord
	keys       map[common.Address]mail.PublicKey
	keyWrites  int
	undeployed bool
	failure    error
}

// NewMemoryChain creates an empty chain. A nil clock uses the real clock.
func NewMemoryChain(clock mail.Clock) *MemoryChain {
	if clock == nil {
		clock = mail.RealClock{}
	}
	return &MemoryChain{clock: clock, keys: make(map[common.Address]mail.PublicKey)}
}

// Client returns a view of the chain that signs as address.
func (c *MemoryChain) Client(address common.Address) *MemoryClient {
	return &MemoryClient{chain: c, address: address}
}

// Height returns the number of mined blocks.
func (c *MemoryChain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// Records returns a copy of all appended records.
func (c *MemoryChain) Records() []mail.LedgerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mail.LedgerRecord(nil), c.records...)
}

// KeyWrites returns how many setPubKey transactions were mined.
func (c *MemoryChain) KeyWrites() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keyWrites
}

// SetRegistryDeployed toggles whether registry reads report
// mail.ErrRegistryUndeployed.
func (c *MemoryChain) SetRegistryDeployed(deployed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.undeployed = !deployed
}

// SetFailure makes every call fail with a ledger transport error wrapping
// err until cleared with nil.
func (c *MemoryChain) SetFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

func (c *MemoryChain) checkFailure(op string) error {
	if c.failure != nil {
		return mail.LedgerUnavailable(op, c.failure)
	}
	return nil
}

// MemoryClient is a MemoryChain bound to one signing address.
type MemoryClient struct {
	chain   *MemoryChain
	address common.Address

	mu     sync.Mutex
	closed bool
}

var (
	_ mail.Ledger   = (*MemoryClient)(nil)
	_ mail.Registry = (*MemoryClient)(nil)
)

var errClientClosed = errors.New("client closed")

func (m *MemoryClient) Address() common.Address { return m.address }

func (m *MemoryClient) checkOpen(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return mail.LedgerUnavailable(op, errClientClosed)
	}
	return nil
}

// SendMessage mines a Message record from the client address.
func (m *MemoryClient) SendMessage(ctx context.Context, to common.Address, contentID string) (*mail.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkOpen("sendMessage"); err != nil {
		return nil, err
	}
	if contentID == "" {
		return nil, fmt.Errorf("sendMessage: empty content id")
	}

	c := m.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFailure("sendMessage"); err != nil {
		return nil, err
	}

	c.height++
	rec := mail.LedgerRecord{
		From:        m.address,
		To:          to,
		ContentID:   contentID,
		Timestamp:   c.clock.Now().UTC().Truncate(time.Second),
		BlockHeight: c.height,
	}
	c.records = append(c.records, rec)
	return &rec, nil
}

// Messages returns matching records in block order.
func (m *MemoryClient) Messages(ctx context.Context, q mail.RecordQuery) ([]mail.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkOpen("queryFilter"); err != nil {
		return nil, err
	}

	c := m.chain
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkFailure("queryFilter"); err != nil {
		return nil, err
	}

	var out []mail.LedgerRecord
	for _, r := range c.records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// PubKey returns the registered key for address, zero when unset.
func (m *MemoryClient) PubKey(ctx context.Context, address common.Address) (mail.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return mail.PublicKey{}, err
	}
	if err := m.checkOpen("pk"); err != nil {
		return mail.PublicKey{}, err
	}

	c := m.chain
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkFailure("pk"); err != nil {
		return mail.PublicKey{}, err
	}
	if c.undeployed {
		return mail.PublicKey{}, mail.ErrRegistryUndeployed
	}
	return c.keys[address], nil
}

// SetPubKey mines a key registration for the client address.
func (m *MemoryClient) SetPubKey(ctx context.Context, key mail.PublicKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.checkOpen("setPubKey"); err != nil {
		return err
	}

	c := m.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFailure("setPubKey"); err != nil {
		return err
	}
	if c.undeployed {
		return mail.ErrRegistryUndeployed
	}
	c.height++
	c.keyWrites++
	c.keys[m.address] = key
	return nil
}

// Close marks the client closed. The chain itself stays usable.
func (m *MemoryClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
