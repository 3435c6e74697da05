package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionConfig carries everything a Session needs for one identity.
type SessionConfig struct {
	Address      common.Address
	KeyStore     KeyStore
	Registry     Registry
	Ledger       Ledger
	Blobs        BlobStore
	Cipher       Cipher
	Outbox       Outbox
	Reads        ReadMarks
	PollInterval time.Duration
	Logger       Logger
	Clock        Clock
	IDGen        IDGenerator
}

// Session is the lifetime of one connected identity: it owns the keypair,
// the ledger transport and the background poll task.
type Session struct {
	id     string
	cfg    SessionConfig
	logger Logger

	keys *KeyPair
	sync *Synchronizer

	// ops is read-held by Start and by every operation that touches the
	// keypair or the ledger. Stop takes it exclusively before wiping.
	ops sync.RWMutex

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession creates a stopped session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = NewNopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.IDGen == nil {
		cfg.IDGen = UUIDGenerator{}
	}
	return &Session{id: cfg.IDGen.New(), cfg: cfg, logger: cfg.Logger}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Address returns the identity address.
func (s *Session) Address() common.Address { return s.cfg.Address }

// Start loads or creates the identity keypair, publishes its public key,
// performs the initial mailbox load and starts polling. A failed publish is
// logged and does not stop the session; the mailbox can still be read.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.id)
	}
	s.started = true
	s.mu.Unlock()

	s.ops.RLock()
	defer s.ops.RUnlock()

	addr := s.cfg.Address
	keys, err := s.cfg.KeyStore.GetOrCreateKeyPair(ctx, addr)
	if err != nil {
		return fmt.Errorf("loading keypair: %w", err)
	}
	s.keys = keys

	dir := NewKeyDirectory(s.cfg.Registry, s.logger)
	if err := dir.Publish(ctx, addr, keys); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error("publishing public key failed", "address", addr.Hex(), "error", err)
	}

	s.sync = NewSynchronizer(SyncDeps{
		Ledger:    s.cfg.Ledger,
		Directory: dir,
		Blobs:     s.cfg.Blobs,
		Cipher:    s.cfg.Cipher,
		Outbox:    s.cfg.Outbox,
		Reads:     s.cfg.Reads,
		Logger:    s.logger,
		Clock:     s.cfg.Clock,
	}, addr, keys)

	if _, err := s.sync.Load(ctx); err != nil {
		return fmt.Errorf("loading mailbox: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	poller := NewPoller(s.cfg.PollInterval, func(ctx context.Context) error {
		_, err := s.sync.Refresh(ctx)
		return err
	}, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		poller.Run(pollCtx)
	}()

	s.logger.Info("session started", "session", s.id, "address", addr.Hex(), "poll_interval", poller.Interval().String())
	return nil
}

func (s *Session) ready() (*Synchronizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.sync == nil {
		return nil, errors.New("session not started")
	}
	return s.sync, nil
}

// Mailbox returns the current snapshot.
func (s *Session) Mailbox() *Mailbox {
	sy, err := s.ready()
	if err != nil {
		return nil
	}
	return sy.Mailbox()
}

// State returns the synchronizer state, or StateIdle before Start.
func (s *Session) State() State {
	sy, err := s.ready()
	if err != nil {
		return StateIdle
	}
	return sy.State()
}

// PublicKey returns the identity's public key.
func (s *Session) PublicKey() (PublicKey, error) {
	if _, err := s.ready(); err != nil {
		return PublicKey{}, err
	}
	return s.keys.Public, nil
}

// Refresh rebuilds the mailbox now. A concurrent Stop waits for it to finish.
func (s *Session) Refresh(ctx context.Context) (*Mailbox, error) {
	s.ops.RLock()
	defer s.ops.RUnlock()

	sy, err := s.ready()
	if err != nil {
		return nil, err
	}
	return sy.Refresh(ctx)
}

// Send delivers a message. A concurrent Stop waits for it to finish.
func (s *Session) Send(ctx context.Context, to common.Address, subject, body string) (Message, error) {
	s.ops.RLock()
	defer s.ops.RUnlock()

	sy, err := s.ready()
	if err != nil {
		return Message{}, err
	}
	return sy.Send(ctx, to, subject, body)
}

// MarkRead marks a mailbox message read.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	s.ops.RLock()
	defer s.ops.RUnlock()

	sy, err := s.ready()
	if err != nil {
		return err
	}
	return sy.MarkRead(ctx, id)
}

// Stop cancels polling and waits for it to exit. It then waits for a running
// Start and for in-flight sends, refreshes and read marks before closing the
// ledger transport and wiping the keypair. It is safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.ops.Lock()
	defer s.ops.Unlock()

	var err error
	if cerr := s.cfg.Ledger.Close(); cerr != nil {
		err = fmt.Errorf("closing ledger: %w", cerr)
	}
	s.keys.Wipe()

	s.logger.Info("session stopped", "session", s.id, "address", s.cfg.Address.Hex())
	return err
}
