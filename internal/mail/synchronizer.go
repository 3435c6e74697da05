package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// State is the Synchronizer lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SyncDeps are the collaborators a Synchronizer works through. Outbox and
// Reads are optional.
type SyncDeps struct {
	Ledger    Ledger
	Directory *KeyDirectory
	Blobs     BlobStore
	Cipher    Cipher
	Outbox    Outbox
	Reads     ReadMarks
	Logger    Logger
	Clock     Clock
}

// Synchronizer maintains the mailbox of one identity: it rebuilds it from
// the ledger, sends new messages and tracks read state.
type Synchronizer struct {
	deps SyncDeps
	self common.Address
	keys *KeyPair

	mailbox atomic.Pointer[Mailbox]
	flight  singleflight.Group

	mu    sync.Mutex // guards state, mailbox swaps and the edit log
	state State

	// While a rebuild runs, local merges and read marks are logged and then
	// replayed onto the rebuilt snapshot.
	rebuilding bool
	added      []Message
	marked     []string
}

// NewSynchronizer creates a Synchronizer for self. keys must be the
// identity's keypair; the Synchronizer does not wipe it.
func NewSynchronizer(deps SyncDeps, self common.Address, keys *KeyPair) *Synchronizer {
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	return &Synchronizer{deps: deps, self: self, keys: keys}
}

// Address returns the identity this Synchronizer serves.
func (s *Synchronizer) Address() common.Address { return s.self }

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mailbox returns the latest snapshot, or nil before the first load.
func (s *Synchronizer) Mailbox() *Mailbox {
	return s.mailbox.Load()
}

// Load performs the initial full rebuild. Calling it once the mailbox is
// ready behaves like Refresh.
func (s *Synchronizer) Load(ctx context.Context) (*Mailbox, error) {
	return s.rebuild(ctx)
}

// Refresh performs an unconditional full rebuild. Concurrent calls share a
// single in-flight rebuild.
func (s *Synchronizer) Refresh(ctx context.Context) (*Mailbox, error) {
	return s.rebuild(ctx)
}

func (s *Synchronizer) rebuild(ctx context.Context) (*Mailbox, error) {
	v, err, shared := s.flight.Do(s.self.Hex(), func() (any, error) {
		return s.doRebuild(ctx)
	})
	if shared {
		s.deps.Logger.Debug("joined in-flight mailbox rebuild", "address", s.self.Hex())
	}
	if err != nil {
		return nil, err
	}
	return v.(*Mailbox), nil
}

func (s *Synchronizer) doRebuild(ctx context.Context) (*Mailbox, error) {
	prev := s.enter()

	mb, err := s.build(ctx)
	if err != nil {
		s.leave(prev)
		return nil, err
	}

	s.mu.Lock()
	mb = s.replayLocked(mb)
	s.mailbox.Store(mb)
	s.state = StateReady
	s.mu.Unlock()

	s.deps.Logger.Info("mailbox rebuilt", "address", s.self.Hex(), "messages", mb.Len(), "unread", mb.Unread())
	return mb, nil
}

// enter moves to Loading or Refreshing and returns the state to restore on
// failure.
func (s *Synchronizer) enter() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilding = true
	s.added, s.marked = nil, nil
	prev := s.state
	if prev == StateReady {
		s.state = StateRefreshing
	} else {
		s.state = StateLoading
		prev = StateIdle
	}
	return prev
}

func (s *Synchronizer) leave(prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = prev
	s.rebuilding = false
	s.added, s.marked = nil, nil
}

// replayLocked applies the edits made since the rebuild began to mb and
// clears the log. s.mu must be held.
func (s *Synchronizer) replayLocked(mb *Mailbox) *Mailbox {
	for _, msg := range s.added {
		mb = mb.With(msg)
	}
	for _, id := range s.marked {
		mb = mb.WithRead(id)
	}
	s.rebuilding = false
	s.added, s.marked = nil, nil
	return mb
}

func (s *Synchronizer) build(ctx context.Context) (*Mailbox, error) {
	self := s.self
	received, err := s.deps.Ledger.Messages(ctx, RecordQuery{To: &self})
	if err != nil {
		return nil, fmt.Errorf("querying received records: %w", err)
	}
	sent, err := s.deps.Ledger.Messages(ctx, RecordQuery{From: &self})
	if err != nil {
		return nil, fmt.Errorf("querying sent records: %w", err)
	}

	reads := map[string]bool{}
	if s.deps.Reads != nil {
		reads, err = s.deps.Reads.ReadSet(ctx, self)
		if err != nil {
			return nil, fmt.Errorf("loading read marks: %w", err)
		}
	}

	seen := make(map[string]bool, len(received)+len(sent))
	msgs := make([]Message, 0, len(received)+len(sent))
	// Received records come first so a message sent to self is decrypted
	// rather than shown as a placeholder.
	for _, rec := range append(received, sent...) {
		if seen[rec.ContentID] {
			continue
		}
		seen[rec.ContentID] = true

		msg, err := s.materialize(ctx, rec)
		if err != nil {
			if isTransportError(err) || ctx.Err() != nil {
				return nil, err
			}
			s.deps.Logger.Warn("skipping message", "cid", rec.ContentID, "from", rec.From.Hex(), "error", err)
			continue
		}
		if msg.Direction == DirectionReceived && reads[msg.ID] {
			msg.Read = true
		}
		msgs = append(msgs, msg)
	}

	return NewMailbox(msgs), nil
}

func isTransportError(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrBlobUnavailable)
}

// materialize fetches and, where addressed to self, decrypts one record.
func (s *Synchronizer) materialize(ctx context.Context, rec LedgerRecord) (Message, error) {
	data, err := s.deps.Blobs.Get(ctx, rec.ContentID)
	if err != nil {
		return Message{}, fmt.Errorf("fetching %s: %w", rec.ContentID, err)
	}
	if data == nil {
		return Message{}, fmt.Errorf("payload %s not found in blob store", rec.ContentID)
	}
	payload, err := DecodePayload(data)
	if err != nil {
		return Message{}, err
	}
	if payload.From != rec.From || payload.To != rec.To {
		return Message{}, fmt.Errorf("%w: payload routing %s->%s disagrees with ledger %s->%s",
			ErrMalformedPayload, payload.From.Hex(), payload.To.Hex(), rec.From.Hex(), rec.To.Hex())
	}

	msg := Message{
		ID:        rec.ContentID,
		From:      rec.From,
		To:        rec.To,
		Timestamp: payload.Timestamp,
		Direction: DirectionReceived,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = rec.Timestamp
	}
	if rec.From == s.self {
		msg.Direction = DirectionSent
		msg.Read = true
	}

	if rec.To != s.self {
		msg.Subject, msg.Body = s.recoverSent(ctx, rec.ContentID)
		return msg, nil
	}

	plain, err := s.open(s.keys, payload.EphemeralPublicKey, payload.Ciphertext)
	if err != nil {
		return Message{}, &DecryptError{ContentID: rec.ContentID, Err: err}
	}
	msg.Subject, msg.Body = plain.Subject, plain.Body
	return msg, nil
}

// recoverSent looks for the outbox copy of a sent message and falls back to
// the placeholder text.
func (s *Synchronizer) recoverSent(ctx context.Context, contentID string) (string, string) {
	if s.deps.Outbox == nil {
		return PlaceholderSubject, PlaceholderBody
	}
	sent, err := s.deps.Outbox.FindSent(ctx, s.self, contentID)
	if err != nil {
		s.deps.Logger.Warn("reading outbox", "cid", contentID, "error", err)
		return PlaceholderSubject, PlaceholderBody
	}
	if sent == nil {
		return PlaceholderSubject, PlaceholderBody
	}
	plain, err := s.open(s.keys, sent.EphemeralKey, sent.Sealed)
	if err != nil {
		s.deps.Logger.Warn("opening outbox copy", "cid", contentID, "error", err)
		return PlaceholderSubject, PlaceholderBody
	}
	return plain.Subject, plain.Body
}

func (s *Synchronizer) open(kp *KeyPair, ephemeral PublicKey, sealed []byte) (*Plaintext, error) {
	raw, err := s.deps.Cipher.Decrypt(kp, ephemeral, sealed)
	if err != nil {
		return nil, err
	}
	defer Wipe(raw)

	var plain Plaintext
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("%w: plaintext: %v", ErrMalformedPayload, err)
	}
	return &plain, nil
}

// Send encrypts a message for `to`, uploads it, appends the record to the
// ledger and waits for confirmation. The returned message carries the
// plaintext and is merged into the mailbox.
func (s *Synchronizer) Send(ctx context.Context, to common.Address, subject, body string) (Message, error) {
	recipient, err := s.deps.Directory.Resolve(ctx, to)
	if err != nil {
		return Message{}, fmt.Errorf("resolving recipient: %w", err)
	}
	if recipient == nil {
		return Message{}, fmt.Errorf("sending to %s: %w", to.Hex(), ErrRecipientKeyMissing)
	}

	plain, err := json.Marshal(Plaintext{Subject: subject, Body: body})
	if err != nil {
		return Message{}, fmt.Errorf("encoding plaintext: %w", err)
	}
	defer Wipe(plain)

	ephemeral, sealed, err := s.deps.Cipher.Encrypt(plain, *recipient)
	if err != nil {
		return Message{}, fmt.Errorf("encrypting message: %w", err)
	}

	now := s.deps.Clock.Now()
	data, err := EncodePayload(&EncryptedPayload{
		From:               s.self,
		To:                 to,
		EphemeralPublicKey: ephemeral,
		Ciphertext:         sealed,
		Timestamp:          now,
	})
	if err != nil {
		return Message{}, err
	}

	cid, err := s.deps.Blobs.Upload(ctx, data)
	if err != nil {
		return Message{}, fmt.Errorf("uploading payload: %w", err)
	}
	s.deps.Logger.Debug("payload uploaded", "cid", cid, "bytes", len(data))

	rec, err := s.deps.Ledger.SendMessage(ctx, to, cid)
	if err != nil {
		return Message{}, fmt.Errorf("appending ledger record: %w", err)
	}
	s.deps.Logger.Info("message sent", "cid", cid, "to", to.Hex(), "block", rec.BlockHeight)

	s.keepSentCopy(ctx, to, cid, plain, now)

	msg := Message{
		ID:        cid,
		From:      s.self,
		To:        to,
		Subject:   subject,
		Body:      body,
		Timestamp: time.UnixMilli(now.UnixMilli()).UTC(),
		Direction: DirectionSent,
		Read:      true,
	}
	s.merge(msg)
	return msg, nil
}

// keepSentCopy seals the plaintext to our own key and stores it in the
// outbox. Failures are logged; the message is already on the ledger.
func (s *Synchronizer) keepSentCopy(ctx context.Context, to common.Address, cid string, plain []byte, now time.Time) {
	if s.deps.Outbox == nil {
		return
	}
	ephemeral, sealed, err := s.deps.Cipher.Encrypt(plain, s.keys.Public)
	if err != nil {
		s.deps.Logger.Warn("sealing outbox copy", "cid", cid, "error", err)
		return
	}
	err = s.deps.Outbox.SaveSent(ctx, &SentMessage{
		Owner:        s.self,
		ContentID:    cid,
		Recipient:    to,
		EphemeralKey: ephemeral,
		Sealed:       sealed,
		SentAt:       now,
	})
	if err != nil {
		s.deps.Logger.Warn("saving outbox copy", "cid", cid, "error", err)
	}
}

// merge adds msg to the current mailbox unless its ID is already present.
func (s *Synchronizer) merge(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.mailbox.Load()
	if cur == nil {
		cur = NewMailbox(nil)
	}
	s.mailbox.Store(cur.With(msg))
	if s.rebuilding {
		s.added = append(s.added, msg)
	}
}

// AddMessage merges an externally observed message into the mailbox. It
// reports whether the message was new.
func (s *Synchronizer) AddMessage(msg Message) bool {
	if _, ok := s.Mailbox().Find(msg.ID); ok {
		return false
	}
	s.merge(msg)
	return true
}

// MarkRead marks a message read locally and persists the mark.
func (s *Synchronizer) MarkRead(ctx context.Context, id string) error {
	if _, ok := s.Mailbox().Find(id); !ok {
		return fmt.Errorf("message %s not in mailbox", id)
	}
	if s.deps.Reads != nil {
		if err := s.deps.Reads.MarkRead(ctx, s.self, id); err != nil {
			return fmt.Errorf("saving read mark: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailbox.Store(s.mailbox.Load().WithRead(id))
	if s.rebuilding {
		s.marked = append(s.marked, id)
	}
	return nil
}
