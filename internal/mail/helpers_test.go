package mail_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"blockmail/internal/blobstore"
	"blockmail/internal/database"
	"blockmail/internal/encryption"
	"blockmail/internal/ledger"
	"blockmail/internal/mail"
	"blockmail/internal/testutil"
)

// world is a shared in-memory ledger, blob store and local database that
// several identities can join.
type world struct {
	clock  *testutil.StubClock
	chain  *ledger.MemoryChain
	blobs  *blobstore.MemoryStore
	db     *database.SQLiteDatabase
	cipher *encryption.BoxCipher
	logger *testutil.RecordingLogger
}

func newWorld(t *testing.T) *world {
	t.Helper()
	clock := testutil.FixedClock()
	return &world{
		clock:  clock,
		chain:  ledger.NewMemoryChain(clock),
		blobs:  blobstore.NewMemoryStore(),
		db:     testutil.NewTestDatabase(t, clock),
		cipher: encryption.NewBoxCipher(),
		logger: testutil.NewRecordingLogger(),
	}
}

// join publishes addr's key and returns a synchronizer for it.
func (w *world) join(t *testing.T, addr common.Address) *mail.Synchronizer {
	t.Helper()
	ctx := context.Background()

	kp := w.keys(t, addr)
	dir := mail.NewKeyDirectory(w.chain.Client(addr), w.logger)
	if err := dir.Publish(ctx, addr, kp); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return w.syncFor(t, addr)
}

func (w *world) keys(t *testing.T, addr common.Address) *mail.KeyPair {
	t.Helper()
	kp, err := w.db.GetOrCreateKeyPair(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetOrCreateKeyPair() error = %v", err)
	}
	return kp
}

// syncFor builds a fresh synchronizer for an identity that already has a
// keypair. opts may replace individual collaborators.
func (w *world) syncFor(t *testing.T, addr common.Address, opts ...func(*mail.SyncDeps)) *mail.Synchronizer {
	t.Helper()
	client := w.chain.Client(addr)
	deps := mail.SyncDeps{
		Ledger:    client,
		Directory: mail.NewKeyDirectory(client, w.logger),
		Blobs:     w.blobs,
		Cipher:    w.cipher,
		Outbox:    w.db,
		Reads:     w.db,
		Logger:    w.logger,
		Clock:     w.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return mail.NewSynchronizer(deps, addr, w.keys(t, addr))
}

// sealed builds a wire payload for from->to encrypted to recipient.
func (w *world) sealed(t *testing.T, from, to common.Address, recipient mail.PublicKey, subject, body string) []byte {
	t.Helper()
	plain, err := json.Marshal(mail.Plaintext{Subject: subject, Body: body})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	eph, ct, err := w.cipher.Encrypt(plain, recipient)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	data, err := mail.EncodePayload(&mail.EncryptedPayload{
		From:               from,
		To:                 to,
		EphemeralPublicKey: eph,
		Ciphertext:         ct,
		Timestamp:          w.clock.Now(),
	})
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}
	return data
}

// plant uploads data and appends a record for it from `from` to `to`.
func (w *world) plant(t *testing.T, from, to common.Address, data []byte) string {
	t.Helper()
	ctx := context.Background()
	cid, err := w.blobs.Upload(ctx, data)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, err := w.chain.Client(from).SendMessage(ctx, to, cid); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	return cid
}

func withoutOutbox(d *mail.SyncDeps) { d.Outbox = nil }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// gatedBlobs holds Get calls, once armed, until release is closed.
type gatedBlobs struct {
	mail.BlobStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedBlobs(inner mail.BlobStore) *gatedBlobs {
	return &gatedBlobs{BlobStore: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedBlobs) Get(ctx context.Context, contentID string) ([]byte, error) {
	if g.armed.Load() {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
	}
	return g.BlobStore.Get(ctx, contentID)
}
