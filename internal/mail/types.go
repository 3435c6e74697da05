package mail

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction tells whether a message was sent or received by the mailbox owner.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Placeholders shown for sent messages whose plaintext is not held locally.
const (
	PlaceholderSubject = ""
	PlaceholderBody    = "Encrypted"
)

// LedgerRecord is one decoded Message event from the ledger.
type LedgerRecord struct {
	From        common.Address
	To          common.Address
	ContentID   string
	Timestamp   time.Time
	BlockHeight uint64
}

// RecordQuery filters ledger records. A nil field matches any address.
type RecordQuery struct {
	From *common.Address
	To   *common.Address
}

// Matches reports whether r satisfies q.
func (q RecordQuery) Matches(r LedgerRecord) bool {
	if q.From != nil && *q.From != r.From {
		return false
	}
	if q.To != nil && *q.To != r.To {
		return false
	}
	return true
}

// EncryptedPayload is the JSON document stored in the blob store for every
// message. Ciphertext holds nonce followed by the sealed box.
type EncryptedPayload struct {
	From               common.Address
	To                 common.Address
	EphemeralPublicKey PublicKey
	Ciphertext         []byte
	Timestamp          time.Time
}

type wirePayload struct {
	From       string `json:"from"`
	To         string `json:"to"`
	PK         string `json:"pk"`
	Ciphertext string `json:"ciphertext"`
	Timestamp  int64  `json:"timestamp"`
}

// minCiphertextLen is a 24-byte nonce plus a 16-byte Poly1305 tag.
const minCiphertextLen = 24 + 16

// EncodePayload renders p in the wire format shared with other clients.
func EncodePayload(p *EncryptedPayload) ([]byte, error) {
	data, err := json.Marshal(wirePayload{
		From:       p.From.Hex(),
		To:         p.To.Hex(),
		PK:         p.EphemeralPublicKey.Hex(),
		Ciphertext: hex.EncodeToString(p.Ciphertext),
		Timestamp:  p.Timestamp.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses and validates a blob. Any structural problem is
// reported as ErrMalformedPayload.
func DecodePayload(data []byte) (*EncryptedPayload, error) {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !common.IsHexAddress(w.From) || !common.IsHexAddress(w.To) {
		return nil, fmt.Errorf("%w: invalid address", ErrMalformedPayload)
	}
	pk, err := ParsePublicKey(w.PK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	ct, err := hex.DecodeString(strings.TrimPrefix(w.Ciphertext, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedPayload, err)
	}
	if len(ct) < minCiphertextLen {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrMalformedPayload, len(ct))
	}
	p := &EncryptedPayload{
		From:               common.HexToAddress(w.From),
		To:                 common.HexToAddress(w.To),
		EphemeralPublicKey: pk,
		Ciphertext:         ct,
	}
	if w.Timestamp > 0 {
		p.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	}
	return p, nil
}

// Plaintext is the JSON document sealed inside a payload.
type Plaintext struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Message is a mailbox entry. ID is the content ID of its payload.
type Message struct {
	ID        string
	From      common.Address
	To        common.Address
	Subject   string
	Body      string
	Timestamp time.Time
	Direction Direction
	Read      bool
}

// SentMessage is the local outbox copy of a message this identity sent.
// Sealed holds the plaintext encrypted to the owner's own public key.
type SentMessage struct {
	Owner        common.Address
	ContentID    string
	Recipient    common.Address
	EphemeralKey PublicKey
	Sealed       []byte
	SentAt       time.Time
}
