package mail

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the length of X25519 public and secret keys.
const KeySize = 32

// PublicKey is an X25519 public key. The all-zero value is the "absent"
// sentinel read back from the key registry.
type PublicKey [KeySize]byte

// SecretKey is an X25519 secret key.
type SecretKey [KeySize]byte

// IsZero reports whether k is the absent sentinel.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Hex returns the lowercase hex encoding of k without a 0x prefix.
func (k PublicKey) Hex() string {
	return hex.EncodeToString(k[:])
}

func (k PublicKey) String() string {
	return "0x" + k.Hex()
}

// ParsePublicKey decodes a 64-character hex string, with or without 0x.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return k, fmt.Errorf("decoding public key: %w", err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("public key is %d bytes, want %d", len(raw), KeySize)
	}
	copy(k[:], raw)
	return k, nil
}

// KeyPair is a long-term X25519 identity keypair. The secret half never
// leaves the local store; call Wipe when the pair is no longer needed.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// NewKeyPair generates a keypair from 32 bytes of crypto/rand entropy.
func NewKeyPair() (*KeyPair, error) {
	return newKeyPairFrom(rand.Reader)
}

func newKeyPairFrom(r io.Reader) (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := io.ReadFull(r, kp.Secret[:]); err != nil {
		return nil, fmt.Errorf("reading entropy: %w", err)
	}
	pub, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		kp.Wipe()
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// KeyPairFromSecret rebuilds a keypair from stored secret bytes and checks
// that the stored public half matches.
func KeyPairFromSecret(public, secret []byte) (*KeyPair, error) {
	if len(public) != KeySize || len(secret) != KeySize {
		return nil, fmt.Errorf("keypair has wrong length: public=%d secret=%d", len(public), len(secret))
	}
	kp := &KeyPair{}
	copy(kp.Secret[:], secret)
	derived, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		kp.Wipe()
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	if subtle.ConstantTimeCompare(derived, public) != 1 {
		kp.Wipe()
		return nil, fmt.Errorf("stored public key does not match secret key")
	}
	copy(kp.Public[:], public)
	return kp, nil
}

// Clone returns an independent copy. The caller owns the copy's secret.
func (kp *KeyPair) Clone() *KeyPair {
	c := *kp
	return &c
}

// Wipe zeroes the secret key in place.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	Wipe(kp.Secret[:])
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
