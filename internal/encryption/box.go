package encryption

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"

	"blockmail/internal/mail"
)

const (
	nonceSize = 24
	keySize   = 32
)

// BoxCipher implements mail.Cipher with an ephemeral X25519 exchange,
// libsodium crypto_kx session keys and XSalsa20-Poly1305.
//
// The ephemeral key plays the kx client and the recipient the kx server, so
// the sender's transmit key equals the recipient's receive key:
//
//	h  = BLAKE2b-512(X25519(sk, peer) || client_pk || server_pk)
//	tx(client) = rx(server) = h[32:64]
type BoxCipher struct {
	rand io.Reader
}

var _ mail.Cipher = (*BoxCipher)(nil)

// NewBoxCipher returns a BoxCipher reading entropy from crypto/rand.
func NewBoxCipher() *BoxCipher {
	return &BoxCipher{rand: rand.Reader}
}

// Encrypt seals plaintext for recipient.
func (c *BoxCipher) Encrypt(plaintext []byte, recipient mail.PublicKey) (mail.PublicKey, []byte, error) {
	var ephPub mail.PublicKey
	var ephSec [keySize]byte
	defer mail.Wipe(ephSec[:])

	if _, err := io.ReadFull(c.rand, ephSec[:]); err != nil {
		return ephPub, nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(ephSec[:], curve25519.Basepoint)
	if err != nil {
		return ephPub, nil, fmt.Errorf("deriving ephemeral public key: %w", err)
	}
	copy(ephPub[:], pub)

	key, err := sessionKey(ephSec[:], recipient[:], ephPub[:], recipient[:])
	if err != nil {
		return mail.PublicKey{}, nil, err
	}
	defer mail.Wipe(key[:])

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(c.rand, nonce[:]); err != nil {
		return mail.PublicKey{}, nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, nonceSize, nonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	out = secretbox.Seal(out, plaintext, &nonce, key)
	return ephPub, out, nil
}

// Decrypt opens nonce||box sealed for owner.
func (c *BoxCipher) Decrypt(owner *mail.KeyPair, ephemeral mail.PublicKey, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", mail.ErrDecrypt, len(sealed))
	}

	key, err := sessionKey(owner.Secret[:], ephemeral[:], ephemeral[:], owner.Public[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mail.ErrDecrypt, err)
	}
	defer mail.Wipe(key[:])

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%w: message authentication failed", mail.ErrDecrypt)
	}
	return plain, nil
}

// sessionKey computes the shared half h[32:64] from the local secret, the
// peer's public key and the kx client/server public keys, truncated to the
// secretbox key size.
func sessionKey(secret, peer, clientPub, serverPub []byte) (*[keySize]byte, error) {
	q, err := curve25519.X25519(secret, peer)
	if err != nil {
		return nil, fmt.Errorf("computing shared point: %w", err)
	}
	defer mail.Wipe(q)

	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing hash: %w", err)
	}
	h.Write(q)
	h.Write(clientPub)
	h.Write(serverPub)
	sum := h.Sum(nil)
	defer mail.Wipe(sum)

	key := new([keySize]byte)
	copy(key[:], sum[32:32+keySize])
	return key, nil
}
