package encryption

import (
	"bytes"
	"errors"
	"testing"

	"blockmail/internal/mail"
)

func newTestKeyPair(t *testing.T) *mail.KeyPair {
	t.Helper()
	kp, err := mail.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() error = %v", err)
	}
	return kp
}

func TestBoxCipher_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "empty", plaintext: []byte{}},
		{name: "short", plaintext: []byte(`{"subject":"hi","body":"there"}`)},
		{name: "binary", plaintext: bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBoxCipher()
			recipient := newTestKeyPair(t)

			eph, sealed, err := c.Encrypt(tt.plaintext, recipient.Public)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(sealed) != nonceSize+len(tt.plaintext)+16 {
				t.Errorf("len(sealed) = %d, want %d", len(sealed), nonceSize+len(tt.plaintext)+16)
			}

			got, err := c.Decrypt(recipient, eph, sealed)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestBoxCipher_TamperDetection(t *testing.T) {
	c := NewBoxCipher()
	recipient := newTestKeyPair(t)

	eph, sealed, err := c.Encrypt([]byte("attack at dawn"), recipient.Public)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for i := range sealed {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), sealed...)
			tampered[i] ^= 1 << bit

			plain, err := c.Decrypt(recipient, eph, tampered)
			if !errors.Is(err, mail.ErrDecrypt) {
				t.Fatalf("Decrypt() with byte %d bit %d flipped: error = %v, want ErrDecrypt", i, bit, err)
			}
			if plain != nil {
				t.Fatalf("Decrypt() with byte %d bit %d flipped returned plaintext", i, bit)
			}
		}
	}
}

func TestBoxCipher_WrongKeys(t *testing.T) {
	c := NewBoxCipher()
	recipient := newTestKeyPair(t)
	other := newTestKeyPair(t)

	eph, sealed, err := c.Encrypt([]byte("for recipient only"), recipient.Public)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	t.Run("other recipient", func(t *testing.T) {
		if _, err := c.Decrypt(other, eph, sealed); !errors.Is(err, mail.ErrDecrypt) {
			t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
		}
	})

	t.Run("substituted ephemeral key", func(t *testing.T) {
		if _, err := c.Decrypt(recipient, other.Public, sealed); !errors.Is(err, mail.ErrDecrypt) {
			t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := c.Decrypt(recipient, eph, sealed[:nonceSize+15]); !errors.Is(err, mail.ErrDecrypt) {
			t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
		}
	})

	t.Run("low order ephemeral key", func(t *testing.T) {
		var zero mail.PublicKey
		if _, err := c.Decrypt(recipient, zero, sealed); !errors.Is(err, mail.ErrDecrypt) {
			t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
		}
	})
}

func TestBoxCipher_FreshEphemeralAndNonce(t *testing.T) {
	c := NewBoxCipher()
	recipient := newTestKeyPair(t)

	ephs := make(map[mail.PublicKey]bool)
	nonces := make(map[string]bool)
	for i := 0; i < 200; i++ {
		eph, sealed, err := c.Encrypt([]byte("same message"), recipient.Public)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if ephs[eph] {
			t.Fatalf("ephemeral key repeated after %d encryptions", i)
		}
		ephs[eph] = true

		n := string(sealed[:nonceSize])
		if nonces[n] {
			t.Fatalf("nonce repeated after %d encryptions", i)
		}
		nonces[n] = true
	}
}

func TestSessionKey_BothSidesAgree(t *testing.T) {
	client := newTestKeyPair(t)
	server := newTestKeyPair(t)

	tx, err := sessionKey(client.Secret[:], server.Public[:], client.Public[:], server.Public[:])
	if err != nil {
		t.Fatalf("sessionKey(client) error = %v", err)
	}
	rx, err := sessionKey(server.Secret[:], client.Public[:], client.Public[:], server.Public[:])
	if err != nil {
		t.Fatalf("sessionKey(server) error = %v", err)
	}
	if *tx != *rx {
		t.Error("client tx key and server rx key differ")
	}

	// Swapping the kx roles must give a different key.
	swapped, err := sessionKey(client.Secret[:], server.Public[:], server.Public[:], client.Public[:])
	if err != nil {
		t.Fatalf("sessionKey(swapped) error = %v", err)
	}
	if *swapped == *tx {
		t.Error("session key did not depend on role order")
	}
}

func TestBoxCipher_DeterministicEntropy(t *testing.T) {
	// With a fixed entropy source the ephemeral key and nonce come straight
	// from the reader, in that order.
	seed := bytes.Repeat([]byte{0x42}, keySize+nonceSize)
	c := &BoxCipher{rand: bytes.NewReader(seed)}
	recipient := newTestKeyPair(t)

	_, sealed, err := c.Encrypt([]byte("x"), recipient.Public)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.Equal(sealed[:nonceSize], seed[keySize:]) {
		t.Errorf("nonce = %x, want %x", sealed[:nonceSize], seed[keySize:])
	}

	// Exhausted entropy is an error, not a zero key.
	if _, _, err := c.Encrypt([]byte("x"), recipient.Public); err == nil {
		t.Error("Encrypt() with exhausted entropy succeeded, want error")
	}
}
