package mail

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestNewKeyPair(t *testing.T) {
	kp, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() error = %v", err)
	}

	derived, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519() error = %v", err)
	}
	if !bytes.Equal(derived, kp.Public[:]) {
		t.Error("public key is not the base-point multiple of the secret")
	}

	other, _ := NewKeyPair()
	if other.Secret == kp.Secret {
		t.Error("two NewKeyPair() calls produced the same secret")
	}
}

func TestNewKeyPairFrom_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, KeySize)
	a, err := newKeyPairFrom(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("newKeyPairFrom() error = %v", err)
	}
	b, _ := newKeyPairFrom(bytes.NewReader(seed))
	if a.Public != b.Public {
		t.Error("same entropy produced different public keys")
	}

	if _, err := newKeyPairFrom(bytes.NewReader(seed[:10])); err == nil {
		t.Error("newKeyPairFrom() expected error for short entropy")
	}
}

func TestKeyPairFromSecret(t *testing.T) {
	kp, _ := NewKeyPair()

	got, err := KeyPairFromSecret(kp.Public[:], kp.Secret[:])
	if err != nil {
		t.Fatalf("KeyPairFromSecret() error = %v", err)
	}
	if got.Public != kp.Public || got.Secret != kp.Secret {
		t.Error("KeyPairFromSecret() did not reproduce the pair")
	}

	other, _ := NewKeyPair()
	if _, err := KeyPairFromSecret(other.Public[:], kp.Secret[:]); err == nil {
		t.Error("KeyPairFromSecret() expected error for mismatched public key")
	}
	if _, err := KeyPairFromSecret(kp.Public[:5], kp.Secret[:]); err == nil {
		t.Error("KeyPairFromSecret() expected error for short public key")
	}
}

func TestKeyPair_CloneAndWipe(t *testing.T) {
	kp, _ := NewKeyPair()
	clone := kp.Clone()

	kp.Wipe()
	if kp.Secret != (SecretKey{}) {
		t.Error("Wipe() left secret bytes behind")
	}
	if clone.Secret == (SecretKey{}) {
		t.Error("Wipe() on the original also wiped the clone")
	}

	var nilPair *KeyPair
	nilPair.Wipe()
}

func TestParsePublicKey(t *testing.T) {
	valid := strings.Repeat("ab", KeySize)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "bare hex", in: valid},
		{name: "0x prefix", in: "0x" + valid},
		{name: "upper 0X prefix", in: "0X" + valid},
		{name: "too short", in: valid[:62], wantErr: true},
		{name: "too long", in: valid + "ab", wantErr: true},
		{name: "not hex", in: strings.Repeat("zz", KeySize), wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParsePublicKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePublicKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && k.Hex() != valid {
				t.Errorf("Hex() = %q, want %q", k.Hex(), valid)
			}
		})
	}
}

func TestPublicKey_Formatting(t *testing.T) {
	var k PublicKey
	if !k.IsZero() {
		t.Error("zero key IsZero() = false")
	}
	k[31] = 1
	if k.IsZero() {
		t.Error("non-zero key IsZero() = true")
	}
	if want := strings.Repeat("00", 31) + "01"; k.Hex() != want {
		t.Errorf("Hex() = %q, want %q", k.Hex(), want)
	}
	if !strings.HasPrefix(k.String(), "0x") || len(k.String()) != 66 {
		t.Errorf("String() = %q, want 0x-prefixed 64 hex chars", k.String())
	}
}
