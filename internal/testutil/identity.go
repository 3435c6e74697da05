package testutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"blockmail/internal/mail"
)

// Well-known local development addresses.
var (
	Alice = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	Bob   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	Carol = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

// NewKeyPair generates an X25519 keypair or fails the test.
func NewKeyPair(t *testing.T) *mail.KeyPair {
	t.Helper()
	kp, err := mail.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() error = %v", err)
	}
	return kp
}
