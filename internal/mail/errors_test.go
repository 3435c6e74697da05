package mail

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnavailableError(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name    string
		err     error
		matches error
		other   error
	}{
		{name: "ledger", err: LedgerUnavailable("queryFilter", cause), matches: ErrLedgerUnavailable, other: ErrBlobUnavailable},
		{name: "blob", err: BlobUnavailable("get", cause), matches: ErrBlobUnavailable, other: ErrLedgerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("loading mailbox: %w", tt.err)
			if !errors.Is(wrapped, tt.matches) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.matches)
			}
			if errors.Is(wrapped, tt.other) {
				t.Errorf("errors.Is(%v, %v) = true", wrapped, tt.other)
			}
			if !errors.Is(wrapped, cause) {
				t.Error("cause not reachable through Unwrap")
			}

			var ue *UnavailableError
			if !errors.As(wrapped, &ue) {
				t.Fatal("errors.As(*UnavailableError) = false")
			}
			if ue.Op == "" {
				t.Error("Op is empty")
			}
		})
	}
}

func TestDecryptError(t *testing.T) {
	err := fmt.Errorf("skipping: %w", &DecryptError{ContentID: "bafk", Err: errors.New("auth failed")})
	if !errors.Is(err, ErrDecrypt) {
		t.Error("DecryptError does not match ErrDecrypt")
	}
	if errors.Is(err, ErrMalformedPayload) {
		t.Error("DecryptError matches ErrMalformedPayload")
	}

	var de *DecryptError
	if !errors.As(err, &de) || de.ContentID != "bafk" {
		t.Errorf("errors.As() = %+v", de)
	}
}
