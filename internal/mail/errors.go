package mail

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrRecipientKeyMissing is returned by Send when the recipient has no
	// published public key. Nothing is uploaded or appended in that case.
	ErrRecipientKeyMissing = errors.New("recipient has no published key")

	// ErrDecrypt indicates an authentication failure while opening a payload.
	ErrDecrypt = errors.New("decryption failed")

	// ErrLedgerUnavailable indicates the ledger endpoint could not be reached
	// or rejected the request.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrBlobUnavailable indicates the blob store could not be reached.
	ErrBlobUnavailable = errors.New("blob store unavailable")

	// ErrRegistryUndeployed indicates no key registry contract exists at the
	// configured address.
	ErrRegistryUndeployed = errors.New("key registry not deployed")

	// ErrMalformedPayload is returned when a blob does not decode into an
	// EncryptedPayload.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMalformedRecord is returned when a ledger event does not decode into
	// a LedgerRecord.
	ErrMalformedRecord = errors.New("malformed ledger record")

	// ErrSessionClosed is returned by operations on a stopped session.
	ErrSessionClosed = errors.New("session closed")

	// ErrKeyPairExists is returned when importing over a persisted keypair.
	ErrKeyPairExists = errors.New("keypair already exists")
)

// UnavailableError reports a transport failure in one of the external
// collaborators. It matches ErrLedgerUnavailable or ErrBlobUnavailable
// depending on Component.
type UnavailableError struct {
	Component string // "ledger" or "blob"
	Op        string
	Err       error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Component, e.Op, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this component.
func (e *UnavailableError) Is(target error) bool {
	switch e.Component {
	case ComponentLedger:
		return target == ErrLedgerUnavailable
	case ComponentBlob:
		return target == ErrBlobUnavailable
	}
	return false
}

const (
	ComponentLedger = "ledger"
	ComponentBlob   = "blob"
)

// LedgerUnavailable wraps err as a ledger transport failure.
func LedgerUnavailable(op string, err error) error {
	return &UnavailableError{Component: ComponentLedger, Op: op, Err: err}
}

// BlobUnavailable wraps err as a blob store transport failure.
func BlobUnavailable(op string, err error) error {
	return &UnavailableError{Component: ComponentBlob, Op: op, Err: err}
}

// DecryptError ties a decryption failure to the content it came from.
type DecryptError struct {
	ContentID string
	Err       error
}

// Error implements the error interface.
func (e *DecryptError) Error() string {
	if e.ContentID == "" {
		return fmt.Sprintf("decrypting payload: %v", e.Err)
	}
	return fmt.Sprintf("decrypting %s: %v", e.ContentID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptError) Unwrap() error {
	return e.Err
}

// Is matches ErrDecrypt.
func (e *DecryptError) Is(target error) bool {
	return target == ErrDecrypt
}
