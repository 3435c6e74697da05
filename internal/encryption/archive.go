package encryption

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/ethereum/go-ethereum/common"

	"blockmail/internal/mail"
)

// KeyArchive moves an identity keypair between devices as an ASCII-armored
// age file encrypted with a passphrase (scrypt recipient).
type KeyArchive struct {
	workFactor int // scrypt log2(N); 0 uses age's default
}

// NewKeyArchive returns a KeyArchive using age's default scrypt cost.
func NewKeyArchive() *KeyArchive {
	return &KeyArchive{}
}

type archivedKey struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
	SecretKey string `json:"secret_key"`
}

// Export writes kp for address to w, encrypted with passphrase.
func (a *KeyArchive) Export(w io.Writer, address common.Address, kp *mail.KeyPair, passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if a.workFactor > 0 {
		recipient.SetWorkFactor(a.workFactor)
	}

	doc, err := json.Marshal(archivedKey{
		Address:   address.Hex(),
		PublicKey: kp.Public.Hex(),
		SecretKey: hex.EncodeToString(kp.Secret[:]),
	})
	if err != nil {
		return fmt.Errorf("encoding keypair: %w", err)
	}
	defer mail.Wipe(doc)

	armored := armor.NewWriter(w)
	enc, err := age.Encrypt(armored, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := enc.Write(doc); err != nil {
		return fmt.Errorf("writing encrypted keypair: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return fmt.Errorf("finalizing armor: %w", err)
	}
	return nil
}

// Import reads an archive produced by Export.
func (a *KeyArchive) Import(r io.Reader, passphrase string) (common.Address, *mail.KeyPair, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	dec, err := age.Decrypt(armor.NewReader(r), identity)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decrypting archive: %w", err)
	}
	doc, err := io.ReadAll(dec)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("reading decrypted archive: %w", err)
	}
	defer mail.Wipe(doc)

	var k archivedKey
	if err := json.Unmarshal(doc, &k); err != nil {
		return common.Address{}, nil, fmt.Errorf("parsing archive: %w", err)
	}
	if !common.IsHexAddress(k.Address) {
		return common.Address{}, nil, fmt.Errorf("archive has invalid address %q", k.Address)
	}

	pub, err := hex.DecodeString(k.PublicKey)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decoding public key: %w", err)
	}
	sec, err := hex.DecodeString(k.SecretKey)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decoding secret key: %w", err)
	}
	defer mail.Wipe(sec)

	kp, err := mail.KeyPairFromSecret(pub, sec)
	if err != nil {
		return common.Address{}, nil, err
	}
	return common.HexToAddress(k.Address), kp, nil
}
