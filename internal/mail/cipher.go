package mail

// Cipher implements the per-message hybrid encryption. Implementations are
// stateless and safe for concurrent use.
type Cipher interface {
	// Encrypt seals plaintext for recipient under a fresh ephemeral key and
	// returns that key's public half with nonce||box.
	Encrypt(plaintext []byte, recipient PublicKey) (PublicKey, []byte, error)

	// Decrypt opens nonce||box with the owner's keypair. Authentication
	// failures wrap ErrDecrypt and return no plaintext.
	Decrypt(owner *KeyPair, ephemeral PublicKey, sealed []byte) ([]byte, error)
}
