package cryptoutils

// KDFParams holds Argon2id parameters for passphrase-based key derivation.
// The parameters are persisted next to the salt so old records remain
// derivable after defaults change.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKDFParams returns the current Argon2id parameters: time=3,
// memory=64MiB, threads=4.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// SymmetricKeySize is the size of data keys and master keys in bytes (AES-256).
const SymmetricKeySize = 32

// SaltSize is the size of KDF salts in bytes.
const SaltSize = 32

// Provider is the capability interface over a concrete cryptographic backend.
// Implementations satisfy the interface by conformance; there is no shared
// base. All randomness comes from a CSPRNG. Implementations never log and
// never include key material in error values.
type Provider interface {
	// GenerateSymmetricKey returns a fresh 32-byte symmetric key.
	GenerateSymmetricKey() ([]byte, error)

	// GenerateKeyPair returns a fresh asymmetric key pair for key wrapping.
	GenerateKeyPair() (PublicKey, PrivateKey, error)

	// DeriveKeyFromPassphrase derives a 32-byte key from a passphrase and
	// salt. The same inputs always yield the same key.
	DeriveKeyFromPassphrase(passphrase string, salt []byte, params KDFParams) ([]byte, error)

	// EncryptSymmetric seals plaintext under the key with a fresh IV.
	EncryptSymmetric(key, plaintext []byte) (ciphertext, iv []byte, err error)

	// DecryptSymmetric opens ciphertext sealed by EncryptSymmetric. Returns
	// ErrDecryptionFailed on any authentication failure.
	DecryptSymmetric(key, ciphertext, iv []byte) ([]byte, error)

	// WrapKey encrypts a symmetric key so only the holder of the matching
	// private key can recover it.
	WrapKey(publicKey PublicKey, key []byte) ([]byte, error)

	// UnwrapKey recovers a symmetric key wrapped with WrapKey. Returns
	// ErrDecryptionFailed if the wrapped bytes do not open under this key.
	UnwrapKey(privateKey PrivateKey, wrapped []byte) ([]byte, error)

	// RandomBytes returns n bytes from the backend's CSPRNG.
	RandomBytes(n int) ([]byte, error)
}
