package contentcipher

import (
	"context"
	"fmt"

	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/keymanager"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher produces and consumes EncryptedBlob records for one user. All key
// material comes from the user's KeyManager session; the cipher itself holds
// no keys between calls.
type Cipher struct {
	provider cryptoutils.Provider
	keys     *keymanager.KeyManager
}

// New returns a Cipher bound to the given provider and key manager.
func New(provider cryptoutils.Provider, keys *keymanager.KeyManager) *Cipher {
	return &Cipher{provider: provider, keys: keys}
}

// EncryptContent seals plaintext into an EncryptedBlob. When prior is a blob
// previously produced for the same entry, its data key is unwrapped and
// reused so an edit does not rotate the key out from under active shares.
// Requires an unlocked session.
func (c *Cipher) EncryptContent(ctx context.Context, plaintext []byte, prior *interfaces.EncryptedBlob) (*interfaces.EncryptedBlob, error) {
	session, err := c.keys.Session()
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(session.PrivateKey)

	var dataKey []byte
	var wrappedKey []byte

	if prior != nil && prior.IsEncrypted {
		dataKey, err = c.provider.UnwrapKey(session.PrivateKey, prior.EncryptedKey)
		if err != nil {
			return nil, fmt.Errorf("unwrapping prior data key: %w", err)
		}
		wrappedKey = prior.EncryptedKey
	} else {
		dataKey, err = c.provider.GenerateSymmetricKey()
		if err != nil {
			return nil, err
		}
		wrappedKey, err = c.provider.WrapKey(session.PublicKey, dataKey)
		if err != nil {
			cryptoutils.Zero(dataKey)
			return nil, err
		}
	}
	defer cryptoutils.Zero(dataKey)

	ciphertext, iv, err := c.provider.EncryptSymmetric(dataKey, plaintext)
	if err != nil {
		return nil, err
	}

	c.keys.Touch()
	return &interfaces.EncryptedBlob{
		Content:      ciphertext,
		IV:           iv,
		EncryptedKey: wrappedKey,
		KeyVersion:   interfaces.KeyVersionCurrent,
		Scheme:       interfaces.SchemeAESGCM,
		IsEncrypted:  true,
	}, nil
}

// DecryptContent opens an EncryptedBlob and returns the plaintext. Blobs
// marked unencrypted are returned as-is. Records sealed under the legacy
// XChaCha20-Poly1305 scheme still open here; migration rewrites them to the
// current scheme. Requires an unlocked session.
func (c *Cipher) DecryptContent(ctx context.Context, blob *interfaces.EncryptedBlob) ([]byte, error) {
	if blob == nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	if !blob.IsEncrypted {
		out := make([]byte, len(blob.Content))
		copy(out, blob.Content)
		return out, nil
	}

	dataKey, err := c.DataKey(ctx, blob)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(dataKey)

	plaintext, err := OpenWithKey(c.provider, blob, dataKey)
	if err != nil {
		return nil, err
	}

	c.keys.Touch()
	return plaintext, nil
}

// OpenWithKey opens a blob's content with an already-unwrapped data key,
// dispatching on the recorded scheme. Sharing and migration use it after
// recovering the key through their own wrapping paths.
func OpenWithKey(provider cryptoutils.Provider, blob *interfaces.EncryptedBlob, dataKey []byte) ([]byte, error) {
	switch scheme(blob) {
	case interfaces.SchemeAESGCM:
		return provider.DecryptSymmetric(dataKey, blob.Content, blob.IV)
	case interfaces.SchemeXChaCha:
		return openLegacy(dataKey, blob.Content, blob.IV)
	default:
		return nil, interfaces.ErrDecryptionFailed
	}
}

// DataKey unwraps the blob's data key under the owner's private key. Sharing
// uses it to re-wrap the key for a recipient without touching the content.
// Requires an unlocked session.
func (c *Cipher) DataKey(ctx context.Context, blob *interfaces.EncryptedBlob) ([]byte, error) {
	session, err := c.keys.Session()
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(session.PrivateKey)

	dataKey, err := c.provider.UnwrapKey(session.PrivateKey, blob.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapping data key: %w", err)
	}
	return dataKey, nil
}

// scheme resolves the effective scheme tag, defaulting by key version for
// records written before the tag existed.
func scheme(blob *interfaces.EncryptedBlob) string {
	if blob.Scheme != "" {
		return blob.Scheme
	}
	if blob.KeyVersion <= interfaces.KeyVersionLegacy {
		return interfaces.SchemeXChaCha
	}
	return interfaces.SchemeAESGCM
}

// openLegacy opens version-1 records sealed with XChaCha20-Poly1305.
func openLegacy(key, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, interfaces.ErrCryptoUnavailable
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, interfaces.ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealLegacy seals content under the deprecated XChaCha20-Poly1305 scheme.
// Only tests and migration fixtures use it; production writes never do.
func SealLegacy(provider cryptoutils.Provider, key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, interfaces.ErrCryptoUnavailable
	}
	nonce, err = provider.RandomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}
