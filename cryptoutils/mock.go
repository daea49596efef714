package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
)

const mockWrapPrefix = "mockwrap:"

// MockProvider implements Provider for tests. Symmetric encryption is real
// AES-256-GCM so authentication failures behave like production, but key
// wrapping is an in-memory table lookup: wrapping stores the key under a
// random handle bound to the public key's fingerprint, and unwrapping only
// succeeds with the matching private key. Passphrase derivation is a cheap
// hash so tests do not pay Argon2id cost.
//
// Wrapped keys from a MockProvider are only meaningful to the same instance.
type MockProvider struct {
	native NativeProvider

	mu      sync.Mutex
	wrapped map[string]mockWrapped
}

type mockWrapped struct {
	fingerprint string
	key         []byte
}

// NewMockProvider returns an empty in-memory provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{wrapped: make(map[string]mockWrapped)}
}

// GenerateSymmetricKey returns a fresh random 32-byte key.
func (p *MockProvider) GenerateSymmetricKey() ([]byte, error) {
	return p.native.GenerateSymmetricKey()
}

// GenerateKeyPair returns an opaque mock key pair. The public half is the
// fingerprint of the private half, which is how unwrapping is authorized.
func (p *MockProvider) GenerateKeyPair() (PublicKey, PrivateKey, error) {
	priv, err := p.native.RandomBytes(SymmetricKeySize)
	if err != nil {
		return nil, nil, err
	}
	privKey := PrivateKey(append([]byte("mockpriv:"), []byte(hex.EncodeToString(priv))...))
	return mockPublicFor(privKey), privKey, nil
}

// DeriveKeyFromPassphrase hashes passphrase, salt and parameters into a
// deterministic 32-byte key.
func (p *MockProvider) DeriveKeyFromPassphrase(passphrase string, salt []byte, params KDFParams) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty KDF salt", ErrInvalidKeyFormat)
	}
	h := sha256.New()
	h.Write([]byte(passphrase))
	h.Write(salt)
	var buf [9]byte
	binary.BigEndian.PutUint32(buf[0:4], params.Time)
	binary.BigEndian.PutUint32(buf[4:8], params.MemoryKiB)
	buf[8] = params.Threads
	h.Write(buf[:])
	return h.Sum(nil), nil
}

// EncryptSymmetric seals with real AES-256-GCM.
func (p *MockProvider) EncryptSymmetric(key, plaintext []byte) ([]byte, []byte, error) {
	return p.native.EncryptSymmetric(key, plaintext)
}

// DecryptSymmetric opens with real AES-256-GCM.
func (p *MockProvider) DecryptSymmetric(key, ciphertext, iv []byte) ([]byte, error) {
	return p.native.DecryptSymmetric(key, ciphertext, iv)
}

// WrapKey stores the key under a fresh random handle bound to the public
// key's fingerprint and returns the handle.
func (p *MockProvider) WrapKey(publicKey PublicKey, key []byte) ([]byte, error) {
	handleBytes, err := p.native.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	handle := hex.EncodeToString(handleBytes)

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	p.mu.Lock()
	p.wrapped[handle] = mockWrapped{fingerprint: publicKey.Fingerprint(), key: keyCopy}
	p.mu.Unlock()

	return []byte(mockWrapPrefix + handle), nil
}

// UnwrapKey looks up the handle and returns the key if the private key
// matches the public key the handle was wrapped for.
func (p *MockProvider) UnwrapKey(privateKey PrivateKey, wrapped []byte) ([]byte, error) {
	if !bytes.HasPrefix(wrapped, []byte(mockWrapPrefix)) {
		return nil, ErrDecryptionFailed
	}
	handle := string(wrapped[len(mockWrapPrefix):])

	p.mu.Lock()
	entry, ok := p.wrapped[handle]
	p.mu.Unlock()
	if !ok {
		return nil, ErrDecryptionFailed
	}

	if entry.fingerprint != mockPublicFor(privateKey).Fingerprint() {
		return nil, ErrDecryptionFailed
	}

	out := make([]byte, len(entry.key))
	copy(out, entry.key)
	return out, nil
}

// RandomBytes returns n bytes from crypto/rand.
func (p *MockProvider) RandomBytes(n int) ([]byte, error) {
	return p.native.RandomBytes(n)
}

func mockPublicFor(priv PrivateKey) PublicKey {
	sum := sha256.Sum256(priv)
	return PublicKey(append([]byte("mockpub:"), []byte(hex.EncodeToString(sum[:]))...))
}
