package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const gcmNonceSize = 12

// NativeProvider implements Provider on the Go standard library. It is the
// backend for server-side use and for tests that need real cryptography.
//
// Key wrapping implements ECIES: an ephemeral ECDH key agreement on P-256,
// SHA-256 over the shared point, and AES-GCM over the wrapped key. A fresh
// ephemeral key per wrap provides forward secrecy.
type NativeProvider struct{}

// NewNativeProvider returns a Provider backed by the Go standard library.
func NewNativeProvider() *NativeProvider {
	return &NativeProvider{}
}

// GenerateSymmetricKey returns a fresh 32-byte AES-256 key.
func (p *NativeProvider) GenerateSymmetricKey() ([]byte, error) {
	return p.RandomBytes(SymmetricKeySize)
}

// GenerateKeyPair generates a P-256 key pair, returning both halves in PEM.
func (p *NativeProvider) GenerateKeyPair() (PublicKey, PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	privBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return PublicKey(pubPEM), PrivateKey(privPEM), nil
}

// DeriveKeyFromPassphrase derives a 32-byte master key with Argon2id.
func (p *NativeProvider) DeriveKeyFromPassphrase(passphrase string, salt []byte, params KDFParams) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty KDF salt", ErrInvalidKeyFormat)
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		return nil, fmt.Errorf("%w: zero KDF parameter", ErrInvalidKeyFormat)
	}
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Threads, SymmetricKeySize), nil
}

// EncryptSymmetric seals plaintext with AES-256-GCM under a fresh 12-byte IV.
func (p *NativeProvider) EncryptSymmetric(key, plaintext []byte) ([]byte, []byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	return aesGCM.Seal(nil, iv, plaintext, nil), iv, nil
}

// DecryptSymmetric opens AES-256-GCM ciphertext. Any authentication failure
// surfaces as ErrDecryptionFailed.
func (p *NativeProvider) DecryptSymmetric(key, ciphertext, iv []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcmNonceSize {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aesGCM.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// WrapKey encrypts a symmetric key using ECIES with the given public key.
// Output layout: [ephemeral key length (2 bytes)][ephemeral key][iv][ciphertext].
func (p *NativeProvider) WrapKey(publicKey PublicKey, key []byte) ([]byte, error) {
	pub, err := publicKey.GetECDSAKey()
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdsa.GenerateKey(pub.Curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	x, _ := pub.Curve.ScalarMult(pub.X, pub.Y, ephemeral.D.Bytes())
	sharedSecret := sha256.Sum256(x.Bytes())
	defer Zero(sharedSecret[:])

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	aesGCM, err := newGCM(sharedSecret[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aesGCM.Seal(nil, iv, key, nil)

	ephemeralBytes := elliptic.Marshal(ephemeral.Curve, ephemeral.X, ephemeral.Y)

	out := make([]byte, 2+len(ephemeralBytes)+len(iv)+len(ciphertext))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(ephemeralBytes)))
	copy(out[2:2+len(ephemeralBytes)], ephemeralBytes)
	copy(out[2+len(ephemeralBytes):2+len(ephemeralBytes)+len(iv)], iv)
	copy(out[2+len(ephemeralBytes)+len(iv):], ciphertext)

	return out, nil
}

// UnwrapKey recovers a key wrapped with WrapKey using the matching private
// key. Structural and authentication failures both map to ErrDecryptionFailed.
func (p *NativeProvider) UnwrapKey(privateKey PrivateKey, wrapped []byte) ([]byte, error) {
	priv, err := privateKey.GetECDSAKey()
	if err != nil {
		return nil, err
	}

	if len(wrapped) < 2 {
		return nil, ErrDecryptionFailed
	}
	ephemeralLen := int(binary.BigEndian.Uint16(wrapped[0:2]))
	if len(wrapped) < 2+ephemeralLen+gcmNonceSize {
		return nil, ErrDecryptionFailed
	}

	x, y := elliptic.Unmarshal(priv.Curve, wrapped[2:2+ephemeralLen])
	if x == nil {
		return nil, ErrDecryptionFailed
	}

	xShared, _ := priv.Curve.ScalarMult(x, y, priv.D.Bytes())
	sharedSecret := sha256.Sum256(xShared.Bytes())
	defer Zero(sharedSecret[:])

	ivStart := 2 + ephemeralLen
	iv := wrapped[ivStart : ivStart+gcmNonceSize]
	ciphertext := wrapped[ivStart+gcmNonceSize:]

	aesGCM, err := newGCM(sharedSecret[:])
	if err != nil {
		return nil, err
	}

	key, err := aesGCM.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return key, nil
}

// RandomBytes returns n bytes from crypto/rand.
func (p *NativeProvider) RandomBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: symmetric key must be %d bytes", ErrInvalidKeyFormat, SymmetricKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return aesGCM, nil
}
