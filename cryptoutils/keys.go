package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// PublicKey is a user's public key in PEM format.
type PublicKey []byte

// NewPublicKey creates a public key object from PEM-encoded data with validation.
func NewPublicKey(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: not a PEM public key", ErrInvalidKeyFormat)
	}

	keyInterface, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	if _, ok := keyInterface.(*ecdsa.PublicKey); !ok {
		return nil, fmt.Errorf("%w: not an ECDSA public key", ErrInvalidKeyFormat)
	}

	return PublicKey(data), nil
}

// Validate checks if the public key is properly formed.
func (k PublicKey) Validate() error {
	_, err := NewPublicKey(k)
	return err
}

// GetECDSAKey returns the parsed ECDSA public key.
func (k PublicKey) GetECDSAKey() (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", ErrInvalidKeyFormat)
	}

	keyInterface, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	key, ok := keyInterface.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA public key", ErrInvalidKeyFormat)
	}
	return key, nil
}

// Fingerprint returns the hex-encoded SHA-256 hash of the encoded key. Used
// by the directory's pinning layer to detect key substitution.
func (k PublicKey) Fingerprint() string {
	sum := sha256.Sum256(k)
	return hex.EncodeToString(sum[:])
}

// Equal compares two public keys by their encoded bytes.
func (k PublicKey) Equal(other PublicKey) bool {
	return string(k) == string(other)
}

// PrivateKey is a user's private key in PEM format. It exists only in memory
// while a session is unlocked; the persisted form is always sealed under the
// master key.
type PrivateKey []byte

// NewPrivateKey creates a private key object from PEM-encoded data with validation.
func NewPrivateKey(data []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("%w: not a PEM EC private key", ErrInvalidKeyFormat)
	}

	if _, err := x509.ParseECPrivateKey(block.Bytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	return PrivateKey(data), nil
}

// Validate checks if the private key is properly formed.
func (k PrivateKey) Validate() error {
	_, err := NewPrivateKey(k)
	return err
}

// GetECDSAKey returns the parsed ECDSA private key.
func (k PrivateKey) GetECDSAKey() (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", ErrInvalidKeyFormat)
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return key, nil
}

// Clone returns an independent copy of the key bytes. Sessions hand out
// clones so zeroing on lock cannot clobber an in-flight operation.
func (k PrivateKey) Clone() PrivateKey {
	out := make(PrivateKey, len(k))
	copy(out, k)
	return out
}

// Zero overwrites a byte slice in memory with zeros. Best effort on a
// garbage-collected runtime: earlier copies may survive until collection.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
