package cryptoutils

import "errors"

var (
	// ErrCryptoUnavailable indicates the platform lacks a required primitive.
	ErrCryptoUnavailable = errors.New("cryptographic backend unavailable")

	// ErrDecryptionFailed indicates decryption or key unwrapping failed. It
	// deliberately covers both a wrong key and corrupted ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeyFormat indicates key material could not be parsed.
	ErrInvalidKeyFormat = errors.New("invalid key format")
)
