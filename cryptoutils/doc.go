// Package cryptoutils provides the cryptographic capability layer of the
// encryption engine.
//
// The Provider interface is the single seam between the engine and a concrete
// cryptographic backend. Implementations conform to the interface; there is no
// shared base. Two implementations ship with the package:
//
//   - NativeProvider - the Go standard library backend used by the server-side
//     test harness and the CLI
//   - MockProvider - an in-memory double whose key wrapping is a table lookup,
//     for tests that should not pay for real asymmetric operations
//
// # Algorithms
//
// NativeProvider is fixed to:
//
//   - AES-256-GCM for symmetric content encryption
//   - ECIES (ephemeral ECDH on NIST P-256, SHA-256 key derivation, AES-GCM)
//     for key wrapping
//   - Argon2id for passphrase-based master key derivation
//
// # Wrapped Key Format
//
// Wrapped keys use this binary layout:
//
//	[ephemeral key length (2 bytes, big-endian)][ephemeral key][iv (12 bytes)][ciphertext]
//
// A fresh ephemeral key is generated for each wrap, so wrapping the same key
// twice never yields identical bytes.
//
// # Error Handling
//
// Every platform failure is caught at this boundary and re-surfaced as one of
// ErrCryptoUnavailable, ErrDecryptionFailed, or ErrInvalidKeyFormat. An
// authentication-tag mismatch and a structurally broken ciphertext both map to
// ErrDecryptionFailed so the error channel cannot be used as a decryption
// oracle. No function in this package logs, and no error string carries key
// bytes.
package cryptoutils
