// Package interfaces defines the core types and contracts of the encryption
// engine. It provides the boundary between the cryptographic core and its
// collaborators (record storage, the recipient directory, and the application
// layer) without implementation details.
//
// # Record Shapes
//
// Three record shapes cross the storage boundary and are treated as opaque by
// the server side:
//
//   - EncryptedBlob - self-describing ciphertext for one entry, carrying its
//     key version and scheme tag so old records remain decryptable
//   - ShareToken - a time- and permission-bounded grant of one entry's data
//     key to one recipient
//   - AIGrant - a single-use share scoped to the automated analysis service
//
// # Error Taxonomy
//
// All failures surface as the sentinel errors declared in this package (or
// aliased from cryptoutils). Callers branch with errors.Is rather than string
// matching. ErrEncryptionLocked and ErrEncryptionNotSetup are expected,
// recoverable states the UI must render, not exceptional failures.
// ErrDecryptionFailed deliberately does not distinguish a wrong key from
// corrupted ciphertext.
//
// No error message and no log line ever contains key material, passphrases,
// or plaintext.
package interfaces
