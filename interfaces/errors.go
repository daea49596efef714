package interfaces

import (
	"errors"

	"github.com/soulkeep/encryption-engine/cryptoutils"
)

// Provider errors, surfaced at the cryptoutils boundary and re-exported here
// so callers depend on a single taxonomy.
var (
	// ErrCryptoUnavailable indicates the platform lacks a required primitive.
	ErrCryptoUnavailable = cryptoutils.ErrCryptoUnavailable

	// ErrDecryptionFailed indicates an authentication or unwrap failure. It
	// covers both a wrong key and corrupted ciphertext.
	ErrDecryptionFailed = cryptoutils.ErrDecryptionFailed

	// ErrInvalidKeyFormat indicates key material could not be parsed.
	ErrInvalidKeyFormat = cryptoutils.ErrInvalidKeyFormat
)

// Key lifecycle errors. These are expected states the caller must check for.
var (
	// ErrEncryptionNotSetup indicates no key material exists for the user yet.
	ErrEncryptionNotSetup = errors.New("encryption has not been set up")

	// ErrAlreadySetup indicates key material already exists and setup was
	// attempted again.
	ErrAlreadySetup = errors.New("encryption is already set up")

	// ErrEncryptionLocked indicates keys exist but the session is locked.
	ErrEncryptionLocked = errors.New("encryption is locked")

	// ErrEncryptionDestroyed indicates the key manager was torn down and can
	// no longer be used.
	ErrEncryptionDestroyed = errors.New("encryption session destroyed")
)

// Sharing errors.
var (
	// ErrShareRevoked indicates the token was revoked before resolution.
	ErrShareRevoked = errors.New("share token revoked")

	// ErrShareExpired indicates the token's expiry has passed.
	ErrShareExpired = errors.New("share token expired")

	// ErrPermissionDenied indicates the requested action exceeds the granted
	// permission scope.
	ErrPermissionDenied = errors.New("action not covered by share permissions")

	// ErrInvalidRecipient indicates the recipient is unknown, is the sharer
	// themselves, or does not match the token.
	ErrInvalidRecipient = errors.New("invalid share recipient")

	// ErrInvalidExpiry indicates the requested expiry is in the past.
	ErrInvalidExpiry = errors.New("share expiry must be in the future")
)

// AI analysis grant errors.
var (
	// ErrGrantExpired indicates the analysis grant's expiry has passed.
	ErrGrantExpired = errors.New("analysis grant expired")

	// ErrGrantAlreadyConsumed indicates a result was already submitted for
	// this analysis.
	ErrGrantAlreadyConsumed = errors.New("analysis grant already consumed")
)

// Migration errors.
var (
	// ErrMigrationVerificationFailed indicates the re-encrypted record did
	// not decrypt back to the original plaintext; the stored record is left
	// untouched.
	ErrMigrationVerificationFailed = errors.New("migration verification failed")
)

// Storage and directory errors.
var (
	// ErrRecordNotFound indicates the requested record does not exist in any
	// configured backend.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBackendUnavailable indicates a storage backend could not be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI indicates a malformed storage location URI.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrRecipientNotFound indicates the directory has no public key for the
	// requested user.
	ErrRecipientNotFound = errors.New("recipient not found in directory")

	// ErrKeyPinMismatch indicates a recipient's directory key differs from
	// the key pinned on first use.
	ErrKeyPinMismatch = errors.New("recipient public key does not match pinned key")
)
