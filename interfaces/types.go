package interfaces

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/soulkeep/encryption-engine/cryptoutils"
)

type PublicKey = cryptoutils.PublicKey
type PrivateKey = cryptoutils.PrivateKey

// Key versions recorded inside EncryptedBlob. Every blob round-trips under the
// algorithm of its own version; migration moves records forward.
const (
	// KeyVersionLegacy marks records whose content was sealed with
	// XChaCha20-Poly1305 before the format change.
	KeyVersionLegacy = 1

	// KeyVersionCurrent marks records sealed with AES-256-GCM and an
	// ECIES-wrapped data key.
	KeyVersionCurrent = 2
)

// Scheme tags stored alongside the key version.
const (
	SchemeAESGCM  = "aes256gcm"
	SchemeXChaCha = "xchacha20poly1305"
)

// EntryID identifies one journal entry.
type EntryID string

// NewEntryID validates and creates an entry identifier.
func NewEntryID(s string) (EntryID, error) {
	if err := validateIdentifier(s); err != nil {
		return "", fmt.Errorf("invalid entry id: %w", err)
	}
	return EntryID(s), nil
}

// String returns the identifier as a string.
func (id EntryID) String() string { return string(id) }

// Validate checks the identifier against the same rules NewEntryID applies.
func (id EntryID) Validate() error {
	if err := validateIdentifier(string(id)); err != nil {
		return fmt.Errorf("invalid entry id: %w", err)
	}
	return nil
}

// AnalysisResultID returns the entry identifier under which the decrypted and
// re-encrypted result of an AI analysis of this entry is stored.
func (id EntryID) AnalysisResultID() EntryID {
	return EntryID(string(id) + ":analysis")
}

// UserID identifies a user in the recipient directory.
type UserID string

// NewUserID validates and creates a user identifier.
func NewUserID(s string) (UserID, error) {
	if err := validateIdentifier(s); err != nil {
		return "", fmt.Errorf("invalid user id: %w", err)
	}
	return UserID(s), nil
}

// String returns the identifier as a string.
func (id UserID) String() string { return string(id) }

// Validate checks the identifier against the same rules NewUserID applies.
func (id UserID) Validate() error {
	if err := validateIdentifier(string(id)); err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	return nil
}

func validateIdentifier(s string) error {
	if s == "" {
		return errors.New("must not be empty")
	}
	if len(s) > 128 {
		return errors.New("must be at most 128 characters")
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.New("must not contain whitespace or control characters")
		}
	}
	return nil
}

// Permission is a single action a share grants.
type Permission string

const (
	// PermissionView allows decrypting and reading the shared entry.
	PermissionView Permission = "view"
	// PermissionExport additionally allows exporting the plaintext.
	PermissionExport Permission = "export"
)

// PermissionSet is the set of actions granted by one share token.
type PermissionSet []Permission

// Validate checks that every permission is a known one and the set is not empty.
func (ps PermissionSet) Validate() error {
	if len(ps) == 0 {
		return errors.New("permission set must not be empty")
	}
	for _, p := range ps {
		switch p {
		case PermissionView, PermissionExport:
		default:
			return fmt.Errorf("unknown permission %q", string(p))
		}
	}
	return nil
}

// Allows reports whether the requested action is covered by the set.
func (ps PermissionSet) Allows(action Permission) bool {
	for _, p := range ps {
		if p == action {
			return true
		}
	}
	return false
}

// String returns the comma-separated permission list.
func (ps PermissionSet) String() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

// EncryptedBlob is the self-describing ciphertext record for one entry. The
// storage layer persists it verbatim and never sees the data key unwrapped.
type EncryptedBlob struct {
	Content      []byte `json:"content"`
	IV           []byte `json:"encryptionIv"`
	EncryptedKey []byte `json:"encryptedKey"`
	KeyVersion   int    `json:"keyVersion"`
	Scheme       string `json:"scheme,omitempty"`
	IsEncrypted  bool   `json:"isEncrypted"`
}

// ShareToken grants one recipient time- and permission-bounded access to one
// entry's data key. At most one active token exists per (entry, recipient)
// pair; creating a new share replaces the prior token.
type ShareToken struct {
	ID          uuid.UUID     `json:"id"`
	EntryID     EntryID       `json:"entryId"`
	RecipientID UserID        `json:"recipientId"`
	WrappedKey  []byte        `json:"wrappedKey"`
	Permissions PermissionSet `json:"permissions"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	Revoked     bool          `json:"revoked"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Expired reports whether the token's expiry has passed at the given time.
func (t *ShareToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AIGrant is a single-use share scoped to the automated analysis service. It
// is destroyed by consumption, revocation, or expiry.
type AIGrant struct {
	AnalysisID uuid.UUID `json:"analysisId"`
	EntryID    EntryID   `json:"entryId"`
	WrappedKey []byte    `json:"wrappedKey"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Consumed   bool      `json:"consumed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Expired reports whether the grant's expiry has passed at the given time.
func (g *AIGrant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// AnalysisResult is what the analysis service submits back: the result sealed
// under a freshly generated symmetric key, that key wrapped to the requesting
// user's public key. The service never returns plaintext.
type AnalysisResult struct {
	AnalysisID       uuid.UUID `json:"analysisId"`
	EncryptedResult  []byte    `json:"encryptedResult"`
	ResultIV         []byte    `json:"resultIv"`
	WrappedResultKey []byte    `json:"wrappedResultKey"`
}

// KeyRecord is the persisted form of a user's key material: KDF parameters,
// the public key, and the private key sealed under the passphrase-derived
// master key. The master key itself never appears in any record.
type KeyRecord struct {
	UserID            UserID    `json:"userId"`
	Salt              []byte    `json:"salt"`
	KDFTime           uint32    `json:"kdfTime"`
	KDFMemoryKiB      uint32    `json:"kdfMemoryKiB"`
	KDFThreads        uint8     `json:"kdfThreads"`
	WrappedPrivateKey []byte    `json:"wrappedPrivateKey"`
	PrivateKeyIV      []byte    `json:"privateKeyIv"`
	PublicKey         PublicKey `json:"publicKey"`
	KeyVersion        int       `json:"keyVersion"`
	CreatedAt         time.Time `json:"createdAt"`
}
