package interfaces

import (
	"context"

	"github.com/google/uuid"
)

// RecordType indicates the storage namespace of a persisted record.
type RecordType int

const (
	// BlobRecord holds EncryptedBlob records keyed by entry ID.
	BlobRecord RecordType = iota
	// TokenRecord holds ShareToken records keyed by token ID.
	TokenRecord
	// GrantRecord holds AIGrant records keyed by analysis ID.
	GrantRecord
	// KeyRecordType holds KeyRecord records keyed by user ID.
	KeyRecordType
	// IndexRecord holds small pointer records, such as the active-token index
	// per (entry, recipient) pair.
	IndexRecord
)

// String returns the namespace name.
func (rt RecordType) String() string {
	switch rt {
	case BlobRecord:
		return "blobs"
	case TokenRecord:
		return "tokens"
	case GrantRecord:
		return "grants"
	case KeyRecordType:
		return "keys"
	case IndexRecord:
		return "index"
	default:
		return "unknown"
	}
}

// RecordBackend persists opaque record bytes by namespace and key. The engine
// only ever hands it ciphertext and wrapped keys; a backend with full read
// access to its own contents learns nothing about the plaintext.
type RecordBackend interface {
	// Fetch retrieves a record, returning ErrRecordNotFound if absent.
	Fetch(ctx context.Context, typ RecordType, key string) ([]byte, error)

	// Store persists a record, overwriting any previous value for the key.
	Store(ctx context.Context, typ RecordType, key string, data []byte) error

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, typ RecordType, key string) error

	// Available reports whether the backend is currently reachable.
	Available(ctx context.Context) bool

	// Name returns a short identifier for logging.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}

// BlobStore persists encrypted entry content.
type BlobStore interface {
	PutBlob(ctx context.Context, id EntryID, blob *EncryptedBlob) error
	GetBlob(ctx context.Context, id EntryID) (*EncryptedBlob, error)
}

// TokenStore persists share tokens and tracks the single active token per
// (entry, recipient) pair.
type TokenStore interface {
	PutToken(ctx context.Context, token *ShareToken) error
	GetToken(ctx context.Context, id uuid.UUID) (*ShareToken, error)

	// ActiveTokenFor returns the current unrevoked token for the pair, or
	// ErrRecordNotFound if none exists.
	ActiveTokenFor(ctx context.Context, entry EntryID, recipient UserID) (*ShareToken, error)
}

// GrantStore persists AI analysis grants.
type GrantStore interface {
	PutGrant(ctx context.Context, grant *AIGrant) error
	GetGrant(ctx context.Context, analysisID uuid.UUID) (*AIGrant, error)
}

// KeyStore persists user key records (wrapped private key, public key, KDF
// parameters).
type KeyStore interface {
	PutKeyRecord(ctx context.Context, record *KeyRecord) error
	GetKeyRecord(ctx context.Context, user UserID) (*KeyRecord, error)
}

// Directory resolves a user ID to that user's current public key. The trust
// model for the returned key (pinning) is layered on top of this interface.
type Directory interface {
	PublicKeyFor(ctx context.Context, user UserID) (PublicKey, error)
}
