package sharing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soulkeep/encryption-engine/contentcipher"
	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/keymanager"
)

const shareStripes = 32

// ShareManagerConfig wires a ShareManager's dependencies.
type ShareManagerConfig struct {
	Provider  cryptoutils.Provider
	Cipher    *contentcipher.Cipher
	Keys      *keymanager.KeyManager
	Blobs     interfaces.BlobStore
	Tokens    interfaces.TokenStore
	Directory interfaces.Directory
	Log       *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// ShareManager creates, revokes and resolves entry shares. Operations on the
// same entry are serialized through striped locks so concurrent share and
// revoke calls cannot interleave around the active-token invariant.
type ShareManager struct {
	provider  cryptoutils.Provider
	cipher    *contentcipher.Cipher
	keys      *keymanager.KeyManager
	blobs     interfaces.BlobStore
	tokens    interfaces.TokenStore
	directory interfaces.Directory
	log       *slog.Logger
	now       func() time.Time

	stripes [shareStripes]sync.Mutex
}

// NewShareManager validates the config and returns a ShareManager.
func NewShareManager(cfg *ShareManagerConfig) (*ShareManager, error) {
	if cfg.Provider == nil || cfg.Cipher == nil || cfg.Keys == nil {
		return nil, errors.New("sharing: provider, cipher and key manager are required")
	}
	if cfg.Blobs == nil || cfg.Tokens == nil || cfg.Directory == nil {
		return nil, errors.New("sharing: blob store, token store and directory are required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &ShareManager{
		provider:  cfg.Provider,
		cipher:    cfg.Cipher,
		keys:      cfg.Keys,
		blobs:     cfg.Blobs,
		tokens:    cfg.Tokens,
		directory: cfg.Directory,
		log:       log,
		now:       now,
	}, nil
}

func (m *ShareManager) stripeFor(entry interfaces.EntryID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(entry))
	return &m.stripes[h.Sum32()%shareStripes]
}

// CreateShares grants each recipient access to the entry's data key under the
// given permissions and expiry. Recipients are validated and resolved before
// any token is written, so a bad recipient fails the whole call without
// leaving partial grants. An existing active token for a (entry, recipient)
// pair is revoked and replaced.
func (m *ShareManager) CreateShares(ctx context.Context, entry interfaces.EntryID, recipients []interfaces.UserID, permissions interfaces.PermissionSet, expiresAt time.Time) ([]*interfaces.ShareToken, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", interfaces.ErrInvalidRecipient)
	}
	if err := permissions.Validate(); err != nil {
		return nil, err
	}
	if !expiresAt.After(m.now()) {
		return nil, interfaces.ErrInvalidExpiry
	}

	owner := m.keys.UserID()
	recipientKeys := make(map[interfaces.UserID]interfaces.PublicKey, len(recipients))
	for _, recipient := range recipients {
		if err := recipient.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidRecipient, err)
		}
		if recipient == owner {
			return nil, fmt.Errorf("%w: cannot share an entry with its owner", interfaces.ErrInvalidRecipient)
		}
		pub, err := m.directory.PublicKeyFor(ctx, recipient)
		if err != nil {
			return nil, err
		}
		recipientKeys[recipient] = pub
	}

	lock := m.stripeFor(entry)
	lock.Lock()
	defer lock.Unlock()

	blob, err := m.blobs.GetBlob(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}
	dataKey, err := m.cipher.DataKey(ctx, blob)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(dataKey)

	createdAt := m.now()
	tokens := make([]*interfaces.ShareToken, 0, len(recipients))
	for _, recipient := range recipients {
		wrapped, err := m.provider.WrapKey(recipientKeys[recipient], dataKey)
		if err != nil {
			return nil, err
		}

		if prior, err := m.tokens.ActiveTokenFor(ctx, entry, recipient); err == nil {
			prior.Revoked = true
			if err := m.tokens.PutToken(ctx, prior); err != nil {
				return nil, fmt.Errorf("replacing prior share: %w", err)
			}
		} else if !errors.Is(err, interfaces.ErrRecordNotFound) {
			return nil, err
		}

		token := &interfaces.ShareToken{
			ID:          uuid.New(),
			EntryID:     entry,
			RecipientID: recipient,
			WrappedKey:  wrapped,
			Permissions: permissions,
			ExpiresAt:   expiresAt,
			CreatedAt:   createdAt,
		}
		if err := m.tokens.PutToken(ctx, token); err != nil {
			return nil, fmt.Errorf("storing share token: %w", err)
		}
		tokens = append(tokens, token)

		m.log.Info("share created",
			"entry", entry.String(),
			"recipient", recipient.String(),
			"permissions", permissions.String(),
			"expiresAt", expiresAt,
		)
	}

	m.keys.Touch()
	return tokens, nil
}

// RevokeShare marks the token revoked. Revoking an already-revoked token is
// idempotent; an unknown token returns ErrRecordNotFound.
func (m *ShareManager) RevokeShare(ctx context.Context, tokenID uuid.UUID) error {
	token, err := m.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}

	lock := m.stripeFor(token.EntryID)
	lock.Lock()
	defer lock.Unlock()

	token.Revoked = true
	if err := m.tokens.PutToken(ctx, token); err != nil {
		return fmt.Errorf("storing revoked token: %w", err)
	}

	m.log.Info("share revoked", "entry", token.EntryID.String(), "recipient", token.RecipientID.String())
	return nil
}

// RevokeShareFor revokes the active token for (entry, recipient). Returns
// ErrRecordNotFound if the pair has no active share.
func (m *ShareManager) RevokeShareFor(ctx context.Context, entry interfaces.EntryID, recipient interfaces.UserID) error {
	lock := m.stripeFor(entry)
	lock.Lock()
	defer lock.Unlock()

	token, err := m.tokens.ActiveTokenFor(ctx, entry, recipient)
	if err != nil {
		return err
	}

	token.Revoked = true
	if err := m.tokens.PutToken(ctx, token); err != nil {
		return fmt.Errorf("storing revoked token: %w", err)
	}

	m.log.Info("share revoked", "entry", entry.String(), "recipient", recipient.String())
	return nil
}

// Resolve opens a shared entry for the recipient. The token is checked in a
// fixed order: revocation, expiry, recipient identity, permission scope, then
// key unwrap and content decryption. The recipient's own KeyManager must be
// unlocked.
func (m *ShareManager) Resolve(ctx context.Context, tokenID uuid.UUID, recipient *keymanager.KeyManager, action interfaces.Permission) ([]byte, error) {
	token, err := m.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if token.Revoked {
		return nil, interfaces.ErrShareRevoked
	}
	if token.Expired(m.now()) {
		return nil, interfaces.ErrShareExpired
	}
	if token.RecipientID != recipient.UserID() {
		return nil, interfaces.ErrPermissionDenied
	}
	if !token.Permissions.Allows(action) {
		return nil, interfaces.ErrPermissionDenied
	}

	session, err := recipient.Session()
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(session.PrivateKey)

	dataKey, err := m.provider.UnwrapKey(session.PrivateKey, token.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(dataKey)

	blob, err := m.blobs.GetBlob(ctx, token.EntryID)
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}

	plaintext, err := contentcipher.OpenWithKey(m.provider, blob, dataKey)
	if err != nil {
		return nil, err
	}

	recipient.Touch()
	return plaintext, nil
}
