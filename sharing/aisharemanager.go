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

// DefaultGrantTTL bounds how long the analysis service can hold a grant
// before it expires unused.
const DefaultGrantTTL = time.Hour

// AIShareManagerConfig wires an AIShareManager's dependencies. ServiceID is
// the directory identity of the automated analysis service.
type AIShareManagerConfig struct {
	Provider  cryptoutils.Provider
	Cipher    *contentcipher.Cipher
	Keys      *keymanager.KeyManager
	Blobs     interfaces.BlobStore
	Grants    interfaces.GrantStore
	Directory interfaces.Directory
	ServiceID interfaces.UserID
	GrantTTL  time.Duration
	Log       *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// AIShareManager handles the two-phase analysis flow. RequestAnalysis mints a
// single-use AIGrant wrapped to the analysis service; ResolveGrant is the
// service-side read; SubmitResult consumes the grant and stores the result
// re-encrypted under the requesting user's own keys. Consumption of a grant
// is serialized through striped locks so concurrent submissions cannot both
// pass the consumed check.
type AIShareManager struct {
	provider  cryptoutils.Provider
	cipher    *contentcipher.Cipher
	keys      *keymanager.KeyManager
	blobs     interfaces.BlobStore
	grants    interfaces.GrantStore
	directory interfaces.Directory
	serviceID interfaces.UserID
	grantTTL  time.Duration
	log       *slog.Logger
	now       func() time.Time

	stripes [shareStripes]sync.Mutex
}

// NewAIShareManager validates the config and returns an AIShareManager.
func NewAIShareManager(cfg *AIShareManagerConfig) (*AIShareManager, error) {
	if cfg.Provider == nil || cfg.Cipher == nil || cfg.Keys == nil {
		return nil, errors.New("sharing: provider, cipher and key manager are required")
	}
	if cfg.Blobs == nil || cfg.Grants == nil || cfg.Directory == nil {
		return nil, errors.New("sharing: blob store, grant store and directory are required")
	}
	if err := cfg.ServiceID.Validate(); err != nil {
		return nil, fmt.Errorf("sharing: analysis service id: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.GrantTTL
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}

	return &AIShareManager{
		provider:  cfg.Provider,
		cipher:    cfg.Cipher,
		keys:      cfg.Keys,
		blobs:     cfg.Blobs,
		grants:    cfg.Grants,
		directory: cfg.Directory,
		serviceID: cfg.ServiceID,
		grantTTL:  ttl,
		log:       log,
		now:       now,
	}, nil
}

func (m *AIShareManager) stripeFor(analysisID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(analysisID[:])
	return &m.stripes[h.Sum32()%shareStripes]
}

// RequestAnalysis mints a fresh single-use grant for the entry, wrapped to
// the analysis service's public key. Every request gets its own grant; a
// grant is destroyed by consumption or expiry, never reused.
func (m *AIShareManager) RequestAnalysis(ctx context.Context, entry interfaces.EntryID) (*interfaces.AIGrant, error) {
	blob, err := m.blobs.GetBlob(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}

	dataKey, err := m.cipher.DataKey(ctx, blob)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(dataKey)

	servicePub, err := m.directory.PublicKeyFor(ctx, m.serviceID)
	if err != nil {
		return nil, fmt.Errorf("resolving analysis service key: %w", err)
	}

	wrapped, err := m.provider.WrapKey(servicePub, dataKey)
	if err != nil {
		return nil, err
	}

	createdAt := m.now()
	grant := &interfaces.AIGrant{
		AnalysisID: uuid.New(),
		EntryID:    entry,
		WrappedKey: wrapped,
		ExpiresAt:  createdAt.Add(m.grantTTL),
		CreatedAt:  createdAt,
	}
	if err := m.grants.PutGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("storing grant: %w", err)
	}

	m.keys.Touch()
	m.log.Info("analysis requested",
		"entry", entry.String(),
		"analysisId", grant.AnalysisID.String(),
		"expiresAt", grant.ExpiresAt,
	)
	return grant, nil
}

// checkGrant loads a grant and rejects it if consumed or expired, under the
// same stripe lock SubmitResult consumes through, so a grant mid-consumption
// is never observed as live.
func (m *AIShareManager) checkGrant(ctx context.Context, analysisID uuid.UUID) (*interfaces.AIGrant, error) {
	lock := m.stripeFor(analysisID)
	lock.Lock()
	defer lock.Unlock()

	grant, err := m.grants.GetGrant(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if grant.Consumed {
		return nil, interfaces.ErrGrantAlreadyConsumed
	}
	if grant.Expired(m.now()) {
		return nil, interfaces.ErrGrantExpired
	}
	return grant, nil
}

// ResolveGrant opens the granted entry for the analysis service. The service
// KeyManager must be unlocked. Resolving does not consume the grant; only
// SubmitResult does.
func (m *AIShareManager) ResolveGrant(ctx context.Context, analysisID uuid.UUID, service *keymanager.KeyManager) ([]byte, error) {
	grant, err := m.checkGrant(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	session, err := service.Session()
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(session.PrivateKey)

	dataKey, err := m.provider.UnwrapKey(session.PrivateKey, grant.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(dataKey)

	blob, err := m.blobs.GetBlob(ctx, grant.EntryID)
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}
	return contentcipher.OpenWithKey(m.provider, blob, dataKey)
}

// SubmitResult consumes the grant and stores the analysis result. The result
// arrives sealed under a one-off key wrapped to the requesting user; it is
// opened with the user's private key and immediately re-encrypted through the
// user's ContentCipher before hitting storage, so the stored record follows
// the same format as any other entry.
func (m *AIShareManager) SubmitResult(ctx context.Context, result *interfaces.AnalysisResult) error {
	lock := m.stripeFor(result.AnalysisID)
	lock.Lock()
	defer lock.Unlock()

	grant, err := m.grants.GetGrant(ctx, result.AnalysisID)
	if err != nil {
		return err
	}
	if grant.Consumed {
		return interfaces.ErrGrantAlreadyConsumed
	}
	if grant.Expired(m.now()) {
		return interfaces.ErrGrantExpired
	}

	session, err := m.keys.Session()
	if err != nil {
		return err
	}
	defer cryptoutils.Zero(session.PrivateKey)

	resultKey, err := m.provider.UnwrapKey(session.PrivateKey, result.WrappedResultKey)
	if err != nil {
		return err
	}
	defer cryptoutils.Zero(resultKey)

	plaintext, err := m.provider.DecryptSymmetric(resultKey, result.EncryptedResult, result.ResultIV)
	if err != nil {
		return err
	}
	defer cryptoutils.Zero(plaintext)

	blob, err := m.cipher.EncryptContent(ctx, plaintext, nil)
	if err != nil {
		return err
	}
	if err := m.blobs.PutBlob(ctx, grant.EntryID.AnalysisResultID(), blob); err != nil {
		return fmt.Errorf("storing analysis result: %w", err)
	}

	grant.Consumed = true
	if err := m.grants.PutGrant(ctx, grant); err != nil {
		return fmt.Errorf("consuming grant: %w", err)
	}

	m.log.Info("analysis result stored",
		"entry", grant.EntryID.String(),
		"analysisId", grant.AnalysisID.String(),
	)
	return nil
}
