package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soulkeep/encryption-engine/contentcipher"
	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/keymanager"
	"github.com/soulkeep/encryption-engine/migration"
	"github.com/soulkeep/encryption-engine/sharing"
)

// DirectoryRegistrar publishes a user's public key after setup. The memory
// directory implements it; a remote directory client would too.
type DirectoryRegistrar interface {
	Register(ctx context.Context, user interfaces.UserID, key interfaces.PublicKey) error
}

// EngineConfig holds the shared dependencies every per-user engine is built
// from.
type EngineConfig struct {
	Provider  cryptoutils.Provider
	Blobs     interfaces.BlobStore
	Tokens    interfaces.TokenStore
	Grants    interfaces.GrantStore
	Keys      interfaces.KeyStore
	Directory interfaces.Directory

	// Registrar, when set, receives each user's public key after setup.
	Registrar DirectoryRegistrar

	// AIServiceID is the directory identity of the analysis service.
	AIServiceID interfaces.UserID

	// IdleTimeout configures per-user auto-lock; zero disables it.
	IdleTimeout time.Duration

	Log *slog.Logger
}

// Engine bundles one user's engine components over the shared stores.
type Engine struct {
	Keys      *keymanager.KeyManager
	Cipher    *contentcipher.Cipher
	Shares    *sharing.ShareManager
	AI        *sharing.AIShareManager
	Migration *migration.Service
}

// EngineRegistry lazily builds and caches one Engine per user.
type EngineRegistry struct {
	cfg *EngineConfig
	log *slog.Logger

	mu      sync.Mutex
	engines map[interfaces.UserID]*Engine
}

// NewEngineRegistry validates the config and returns an empty registry.
func NewEngineRegistry(cfg *EngineConfig) (*EngineRegistry, error) {
	if cfg.Provider == nil {
		return nil, errors.New("httpserver: provider is required")
	}
	if cfg.Blobs == nil || cfg.Tokens == nil || cfg.Grants == nil || cfg.Keys == nil {
		return nil, errors.New("httpserver: record stores are required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("httpserver: directory is required")
	}
	if err := cfg.AIServiceID.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &EngineRegistry{
		cfg:     cfg,
		log:     log,
		engines: make(map[interfaces.UserID]*Engine),
	}, nil
}

// EngineFor returns the user's engine, building it on first use.
func (r *EngineRegistry) EngineFor(user interfaces.UserID) (*Engine, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if engine, ok := r.engines[user]; ok {
		return engine, nil
	}

	keys, err := keymanager.New(&keymanager.Config{
		Provider:    r.cfg.Provider,
		Store:       r.cfg.Keys,
		UserID:      user,
		IdleTimeout: r.cfg.IdleTimeout,
		Log:         r.log,
	})
	if err != nil {
		return nil, err
	}

	cipher := contentcipher.New(r.cfg.Provider, keys)

	shares, err := sharing.NewShareManager(&sharing.ShareManagerConfig{
		Provider:  r.cfg.Provider,
		Cipher:    cipher,
		Keys:      keys,
		Blobs:     r.cfg.Blobs,
		Tokens:    r.cfg.Tokens,
		Directory: r.cfg.Directory,
		Log:       r.log,
	})
	if err != nil {
		return nil, err
	}

	ai, err := sharing.NewAIShareManager(&sharing.AIShareManagerConfig{
		Provider:  r.cfg.Provider,
		Cipher:    cipher,
		Keys:      keys,
		Blobs:     r.cfg.Blobs,
		Grants:    r.cfg.Grants,
		Directory: r.cfg.Directory,
		ServiceID: r.cfg.AIServiceID,
		Log:       r.log,
	})
	if err != nil {
		return nil, err
	}

	migrator, err := migration.New(&migration.Config{
		Cipher: cipher,
		Blobs:  r.cfg.Blobs,
		Log:    r.log,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		Keys:      keys,
		Cipher:    cipher,
		Shares:    shares,
		AI:        ai,
		Migration: migrator,
	}
	r.engines[user] = engine
	return engine, nil
}

// RegisterPublicKey publishes the user's public key through the configured
// registrar, if any.
func (r *EngineRegistry) RegisterPublicKey(ctx context.Context, user interfaces.UserID, key interfaces.PublicKey) error {
	if r.cfg.Registrar == nil {
		return nil
	}
	return r.cfg.Registrar.Register(ctx, user, key)
}

// DestroyEngine locks and drops the user's engine, for logout.
func (r *EngineRegistry) DestroyEngine(user interfaces.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if engine, ok := r.engines[user]; ok {
		engine.Keys.Destroy()
		delete(r.engines, user)
	}
}
