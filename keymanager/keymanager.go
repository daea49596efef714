package keymanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/interfaces"
)

// State is the lifecycle state of a KeyManager.
type State int

const (
	// StateUninitialized means no key record exists for the user.
	StateUninitialized State = iota
	// StateSettingUp means Setup is deriving and persisting key material.
	StateSettingUp
	// StateLocked means key material exists but is not in memory.
	StateLocked
	// StateUnlocked means the master key and private key are held in memory.
	StateUnlocked
	// StateDestroyed means the manager was torn down and is unusable.
	StateDestroyed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSettingUp:
		return "setting-up"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Config holds KeyManager construction parameters.
type Config struct {
	Provider cryptoutils.Provider
	Store    interfaces.KeyStore
	UserID   interfaces.UserID

	// IdleTimeout auto-locks an unlocked session after inactivity. Zero
	// disables the auto-lock.
	IdleTimeout time.Duration

	Log *slog.Logger
}

// KeyManager owns one user's key material for the session. All state
// transitions are serialized through a single mutex.
type KeyManager struct {
	provider    cryptoutils.Provider
	store       interfaces.KeyStore
	userID      interfaces.UserID
	idleTimeout time.Duration
	log         *slog.Logger

	mu         sync.Mutex
	state      State
	masterKey  []byte
	privateKey cryptoutils.PrivateKey
	publicKey  cryptoutils.PublicKey
	idleTimer  *time.Timer
}

// Session is an immutable snapshot of unlocked key material. Ciphers operate
// on sessions, never on the manager's own fields, so a concurrent lock cannot
// clobber an operation in flight.
type Session struct {
	UserID     interfaces.UserID
	PublicKey  cryptoutils.PublicKey
	PrivateKey cryptoutils.PrivateKey
}

// New creates a KeyManager for the given user. The manager starts
// Uninitialized; CheckSetup or Unlock discover existing key records.
func New(cfg *Config) (*KeyManager, error) {
	if cfg.Provider == nil {
		return nil, errors.New("keymanager: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("keymanager: key store is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("keymanager: user id is required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &KeyManager{
		provider:    cfg.Provider,
		store:       cfg.Store,
		userID:      cfg.UserID,
		idleTimeout: cfg.IdleTimeout,
		log:         log,
		state:       StateUninitialized,
	}, nil
}

// UserID returns the user this manager belongs to.
func (m *KeyManager) UserID() interfaces.UserID { return m.userID }

// State returns the current lifecycle state.
func (m *KeyManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CheckSetup reports whether key material exists for the user without
// requiring an unlock, so UIs can distinguish "must set up encryption" from
// "must unlock". Discovering an existing record moves an Uninitialized
// manager to Locked.
func (m *KeyManager) CheckSetup(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDestroyed {
		return false, interfaces.ErrEncryptionDestroyed
	}
	if m.state == StateLocked || m.state == StateUnlocked {
		return true, nil
	}

	_, err := m.store.GetKeyRecord(ctx, m.userID)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking key record: %w", err)
	}

	m.state = StateLocked
	return true, nil
}

// Setup derives the master key from the passphrase, generates the user's key
// pair, persists the sealed key record, and leaves the session Unlocked.
func (m *KeyManager) Setup(ctx context.Context, passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDestroyed:
		return interfaces.ErrEncryptionDestroyed
	case StateLocked, StateUnlocked:
		return interfaces.ErrAlreadySetup
	}

	if _, err := m.store.GetKeyRecord(ctx, m.userID); err == nil {
		m.state = StateLocked
		return interfaces.ErrAlreadySetup
	} else if !errors.Is(err, interfaces.ErrRecordNotFound) {
		return fmt.Errorf("checking key record: %w", err)
	}

	m.state = StateSettingUp

	salt, err := m.provider.RandomBytes(cryptoutils.SaltSize)
	if err != nil {
		m.state = StateUninitialized
		return err
	}

	params := cryptoutils.DefaultKDFParams()
	masterKey, err := m.provider.DeriveKeyFromPassphrase(passphrase, salt, params)
	if err != nil {
		m.state = StateUninitialized
		return err
	}

	publicKey, privateKey, err := m.provider.GenerateKeyPair()
	if err != nil {
		cryptoutils.Zero(masterKey)
		m.state = StateUninitialized
		return err
	}

	wrappedPriv, privIV, err := m.provider.EncryptSymmetric(masterKey, privateKey)
	if err != nil {
		cryptoutils.Zero(masterKey)
		cryptoutils.Zero(privateKey)
		m.state = StateUninitialized
		return err
	}

	record := &interfaces.KeyRecord{
		UserID:            m.userID,
		Salt:              salt,
		KDFTime:           params.Time,
		KDFMemoryKiB:      params.MemoryKiB,
		KDFThreads:        params.Threads,
		WrappedPrivateKey: wrappedPriv,
		PrivateKeyIV:      privIV,
		PublicKey:         publicKey,
		KeyVersion:        interfaces.KeyVersionCurrent,
		CreatedAt:         time.Now().UTC(),
	}

	if err := m.store.PutKeyRecord(ctx, record); err != nil {
		cryptoutils.Zero(masterKey)
		cryptoutils.Zero(privateKey)
		m.state = StateUninitialized
		return fmt.Errorf("persisting key record: %w", err)
	}

	m.masterKey = masterKey
	m.privateKey = privateKey
	m.publicKey = publicKey
	m.state = StateUnlocked
	m.resetIdleTimerLocked()

	m.log.Info("encryption set up", "user", m.userID.String())
	return nil
}

// Unlock derives the master key from the passphrase and unseals the private
// key. A wrong passphrase leaves the state Locked and returns
// ErrEncryptionLocked; stored key material is never mutated.
func (m *KeyManager) Unlock(ctx context.Context, passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDestroyed:
		return interfaces.ErrEncryptionDestroyed
	case StateUnlocked:
		return nil
	}

	record, err := m.store.GetKeyRecord(ctx, m.userID)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		return interfaces.ErrEncryptionNotSetup
	}
	if err != nil {
		return fmt.Errorf("loading key record: %w", err)
	}

	params := cryptoutils.KDFParams{
		Time:      record.KDFTime,
		MemoryKiB: record.KDFMemoryKiB,
		Threads:   record.KDFThreads,
	}

	masterKey, err := m.provider.DeriveKeyFromPassphrase(passphrase, record.Salt, params)
	if err != nil {
		m.state = StateLocked
		return err
	}

	// The GCM tag over the sealed private key is the passphrase check.
	privateKey, err := m.provider.DecryptSymmetric(masterKey, record.WrappedPrivateKey, record.PrivateKeyIV)
	if err != nil {
		cryptoutils.Zero(masterKey)
		m.state = StateLocked
		m.log.Info("unlock rejected", "user", m.userID.String())
		return interfaces.ErrEncryptionLocked
	}

	m.masterKey = masterKey
	m.privateKey = cryptoutils.PrivateKey(privateKey)
	m.publicKey = record.PublicKey
	m.state = StateUnlocked
	m.resetIdleTimerLocked()

	m.log.Info("session unlocked", "user", m.userID.String())
	return nil
}

// Lock zeroes in-memory key material and stops the idle timer. Operations
// already holding a Session complete; new Session calls fail.
func (m *KeyManager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked("explicit")
}

// Destroy locks the session and makes the manager permanently unusable.
// Called on logout.
func (m *KeyManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked("destroy")
	m.state = StateDestroyed
}

// Session returns an immutable snapshot of the unlocked key material.
func (m *KeyManager) Session() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDestroyed:
		return nil, interfaces.ErrEncryptionDestroyed
	case StateUninitialized:
		return nil, interfaces.ErrEncryptionNotSetup
	case StateLocked, StateSettingUp:
		return nil, interfaces.ErrEncryptionLocked
	}

	pub := make(cryptoutils.PublicKey, len(m.publicKey))
	copy(pub, m.publicKey)

	return &Session{
		UserID:     m.userID,
		PublicKey:  pub,
		PrivateKey: m.privateKey.Clone(),
	}, nil
}

// Touch resets the idle auto-lock timer. Ciphers call it after every
// successful operation.
func (m *KeyManager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateUnlocked {
		m.resetIdleTimerLocked()
	}
}

func (m *KeyManager) lockLocked(reason string) {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	if m.state != StateUnlocked {
		if m.state == StateSettingUp {
			return
		}
		if m.state != StateUninitialized && m.state != StateDestroyed {
			m.state = StateLocked
		}
		return
	}

	cryptoutils.Zero(m.masterKey)
	cryptoutils.Zero(m.privateKey)
	m.masterKey = nil
	m.privateKey = nil
	m.state = StateLocked

	m.log.Info("session locked", "user", m.userID.String(), "reason", reason)
}

func (m *KeyManager) resetIdleTimerLocked() {
	if m.idleTimeout <= 0 {
		return
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.idleTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateUnlocked {
			m.lockLocked("idle-timeout")
		}
	})
}
