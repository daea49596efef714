package keymanager

import (
	"context"
	"testing"
	"time"

	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, idleTimeout time.Duration) (*KeyManager, interfaces.KeyStore) {
	t.Helper()
	store := storage.NewRecordStore(storage.NewMemoryBackend())
	mgr, err := New(&Config{
		Provider:    cryptoutils.NewMockProvider(),
		Store:       store,
		UserID:      "alice",
		IdleTimeout: idleTimeout,
	})
	require.NoError(t, err, "manager construction should succeed")
	return mgr, store
}

func TestKeyManager_CheckSetupBeforeAndAfter(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 0)

	configured, err := mgr.CheckSetup(ctx)
	require.NoError(t, err)
	assert.False(t, configured, "fresh user should report not configured")
	assert.Equal(t, StateUninitialized, mgr.State())

	require.NoError(t, mgr.Setup(ctx, "a very long passphrase"))
	assert.Equal(t, StateUnlocked, mgr.State(), "setup should leave the session unlocked")

	configured, err = mgr.CheckSetup(ctx)
	require.NoError(t, err)
	assert.True(t, configured, "configured user should report configured")
}

func TestKeyManager_CheckSetupDiscoversExistingRecord(t *testing.T) {
	ctx := context.Background()
	store := storage.NewRecordStore(storage.NewMemoryBackend())
	provider := cryptoutils.NewMockProvider()

	first, err := New(&Config{Provider: provider, Store: store, UserID: "alice"})
	require.NoError(t, err)
	require.NoError(t, first.Setup(ctx, "pass"))

	// A second manager over the same store discovers the record without unlock.
	second, err := New(&Config{Provider: provider, Store: store, UserID: "alice"})
	require.NoError(t, err)

	configured, err := second.CheckSetup(ctx)
	require.NoError(t, err)
	assert.True(t, configured)
	assert.Equal(t, StateLocked, second.State(), "discovered record should move the manager to Locked, not Unlocked")
}

func TestKeyManager_SetupTwiceFails(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 0)

	require.NoError(t, mgr.Setup(ctx, "pass"))
	err := mgr.Setup(ctx, "pass")
	assert.ErrorIs(t, err, interfaces.ErrAlreadySetup)
}

func TestKeyManager_UnlockWithCorrectAndWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	store := storage.NewRecordStore(storage.NewMemoryBackend())
	provider := cryptoutils.NewMockProvider()

	mgr, err := New(&Config{Provider: provider, Store: store, UserID: "alice"})
	require.NoError(t, err)
	require.NoError(t, mgr.Setup(ctx, "P1"))
	mgr.Lock()
	assert.Equal(t, StateLocked, mgr.State())

	recordBefore, err := store.GetKeyRecord(ctx, "alice")
	require.NoError(t, err)

	err = mgr.Unlock(ctx, "wrong")
	assert.ErrorIs(t, err, interfaces.ErrEncryptionLocked, "wrong passphrase should report EncryptionLocked")
	assert.Equal(t, StateLocked, mgr.State(), "wrong passphrase should leave state Locked")

	recordAfter, err := store.GetKeyRecord(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, recordBefore, recordAfter, "failed unlock must not mutate stored key material")

	require.NoError(t, mgr.Unlock(ctx, "P1"), "correct passphrase should unlock")
	assert.Equal(t, StateUnlocked, mgr.State())
}

func TestKeyManager_UnlockWithoutSetup(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 0)

	err := mgr.Unlock(ctx, "anything")
	assert.ErrorIs(t, err, interfaces.ErrEncryptionNotSetup)
}

func TestKeyManager_SessionStates(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 0)

	_, err := mgr.Session()
	assert.ErrorIs(t, err, interfaces.ErrEncryptionNotSetup)

	require.NoError(t, mgr.Setup(ctx, "pass"))
	session, err := mgr.Session()
	require.NoError(t, err)
	assert.Equal(t, interfaces.UserID("alice"), session.UserID)
	assert.NotEmpty(t, session.PublicKey)
	assert.NotEmpty(t, session.PrivateKey)

	mgr.Lock()
	_, err = mgr.Session()
	assert.ErrorIs(t, err, interfaces.ErrEncryptionLocked)

	mgr.Destroy()
	_, err = mgr.Session()
	assert.ErrorIs(t, err, interfaces.ErrEncryptionDestroyed)
	err = mgr.Unlock(ctx, "pass")
	assert.ErrorIs(t, err, interfaces.ErrEncryptionDestroyed, "destroyed manager cannot be unlocked")
}

func TestKeyManager_SessionSurvivesLock(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 0)
	require.NoError(t, mgr.Setup(ctx, "pass"))

	session, err := mgr.Session()
	require.NoError(t, err)
	priv := make([]byte, len(session.PrivateKey))
	copy(priv, session.PrivateKey)

	// Locking zeroes the manager's copy, not the snapshot handed out.
	mgr.Lock()
	assert.Equal(t, priv, []byte(session.PrivateKey), "session snapshot must stay intact after lock")
}

func TestKeyManager_IdleTimeoutAutoLocks(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 30*time.Millisecond)
	require.NoError(t, mgr.Setup(ctx, "pass"))

	require.Eventually(t, func() bool {
		return mgr.State() == StateLocked
	}, time.Second, 5*time.Millisecond, "idle timeout should auto-lock the session")
}

func TestKeyManager_TouchDefersAutoLock(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 60*time.Millisecond)
	require.NoError(t, mgr.Setup(ctx, "pass"))

	// Keep touching for longer than the idle timeout.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		mgr.Touch()
		require.Equal(t, StateUnlocked, mgr.State(), "touched session should stay unlocked past the timeout")
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return mgr.State() == StateLocked
	}, time.Second, 5*time.Millisecond, "session should auto-lock once touches stop")
}
