package migration

import (
	"context"
	"testing"
	"time"

	"github.com/soulkeep/encryption-engine/contentcipher"
	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/directory"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/keymanager"
	"github.com/soulkeep/encryption-engine/sharing"
	"github.com/soulkeep/encryption-engine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	provider cryptoutils.Provider
	store    *storage.RecordStore
	keys     *keymanager.KeyManager
	cipher   *contentcipher.Cipher
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	provider := cryptoutils.NewMockProvider()
	store := storage.NewRecordStore(storage.NewMemoryBackend())

	keys, err := keymanager.New(&keymanager.Config{
		Provider: provider,
		Store:    store,
		UserID:   "alice",
	})
	require.NoError(t, err)
	require.NoError(t, keys.Setup(context.Background(), "passphrase"))

	cipher := contentcipher.New(provider, keys)
	service, err := New(&Config{Cipher: cipher, Blobs: store})
	require.NoError(t, err)

	return &testEnv{provider: provider, store: store, keys: keys, cipher: cipher, service: service}
}

// writeLegacyEntry stores a version-1 XChaCha20-Poly1305 record the way the
// old format wrote them.
func (e *testEnv) writeLegacyEntry(t *testing.T, entry interfaces.EntryID, plaintext string) {
	t.Helper()
	dataKey, err := e.provider.GenerateSymmetricKey()
	require.NoError(t, err)
	ciphertext, nonce, err := contentcipher.SealLegacy(e.provider, dataKey, []byte(plaintext))
	require.NoError(t, err)

	session, err := e.keys.Session()
	require.NoError(t, err)
	wrapped, err := e.provider.WrapKey(session.PublicKey, dataKey)
	require.NoError(t, err)

	require.NoError(t, e.store.PutBlob(context.Background(), entry, &interfaces.EncryptedBlob{
		Content:      ciphertext,
		IV:           nonce,
		EncryptedKey: wrapped,
		KeyVersion:   interfaces.KeyVersionLegacy,
		Scheme:       interfaces.SchemeXChaCha,
		IsEncrypted:  true,
	}))
}

func (e *testEnv) writeCurrentEntry(t *testing.T, entry interfaces.EntryID, plaintext string) {
	t.Helper()
	blob, err := e.cipher.EncryptContent(context.Background(), []byte(plaintext), nil)
	require.NoError(t, err)
	require.NoError(t, e.store.PutBlob(context.Background(), entry, blob))
}

func TestNeedsMigration(t *testing.T) {
	tests := []struct {
		name string
		blob *interfaces.EncryptedBlob
		want bool
	}{
		{"nil", nil, false},
		{"current", &interfaces.EncryptedBlob{IsEncrypted: true, KeyVersion: interfaces.KeyVersionCurrent, Scheme: interfaces.SchemeAESGCM}, false},
		{"legacy version", &interfaces.EncryptedBlob{IsEncrypted: true, KeyVersion: interfaces.KeyVersionLegacy, Scheme: interfaces.SchemeXChaCha}, true},
		{"missing version", &interfaces.EncryptedBlob{IsEncrypted: true}, true},
		{"deprecated scheme on current version", &interfaces.EncryptedBlob{IsEncrypted: true, KeyVersion: interfaces.KeyVersionCurrent, Scheme: interfaces.SchemeXChaCha}, true},
		{"lost flag with wrapped key", &interfaces.EncryptedBlob{IsEncrypted: false, EncryptedKey: []byte("wrapped")}, true},
		{"true plaintext record", &interfaces.EncryptedBlob{IsEncrypted: false, Content: []byte("plain")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsMigration(tt.blob))
		})
	}
}

func TestMigrateEntries_UpgradesLegacyRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.writeLegacyEntry(t, "old-1", "first old entry")
	env.writeLegacyEntry(t, "old-2", "second old entry")
	env.writeCurrentEntry(t, "new-1", "already current")

	report, err := env.service.MigrateEntries(ctx, []interfaces.EntryID{"old-1", "old-2", "new-1"})
	require.NoError(t, err)

	assert.Equal(t, []interfaces.EntryID{"old-1", "old-2"}, report.Migrated)
	assert.Equal(t, []interfaces.EntryID{"new-1"}, report.Skipped)
	assert.Empty(t, report.Errors)

	for entry, want := range map[interfaces.EntryID]string{
		"old-1": "first old entry",
		"old-2": "second old entry",
		"new-1": "already current",
	} {
		blob, err := env.store.GetBlob(ctx, entry)
		require.NoError(t, err)
		assert.Equal(t, interfaces.KeyVersionCurrent, blob.KeyVersion, "entry %s", entry)
		assert.Equal(t, interfaces.SchemeAESGCM, blob.Scheme, "entry %s", entry)

		got, err := env.cipher.DecryptContent(ctx, blob)
		require.NoError(t, err)
		assert.Equal(t, want, string(got), "entry %s", entry)
	}
}

func TestMigrateEntries_FailureIsolatedPerEntry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.writeLegacyEntry(t, "good", "fine entry")

	// A legacy record whose ciphertext was corrupted in storage.
	env.writeLegacyEntry(t, "bad", "doomed entry")
	corrupt, err := env.store.GetBlob(ctx, "bad")
	require.NoError(t, err)
	corrupt.Content[0] ^= 0xff
	require.NoError(t, env.store.PutBlob(ctx, "bad", corrupt))

	report, err := env.service.MigrateEntries(ctx, []interfaces.EntryID{"good", "bad", "missing"})
	require.NoError(t, err)

	assert.Equal(t, []interfaces.EntryID{"good"}, report.Migrated)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, interfaces.EntryID("bad"), report.Errors[0].EntryID)
	assert.ErrorIs(t, report.Errors[0].Err, interfaces.ErrDecryptionFailed)
	assert.Equal(t, interfaces.EntryID("missing"), report.Errors[1].EntryID)
	assert.ErrorIs(t, report.Errors[1].Err, interfaces.ErrRecordNotFound)
}

func TestMigrateEntries_FailedEntryLeftUntouched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.writeLegacyEntry(t, "bad", "doomed entry")

	corrupt, err := env.store.GetBlob(ctx, "bad")
	require.NoError(t, err)
	corrupt.Content[len(corrupt.Content)-1] ^= 0x01
	require.NoError(t, env.store.PutBlob(ctx, "bad", corrupt))

	before, err := env.store.GetBlob(ctx, "bad")
	require.NoError(t, err)

	report, err := env.service.MigrateEntries(ctx, []interfaces.EntryID{"bad"})
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)

	after, err := env.store.GetBlob(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed migration must leave the stored record byte-identical")
}

func TestMigrateEntries_RepairsLostEncryptedFlag(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.writeCurrentEntry(t, "entry-1", "flag got lost")

	blob, err := env.store.GetBlob(ctx, "entry-1")
	require.NoError(t, err)
	blob.IsEncrypted = false
	require.NoError(t, env.store.PutBlob(ctx, "entry-1", blob))

	report, err := env.service.MigrateEntries(ctx, []interfaces.EntryID{"entry-1"})
	require.NoError(t, err)
	assert.Equal(t, []interfaces.EntryID{"entry-1"}, report.Migrated)

	repaired, err := env.store.GetBlob(ctx, "entry-1")
	require.NoError(t, err)
	assert.True(t, repaired.IsEncrypted)

	got, err := env.cipher.DecryptContent(ctx, repaired)
	require.NoError(t, err)
	assert.Equal(t, []byte("flag got lost"), got)
}

func TestMigrateEntries_ActiveSharesSurvive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.writeLegacyEntry(t, "entry-1", "shared before the upgrade")

	dir := directory.NewMemoryDirectory()
	aliceSession, err := env.keys.Session()
	require.NoError(t, err)
	require.NoError(t, dir.Register(ctx, "alice", aliceSession.PublicKey))

	bob, err := keymanager.New(&keymanager.Config{
		Provider: env.provider,
		Store:    env.store,
		UserID:   "bob",
	})
	require.NoError(t, err)
	require.NoError(t, bob.Setup(ctx, "passphrase for bob"))
	bobSession, err := bob.Session()
	require.NoError(t, err)
	require.NoError(t, dir.Register(ctx, "bob", bobSession.PublicKey))

	shares, err := sharing.NewShareManager(&sharing.ShareManagerConfig{
		Provider:  env.provider,
		Cipher:    env.cipher,
		Keys:      env.keys,
		Blobs:     env.store,
		Tokens:    env.store,
		Directory: dir,
	})
	require.NoError(t, err)
	tokens, err := shares.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	before, err := env.store.GetBlob(ctx, "entry-1")
	require.NoError(t, err)

	report, err := env.service.MigrateEntries(ctx, []interfaces.EntryID{"entry-1"})
	require.NoError(t, err)
	require.Equal(t, []interfaces.EntryID{"entry-1"}, report.Migrated)
	require.Empty(t, report.Errors)

	// The record moved to the current scheme but kept its data key, so the
	// token issued before the upgrade still opens it.
	after, err := env.store.GetBlob(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.SchemeAESGCM, after.Scheme)
	assert.Equal(t, before.EncryptedKey, after.EncryptedKey, "upgrading must not rotate the entry's data key")

	got, err := shares.Resolve(ctx, tokens[0].ID, bob, interfaces.PermissionView)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared before the upgrade"), got)
}

func TestMigrateEntries_LockedSessionReportsPerEntry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.writeLegacyEntry(t, "old-1", "entry")
	env.keys.Lock()

	report, err := env.service.MigrateEntries(ctx, []interfaces.EntryID{"old-1"})
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0].Err, interfaces.ErrEncryptionLocked)
}
