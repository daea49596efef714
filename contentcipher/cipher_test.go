package contentcipher

import (
	"bytes"
	"context"
	"testing"

	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/keymanager"
	"github.com/soulkeep/encryption-engine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) (*Cipher, *keymanager.KeyManager, cryptoutils.Provider) {
	t.Helper()
	provider := cryptoutils.NewMockProvider()
	mgr, err := keymanager.New(&keymanager.Config{
		Provider: provider,
		Store:    storage.NewRecordStore(storage.NewMemoryBackend()),
		UserID:   "alice",
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Setup(context.Background(), "passphrase"))
	return New(provider, mgr), mgr, provider
}

func TestCipher_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cipher, _, _ := newTestCipher(t)

	plaintext := []byte("dear diary")
	blob, err := cipher.EncryptContent(ctx, plaintext, nil)
	require.NoError(t, err)

	assert.True(t, blob.IsEncrypted)
	assert.Equal(t, interfaces.KeyVersionCurrent, blob.KeyVersion)
	assert.Equal(t, interfaces.SchemeAESGCM, blob.Scheme)
	assert.NotContains(t, string(blob.Content), "dear diary", "ciphertext must not contain plaintext")

	got, err := cipher.DecryptContent(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestCipher_EncryptionIsNonDeterministic(t *testing.T) {
	ctx := context.Background()
	cipher, _, _ := newTestCipher(t)

	plaintext := []byte("same words twice")
	first, err := cipher.EncryptContent(ctx, plaintext, nil)
	require.NoError(t, err)
	second, err := cipher.EncryptContent(ctx, plaintext, nil)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(first.Content, second.Content), "two encryptions of the same plaintext must differ")
	assert.False(t, bytes.Equal(first.IV, second.IV), "IVs must not repeat")
}

func TestCipher_EditReusesDataKey(t *testing.T) {
	ctx := context.Background()
	cipher, _, _ := newTestCipher(t)

	original, err := cipher.EncryptContent(ctx, []byte("v1"), nil)
	require.NoError(t, err)

	edited, err := cipher.EncryptContent(ctx, []byte("v2"), original)
	require.NoError(t, err)

	assert.Equal(t, original.EncryptedKey, edited.EncryptedKey, "editing must reuse the entry's data key")

	keyA, err := cipher.DataKey(ctx, original)
	require.NoError(t, err)
	keyB, err := cipher.DataKey(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)

	got, err := cipher.DecryptContent(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestCipher_LockedSessionFails(t *testing.T) {
	ctx := context.Background()
	cipher, mgr, _ := newTestCipher(t)

	blob, err := cipher.EncryptContent(ctx, []byte("secret"), nil)
	require.NoError(t, err)

	mgr.Lock()

	_, err = cipher.EncryptContent(ctx, []byte("more"), nil)
	assert.ErrorIs(t, err, interfaces.ErrEncryptionLocked)
	_, err = cipher.DecryptContent(ctx, blob)
	assert.ErrorIs(t, err, interfaces.ErrEncryptionLocked)
}

func TestCipher_TamperedCiphertextFails(t *testing.T) {
	ctx := context.Background()
	cipher, _, _ := newTestCipher(t)

	blob, err := cipher.EncryptContent(ctx, []byte("secret"), nil)
	require.NoError(t, err)
	blob.Content[0] ^= 0xff

	_, err = cipher.DecryptContent(ctx, blob)
	assert.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
}

func TestCipher_WrongUserCannotDecrypt(t *testing.T) {
	ctx := context.Background()
	cipher, _, _ := newTestCipher(t)

	blob, err := cipher.EncryptContent(ctx, []byte("alice only"), nil)
	require.NoError(t, err)

	provider := cryptoutils.NewMockProvider()
	otherMgr, err := keymanager.New(&keymanager.Config{
		Provider: provider,
		Store:    storage.NewRecordStore(storage.NewMemoryBackend()),
		UserID:   "mallory",
	})
	require.NoError(t, err)
	require.NoError(t, otherMgr.Setup(ctx, "other passphrase"))

	other := New(provider, otherMgr)
	_, err = other.DecryptContent(ctx, blob)
	assert.ErrorIs(t, err, interfaces.ErrDecryptionFailed, "a different user's key must not open the blob")
}

func TestCipher_UnencryptedBlobPassesThrough(t *testing.T) {
	ctx := context.Background()
	cipher, _, _ := newTestCipher(t)

	blob := &interfaces.EncryptedBlob{Content: []byte("plain old text"), IsEncrypted: false}
	got, err := cipher.DecryptContent(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain old text"), got)
}

func TestCipher_LegacySchemeStillOpens(t *testing.T) {
	ctx := context.Background()
	cipher, mgr, provider := newTestCipher(t)

	dataKey, err := provider.GenerateSymmetricKey()
	require.NoError(t, err)
	ciphertext, nonce, err := SealLegacy(provider, dataKey, []byte("old entry"))
	require.NoError(t, err)

	session, err := mgr.Session()
	require.NoError(t, err)
	wrapped, err := provider.WrapKey(session.PublicKey, dataKey)
	require.NoError(t, err)

	blob := &interfaces.EncryptedBlob{
		Content:      ciphertext,
		IV:           nonce,
		EncryptedKey: wrapped,
		KeyVersion:   interfaces.KeyVersionLegacy,
		Scheme:       interfaces.SchemeXChaCha,
		IsEncrypted:  true,
	}

	got, err := cipher.DecryptContent(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("old entry"), got)
}

func TestCipher_LegacySchemeInferredFromVersion(t *testing.T) {
	// Records written before the scheme tag existed carry only a version.
	assert.Equal(t, interfaces.SchemeXChaCha, scheme(&interfaces.EncryptedBlob{KeyVersion: interfaces.KeyVersionLegacy}))
	assert.Equal(t, interfaces.SchemeAESGCM, scheme(&interfaces.EncryptedBlob{KeyVersion: interfaces.KeyVersionCurrent}))
}
