package sharing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/soulkeep/encryption-engine/contentcipher"
	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/directory"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/keymanager"
	"github.com/soulkeep/encryption-engine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testUser bundles one user's manager and cipher over a shared provider and
// store, the way the engine wires them per logged-in user.
type testUser struct {
	id     interfaces.UserID
	keys   *keymanager.KeyManager
	cipher *contentcipher.Cipher
}

type testWorld struct {
	provider  cryptoutils.Provider
	store     *storage.RecordStore
	directory *directory.MemoryDirectory
	now       time.Time
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	return &testWorld{
		provider:  cryptoutils.NewMockProvider(),
		store:     storage.NewRecordStore(storage.NewMemoryBackend()),
		directory: directory.NewMemoryDirectory(),
		now:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func (w *testWorld) addUser(t *testing.T, id interfaces.UserID) *testUser {
	t.Helper()
	mgr, err := keymanager.New(&keymanager.Config{
		Provider: w.provider,
		Store:    w.store,
		UserID:   id,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Setup(context.Background(), "passphrase for "+id.String()))

	session, err := mgr.Session()
	require.NoError(t, err)
	require.NoError(t, w.directory.Register(context.Background(), id, session.PublicKey))

	return &testUser{id: id, keys: mgr, cipher: contentcipher.New(w.provider, mgr)}
}

func (w *testWorld) shareManagerFor(t *testing.T, u *testUser) *ShareManager {
	t.Helper()
	mgr, err := NewShareManager(&ShareManagerConfig{
		Provider:  w.provider,
		Cipher:    u.cipher,
		Keys:      u.keys,
		Blobs:     w.store,
		Tokens:    w.store,
		Directory: w.directory,
		Now:       func() time.Time { return w.now },
	})
	require.NoError(t, err)
	return mgr
}

func (w *testWorld) writeEntry(t *testing.T, u *testUser, entry interfaces.EntryID, plaintext string) {
	t.Helper()
	blob, err := u.cipher.EncryptContent(context.Background(), []byte(plaintext), nil)
	require.NoError(t, err)
	require.NoError(t, w.store.PutBlob(context.Background(), entry, blob))
}

func TestShareManager_ShareAndResolve(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	bob := w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "for bob's eyes")

	mgr := w.shareManagerFor(t, alice)
	tokens, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	got, err := mgr.Resolve(ctx, tokens[0].ID, bob.keys, interfaces.PermissionView)
	require.NoError(t, err)
	assert.Equal(t, []byte("for bob's eyes"), got)
}

func TestShareManager_ResolveChecksPermissionScope(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	bob := w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "view only")

	mgr := w.shareManagerFor(t, alice)
	tokens, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	require.NoError(t, err)

	_, err = mgr.Resolve(ctx, tokens[0].ID, bob.keys, interfaces.PermissionExport)
	assert.ErrorIs(t, err, interfaces.ErrPermissionDenied, "view-only token must not allow export")
}

func TestShareManager_ResolveChecksRecipient(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	_ = w.addUser(t, "bob")
	carol := w.addUser(t, "carol")
	w.writeEntry(t, alice, "entry-1", "for bob")

	mgr := w.shareManagerFor(t, alice)
	tokens, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	require.NoError(t, err)

	_, err = mgr.Resolve(ctx, tokens[0].ID, carol.keys, interfaces.PermissionView)
	assert.ErrorIs(t, err, interfaces.ErrPermissionDenied, "someone else's token must not resolve")
}

func TestShareManager_RevokedShareFailsBeforeExpiryCheck(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	bob := w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "short lived")

	mgr := w.shareManagerFor(t, alice)
	tokens, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, mgr.RevokeShare(ctx, tokens[0].ID))

	// Push past expiry too: revocation must still win the error ordering.
	w.now = w.now.Add(2 * time.Hour)
	_, err = mgr.Resolve(ctx, tokens[0].ID, bob.keys, interfaces.PermissionView)
	assert.ErrorIs(t, err, interfaces.ErrShareRevoked)
}

func TestShareManager_ExpiredShareFails(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	bob := w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "short lived")

	mgr := w.shareManagerFor(t, alice)
	tokens, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Minute))
	require.NoError(t, err)

	w.now = w.now.Add(2 * time.Minute)
	_, err = mgr.Resolve(ctx, tokens[0].ID, bob.keys, interfaces.PermissionView)
	assert.ErrorIs(t, err, interfaces.ErrShareExpired)
}

func TestShareManager_NewShareReplacesActiveToken(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	bob := w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "content")

	mgr := w.shareManagerFor(t, alice)
	first, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	require.NoError(t, err)

	second, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView, interfaces.PermissionExport}, w.now.Add(2*time.Hour))
	require.NoError(t, err)

	// The first token is revoked, the second is the active one.
	_, err = mgr.Resolve(ctx, first[0].ID, bob.keys, interfaces.PermissionView)
	assert.ErrorIs(t, err, interfaces.ErrShareRevoked)

	active, err := w.store.ActiveTokenFor(ctx, "entry-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, second[0].ID, active.ID)
}

func TestShareManager_SelfShareRejected(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	w.writeEntry(t, alice, "entry-1", "content")

	mgr := w.shareManagerFor(t, alice)
	_, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"alice"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	assert.ErrorIs(t, err, interfaces.ErrInvalidRecipient)
}

func TestShareManager_UnknownRecipientRejectedBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	_ = w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "content")

	mgr := w.shareManagerFor(t, alice)
	_, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob", "nobody"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	assert.ErrorIs(t, err, interfaces.ErrRecipientNotFound)

	// Bob must not have gotten a token from the failed call.
	_, err = w.store.ActiveTokenFor(ctx, "entry-1", "bob")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestShareManager_PastExpiryRejected(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	_ = w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "content")

	mgr := w.shareManagerFor(t, alice)
	_, err := mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(-time.Minute))
	assert.ErrorIs(t, err, interfaces.ErrInvalidExpiry)
}

func TestShareManager_RevocationDoesNotTouchCiphertext(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	_ = w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "content")

	before, err := w.store.GetBlob(ctx, "entry-1")
	require.NoError(t, err)

	mgr := w.shareManagerFor(t, alice)
	_, err = mgr.CreateShares(ctx, "entry-1", []interfaces.UserID{"bob"},
		interfaces.PermissionSet{interfaces.PermissionView}, w.now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, mgr.RevokeShareFor(ctx, "entry-1", "bob"))

	after, err := w.store.GetBlob(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "sharing and revocation must not rewrite the entry")
}

func TestShareManager_RevokeWithoutActiveShare(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	w.writeEntry(t, alice, "entry-1", "content")

	mgr := w.shareManagerFor(t, alice)
	err := mgr.RevokeShareFor(ctx, "entry-1", "bob")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestShareManager_ResolveUnknownToken(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	alice := w.addUser(t, "alice")
	bob := w.addUser(t, "bob")
	w.writeEntry(t, alice, "entry-1", "content")

	mgr := w.shareManagerFor(t, alice)
	_, err := mgr.Resolve(ctx, uuid.New(), bob.keys, interfaces.PermissionView)
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}
