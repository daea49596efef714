// Package keymanager owns a user's key material and its lock/unlock
// lifecycle.
//
// A KeyManager moves through the states
//
//	Uninitialized → SettingUp → Locked ⇄ Unlocked → Destroyed
//
// Setup derives the master key from a passphrase with Argon2id, generates the
// user's key pair, seals the private key under the master key, and persists
// the resulting KeyRecord. The master key and the unwrapped private key exist
// only in memory and only while the state is Unlocked.
//
// Unlock and Lock are serialized by a mutex so a derivation can never race a
// zeroing. Cipher operations read an immutable Session snapshot instead of
// the manager's fields, so operations in flight when Lock fires run to
// completion while new calls fail fast with ErrEncryptionLocked.
//
// An optional idle timeout auto-locks the session. The timer is reset by
// Touch, which ciphers call after every successful operation. Zeroing on lock
// is best effort: a garbage-collected runtime can retain earlier copies of
// key bytes until collection.
package keymanager
