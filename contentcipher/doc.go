// Package contentcipher seals and opens journal entry content with per-entry
// data keys. Each entry gets its own 32-byte data key, self-wrapped under the
// owner's public key and stored inside the EncryptedBlob, so revoking a share
// never requires re-encrypting unrelated entries. Editing an entry reuses its
// existing data key instead of minting a new one.
package contentcipher
