// Package storage persists the engine's opaque records: encrypted blobs,
// share tokens, AI grants, and sealed key records.
//
// A RecordBackend stores record bytes by namespace and key. Backends only
// ever see ciphertext and wrapped keys; an operator with full access to a
// backend learns nothing about entry plaintext. Five backends are provided:
//
//   - MemoryBackend - in-process map, for tests and single-session use
//   - FileBackend   - local filesystem, one file per record
//   - S3Backend     - Amazon S3 or compatible object storage
//   - VaultBackend  - HashiCorp Vault KV v2
//   - IPFSBackend   - IPFS via the Mutable File System API
//
// Backends are created from location URIs through StorageBackendFactory
// (mem://, file://, s3://, vault://, ipfs://). MultiBackend aggregates
// several backends for redundancy: stores go to all available backends,
// fetches return the first hit.
//
// RecordStore adapts a RecordBackend into the typed store interfaces the
// engine consumes (BlobStore, TokenStore, GrantStore, KeyStore), handling
// JSON encoding and the active-token index.
package storage
