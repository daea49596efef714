// Package directory resolves user identities to public keys for share
// wrapping. MemoryDirectory is a registration-backed in-process directory;
// PinningDirectory wraps any Directory with trust-on-first-use pinning so a
// key that silently changes for a known user is rejected instead of silently
// re-wrapping shares to a possibly hostile key.
package directory
