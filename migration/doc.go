// Package migration upgrades stored entries to the current encryption
// format. Version-1 records sealed with XChaCha20-Poly1305 are decrypted
// under their recorded scheme and re-encrypted with the current cipher. The
// new ciphertext is verified by a decryption round-trip before the stored
// record is replaced; a verification failure leaves the original record
// untouched. Batches run with bounded concurrency and per-entry error
// isolation.
package migration
