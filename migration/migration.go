package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/soulkeep/encryption-engine/contentcipher"
	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/interfaces"
)

// DefaultConcurrency bounds how many entries migrate at once.
const DefaultConcurrency = 4

// Config wires a Service's dependencies.
type Config struct {
	Cipher *contentcipher.Cipher
	Blobs  interfaces.BlobStore
	Log    *slog.Logger

	// Concurrency overrides the migration worker count.
	Concurrency int
}

// Service re-encrypts stored entries into the current format.
type Service struct {
	cipher      *contentcipher.Cipher
	blobs       interfaces.BlobStore
	log         *slog.Logger
	concurrency int
}

// EntryError records a migration failure for one entry.
type EntryError struct {
	EntryID interfaces.EntryID `json:"entryId"`
	Err     error              `json:"-"`
	Message string             `json:"error"`
}

// Report summarizes one batch: which entries were upgraded, which were
// already current, and which failed.
type Report struct {
	Migrated []interfaces.EntryID `json:"migrated"`
	Skipped  []interfaces.EntryID `json:"skipped"`
	Errors   []EntryError         `json:"errors"`
}

// New validates the config and returns a Service.
func New(cfg *Config) (*Service, error) {
	if cfg.Cipher == nil || cfg.Blobs == nil {
		return nil, errors.New("migration: cipher and blob store are required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Service{
		cipher:      cfg.Cipher,
		blobs:       cfg.Blobs,
		log:         log,
		concurrency: concurrency,
	}, nil
}

// NeedsMigration reports whether a stored blob is not in the current format:
// an old or missing key version, a deprecated scheme tag, or an isEncrypted
// flag inconsistent with the rest of the record.
func NeedsMigration(blob *interfaces.EncryptedBlob) bool {
	if blob == nil {
		return false
	}
	if !blob.IsEncrypted {
		// A wrapped key on a record claiming to be plaintext means the
		// flag was lost, not that the record is plaintext.
		return len(blob.EncryptedKey) > 0
	}
	if blob.KeyVersion < interfaces.KeyVersionCurrent {
		return true
	}
	return blob.Scheme != "" && blob.Scheme != interfaces.SchemeAESGCM
}

// MigrateEntries upgrades every listed entry that needs it. Entries migrate
// concurrently up to the configured worker count; one entry's failure never
// blocks or rolls back the others. Requires an unlocked session.
func (s *Service) MigrateEntries(ctx context.Context, entries []interfaces.EntryID) (*Report, error) {
	report := &Report{}
	var mu sync.Mutex

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(entry interfaces.EntryID) {
			defer wg.Done()
			defer func() { <-sem }()

			migrated, err := s.migrateOne(ctx, entry)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors = append(report.Errors, EntryError{
					EntryID: entry,
					Err:     err,
					Message: err.Error(),
				})
			case migrated:
				report.Migrated = append(report.Migrated, entry)
			default:
				report.Skipped = append(report.Skipped, entry)
			}
		}(entry)
	}
	wg.Wait()

	sortEntries(report.Migrated)
	sortEntries(report.Skipped)
	sort.Slice(report.Errors, func(i, j int) bool {
		return report.Errors[i].EntryID < report.Errors[j].EntryID
	})

	s.log.Info("migration batch finished",
		"migrated", len(report.Migrated),
		"skipped", len(report.Skipped),
		"errors", len(report.Errors),
	)
	return report, nil
}

// migrateOne upgrades a single entry: decrypt under the recorded scheme,
// re-encrypt with the current cipher, verify the new ciphertext decrypts
// back to the same plaintext, then swap the stored record. Any failure
// before the final store leaves the original record untouched. The record
// passes through re-encryption as the prior blob so the entry keeps its
// data key and wrapped-key bytes; shares wrap that key, so revoking or
// re-issuing them is never part of a migration.
func (s *Service) migrateOne(ctx context.Context, entry interfaces.EntryID) (bool, error) {
	blob, err := s.blobs.GetBlob(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("loading entry: %w", err)
	}
	if !NeedsMigration(blob) {
		return false, nil
	}

	recorded := repairFlag(blob)
	plaintext, err := s.cipher.DecryptContent(ctx, recorded)
	if err != nil {
		return false, err
	}
	defer cryptoutils.Zero(plaintext)

	upgraded, err := s.cipher.EncryptContent(ctx, plaintext, recorded)
	if err != nil {
		return false, err
	}

	verified, err := s.cipher.DecryptContent(ctx, upgraded)
	if err != nil || !bytes.Equal(verified, plaintext) {
		cryptoutils.Zero(verified)
		return false, interfaces.ErrMigrationVerificationFailed
	}
	cryptoutils.Zero(verified)

	if err := s.blobs.PutBlob(ctx, entry, upgraded); err != nil {
		return false, fmt.Errorf("storing upgraded entry: %w", err)
	}

	s.log.Info("entry migrated", "entry", entry.String(), "fromVersion", blob.KeyVersion)
	return true, nil
}

// repairFlag restores the isEncrypted flag on records that lost it. A wrapped
// key on a record claiming to be plaintext means the record still holds real
// ciphertext, so decryption and key reuse both need the flag back.
func repairFlag(blob *interfaces.EncryptedBlob) *interfaces.EncryptedBlob {
	if !blob.IsEncrypted && len(blob.EncryptedKey) > 0 {
		repaired := *blob
		repaired.IsEncrypted = true
		return &repaired
	}
	return blob
}

func sortEntries(entries []interfaces.EntryID) {
	sort.Slice(entries, func(i, j int) bool { return entries[i] < entries[j] })
}
