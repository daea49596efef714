package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/soulkeep/encryption-engine/interfaces"
)

// FileBackend implements a storage backend on the local file system. Records
// are stored one file per record in a subdirectory per namespace, named by
// the hash of the record key so arbitrary keys stay filesystem-safe.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir, creating
// the namespace subdirectories if they don't exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	for _, typ := range []interfaces.RecordType{
		interfaces.BlobRecord,
		interfaces.TokenRecord,
		interfaces.GrantRecord,
		interfaces.KeyRecordType,
		interfaces.IndexRecord,
	} {
		if err := os.MkdirAll(filepath.Join(baseDir, typ.String()), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", typ, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch retrieves a record from the file system.
// Returns ErrRecordNotFound if the file doesn't exist.
func (b *FileBackend) Fetch(ctx context.Context, typ interfaces.RecordType, key string) ([]byte, error) {
	filePath := b.getFilePath(typ, key)

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	b.log.Debug("Fetched record from file",
		slog.String("namespace", typ.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Store saves a record to the file system, overwriting any previous value.
func (b *FileBackend) Store(ctx context.Context, typ interfaces.RecordType, key string, data []byte) error {
	filePath := b.getFilePath(typ, key)

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	b.log.Debug("Stored record in file",
		slog.String("namespace", typ.String()),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes a record file. Absent files are ignored.
func (b *FileBackend) Delete(ctx context.Context, typ interfaces.RecordType, key string) error {
	err := os.Remove(b.getFilePath(typ, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record file: %w", err)
	}
	return nil
}

// Available checks if the backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(typ interfaces.RecordType, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(b.baseDir, typ.String(), fmt.Sprintf("%x", sum))
}
