package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/soulkeep/encryption-engine/interfaces"
)

// IPFSBackend implements a storage backend on an IPFS node. Records need to
// be addressable by key, so the backend uses the node's Mutable File System
// rather than raw content addressing.
type IPFSBackend struct {
	shell       *shell.Shell
	rootPath    string
	host        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the node's
// HTTP API at the given host:port.
func NewIPFSBackend(host, port, rootPath string, log *slog.Logger) *IPFSBackend {
	apiAddr := fmt.Sprintf("%s:%s", host, port)
	rootPath = "/" + strings.Trim(rootPath, "/")

	return &IPFSBackend{
		shell:       shell.NewShell(apiAddr),
		rootPath:    rootPath,
		host:        host,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiAddr, rootPath),
	}
}

// Fetch retrieves a record from the node's MFS.
// Returns ErrRecordNotFound if the path doesn't exist.
func (b *IPFSBackend) Fetch(ctx context.Context, typ interfaces.RecordType, key string) ([]byte, error) {
	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, b.getMFSPath(typ, key))
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no such file") {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to read from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read IPFS response: %w", err)
	}

	b.log.Debug("Fetched record from IPFS",
		slog.String("namespace", typ.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes a record to the node's MFS, overwriting any previous value.
func (b *IPFSBackend) Store(ctx context.Context, typ interfaces.RecordType, key string, data []byte) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, b.getMFSPath(typ, key), bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write to IPFS: %w", err)
	}

	b.log.Debug("Stored record in IPFS",
		slog.String("namespace", typ.String()),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes a record from the node's MFS. Absent paths are ignored.
func (b *IPFSBackend) Delete(ctx context.Context, typ interfaces.RecordType, key string) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesRm(ctx, b.getMFSPath(typ, key), true)
	if err != nil && !strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("failed to remove from IPFS: %w", err)
	}
	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s", b.host)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) getMFSPath(typ interfaces.RecordType, key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s/%s/%x", b.rootPath, typ.String(), sum)
}
