package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/soulkeep/encryption-engine/interfaces"
)

// StorageBackendFactory creates record backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a factory that can create record backends.
func NewStorageBackendFactory(log *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: log}
}

// BackendFor creates a record backend from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - mem:// - In-process memory storage
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//   - ipfs:// - IPFS via the node's MFS API
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StorageBackendFactory) BackendFor(locationURI string) (interfaces.RecordBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryBackend(), nil
	case "file":
		return sf.createFileBackend(u)
	case "s3":
		return sf.createS3Backend(u)
	case "vault":
		return sf.createVaultBackend(u)
	case "ipfs":
		return sf.createIPFSBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiBackend creates a redundant multi-backend from a list of
// location URIs, skipping URIs that fail to produce a backend. Returns an
// error if no valid backend could be created.
func (sf *StorageBackendFactory) CreateMultiBackend(locationURIs []string) (interfaces.RecordBackend, error) {
	backends := make([]interfaces.RecordBackend, 0, len(locationURIs))

	for _, uri := range locationURIs {
		backend, err := sf.BackendFor(uri)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", uri))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiBackend(backends, sf.log), nil
}

// createFileBackend creates a local filesystem backend.
// URI format: file:///var/lib/soulkeep or file://relative/path
func (sf *StorageBackendFactory) createFileBackend(u *url.URL) (interfaces.RecordBackend, error) {
	baseDir := u.Path
	if u.Host != "" {
		baseDir = u.Host + u.Path
	}
	if baseDir == "" {
		return nil, fmt.Errorf("%w: file URI needs a path", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(baseDir, sf.log)
}

// createS3Backend creates an S3 backend.
// URI format: s3://accessKey:secretKey@bucket/prefix?region=us-east-1&endpoint=https://minio.local
func (sf *StorageBackendFactory) createS3Backend(u *url.URL) (interfaces.RecordBackend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 URI needs a bucket", interfaces.ErrInvalidLocationURI)
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := u.Query().Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucket, prefix, region, endpoint, accessKey, secretKey, sf.log)
}

// createVaultBackend creates a Vault KV v2 backend.
// URI format: vault://token@vault.example.com:8200/secret/journal?tls=true
func (sf *StorageBackendFactory) createVaultBackend(u *url.URL) (interfaces.RecordBackend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault URI needs a host", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI path must be /<mount>/<dataPath>", interfaces.ErrInvalidLocationURI)
	}

	var token string
	if u.User != nil {
		token = u.User.Username()
	}

	return NewVaultBackend(address, parts[0], parts[1], token, sf.log)
}

// createIPFSBackend creates an IPFS MFS backend.
// URI format: ipfs://127.0.0.1:5001/soulkeep
func (sf *StorageBackendFactory) createIPFSBackend(u *url.URL) (interfaces.RecordBackend, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs URI needs a host", interfaces.ErrInvalidLocationURI)
	}
	port := u.Port()
	if port == "" {
		port = "5001"
	}
	rootPath := u.Path
	if rootPath == "" {
		rootPath = "/soulkeep"
	}
	return NewIPFSBackend(host, port, rootPath, sf.log), nil
}
