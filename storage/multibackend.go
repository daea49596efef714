package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soulkeep/encryption-engine/interfaces"
)

// MultiBackend implements interfaces.RecordBackend over several backends with
// fallback. Stores go to every available backend; fetches return the first
// hit. Used for redundant persistence of ciphertext records.
type MultiBackend struct {
	backends []interfaces.RecordBackend
	log      *slog.Logger
}

// NewMultiBackend creates a redundant backend over the given backends.
func NewMultiBackend(backends []interfaces.RecordBackend, log *slog.Logger) *MultiBackend {
	if log == nil {
		log = slog.Default()
	}
	return &MultiBackend{backends: backends, log: log}
}

// Fetch returns the record from the first backend that has it. Only if every
// backend misses does it report ErrRecordNotFound.
func (m *MultiBackend) Fetch(ctx context.Context, typ interfaces.RecordType, key string) ([]byte, error) {
	start := time.Now()
	allMissing := true

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			allMissing = false
			continue
		}

		data, err := backend.Fetch(ctx, typ, key)
		if err == nil {
			m.log.Debug("Fetched record",
				slog.String("backend_name", backend.Name()),
				slog.String("namespace", typ.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if !errors.Is(err, interfaces.ErrRecordNotFound) {
			allMissing = false
		}
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("namespace", typ.String()),
			"err", err)
	}

	if allMissing {
		return nil, interfaces.ErrRecordNotFound
	}
	return nil, fmt.Errorf("%w: all backends failed", interfaces.ErrBackendUnavailable)
}

// Store saves the record to all available backends. It succeeds if at least
// one store succeeds.
func (m *MultiBackend) Store(ctx context.Context, typ interfaces.RecordType, key string, data []byte) error {
	var success bool
	var errs []string

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Store(ctx, typ, key, data); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				slog.String("namespace", typ.String()),
				"err", err)
			continue
		}
		success = true
	}

	if !success {
		return fmt.Errorf("%w: no backend accepted the record: %s", interfaces.ErrBackendUnavailable, strings.Join(errs, "; "))
	}
	return nil
}

// Delete removes the record from all available backends.
func (m *MultiBackend) Delete(ctx context.Context, typ interfaces.RecordType, key string) error {
	var errs []string
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		if err := backend.Delete(ctx, typ, key); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", backend.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete failed on some backends: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Available reports true if any underlying backend is available.
func (m *MultiBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns a unique identifier for this storage backend.
func (m *MultiBackend) Name() string {
	names := make([]string, len(m.backends))
	for i, b := range m.backends {
		names[i] = b.Name()
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// LocationURI returns the comma-joined URIs of the underlying backends.
func (m *MultiBackend) LocationURI() string {
	uris := make([]string, len(m.backends))
	for i, b := range m.backends {
		uris[i] = b.LocationURI()
	}
	return strings.Join(uris, ",")
}
