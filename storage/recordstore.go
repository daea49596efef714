package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/soulkeep/encryption-engine/interfaces"
)

// RecordStore adapts a RecordBackend into the typed store interfaces the
// engine consumes. It handles JSON encoding and maintains the active-token
// index that backs the one-active-token-per-(entry, recipient) invariant.
type RecordStore struct {
	backend interfaces.RecordBackend
}

// NewRecordStore creates a typed record store over the given backend.
func NewRecordStore(backend interfaces.RecordBackend) *RecordStore {
	return &RecordStore{backend: backend}
}

// PutBlob persists an encrypted blob under its entry ID.
func (s *RecordStore) PutBlob(ctx context.Context, id interfaces.EntryID, blob *interfaces.EncryptedBlob) error {
	return s.put(ctx, interfaces.BlobRecord, id.String(), blob)
}

// GetBlob retrieves an encrypted blob by entry ID.
func (s *RecordStore) GetBlob(ctx context.Context, id interfaces.EntryID) (*interfaces.EncryptedBlob, error) {
	var blob interfaces.EncryptedBlob
	if err := s.get(ctx, interfaces.BlobRecord, id.String(), &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

// PutToken persists a share token. An unrevoked token also becomes the
// active token for its (entry, recipient) pair.
func (s *RecordStore) PutToken(ctx context.Context, token *interfaces.ShareToken) error {
	if err := s.put(ctx, interfaces.TokenRecord, token.ID.String(), token); err != nil {
		return err
	}
	if !token.Revoked {
		return s.put(ctx, interfaces.IndexRecord, activeTokenKey(token.EntryID, token.RecipientID), token.ID)
	}
	return nil
}

// GetToken retrieves a share token by its ID.
func (s *RecordStore) GetToken(ctx context.Context, id uuid.UUID) (*interfaces.ShareToken, error) {
	var token interfaces.ShareToken
	if err := s.get(ctx, interfaces.TokenRecord, id.String(), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// ActiveTokenFor returns the current unrevoked token for the pair, or
// ErrRecordNotFound if none exists.
func (s *RecordStore) ActiveTokenFor(ctx context.Context, entry interfaces.EntryID, recipient interfaces.UserID) (*interfaces.ShareToken, error) {
	var id uuid.UUID
	if err := s.get(ctx, interfaces.IndexRecord, activeTokenKey(entry, recipient), &id); err != nil {
		return nil, err
	}

	token, err := s.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, interfaces.ErrRecordNotFound
	}
	return token, nil
}

// PutGrant persists an AI analysis grant under its analysis ID.
func (s *RecordStore) PutGrant(ctx context.Context, grant *interfaces.AIGrant) error {
	return s.put(ctx, interfaces.GrantRecord, grant.AnalysisID.String(), grant)
}

// GetGrant retrieves an AI analysis grant by its analysis ID.
func (s *RecordStore) GetGrant(ctx context.Context, analysisID uuid.UUID) (*interfaces.AIGrant, error) {
	var grant interfaces.AIGrant
	if err := s.get(ctx, interfaces.GrantRecord, analysisID.String(), &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// PutKeyRecord persists a user's sealed key record.
func (s *RecordStore) PutKeyRecord(ctx context.Context, record *interfaces.KeyRecord) error {
	return s.put(ctx, interfaces.KeyRecordType, record.UserID.String(), record)
}

// GetKeyRecord retrieves a user's sealed key record.
func (s *RecordStore) GetKeyRecord(ctx context.Context, user interfaces.UserID) (*interfaces.KeyRecord, error) {
	var record interfaces.KeyRecord
	if err := s.get(ctx, interfaces.KeyRecordType, user.String(), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *RecordStore) put(ctx context.Context, typ interfaces.RecordType, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", typ, err)
	}
	return s.backend.Store(ctx, typ, key, data)
}

func (s *RecordStore) get(ctx context.Context, typ interfaces.RecordType, key string, v any) error {
	data, err := s.backend.Fetch(ctx, typ, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s record: %w", typ, err)
	}
	return nil
}

func activeTokenKey(entry interfaces.EntryID, recipient interfaces.UserID) string {
	return "active-token/" + entry.String() + "/" + recipient.String()
}
