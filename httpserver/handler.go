package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/keymanager"
	"github.com/soulkeep/encryption-engine/metrics"
)

const (
	// UserHeader carries the authenticated user identity. Authentication
	// itself happens upstream; this service trusts the gateway.
	UserHeader = "X-Soulkeep-User"

	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024
)

// Handler processes API requests against per-user engines.
type Handler struct {
	engines *EngineRegistry
	log     *slog.Logger
}

// NewHandler creates a request handler over the given engine registry.
func NewHandler(engines *EngineRegistry, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engines: engines, log: log}
}

// RequestError carries an explicit HTTP status for request-shape problems
// that are not part of the engine's error taxonomy.
type RequestError struct {
	StatusCode int
	Err        error
}

// Error returns the message of the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// statusForError maps the engine's error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	switch {
	case errors.Is(err, interfaces.ErrEncryptionLocked),
		errors.Is(err, interfaces.ErrEncryptionNotSetup),
		errors.Is(err, interfaces.ErrEncryptionDestroyed),
		errors.Is(err, interfaces.ErrAlreadySetup),
		errors.Is(err, interfaces.ErrKeyPinMismatch):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrShareRevoked),
		errors.Is(err, interfaces.ErrShareExpired),
		errors.Is(err, interfaces.ErrGrantExpired),
		errors.Is(err, interfaces.ErrGrantAlreadyConsumed):
		return http.StatusGone
	case errors.Is(err, interfaces.ErrPermissionDenied),
		errors.Is(err, interfaces.ErrInvalidRecipient),
		errors.Is(err, interfaces.ErrRecipientNotFound):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrDecryptionFailed),
		errors.Is(err, interfaces.ErrMigrationVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrInvalidExpiry),
		errors.Is(err, interfaces.ErrInvalidKeyFormat):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrBackendUnavailable),
		errors.Is(err, interfaces.ErrCryptoUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, operation string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "operation", operation, "err", err)
	} else {
		h.log.Debug("request rejected", "operation", operation, "status", status, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("writing response failed", "err", err)
	}
}

// engineForRequest resolves the caller's engine from the identity header.
func (h *Handler) engineForRequest(r *http.Request) (*Engine, error) {
	user, err := interfaces.NewUserID(r.Header.Get(UserHeader))
	if err != nil {
		return nil, badRequest("missing or malformed %s header", UserHeader)
	}
	return h.engines.EngineFor(user)
}

func (h *Handler) decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("malformed request body")
	}
	return nil
}

type statusResponse struct {
	Configured bool   `json:"configured"`
	State      string `json:"state"`
}

// HandleKeyStatus reports whether the caller has set up encryption and
// whether the session is locked or unlocked.
func (h *Handler) HandleKeyStatus(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "keys.status", err)
		return
	}

	configured, err := engine.Keys.CheckSetup(r.Context())
	if err != nil {
		h.writeError(w, "keys.status", err)
		return
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		Configured: configured,
		State:      engine.Keys.State().String(),
	})
}

type passphraseRequest struct {
	Passphrase string `json:"passphrase"`
}

// HandleKeySetup performs first-time key setup for the caller and publishes
// the resulting public key to the directory.
func (h *Handler) HandleKeySetup(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "keys.setup", err)
		return
	}

	var req passphraseRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, "keys.setup", err)
		return
	}
	if req.Passphrase == "" {
		h.writeError(w, "keys.setup", badRequest("empty passphrase"))
		return
	}

	err = engine.Keys.Setup(r.Context(), req.Passphrase)
	metrics.RecordOperation("keys.setup", err)
	if err != nil {
		h.writeError(w, "keys.setup", err)
		return
	}

	session, err := engine.Keys.Session()
	if err != nil {
		h.writeError(w, "keys.setup", err)
		return
	}
	if err := h.engines.RegisterPublicKey(r.Context(), engine.Keys.UserID(), session.PublicKey); err != nil {
		h.writeError(w, "keys.setup", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"publicKey": session.PublicKey,
	})
}

// HandleKeyUnlock unlocks the caller's session with their passphrase.
func (h *Handler) HandleKeyUnlock(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "keys.unlock", err)
		return
	}

	var req passphraseRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, "keys.unlock", err)
		return
	}

	err = engine.Keys.Unlock(r.Context(), req.Passphrase)
	metrics.RecordOperation("keys.unlock", err)
	if err != nil {
		if errors.Is(err, interfaces.ErrEncryptionLocked) {
			metrics.UnlockFailuresTotal.Inc()
		}
		h.writeError(w, "keys.unlock", err)
		return
	}

	h.writeJSON(w, http.StatusOK, statusResponse{Configured: true, State: engine.Keys.State().String()})
}

// HandleKeyLock locks the caller's session.
func (h *Handler) HandleKeyLock(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "keys.lock", err)
		return
	}

	engine.Keys.Lock()
	h.writeJSON(w, http.StatusOK, statusResponse{Configured: true, State: keymanager.StateLocked.String()})
}

// HandleKeyDestroy ends the caller's session: the in-memory key material is
// wiped and the engine dropped from the registry. Stored records are
// untouched; the next request builds a fresh engine that starts locked.
func (h *Handler) HandleKeyDestroy(w http.ResponseWriter, r *http.Request) {
	user, err := interfaces.NewUserID(r.Header.Get(UserHeader))
	if err != nil {
		h.writeError(w, "keys.destroy", badRequest("missing or malformed %s header", UserHeader))
		return
	}

	h.engines.DestroyEngine(user)
	metrics.RecordOperation("keys.destroy", nil)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

type encryptRequest struct {
	EntryID interfaces.EntryID `json:"entryId"`
	Content []byte             `json:"content"`
}

// HandleEncryptEntry seals the posted content and stores the resulting
// record under the entry id. Re-encrypting an existing entry reuses its data
// key so active shares stay valid.
func (h *Handler) HandleEncryptEntry(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "entries.encrypt", err)
		return
	}

	var req encryptRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, "entries.encrypt", err)
		return
	}
	if err := req.EntryID.Validate(); err != nil {
		h.writeError(w, "entries.encrypt", badRequest("invalid entry id: %v", err))
		return
	}

	var prior *interfaces.EncryptedBlob
	if existing, err := h.engines.cfg.Blobs.GetBlob(r.Context(), req.EntryID); err == nil {
		prior = existing
	} else if !errors.Is(err, interfaces.ErrRecordNotFound) {
		h.writeError(w, "entries.encrypt", err)
		return
	}

	blob, err := engine.Cipher.EncryptContent(r.Context(), req.Content, prior)
	metrics.RecordOperation("entries.encrypt", err)
	if err != nil {
		h.writeError(w, "entries.encrypt", err)
		return
	}
	if err := h.engines.cfg.Blobs.PutBlob(r.Context(), req.EntryID, blob); err != nil {
		h.writeError(w, "entries.encrypt", err)
		return
	}

	h.writeJSON(w, http.StatusOK, blob)
}

type decryptRequest struct {
	EntryID interfaces.EntryID `json:"entryId"`
}

type decryptResponse struct {
	Content []byte `json:"content"`
}

// HandleDecryptEntry opens the caller's entry and returns the plaintext.
func (h *Handler) HandleDecryptEntry(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "entries.decrypt", err)
		return
	}

	var req decryptRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, "entries.decrypt", err)
		return
	}

	blob, err := h.engines.cfg.Blobs.GetBlob(r.Context(), req.EntryID)
	if err != nil {
		h.writeError(w, "entries.decrypt", err)
		return
	}

	plaintext, err := engine.Cipher.DecryptContent(r.Context(), blob)
	metrics.RecordOperation("entries.decrypt", err)
	if err != nil {
		h.writeError(w, "entries.decrypt", err)
		return
	}

	h.writeJSON(w, http.StatusOK, decryptResponse{Content: plaintext})
}

type createSharesRequest struct {
	EntryID     interfaces.EntryID       `json:"entryId"`
	Recipients  []interfaces.UserID      `json:"recipients"`
	Permissions interfaces.PermissionSet `json:"permissions"`
	ExpiresAt   time.Time                `json:"expiresAt"`
}

// HandleCreateShares grants the listed recipients access to an entry.
func (h *Handler) HandleCreateShares(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "shares.create", err)
		return
	}

	var req createSharesRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, "shares.create", err)
		return
	}

	tokens, err := engine.Shares.CreateShares(r.Context(), req.EntryID, req.Recipients, req.Permissions, req.ExpiresAt)
	metrics.RecordOperation("shares.create", err)
	if err != nil {
		h.writeError(w, "shares.create", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{"tokens": tokens})
}

// HandleRevokeShare revokes the token named in the URL.
func (h *Handler) HandleRevokeShare(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "shares.revoke", err)
		return
	}

	tokenID, err := uuid.Parse(chi.URLParam(r, "token_id"))
	if err != nil {
		h.writeError(w, "shares.revoke", badRequest("malformed token id"))
		return
	}

	err = engine.Shares.RevokeShare(r.Context(), tokenID)
	metrics.RecordOperation("shares.revoke", err)
	if err != nil {
		h.writeError(w, "shares.revoke", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// HandleResolveShare opens a shared entry for the calling recipient. The
// requested action defaults to view; ?permission=export asks for export.
func (h *Handler) HandleResolveShare(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "shares.resolve", err)
		return
	}

	tokenID, err := uuid.Parse(chi.URLParam(r, "token_id"))
	if err != nil {
		h.writeError(w, "shares.resolve", badRequest("malformed token id"))
		return
	}

	action := interfaces.PermissionView
	if p := r.URL.Query().Get("permission"); p != "" {
		action = interfaces.Permission(p)
	}
	if err := (interfaces.PermissionSet{action}).Validate(); err != nil {
		h.writeError(w, "shares.resolve", badRequest("unknown permission: %v", err))
		return
	}

	plaintext, err := engine.Shares.Resolve(r.Context(), tokenID, engine.Keys, action)
	metrics.RecordOperation("shares.resolve", err)
	if err != nil {
		h.writeError(w, "shares.resolve", err)
		return
	}

	h.writeJSON(w, http.StatusOK, decryptResponse{Content: plaintext})
}

type analysisRequest struct {
	EntryID interfaces.EntryID `json:"entryId"`
}

// HandleRequestAnalysis mints a single-use grant for the analysis service.
func (h *Handler) HandleRequestAnalysis(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "analysis.request", err)
		return
	}

	var req analysisRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, "analysis.request", err)
		return
	}

	grant, err := engine.AI.RequestAnalysis(r.Context(), req.EntryID)
	metrics.RecordOperation("analysis.request", err)
	if err != nil {
		h.writeError(w, "analysis.request", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, grant)
}

// HandleSubmitResult consumes the grant in the URL and stores the submitted
// analysis result re-encrypted under the requesting user's keys.
func (h *Handler) HandleSubmitResult(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "analysis.submit", err)
		return
	}

	analysisID, err := uuid.Parse(chi.URLParam(r, "analysis_id"))
	if err != nil {
		h.writeError(w, "analysis.submit", badRequest("malformed analysis id"))
		return
	}

	var result interfaces.AnalysisResult
	if err := h.decodeBody(r, &result); err != nil {
		h.writeError(w, "analysis.submit", err)
		return
	}
	result.AnalysisID = analysisID

	err = engine.AI.SubmitResult(r.Context(), &result)
	metrics.RecordOperation("analysis.submit", err)
	if err != nil {
		h.writeError(w, "analysis.submit", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

type migrationRequest struct {
	EntryIDs []interfaces.EntryID `json:"entryIds"`
}

// HandleRunMigration migrates the listed entries to the current format.
func (h *Handler) HandleRunMigration(w http.ResponseWriter, r *http.Request) {
	engine, err := h.engineForRequest(r)
	if err != nil {
		h.writeError(w, "migration.run", err)
		return
	}

	var req migrationRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, "migration.run", err)
		return
	}

	report, err := engine.Migration.MigrateEntries(r.Context(), req.EntryIDs)
	if err != nil {
		h.writeError(w, "migration.run", err)
		return
	}

	metrics.MigrationEntriesTotal.WithLabelValues("migrated").Add(float64(len(report.Migrated)))
	metrics.MigrationEntriesTotal.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	metrics.MigrationEntriesTotal.WithLabelValues("error").Add(float64(len(report.Errors)))

	h.writeJSON(w, http.StatusOK, report)
}
