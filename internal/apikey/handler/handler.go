package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dataplane/internal/apikey/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/httputil"
	"dataplane/pkg/requestcontext"
)

// Service defines the key management operations the HTTP layer exposes.
type Service interface {
	GenerateAPIKey(ctx context.Context, req models.GenerateRequest) (*models.APIKey, string, error)
	GetAPIKey(ctx context.Context, keyID domain.APIKeyID) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, orgID domain.OrganizationID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID domain.APIKeyID) error
}

// Handler wires /v1/api-keys to the key service. Every endpoint needs a user
// actor; keys cannot manage keys.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/api-keys", func(r chi.Router) {
		r.Post("/", h.HandleGenerate)
		r.Get("/", h.HandleList)
		r.Get("/{keyID}", h.HandleGet)
		r.Delete("/{keyID}", h.HandleRevoke)
	})
}

// GenerateRequest is the HTTP request body for POST /v1/api-keys.
type GenerateRequest struct {
	Name           string             `json:"name"`
	OrganizationID string             `json:"organization_id"`
	Permissions    models.Permissions `json:"permissions"`
	ExpiresInDays  int                `json:"expires_in_days"`

	orgID domain.OrganizationID
}

func (r *GenerateRequest) Validate() error {
	orgID, err := domain.ParseOrganizationID(strings.TrimSpace(r.OrganizationID))
	if err != nil {
		return dErrors.NewField(dErrors.CodeValidation, "organization_id", "organization_id must be a UUID")
	}
	r.orgID = orgID
	return nil
}

// GenerateResponse carries the only copy of the plaintext key.
type GenerateResponse struct {
	APIKey *models.APIKey `json:"api_key"`
	Key    string         `json:"key"`
}

// HandleGenerate handles POST /v1/api-keys.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[GenerateRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}

	key, plaintext, err := h.service.GenerateAPIKey(ctx, models.GenerateRequest{
		Name:           req.Name,
		OrganizationID: req.orgID,
		IssuedBy:       userID,
		Permissions:    req.Permissions,
		ExpiresInDays:  req.ExpiresInDays,
	})
	if err != nil {
		h.fail(w, r, "generate api key failed", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusCreated, GenerateResponse{APIKey: key, Key: plaintext})
}

// HandleList handles GET /v1/api-keys?organization_id=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.user(w, r); !ok {
		return
	}
	orgID, err := domain.ParseOrganizationID(strings.TrimSpace(r.URL.Query().Get("organization_id")))
	if err != nil {
		httputil.WriteError(w, dErrors.NewField(dErrors.CodeBadRequest, "organization_id", "organization_id must be a UUID"))
		return
	}
	keys, err := h.service.ListAPIKeys(ctx, orgID)
	if err != nil {
		h.fail(w, r, "list api keys failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

// HandleGet handles GET /v1/api-keys/{keyID}. Only the issuer may read a key.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, key)
}

// HandleRevoke handles DELETE /v1/api-keys/{keyID}. Revoking twice succeeds.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokeAPIKey(ctx, key.ID); err != nil {
		h.fail(w, r, "revoke api key failed", err)
		return
	}
	h.logger.InfoContext(ctx, "api key revoked via api",
		"request_id", requestcontext.RequestID(ctx),
		"api_key_id", key.ID.String(),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ownedKey(w http.ResponseWriter, r *http.Request) (*models.APIKey, bool) {
	userID, ok := h.user(w, r)
	if !ok {
		return nil, false
	}
	keyID, err := domain.ParseAPIKeyID(chi.URLParam(r, "keyID"))
	if err != nil {
		httputil.WriteError(w, dErrors.NewField(dErrors.CodeBadRequest, "key_id", "invalid api key id"))
		return nil, false
	}
	key, err := h.service.GetAPIKey(r.Context(), keyID)
	if err != nil {
		h.fail(w, r, "load api key failed", err)
		return nil, false
	}
	if key.IssuedBy != userID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "access denied"))
		return nil, false
	}
	return key, true
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	userID, ok := requestcontext.Actor(r.Context()).UserID()
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "access denied"))
		return domain.UserID{}, false
	}
	return userID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
