// Package service issues, lists, revokes and checks organization-scoped API
// keys.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dataplane/internal/apikey/models"
	"dataplane/internal/apikey/secrets"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/circuit"
	"dataplane/pkg/platform/sentinel"
	"dataplane/pkg/requestcontext"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks dataplane/internal/apikey/service Store,UsageStore

type Store interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByID(ctx context.Context, keyID domain.APIKeyID) (*models.APIKey, error)
	ListByOrganization(ctx context.Context, orgID domain.OrganizationID) ([]*models.APIKey, error)
	UpdateStatus(ctx context.Context, key *models.APIKey) error
}

// UsageStore keeps request counters outside the key rows.
type UsageStore interface {
	Increment(ctx context.Context, keyID domain.APIKeyID, at time.Time) error
	Load(ctx context.Context, keyIDs []domain.APIKeyID) (map[domain.APIKeyID]models.Usage, error)
}

type Service struct {
	keys    Store
	usage   UsageStore
	breaker *circuit.Breaker
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithUsageStore(u UsageStore) Option {
	return func(s *Service) {
		s.usage = u
	}
}

// WithUsageBreaker replaces the breaker that stops usage writes while the
// usage store is failing.
func WithUsageBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func New(keys Store, opts ...Option) *Service {
	s := &Service{
		keys:    keys,
		breaker: circuit.New("apikey-usage"),
		logger:  slog.Default(),
		tracer:  otel.Tracer("dataplane/internal/apikey/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAPIKey issues a key and returns it with the plaintext, which is
// never retrievable again.
func (s *Service) GenerateAPIKey(ctx context.Context, req models.GenerateRequest) (*models.APIKey, string, error) {
	ctx, span := s.tracer.Start(ctx, "apikey.Generate")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	secret, err := secrets.Generate()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key")
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash api key")
	}

	keyID := domain.NewAPIKeyID()
	key := models.NewAPIKey(keyID, req, secrets.DisplayPrefix(keyID), hash, requestcontext.Now(ctx))
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, "", wrapStoreErr(err, "failed to store api key")
	}
	span.SetAttributes(attribute.String("api_key_id", keyID.String()))

	s.logger.InfoContext(ctx, "api key generated",
		"api_key_id", keyID.String(),
		"organization_id", req.OrganizationID.String(),
		"issued_by", req.IssuedBy.String(),
	)
	return key, secrets.Format(keyID, secret), nil
}

// RevokeAPIKey revokes a key. Revoking an already revoked key succeeds.
func (s *Service) RevokeAPIKey(ctx context.Context, keyID domain.APIKeyID) error {
	ctx, span := s.tracer.Start(ctx, "apikey.Revoke")
	defer span.End()

	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		return wrapStoreErr(err, "failed to load api key")
	}
	if !key.Revoke(requestcontext.Now(ctx)) {
		return nil
	}
	if err := s.keys.UpdateStatus(ctx, key); err != nil {
		return wrapStoreErr(err, "failed to revoke api key")
	}
	s.logger.InfoContext(ctx, "api key revoked", "api_key_id", keyID.String())
	return nil
}

// GetAPIKey returns one key with its usage.
func (s *Service) GetAPIKey(ctx context.Context, keyID domain.APIKeyID) (*models.APIKey, error) {
	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load api key")
	}
	s.mergeUsage(ctx, []*models.APIKey{key})
	return key, nil
}

// ListAPIKeys returns the organization's usable keys with usage merged in.
func (s *Service) ListAPIKeys(ctx context.Context, orgID domain.OrganizationID) ([]*models.APIKey, error) {
	ctx, span := s.tracer.Start(ctx, "apikey.List")
	defer span.End()

	all, err := s.keys.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list api keys")
	}
	now := requestcontext.Now(ctx)
	out := make([]*models.APIKey, 0, len(all))
	for _, k := range all {
		if k.IsUsable(now) {
			out = append(out, k)
		}
	}
	s.mergeUsage(ctx, out)
	return out, nil
}

// Authenticate resolves a plaintext key to its id. Every failure is the same
// unauthorized error.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (domain.APIKeyID, error) {
	ctx, span := s.tracer.Start(ctx, "apikey.Authenticate")
	defer span.End()

	unauthorized := dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
	keyID, secret, err := secrets.Parse(plaintext)
	if err != nil {
		return domain.APIKeyID{}, unauthorized
	}
	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.APIKeyID{}, unauthorized
		}
		return domain.APIKeyID{}, wrapStoreErr(err, "failed to load api key")
	}
	if err := secrets.Verify(secret, key.SecretHash); err != nil {
		s.logger.WarnContext(ctx, "api key secret mismatch", "api_key_id", keyID.String())
		return domain.APIKeyID{}, unauthorized
	}
	if !key.IsUsable(requestcontext.Now(ctx)) {
		return domain.APIKeyID{}, unauthorized
	}
	return keyID, nil
}

// AuthorizeKey checks that the key may act on the organization, and on
// datasetID when it is non-nil, at perm. Expired keys are revoked on sight.
// Successful checks count as one use.
func (s *Service) AuthorizeKey(ctx context.Context, keyID domain.APIKeyID, orgID domain.OrganizationID, datasetID *domain.DatasetID, perm domain.Permission) error {
	ctx, span := s.tracer.Start(ctx, "apikey.Authorize")
	defer span.End()

	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.deny(ctx, keyID, "unknown key")
		}
		return wrapStoreErr(err, "failed to load api key")
	}

	now := requestcontext.Now(ctx)
	switch {
	case key.Status != models.StatusActive:
		return s.deny(ctx, keyID, "key revoked")
	case key.IsExpired(now):
		key.Revoke(now)
		if err := s.keys.UpdateStatus(ctx, key); err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke expired api key",
				"api_key_id", keyID.String(),
				"error", err,
			)
		}
		return s.deny(ctx, keyID, "key expired")
	case key.OrganizationID != orgID:
		return s.deny(ctx, keyID, "other organization")
	case !key.Permissions.Covers(datasetID):
		return s.deny(ctx, keyID, "dataset outside key scope")
	case !key.Permissions.Allows(perm):
		return s.deny(ctx, keyID, "insufficient permission")
	}

	s.recordUsage(ctx, keyID, now)
	return nil
}

func (s *Service) deny(ctx context.Context, keyID domain.APIKeyID, reason string) error {
	s.logger.WarnContext(ctx, "api key denied",
		"api_key_id", keyID.String(),
		"reason", reason,
	)
	return dErrors.New(dErrors.CodeForbidden, "access denied")
}

func (s *Service) recordUsage(ctx context.Context, keyID domain.APIKeyID, at time.Time) {
	if s.usage == nil || !s.breaker.Allow() {
		return
	}
	if err := s.usage.Increment(ctx, keyID, at); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "api key usage circuit opened")
		}
		s.logger.WarnContext(ctx, "failed to record api key usage",
			"api_key_id", keyID.String(),
			"error", err,
		)
		return
	}
	s.breaker.RecordSuccess()
}

func (s *Service) mergeUsage(ctx context.Context, keys []*models.APIKey) {
	if s.usage == nil || len(keys) == 0 {
		return
	}
	ids := make([]domain.APIKeyID, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	usage, err := s.usage.Load(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load api key usage", "error", err)
		return
	}
	for _, k := range keys {
		if u, ok := usage[k.ID]; ok {
			k.Usage = u
		}
	}
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "api key not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
