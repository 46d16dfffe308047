package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dataplane/internal/apikey/models"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/sentinel"
)

type APIKeyStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestAPIKeyStoreSuite(t *testing.T) {
	suite.Run(t, new(APIKeyStoreSuite))
}

func (s *APIKeyStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *APIKeyStoreSuite) newKey(orgID domain.OrganizationID, createdAt time.Time) *models.APIKey {
	return &models.APIKey{
		ID:             domain.NewAPIKeyID(),
		Name:           "key",
		Prefix:         "dpk_00000000",
		SecretHash:     "hash",
		OrganizationID: orgID,
		IssuedBy:       domain.UserID(uuid.New()),
		Permissions:    models.Permissions{Read: true, DatasetIDs: []domain.DatasetID{domain.NewDatasetID()}},
		Status:         models.StatusActive,
		CreatedAt:      createdAt,
	}
}

func (s *APIKeyStoreSuite) TestCreateAndFind() {
	k := s.newKey(domain.OrganizationID(uuid.New()), time.Now())
	s.Require().NoError(s.store.Create(s.ctx, k))
	s.Require().ErrorIs(s.store.Create(s.ctx, k), sentinel.ErrConflict)

	found, err := s.store.FindByID(s.ctx, k.ID)
	s.Require().NoError(err)
	s.Equal(k.Name, found.Name)

	found.Permissions.DatasetIDs[0] = domain.NewDatasetID()
	again, err := s.store.FindByID(s.ctx, k.ID)
	s.Require().NoError(err)
	s.Equal(k.Permissions.DatasetIDs, again.Permissions.DatasetIDs, "callers get copies")

	_, err = s.store.FindByID(s.ctx, domain.NewAPIKeyID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *APIKeyStoreSuite) TestListByOrganization() {
	org := domain.OrganizationID(uuid.New())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := s.newKey(org, base)
	newer := s.newKey(org, base.Add(time.Hour))
	s.Require().NoError(s.store.Create(s.ctx, older))
	s.Require().NoError(s.store.Create(s.ctx, newer))
	s.Require().NoError(s.store.Create(s.ctx, s.newKey(domain.OrganizationID(uuid.New()), base)))

	keys, err := s.store.ListByOrganization(s.ctx, org)
	s.Require().NoError(err)
	s.Require().Len(keys, 2)
	s.Equal(newer.ID, keys[0].ID)
	s.Equal(older.ID, keys[1].ID)
}

func (s *APIKeyStoreSuite) TestUpdateStatus() {
	k := s.newKey(domain.OrganizationID(uuid.New()), time.Now())
	s.Require().NoError(s.store.Create(s.ctx, k))

	k.Revoke(time.Now())
	s.Require().NoError(s.store.UpdateStatus(s.ctx, k))

	found, err := s.store.FindByID(s.ctx, k.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, found.Status)
	s.NotNil(found.RevokedAt)

	s.Require().ErrorIs(s.store.UpdateStatus(s.ctx, s.newKey(k.OrganizationID, time.Now())), sentinel.ErrNotFound)
}
