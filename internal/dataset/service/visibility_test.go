package service_test

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/requestcontext"
)

func (s *ServiceSuite) TestListReadableDatasets() {
	mine := s.createSurvey(nil)
	other, err := s.svc.CreateDataset(s.ctx, models.CreateDatasetRequest{
		Name:           "Someone else's",
		OrganizationID: s.org,
	}, domain.UserActor(domain.UserID(uuid.New())))
	s.Require().NoError(err)

	s.Run("users only see datasets they hold a role on", func() {
		got, err := s.svc.ListReadableDatasets(s.ctx, models.DatasetFilter{}, s.owner)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(mine.ID, got[0].ID)
	})

	s.Run("keys must name an organization", func() {
		_, err := s.svc.ListReadableDatasets(s.ctx, models.DatasetFilter{}, domain.APIKeyActor(domain.NewAPIKeyID()))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("keys see api-enabled datasets of their organization", func() {
		perms := other.Permissions
		perms.APIAccess = false
		_, err := s.svc.UpdateDataset(s.ctx, other.ID, models.UpdateDatasetRequest{Permissions: &perms}, other.CreatedBy)
		s.Require().NoError(err)

		keyID := domain.NewAPIKeyID()
		s.keys.EXPECT().AuthorizeKey(gomock.Any(), keyID, s.org, (*domain.DatasetID)(nil), domain.PermissionRead).Return(nil)

		got, err := s.svc.ListReadableDatasets(s.ctx, models.DatasetFilter{OrganizationID: &s.org}, domain.APIKeyActor(keyID))
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(mine.ID, got[0].ID)
	})

	s.Run("a rejected key sees nothing", func() {
		s.keys.EXPECT().AuthorizeKey(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(dErrors.New(dErrors.CodeForbidden, "access denied"))
		_, err := s.svc.ListReadableDatasets(s.ctx, models.DatasetFilter{OrganizationID: &s.org}, domain.APIKeyActor(domain.NewAPIKeyID()))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestGetStatisticsFor() {
	d := s.createSurvey(nil)
	s.createAge(d.ID, 1)

	stats, err := s.svc.GetStatisticsFor(s.ctx, &s.org, s.owner)
	s.Require().NoError(err)
	s.EqualValues(1, stats.TotalRecords)

	_, err = s.svc.GetStatisticsFor(s.ctx, nil, domain.Actor{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestStatisticsOnlyCoverReadableDatasets() {
	secret := s.createSurvey(nil)
	s.createAge(secret.ID, 1)
	stranger := domain.UserActor(domain.UserID(uuid.New()))

	s.Run("a user with no role sees empty statistics for the organization", func() {
		stats, err := s.svc.GetStatisticsFor(s.ctx, &s.org, stranger)
		s.Require().NoError(err)
		s.Zero(stats.TotalDatasets)
		s.Zero(stats.TotalRecords)
		s.Empty(stats.TopDatasets)
	})

	s.Run("omitting the organization does not widen the view", func() {
		stats, err := s.svc.GetStatisticsFor(s.ctx, nil, stranger)
		s.Require().NoError(err)
		s.Zero(stats.TotalDatasets)
		s.Empty(stats.TopDatasets)
	})

	s.Run("a viewer sees the dataset", func() {
		viewer, _ := stranger.UserID()
		perms := secret.Permissions
		perms.Viewers = []domain.UserID{viewer}
		_, err := s.svc.UpdateDataset(s.ctx, secret.ID, models.UpdateDatasetRequest{Permissions: &perms}, s.owner)
		s.Require().NoError(err)

		stats, err := s.svc.GetStatisticsFor(s.ctx, nil, stranger)
		s.Require().NoError(err)
		s.EqualValues(1, stats.TotalDatasets)
		s.Require().Len(stats.TopDatasets, 1)
		s.Equal(secret.ID, stats.TopDatasets[0].ID)
	})
}

func (s *ServiceSuite) TestReadableListingIgnoresNewerForeignDatasets() {
	base := time.Now()
	mine, err := s.svc.CreateDataset(requestcontext.WithTime(s.ctx, base), models.CreateDatasetRequest{
		Name:           "Mine",
		OrganizationID: s.org,
	}, s.owner)
	s.Require().NoError(err)

	other := domain.UserActor(domain.UserID(uuid.New()))
	for i := range 3 {
		_, err := s.svc.CreateDataset(requestcontext.WithTime(s.ctx, base.Add(time.Duration(i+1)*time.Minute)), models.CreateDatasetRequest{
			Name:           "Theirs",
			OrganizationID: s.org,
		}, other)
		s.Require().NoError(err)
	}

	got, err := s.svc.ListReadableDatasets(s.ctx, models.DatasetFilter{OrganizationID: &s.org, Limit: 2}, s.owner)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(mine.ID, got[0].ID)
}
