package service

import (
	"context"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

// ListReadableDatasets is ListDatasets narrowed to what actor may read.
// Users see datasets where they hold at least the viewer role. Keys must name
// an organization, need unrestricted read on it, and only see datasets with
// API access on. Narrowing happens in the store, ahead of the limit.
func (s *Service) ListReadableDatasets(ctx context.Context, filter models.DatasetFilter, actor domain.Actor) ([]*models.Dataset, error) {
	filter, err := s.readableFilter(ctx, filter, actor)
	if err != nil {
		return nil, err
	}
	return s.ListDatasets(ctx, filter)
}

// GetStatisticsFor is GetStatistics over the datasets actor may read, so the
// top list never names a dataset the caller could not open.
func (s *Service) GetStatisticsFor(ctx context.Context, orgID *domain.OrganizationID, actor domain.Actor) (*models.Statistics, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.GetStatisticsFor")
	defer span.End()

	filter, err := s.readableFilter(ctx, models.DatasetFilter{OrganizationID: orgID}, actor)
	if err != nil {
		return nil, err
	}
	return s.statistics(ctx, filter)
}

func (s *Service) readableFilter(ctx context.Context, filter models.DatasetFilter, actor domain.Actor) (models.DatasetFilter, error) {
	if err := actor.Validate(); err != nil {
		return filter, err
	}
	if uid, ok := actor.UserID(); ok {
		filter.ReadableBy = &uid
		filter.APIAccessOnly = false
		return filter, nil
	}

	keyID, _ := actor.APIKeyID()
	if filter.OrganizationID == nil {
		return filter, dErrors.NewField(dErrors.CodeValidation, "organization_id", "organization_id is required for api keys")
	}
	if err := s.authorizeKey(ctx, keyID, *filter.OrganizationID, nil, domain.PermissionRead); err != nil {
		return filter, err
	}
	filter.ReadableBy = nil
	filter.APIAccessOnly = true
	return filter, nil
}
