package service

import (
	"context"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
)

// GetStatistics rolls up dataset counters, optionally for one organization.
// It never scans records.
func (s *Service) GetStatistics(ctx context.Context, orgID *domain.OrganizationID) (*models.Statistics, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.GetStatistics")
	defer span.End()

	return s.statistics(ctx, models.DatasetFilter{OrganizationID: orgID})
}

func (s *Service) statistics(ctx context.Context, filter models.DatasetFilter) (*models.Statistics, error) {
	filter.Status = ""
	datasets, err := s.datasets.ListCounters(ctx, filter)
	if err != nil {
		return nil, wrapStoreErr(err, "dataset not found", "failed to load dataset counters")
	}
	return models.ComputeStatistics(datasets), nil
}
