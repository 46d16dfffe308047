package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
)

// QueryRecords returns one page of active records. Filters are equality
// matches on searchable fields; sorting is on a sortable field or a system
// field. Total and TotalPages describe the whole filtered set.
func (s *Service) QueryRecords(ctx context.Context, q models.RecordQuery, actor domain.Actor) (*models.RecordPage, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.QueryRecords")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", q.DatasetID.String()))

	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObserveQuery(start)
	}

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	d, err := s.loadDataset(ctx, q.DatasetID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, actor, domain.PermissionRead); err != nil {
		return nil, err
	}

	filter, page, size, err := q.Resolve(d.Schema, s.maxPageSize)
	if err != nil {
		return nil, err
	}
	records, total, err := s.records.Query(ctx, filter)
	if err != nil {
		return nil, wrapStoreErr(err, "dataset not found", "failed to query records")
	}
	for _, r := range records {
		present(d, r)
	}
	span.SetAttributes(attribute.Int("total", total))
	return models.NewRecordPage(records, total, page, size), nil
}
