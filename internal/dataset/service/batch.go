package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/audit"
	"dataplane/pkg/requestcontext"
)

// BatchCreateRecords imports a batch all-or-nothing: every payload is
// validated before anything is written, and the counter moves once by the
// batch length.
func (s *Service) BatchCreateRecords(ctx context.Context, datasetID domain.DatasetID, reqs []models.CreateRecordRequest, actor domain.Actor) ([]*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.BatchCreateRecords")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset_id", datasetID.String()),
		attribute.Int("batch_size", len(reqs)),
	)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	switch {
	case len(reqs) == 0:
		s.rejectBatch("empty")
		return nil, dErrors.New(dErrors.CodeValidation, "batch must contain at least one record")
	case len(reqs) > s.maxBatchSize:
		s.rejectBatch("too_large")
		return nil, dErrors.Newf(dErrors.CodeValidation, "batch size %d exceeds limit %d", len(reqs), s.maxBatchSize)
	}

	var (
		created []*models.Record
		owner   *models.Dataset
	)
	err := s.tx.RunInTx(ctx, datasetID.String(), func(txCtx context.Context) error {
		d, err := s.loadWritableDataset(txCtx, datasetID, actor)
		if err != nil {
			return err
		}

		now := requestcontext.Now(txCtx)
		batch := make([]*models.Record, 0, len(reqs))
		for i, req := range reqs {
			data, err := prepareData(d, req.Data)
			if err != nil {
				return batchItemErr(i, err)
			}
			r, err := models.NewRecord(domain.NewRecordID(), d.ID, data, req.Source, actor, now)
			if err != nil {
				return batchItemErr(i, translateModelErr(err))
			}
			batch = append(batch, r)
		}

		if err := s.records.CreateMany(txCtx, batch); err != nil {
			return wrapStoreErr(err, "record not found", "failed to import records")
		}
		if _, err := s.datasets.AdjustRecordCount(txCtx, d.ID, int64(len(batch)), &now); err != nil {
			return wrapStoreErr(err, "dataset not found", "failed to update record count")
		}
		s.audit.Log(txCtx, audit.Entry{
			DatasetID: d.ID,
			Action:    audit.ActionImport,
			Actor:     actor,
			Details: audit.Details{
				Count:   len(batch),
				Summary: fmt.Sprintf("imported %d records", len(batch)),
			},
		})
		if s.auditPerRecordImport {
			for _, r := range batch {
				s.audit.Log(txCtx, audit.Entry{
					DatasetID: d.ID,
					RecordID:  r.ID,
					Action:    audit.ActionCreate,
					Actor:     actor,
					Details:   audit.Details{After: audit.Snapshot(r.Data), Summary: "created by import"},
				})
			}
		}
		created, owner = batch, d
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			s.rejectBatch("invalid_record")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncRecordsCreated("batch", len(created))
		s.metrics.ObserveBatchSize(len(created))
	}
	s.notify(ctx, owner, models.Event{
		Type:       models.EventRecordsImport,
		DatasetID:  owner.ID,
		Count:      len(created),
		Actor:      actor,
		OccurredAt: requestcontext.Now(ctx),
	})
	s.logger.InfoContext(ctx, "records imported",
		"dataset_id", datasetID.String(),
		"count", len(created),
		"actor", actor.String(),
	)
	return created, nil
}

// batchItemErr prefixes a validation error with the failing item's index and
// keeps its field.
func batchItemErr(i int, err error) error {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		return err
	}
	return dErrors.NewField(de.Code, de.Field, fmt.Sprintf("record %d: %s", i, de.Message))
}

func (s *Service) rejectBatch(reason string) {
	if s.metrics != nil {
		s.metrics.IncBatchRejected(reason)
	}
}
