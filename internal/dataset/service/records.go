package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/audit"
	"dataplane/pkg/requestcontext"
)

// CreateRecord validates the payload, stores the record at version 1 and
// bumps the dataset counter in the same unit of work.
func (s *Service) CreateRecord(ctx context.Context, datasetID domain.DatasetID, req models.CreateRecordRequest, actor domain.Actor) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.CreateRecord")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	if err := actor.Validate(); err != nil {
		return nil, err
	}

	var (
		created *models.Record
		owner   *models.Dataset
	)
	err := s.tx.RunInTx(ctx, datasetID.String(), func(txCtx context.Context) error {
		d, err := s.loadWritableDataset(txCtx, datasetID, actor)
		if err != nil {
			return err
		}
		data, err := prepareData(d, req.Data)
		if err != nil {
			return err
		}
		now := requestcontext.Now(txCtx)
		r, err := models.NewRecord(domain.NewRecordID(), d.ID, data, req.Source, actor, now)
		if err != nil {
			return translateModelErr(err)
		}
		if err := s.records.Create(txCtx, r); err != nil {
			return wrapStoreErr(err, "record not found", "failed to create record")
		}
		if _, err := s.datasets.AdjustRecordCount(txCtx, d.ID, 1, &now); err != nil {
			return wrapStoreErr(err, "dataset not found", "failed to update record count")
		}
		s.audit.Log(txCtx, audit.Entry{
			DatasetID: d.ID,
			RecordID:  r.ID,
			Action:    audit.ActionCreate,
			Actor:     actor,
			Details:   audit.Details{After: audit.Snapshot(r.Data)},
		})
		created, owner = r, d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncRecordsCreated("single", 1)
	}
	s.notify(ctx, owner, models.Event{
		Type:       models.EventRecordCreated,
		DatasetID:  created.DatasetID,
		RecordID:   created.ID,
		Version:    created.Version,
		Actor:      actor,
		OccurredAt: created.CreatedAt,
	})
	return created, nil
}

// GetRecord returns an active record of a dataset the actor can read.
func (s *Service) GetRecord(ctx context.Context, recordID domain.RecordID, actor domain.Actor) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.GetRecord")
	defer span.End()

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	r, err := s.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	d, err := s.loadDataset(ctx, r.DatasetID)
	if err != nil {
		return nil, recordNotFound(err)
	}
	if err := s.authorize(ctx, d, actor, domain.PermissionRead); err != nil {
		return nil, err
	}
	return present(d, r), nil
}

// UpdateRecord merges req.Data into the stored payload, re-validates the
// result and bumps the version by one. Updates to one record are serialized.
func (s *Service) UpdateRecord(ctx context.Context, recordID domain.RecordID, req models.UpdateRecordRequest, actor domain.Actor) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.UpdateRecord")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", recordID.String()))

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	current, err := s.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var (
		updated *models.Record
		owner   *models.Dataset
	)
	err = s.tx.RunInTx(ctx, current.DatasetID.String(), func(txCtx context.Context) error {
		d, err := s.loadWritableDataset(txCtx, current.DatasetID, actor)
		if err != nil {
			return recordNotFound(err)
		}
		r, err := s.records.FindForUpdate(txCtx, recordID)
		if err != nil {
			return wrapStoreErr(err, "record not found", "failed to load record")
		}
		if r.IsDeleted() {
			return dErrors.New(dErrors.CodeNotFound, "record not found")
		}
		before := d.Schema.Coerce(r.Data)
		data, err := prepareData(d, r.MergedData(req.Data))
		if err != nil {
			return err
		}
		r.ApplyUpdate(data, req.Source, actor, requestcontext.Now(txCtx))
		if err := s.records.Update(txCtx, r); err != nil {
			return wrapStoreErr(err, "record not found", "failed to update record")
		}
		s.audit.Log(txCtx, audit.Entry{
			DatasetID: d.ID,
			RecordID:  r.ID,
			Action:    audit.ActionUpdate,
			Actor:     actor,
			Details: audit.Details{
				Before:  audit.Snapshot(before),
				After:   audit.Snapshot(data),
				Changes: models.ChangedFields(before, data),
			},
		})
		updated, owner = r, d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncRecordsUpdated()
	}
	s.notify(ctx, owner, models.Event{
		Type:       models.EventRecordUpdated,
		DatasetID:  updated.DatasetID,
		RecordID:   updated.ID,
		Version:    updated.Version,
		Actor:      actor,
		OccurredAt: updated.UpdatedAt,
	})
	return updated, nil
}

// DeleteRecord soft deletes the record and decrements the dataset counter.
func (s *Service) DeleteRecord(ctx context.Context, recordID domain.RecordID, actor domain.Actor) error {
	ctx, span := s.tracer.Start(ctx, "dataset.DeleteRecord")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", recordID.String()))

	if err := actor.Validate(); err != nil {
		return err
	}
	current, err := s.loadRecord(ctx, recordID)
	if err != nil {
		return err
	}

	var (
		deleted *models.Record
		owner   *models.Dataset
	)
	err = s.tx.RunInTx(ctx, current.DatasetID.String(), func(txCtx context.Context) error {
		d, err := s.loadWritableDataset(txCtx, current.DatasetID, actor)
		if err != nil {
			return recordNotFound(err)
		}
		r, err := s.records.FindForUpdate(txCtx, recordID)
		if err != nil {
			return wrapStoreErr(err, "record not found", "failed to load record")
		}
		if r.IsDeleted() {
			return dErrors.New(dErrors.CodeNotFound, "record not found")
		}
		r.ApplySoftDelete(actor, requestcontext.Now(txCtx))
		if err := s.records.Update(txCtx, r); err != nil {
			return wrapStoreErr(err, "record not found", "failed to delete record")
		}
		if _, err := s.datasets.AdjustRecordCount(txCtx, d.ID, -1, nil); err != nil {
			return wrapStoreErr(err, "dataset not found", "failed to update record count")
		}
		s.audit.Log(txCtx, audit.Entry{
			DatasetID: d.ID,
			RecordID:  r.ID,
			Action:    audit.ActionDelete,
			Actor:     actor,
			Details:   audit.Details{Before: audit.Snapshot(d.Schema.Coerce(r.Data))},
		})
		deleted, owner = r, d
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncRecordsDeleted()
	}
	s.notify(ctx, owner, models.Event{
		Type:       models.EventRecordDeleted,
		DatasetID:  deleted.DatasetID,
		RecordID:   deleted.ID,
		Version:    deleted.Version,
		Actor:      actor,
		OccurredAt: deleted.UpdatedAt,
	})
	return nil
}

// RecordHistory returns the audit trail of one record, oldest first. Deleted
// records keep their history.
func (s *Service) RecordHistory(ctx context.Context, recordID domain.RecordID, actor domain.Actor) ([]audit.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.RecordHistory")
	defer span.End()

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	r, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, wrapStoreErr(err, "record not found", "failed to load record")
	}
	d, err := s.loadDataset(ctx, r.DatasetID)
	if err != nil {
		return nil, recordNotFound(err)
	}
	if err := s.authorize(ctx, d, actor, domain.PermissionRead); err != nil {
		return nil, err
	}
	entries, err := s.audit.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load record history")
	}
	return entries, nil
}

// loadWritableDataset loads the dataset, checks write access and rejects
// archived datasets.
func (s *Service) loadWritableDataset(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) (*models.Dataset, error) {
	d, err := s.loadDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, actor, domain.PermissionWrite); err != nil {
		return nil, err
	}
	if err := d.CanAcceptRecords(); err != nil {
		return nil, err
	}
	return d, nil
}

// loadRecord fetches an active record.
func (s *Service) loadRecord(ctx context.Context, recordID domain.RecordID) (*models.Record, error) {
	r, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, wrapStoreErr(err, "record not found", "failed to load record")
	}
	if r.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	return r, nil
}

// recordNotFound reports a record whose dataset is gone as a missing record.
func recordNotFound(err error) error {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	return err
}

// prepareData validates a payload when the dataset asks for it and otherwise
// only normalizes the fields it can.
func prepareData(d *models.Dataset, data models.Data) (models.Data, error) {
	if !d.Config.ValidateOnSubmit {
		return d.Schema.Coerce(data), nil
	}
	return d.Schema.Validate(data, d.Config.ValidationMode)
}

// present restores typed values on records read back from a store.
func present(d *models.Dataset, r *models.Record) *models.Record {
	r.Data = d.Schema.Coerce(r.Data)
	return r
}
