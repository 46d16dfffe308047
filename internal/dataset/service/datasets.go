package service

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/audit"
	strutil "dataplane/pkg/platform/strings"
	"dataplane/pkg/requestcontext"
)

func (s *Service) CreateDataset(ctx context.Context, req models.CreateDatasetRequest, actor domain.Actor) (*models.Dataset, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.CreateDataset")
	defer span.End()

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := s.authorizeOrg(ctx, req.OrganizationID, actor, domain.PermissionAdmin); err != nil {
		return nil, err
	}

	schema, err := models.NewSchema(req.Fields, req.SchemaVersion)
	if err != nil {
		return nil, translateModelErr(err)
	}
	perms := models.DefaultPermissions(actor)
	if req.Permissions != nil {
		perms = *req.Permissions
	}
	cfg := models.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
		if cfg.ValidationMode == "" {
			cfg.ValidationMode = models.ValidationStrict
		}
	}
	meta := models.Metadata{Tags: req.Tags, Category: req.Category, IsPublic: req.IsPublic}

	d, err := models.NewDataset(domain.NewDatasetID(), req.Name, req.Description, req.OrganizationID, actor,
		schema, perms, cfg, req.Source, meta, requestcontext.Now(ctx))
	if err != nil {
		return nil, translateModelErr(err)
	}
	span.SetAttributes(attribute.String("dataset_id", d.ID.String()))

	err = s.tx.RunInTx(ctx, d.ID.String(), func(txCtx context.Context) error {
		if err := s.datasets.Create(txCtx, d); err != nil {
			return wrapStoreErr(err, "dataset not found", "failed to create dataset")
		}
		s.audit.Log(txCtx, audit.Entry{
			DatasetID: d.ID,
			Action:    audit.ActionCreate,
			Actor:     actor,
			Details:   audit.Details{After: audit.Snapshot(d), Summary: "dataset created"},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncDatasetsCreated()
	}
	s.logger.InfoContext(ctx, "dataset created",
		"dataset_id", d.ID.String(),
		"organization_id", d.OrganizationID.String(),
		"actor", actor.String(),
	)
	return d, nil
}

// GetDataset returns an active or archived dataset. Deleted datasets are not
// found.
func (s *Service) GetDataset(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) (*models.Dataset, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.GetDataset")
	defer span.End()

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	d, err := s.loadDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, actor, domain.PermissionRead); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDatasets returns datasets newest first. Deleted datasets only appear
// when the filter asks for them.
func (s *Service) ListDatasets(ctx context.Context, filter models.DatasetFilter) ([]*models.Dataset, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.ListDatasets")
	defer span.End()

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "status", "unknown dataset status")
	}
	out, err := s.datasets.List(ctx, filter)
	if err != nil {
		return nil, wrapStoreErr(err, "dataset not found", "failed to list datasets")
	}
	return out, nil
}

// UpdateDataset merges the supplied fields. A changed field list bumps the
// schema version and adds a schema_change entry next to the update entry.
func (s *Service) UpdateDataset(ctx context.Context, datasetID domain.DatasetID, req models.UpdateDatasetRequest, actor domain.Actor) (*models.Dataset, error) {
	ctx, span := s.tracer.Start(ctx, "dataset.UpdateDataset")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	if err := actor.Validate(); err != nil {
		return nil, err
	}

	var updated *models.Dataset
	err := s.tx.RunInTx(ctx, datasetID.String(), func(txCtx context.Context) error {
		d, err := s.lockDataset(txCtx, datasetID)
		if err != nil {
			return err
		}
		if err := s.authorize(txCtx, d, actor, domain.PermissionAdmin); err != nil {
			return err
		}

		before := d.Clone()
		schemaChanged, err := applyDatasetUpdate(d, req)
		if err != nil {
			return err
		}
		changes := changedDatasetFields(before, d)
		if len(changes) == 0 {
			updated = d
			return nil
		}
		d.UpdatedAt = requestcontext.Now(txCtx)

		if err := s.datasets.Update(txCtx, d); err != nil {
			return wrapStoreErr(err, "dataset not found", "failed to update dataset")
		}
		s.audit.Log(txCtx, audit.Entry{
			DatasetID: d.ID,
			Action:    audit.ActionUpdate,
			Actor:     actor,
			Details: audit.Details{
				Before:  audit.Snapshot(before),
				After:   audit.Snapshot(d),
				Changes: changes,
			},
		})
		if schemaChanged {
			s.audit.Log(txCtx, audit.Entry{
				DatasetID: d.ID,
				Action:    audit.ActionSchemaChange,
				Actor:     actor,
				Details: audit.Details{
					Before:  audit.Snapshot(before.Schema.FieldNames()),
					After:   audit.Snapshot(d.Schema.FieldNames()),
					Summary: fmt.Sprintf("schema version %s -> %s", before.Schema.Version, d.Schema.Version),
				},
			})
		}
		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyDatasetUpdate merges req into d and reports whether the field list
// changed.
func applyDatasetUpdate(d *models.Dataset, req models.UpdateDatasetRequest) (bool, error) {
	if req.Name != nil {
		name, err := models.NormalizeDatasetName(*req.Name)
		if err != nil {
			return false, translateModelErr(err)
		}
		d.Name = name
	}
	if req.Description != nil {
		d.Description = *req.Description
	}
	if req.Permissions != nil {
		perms := *req.Permissions
		if perms.PublicAccess == "" {
			perms.PublicAccess = models.PublicAccessNone
		}
		if perms.PublicAccess != models.PublicAccessNone && perms.PublicAccess != models.PublicAccessRead {
			return false, dErrors.NewField(dErrors.CodeValidation, "permissions.public_access", "unknown public access level")
		}
		d.Permissions = perms
	}
	if req.Config != nil {
		if !req.Config.ValidationMode.IsValid() {
			return false, dErrors.NewField(dErrors.CodeValidation, "config.validation_mode", "unknown validation mode")
		}
		if req.Config.RetentionDays < 0 {
			return false, dErrors.NewField(dErrors.CodeValidation, "config.retention_days", "retention days cannot be negative")
		}
		d.Config = *req.Config
	}
	if req.Status != nil {
		if err := d.CanTransitionTo(*req.Status); err != nil {
			return false, translateModelErr(err)
		}
		d.Status = *req.Status
	}
	if req.Tags != nil {
		d.Metadata.Tags = strutil.DedupeAndTrimLower(*req.Tags)
	}
	if req.Category != nil {
		d.Metadata.Category = *req.Category
	}
	if req.IsPublic != nil {
		d.Metadata.IsPublic = *req.IsPublic
	}

	schemaChanged := false
	if req.Fields != nil {
		next, err := models.NewSchema(*req.Fields, d.Schema.Version)
		if err != nil {
			return false, translateModelErr(err)
		}
		if !d.Schema.SameFields(next) {
			schemaChanged = true
			next.Version = models.NextSchemaVersion(d.Schema.Version)
		}
		d.Schema = next
	}
	if req.SchemaVersion != nil && *req.SchemaVersion != "" && *req.SchemaVersion != d.Schema.Version {
		d.Schema.Version = *req.SchemaVersion
	}
	return schemaChanged, nil
}

func changedDatasetFields(before, after *models.Dataset) []string {
	var changes []string
	add := func(name string, differs bool) {
		if differs {
			changes = append(changes, name)
		}
	}
	add("name", before.Name != after.Name)
	add("description", before.Description != after.Description)
	add("schema", !reflect.DeepEqual(before.Schema, after.Schema))
	add("permissions", !reflect.DeepEqual(before.Permissions, after.Permissions))
	add("config", before.Config != after.Config)
	add("status", before.Status != after.Status)
	add("tags", !slices.Equal(before.Metadata.Tags, after.Metadata.Tags))
	add("category", before.Metadata.Category != after.Metadata.Category)
	add("is_public", before.Metadata.IsPublic != after.Metadata.IsPublic)
	return changes
}

// DeleteDataset soft deletes the dataset. Its records are left as they are.
func (s *Service) DeleteDataset(ctx context.Context, datasetID domain.DatasetID, actor domain.Actor) error {
	ctx, span := s.tracer.Start(ctx, "dataset.DeleteDataset")
	defer span.End()
	span.SetAttributes(attribute.String("dataset_id", datasetID.String()))

	if err := actor.Validate(); err != nil {
		return err
	}

	var deleted *models.Dataset
	err := s.tx.RunInTx(ctx, datasetID.String(), func(txCtx context.Context) error {
		d, err := s.lockDataset(txCtx, datasetID)
		if err != nil {
			return err
		}
		if err := s.authorize(txCtx, d, actor, domain.PermissionAdmin); err != nil {
			return err
		}
		now := requestcontext.Now(txCtx)
		d.ApplySoftDelete(now)
		if err := s.datasets.Update(txCtx, d); err != nil {
			return wrapStoreErr(err, "dataset not found", "failed to delete dataset")
		}
		s.audit.Log(txCtx, audit.Entry{
			DatasetID: d.ID,
			Action:    audit.ActionDelete,
			Actor:     actor,
			Details: audit.Details{
				Count:   int(d.Metadata.RecordCount),
				Summary: "dataset deleted",
			},
		})
		deleted = d
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ctx, deleted, models.Event{
		Type:       models.EventDatasetDeleted,
		DatasetID:  deleted.ID,
		Actor:      actor,
		OccurredAt: deleted.UpdatedAt,
	})
	s.logger.InfoContext(ctx, "dataset deleted",
		"dataset_id", datasetID.String(),
		"actor", actor.String(),
	)
	return nil
}

// loadDataset fetches a dataset that has not been deleted.
func (s *Service) loadDataset(ctx context.Context, datasetID domain.DatasetID) (*models.Dataset, error) {
	return checkLoaded(s.datasets.FindByID(ctx, datasetID))
}

// lockDataset is loadDataset for read-modify-write of the definition.
func (s *Service) lockDataset(ctx context.Context, datasetID domain.DatasetID) (*models.Dataset, error) {
	return checkLoaded(s.datasets.FindForUpdate(ctx, datasetID))
}

func checkLoaded(d *models.Dataset, err error) (*models.Dataset, error) {
	if err != nil {
		return nil, wrapStoreErr(err, "dataset not found", "failed to load dataset")
	}
	if d.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeNotFound, "dataset not found")
	}
	return d, nil
}
