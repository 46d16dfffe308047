package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dataplane/internal/dataset/models"
	"dataplane/internal/platform/postgres"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/sentinel"
	txcontext "dataplane/pkg/platform/tx"
)

// PostgresStore persists datasets in PostgreSQL. The record counter is only
// ever changed with an in-place increment.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, d *models.Dataset) error {
	schema, perms, cfg, err := encodeDefinition(d)
	if err != nil {
		return err
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO datasets (
			id, organization_id, name, description, created_by_kind, created_by_id,
			schema, permissions, config, status, source_application, source_step,
			record_count, tags, category, is_public, last_record_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		uuid.UUID(d.ID), uuid.UUID(d.OrganizationID), d.Name, d.Description,
		string(d.CreatedBy.Kind()), d.CreatedBy.ID(),
		schema, perms, cfg, string(d.Status), d.Source.Application, d.Source.Step,
		d.Metadata.RecordCount, pq.Array(d.Metadata.Tags), d.Metadata.Category, d.Metadata.IsPublic,
		d.Metadata.LastRecordAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("dataset %s: %w", d.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

const selectDataset = `
	SELECT id, organization_id, name, description, created_by_kind, created_by_id,
		schema, permissions, config, status, source_application, source_step,
		record_count, tags, category, is_public, last_record_at, created_at, updated_at
	FROM datasets
`

func (s *PostgresStore) FindByID(ctx context.Context, datasetID domain.DatasetID) (*models.Dataset, error) {
	return s.findOne(ctx, selectDataset+` WHERE id = $1`, datasetID)
}

// FindForUpdate locks the dataset row until the ambient transaction ends.
// Outside a transaction it behaves like FindByID.
func (s *PostgresStore) FindForUpdate(ctx context.Context, datasetID domain.DatasetID) (*models.Dataset, error) {
	return s.findOne(ctx, selectDataset+` WHERE id = $1 FOR UPDATE`, datasetID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, datasetID domain.DatasetID) (*models.Dataset, error) {
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(datasetID))
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Update rewrites the definition columns; record_count and last_record_at
// belong to AdjustRecordCount.
func (s *PostgresStore) Update(ctx context.Context, d *models.Dataset) error {
	schema, perms, cfg, err := encodeDefinition(d)
	if err != nil {
		return err
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE datasets SET
			name = $2, description = $3, schema = $4, permissions = $5, config = $6,
			status = $7, tags = $8, category = $9, is_public = $10, updated_at = $11
		WHERE id = $1
	`,
		uuid.UUID(d.ID), d.Name, d.Description, schema, perms, cfg,
		string(d.Status), pq.Array(d.Metadata.Tags), d.Metadata.Category, d.Metadata.IsPublic, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// AdjustRecordCount increments in place so concurrent writers never lose an
// update, and refuses to take the counter below zero.
func (s *PostgresStore) AdjustRecordCount(ctx context.Context, datasetID domain.DatasetID, delta int64, lastRecordAt *time.Time) (int64, error) {
	var count int64
	err := s.execer(ctx).QueryRowContext(ctx, `
		UPDATE datasets
		SET record_count = record_count + $2,
			last_record_at = COALESCE($3, last_record_at)
		WHERE id = $1 AND record_count + $2 >= 0
		RETURNING record_count
	`, uuid.UUID(datasetID), delta, lastRecordAt).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := s.FindByID(ctx, datasetID); findErr != nil {
			return 0, findErr
		}
		return 0, fmt.Errorf("record count for %s would go negative: %w", datasetID, sentinel.ErrInvalidState)
	}
	if err != nil {
		return 0, fmt.Errorf("adjust record count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.DatasetFilter) ([]*models.Dataset, error) {
	where, args := datasetWhere(filter)
	args = append(args, filter.EffectiveLimit())
	query := selectDataset + " WHERE " + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d", len(args))
	return s.queryDatasets(ctx, query, args...)
}

// ListCounters applies the filter without its limit.
func (s *PostgresStore) ListCounters(ctx context.Context, filter models.DatasetFilter) ([]*models.Dataset, error) {
	where, args := datasetWhere(filter)
	return s.queryDatasets(ctx, selectDataset+" WHERE "+where, args...)
}

// datasetWhere mirrors models.DatasetFilter.Matches in SQL so visibility is
// decided before the limit.
func datasetWhere(filter models.DatasetFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.OrganizationID != nil {
		add("organization_id = $?", uuid.UUID(*filter.OrganizationID))
	}
	if filter.SourceApplication != "" {
		add("source_application = $?", filter.SourceApplication)
	}
	if filter.ReadableBy != nil {
		add(`(permissions->'owners' @> jsonb_build_array($?::text)
			OR permissions->'editors' @> jsonb_build_array($?::text)
			OR permissions->'viewers' @> jsonb_build_array($?::text)
			OR permissions->>'public_access' = 'read')`, filter.ReadableBy.String())
	}
	if filter.APIAccessOnly {
		where = append(where, "(permissions->>'api_access')::boolean")
	}
	if filter.Status != "" {
		add("status = $?", string(filter.Status))
	} else {
		add("status <> $?", string(models.DatasetDeleted))
	}
	return strings.Join(where, " AND "), args
}

func (s *PostgresStore) queryDatasets(ctx context.Context, query string, args ...any) ([]*models.Dataset, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Dataset, 0)
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*models.Dataset, error) {
	var (
		d                    models.Dataset
		datasetID, orgID     uuid.UUID
		creatorKind, creator string
		schema, perms, cfg   []byte
		status               string
		tags                 []string
	)
	err := row.Scan(&datasetID, &orgID, &d.Name, &d.Description, &creatorKind, &creator,
		&schema, &perms, &cfg, &status, &d.Source.Application, &d.Source.Step,
		&d.Metadata.RecordCount, pq.Array(&tags), &d.Metadata.Category, &d.Metadata.IsPublic,
		&d.Metadata.LastRecordAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dataset: %w", err)
	}
	actor, err := domain.ParseActor(creatorKind, creator)
	if err != nil {
		return nil, fmt.Errorf("decode dataset creator: %w", err)
	}
	if err := json.Unmarshal(schema, &d.Schema); err != nil {
		return nil, fmt.Errorf("decode dataset schema: %w", err)
	}
	if err := json.Unmarshal(perms, &d.Permissions); err != nil {
		return nil, fmt.Errorf("decode dataset permissions: %w", err)
	}
	if err := json.Unmarshal(cfg, &d.Config); err != nil {
		return nil, fmt.Errorf("decode dataset config: %w", err)
	}
	d.ID = domain.DatasetID(datasetID)
	d.OrganizationID = domain.OrganizationID(orgID)
	d.CreatedBy = actor
	d.Status = models.DatasetStatus(status)
	d.Metadata.Tags = tags
	return &d, nil
}

func encodeDefinition(d *models.Dataset) (schema, perms, cfg []byte, err error) {
	if schema, err = json.Marshal(d.Schema); err != nil {
		return nil, nil, nil, fmt.Errorf("encode dataset schema: %w", err)
	}
	if perms, err = json.Marshal(d.Permissions); err != nil {
		return nil, nil, nil, fmt.Errorf("encode dataset permissions: %w", err)
	}
	if cfg, err = json.Marshal(d.Config); err != nil {
		return nil, nil, nil, fmt.Errorf("encode dataset config: %w", err)
	}
	return schema, perms, cfg, nil
}
