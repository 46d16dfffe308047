package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dataplane/internal/dataset/models"
	"dataplane/internal/platform/postgres"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/sentinel"
	txcontext "dataplane/pkg/platform/tx"
)

// PostgresStore keeps record payloads as JSONB. Dates come back as strings;
// callers re-apply the dataset schema to restore typed values.
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

func (s *PostgresStore) Create(ctx context.Context, r *models.Record) error {
	return s.insert(ctx, s.execer(ctx), r)
}

// CreateMany inserts every record in one transaction, joining the ambient one
// when present.
func (s *PostgresStore) CreateMany(ctx context.Context, rs []*models.Record) error {
	if _, ok := txcontext.From(ctx); ok {
		for _, r := range rs {
			if err := s.insert(ctx, s.execer(ctx), r); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, r := range rs {
		if err := s.insert(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, exec dbExecutor, r *models.Record) error {
	data, source, err := encodeRecord(r)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO records (
			id, dataset_id, data, status, version, created_by_kind, created_by_id,
			updated_by_kind, updated_by_id, source, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(r.ID), uuid.UUID(r.DatasetID), data, string(r.Status), r.Version,
		string(r.CreatedBy.Kind()), r.CreatedBy.ID(), string(r.UpdatedBy.Kind()), r.UpdatedBy.ID(),
		source, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("record %s: %w", r.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

const selectRecord = `
	SELECT id, dataset_id, data, status, version, created_by_kind, created_by_id,
		updated_by_kind, updated_by_id, source, created_at, updated_at
	FROM records
`

func (s *PostgresStore) FindByID(ctx context.Context, recordID domain.RecordID) (*models.Record, error) {
	return s.findOne(ctx, selectRecord+` WHERE id = $1`, recordID)
}

// FindForUpdate locks the row until the ambient transaction ends.
func (s *PostgresStore) FindForUpdate(ctx context.Context, recordID domain.RecordID) (*models.Record, error) {
	return s.findOne(ctx, selectRecord+` WHERE id = $1 FOR UPDATE`, recordID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, recordID domain.RecordID) (*models.Record, error) {
	r, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(recordID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) Update(ctx context.Context, r *models.Record) error {
	data, source, err := encodeRecord(r)
	if err != nil {
		return err
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE records SET
			data = $3, status = $4, version = $5, updated_by_kind = $6, updated_by_id = $7,
			source = $8, updated_at = $9
		WHERE id = $1 AND dataset_id = $2
	`,
		uuid.UUID(r.ID), uuid.UUID(r.DatasetID), data, string(r.Status), r.Version,
		string(r.UpdatedBy.Kind()), r.UpdatedBy.ID(), source, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Query pushes filtering, ordering and paging into SQL. Null filters match
// both a JSON null and an absent key; nulls sort first ascending.
func (s *PostgresStore) Query(ctx context.Context, filter models.RecordFilter) ([]*models.Record, int, error) {
	where := []string{"dataset_id = $1", "status = $2"}
	args := []any{uuid.UUID(filter.DatasetID), string(models.RecordActive)}

	contains := make(models.Data)
	for _, key := range filter.Filters.Keys() {
		v := filter.Filters[key]
		if v.IsNull() {
			args = append(args, key)
			where = append(where, fmt.Sprintf("COALESCE(data->($%d::text), 'null'::jsonb) = 'null'::jsonb", len(args)))
			continue
		}
		contains[key] = v
	}
	if len(contains) > 0 {
		doc, err := json.Marshal(contains)
		if err != nil {
			return nil, 0, fmt.Errorf("encode record filter: %w", err)
		}
		args = append(args, doc)
		where = append(where, fmt.Sprintf("data @> $%d::jsonb", len(args)))
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.execer(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM records`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	dir, nulls := "ASC", "NULLS FIRST"
	if filter.Desc {
		dir, nulls = "DESC", "NULLS LAST"
	}
	var orderSQL string
	switch filter.SortBy {
	case models.SortByID:
		orderSQL = fmt.Sprintf(" ORDER BY id %s", dir)
	case models.SortByCreatedAt:
		orderSQL = fmt.Sprintf(" ORDER BY created_at %s, id ASC", dir)
	case models.SortByUpdatedAt:
		orderSQL = fmt.Sprintf(" ORDER BY updated_at %s, id ASC", dir)
	default:
		args = append(args, filter.SortBy)
		orderSQL = fmt.Sprintf(" ORDER BY data->($%d::text) %s %s, id ASC", len(args), dir, nulls)
	}

	pageSQL := ""
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		pageSQL += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, filter.Offset)
	pageSQL += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.execer(ctx).QueryContext(ctx, selectRecord+whereSQL+orderSQL+pageSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate records: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) CountActive(ctx context.Context, datasetID domain.DatasetID) (int64, error) {
	var n int64
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE dataset_id = $1 AND status = $2`,
		uuid.UUID(datasetID), string(models.RecordActive),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r                      models.Record
		recordID, datasetID    uuid.UUID
		data, source           []byte
		status                 string
		createdKind, createdID string
		updatedKind, updatedID string
	)
	err := row.Scan(&recordID, &datasetID, &data, &status, &r.Version, &createdKind, &createdID,
		&updatedKind, &updatedID, &source, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	if r.CreatedBy, err = domain.ParseActor(createdKind, createdID); err != nil {
		return nil, fmt.Errorf("decode record creator: %w", err)
	}
	if r.UpdatedBy, err = domain.ParseActor(updatedKind, updatedID); err != nil {
		return nil, fmt.Errorf("decode record updater: %w", err)
	}
	if err := json.Unmarshal(data, &r.Data); err != nil {
		return nil, fmt.Errorf("decode record data: %w", err)
	}
	if err := json.Unmarshal(source, &r.Source); err != nil {
		return nil, fmt.Errorf("decode record source: %w", err)
	}
	r.ID = domain.RecordID(recordID)
	r.DatasetID = domain.DatasetID(datasetID)
	r.Status = models.RecordStatus(status)
	return &r, nil
}

func encodeRecord(r *models.Record) (data, source []byte, err error) {
	if data, err = json.Marshal(r.Data); err != nil {
		return nil, nil, fmt.Errorf("encode record data: %w", err)
	}
	if source, err = json.Marshal(r.Source); err != nil {
		return nil, nil, fmt.Errorf("encode record source: %w", err)
	}
	return data, source, nil
}
