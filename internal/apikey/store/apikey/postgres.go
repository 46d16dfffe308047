package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dataplane/internal/apikey/models"
	"dataplane/internal/platform/postgres"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/sentinel"
)

// PostgresStore persists API keys in the api_keys table. Usage counters live
// elsewhere.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (
			id, name, prefix, secret_hash, organization_id, issued_by,
			can_read, can_write, can_admin, dataset_ids, status, expires_at, created_at, revoked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		uuid.UUID(key.ID), key.Name, key.Prefix, key.SecretHash,
		uuid.UUID(key.OrganizationID), uuid.UUID(key.IssuedBy),
		key.Permissions.Read, key.Permissions.Write, key.Permissions.Admin,
		pq.Array(datasetIDStrings(key.Permissions.DatasetIDs)),
		string(key.Status), key.ExpiresAt, key.CreatedAt, key.RevokedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("api key %s: %w", key.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

const selectAPIKey = `
	SELECT id, name, prefix, secret_hash, organization_id, issued_by,
		can_read, can_write, can_admin, dataset_ids, status, expires_at, created_at, revoked_at
	FROM api_keys
`

func (s *PostgresStore) FindByID(ctx context.Context, keyID domain.APIKeyID) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, selectAPIKey+` WHERE id = $1`, uuid.UUID(keyID))
	k, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key %s: %w", keyID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) ListByOrganization(ctx context.Context, orgID domain.OrganizationID) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, selectAPIKey+`
		WHERE organization_id = $1
		ORDER BY created_at DESC, id ASC
	`, uuid.UUID(orgID))
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, key *models.APIKey) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET status = $2, revoked_at = $3 WHERE id = $1
	`, uuid.UUID(key.ID), string(key.Status), key.RevokedAt)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("api key %s: %w", key.ID, sentinel.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		k                    models.APIKey
		id, orgID, issuedBy  uuid.UUID
		datasetIDs           []string
		status               string
		expiresAt, revokedAt sql.NullTime
		createdAt            time.Time
	)
	err := row.Scan(&id, &k.Name, &k.Prefix, &k.SecretHash, &orgID, &issuedBy,
		&k.Permissions.Read, &k.Permissions.Write, &k.Permissions.Admin,
		pq.Array(&datasetIDs), &status, &expiresAt, &createdAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	k.ID = domain.APIKeyID(id)
	k.OrganizationID = domain.OrganizationID(orgID)
	k.IssuedBy = domain.UserID(issuedBy)
	k.Status = models.Status(status)
	k.CreatedAt = createdAt
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	for _, raw := range datasetIDs {
		dsID, err := domain.ParseDatasetID(raw)
		if err != nil {
			return nil, fmt.Errorf("api key dataset scope: %w", err)
		}
		k.Permissions.DatasetIDs = append(k.Permissions.DatasetIDs, dsID)
	}
	return &k, nil
}

func datasetIDStrings(ids []domain.DatasetID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
