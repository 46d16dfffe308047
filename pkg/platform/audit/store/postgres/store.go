package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dataplane/pkg/domain"
	audit "dataplane/pkg/platform/audit"
	txcontext "dataplane/pkg/platform/tx"
)

// Store implements audit.Store on the audit_log table plus a transactional
// outbox. Every append writes both rows so the relay can publish the entry to
// Kafka after the surrounding transaction commits.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const savepoint = "audit_append"

// Append writes the entry inside the ambient transaction when ctx carries one.
// The insert is fenced by a SAVEPOINT: if it fails, the transaction is rolled
// back to the savepoint and stays usable for the primary mutation.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if tx, ok := txcontext.From(ctx); ok {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("audit savepoint: %w", err)
		}
		if err := s.insert(ctx, tx, entry); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback to audit savepoint: %w", rbErr))
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("release audit savepoint: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	if err := s.insert(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	auditCtx, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("marshal audit context: %w", err)
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	var recordID *uuid.UUID
	if !entry.RecordID.IsNil() {
		rid := uuid.UUID(entry.RecordID)
		recordID = &rid
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, dataset_id, record_id, action, actor_kind, actor_id, timestamp, details, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.DatasetID),
		recordID,
		string(entry.Action),
		string(entry.Actor.Kind()),
		entry.Actor.ID(),
		entry.Timestamp,
		details,
		auditCtx,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		"dataset",
		entry.DatasetID.String(),
		string(entry.Action),
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, dataset_id, record_id, action, actor_kind, actor_id, timestamp, details, context
	FROM audit_log
`

// ListByDataset returns the most recent entries for a dataset, newest first.
func (s *Store) ListByDataset(ctx context.Context, datasetID domain.DatasetID, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE dataset_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, uuid.UUID(datasetID), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByRecord returns every entry for a record, oldest first.
func (s *Store) ListByRecord(ctx context.Context, recordID domain.RecordID) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE record_id = $1
		ORDER BY timestamp ASC
	`, uuid.UUID(recordID))
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			entry     audit.Entry
			entryID   uuid.UUID
			datasetID uuid.UUID
			recordID  *uuid.UUID
			action    string
			actorKind string
			actorID   string
			details   []byte
			auditCtx  []byte
		)
		if err := rows.Scan(&entryID, &datasetID, &recordID, &action, &actorKind, &actorID,
			&entry.Timestamp, &details, &auditCtx); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		actor, err := domain.ParseActor(actorKind, actorID)
		if err != nil {
			return nil, fmt.Errorf("decode audit actor: %w", err)
		}
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		if err := json.Unmarshal(auditCtx, &entry.Context); err != nil {
			return nil, fmt.Errorf("decode audit context: %w", err)
		}

		entry.ID = domain.AuditEntryID(entryID)
		entry.DatasetID = domain.DatasetID(datasetID)
		if recordID != nil {
			entry.RecordID = domain.RecordID(*recordID)
		}
		entry.Action = audit.Action(action)
		entry.Actor = actor
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
