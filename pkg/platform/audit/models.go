package audit

import (
	"encoding/json"
	"time"

	"dataplane/pkg/domain"
)

// Action names the kind of mutation (or read) an entry records.
type Action string

const (
	ActionCreate       Action = "create"
	ActionRead         Action = "read"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionExport       Action = "export"
	ActionImport       Action = "import"
	ActionSchemaChange Action = "schema_change"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionExport, ActionImport, ActionSchemaChange:
		return true
	}
	return false
}

// Entry is one immutable audit record. Entries are appended, never updated.
type Entry struct {
	ID        domain.AuditEntryID `json:"id"`
	DatasetID domain.DatasetID    `json:"dataset_id"`
	RecordID  domain.RecordID     `json:"record_id,omitzero"`
	Action    Action              `json:"action"`
	Actor     domain.Actor        `json:"actor"`
	Timestamp time.Time           `json:"timestamp"`
	Details   Details             `json:"details"`
	Context   Context             `json:"context"`
}

// Details carries pre/post state or a summary of the action.
// Before and After hold JSON snapshots so the audit package stays
// independent of the entity types it describes.
type Details struct {
	Before  json.RawMessage `json:"before,omitempty"`
	After   json.RawMessage `json:"after,omitempty"`
	Count   int             `json:"count,omitempty"`
	Changes []string        `json:"changes,omitempty"`
	Summary string          `json:"summary,omitempty"`
}

// Context names where the action originated.
type Context struct {
	Surface   string `json:"surface"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Snapshot marshals v for use in Details.Before/After. Marshal failures
// yield nil; a missing snapshot must never block the audit write itself.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
