package models

import (
	"time"

	"dataplane/pkg/domain"
)

type EventType string

const (
	EventRecordCreated  EventType = "record.created"
	EventRecordUpdated  EventType = "record.updated"
	EventRecordDeleted  EventType = "record.deleted"
	EventRecordsImport  EventType = "records.imported"
	EventDatasetDeleted EventType = "dataset.deleted"
)

// Event is a committed change published to subscribers of a dataset.
type Event struct {
	Type       EventType        `json:"type"`
	DatasetID  domain.DatasetID `json:"dataset_id"`
	RecordID   domain.RecordID  `json:"record_id,omitzero"`
	Count      int              `json:"count,omitempty"`
	Version    int64            `json:"version,omitempty"`
	Actor      domain.Actor     `json:"actor"`
	OccurredAt time.Time        `json:"occurred_at"`
}
