package models

import (
	"maps"
	"time"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

type RecordStatus string

const (
	RecordActive  RecordStatus = "active"
	RecordDeleted RecordStatus = "deleted"
)

// RecordSource is free-form provenance for a record.
type RecordSource struct {
	Application string            `json:"application,omitempty"`
	Step        string            `json:"step,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Record is one data item in a dataset.
//
// Invariants:
//   - DatasetID never changes
//   - Version starts at 1 and grows by exactly 1 per applied update
//   - A deleted record keeps its last payload and version
type Record struct {
	ID        domain.RecordID  `json:"id"`
	DatasetID domain.DatasetID `json:"dataset_id"`
	Data      Data             `json:"data"`
	Status    RecordStatus     `json:"status"`
	Version   int64            `json:"version"`
	CreatedBy domain.Actor     `json:"created_by"`
	UpdatedBy domain.Actor     `json:"updated_by"`
	Source    RecordSource     `json:"source"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewRecord(recordID domain.RecordID, datasetID domain.DatasetID, data Data, source RecordSource, by domain.Actor, now time.Time) (*Record, error) {
	if datasetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record requires a dataset")
	}
	if by.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record creator is required")
	}
	return &Record{
		ID:        recordID,
		DatasetID: datasetID,
		Data:      data.Clone(),
		Status:    RecordActive,
		Version:   1,
		CreatedBy: by,
		UpdatedBy: by,
		Source:    source.clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Record) IsDeleted() bool { return r.Status == RecordDeleted }

// MergedData returns the payload with patch applied. Keys in patch replace
// existing keys; a null in patch stores null rather than removing the key.
func (r *Record) MergedData(patch Data) Data {
	merged := r.Data.Clone()
	maps.Copy(merged, patch)
	return merged
}

// ApplyUpdate installs an already validated payload and bumps the version.
func (r *Record) ApplyUpdate(data Data, source *RecordSource, by domain.Actor, now time.Time) {
	r.Data = data
	if source != nil {
		r.Source = source.clone()
	}
	r.Version++
	r.UpdatedBy = by
	r.UpdatedAt = now
}

func (r *Record) ApplySoftDelete(by domain.Actor, now time.Time) {
	r.Status = RecordDeleted
	r.UpdatedBy = by
	r.UpdatedAt = now
}

// ChangedFields lists keys whose value differs between before and after.
func ChangedFields(before, after Data) []string {
	var changed []string
	for _, k := range after.Keys() {
		if old, ok := before[k]; !ok || !old.Equal(after[k]) {
			changed = append(changed, k)
		}
	}
	return changed
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = r.Data.Clone()
	c.Source = r.Source.clone()
	return &c
}

func (s RecordSource) clone() RecordSource {
	s.Extra = maps.Clone(s.Extra)
	return s
}
