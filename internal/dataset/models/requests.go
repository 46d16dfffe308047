package models

import "dataplane/pkg/domain"

// CreateDatasetRequest carries caller-supplied dataset fields. Nil
// Permissions or Config select the defaults.
type CreateDatasetRequest struct {
	Name           string
	Description    string
	OrganizationID domain.OrganizationID
	Fields         []Field
	SchemaVersion  string
	Permissions    *Permissions
	Config         *Config
	Source         Source
	Tags           []string
	Category       string
	IsPublic       bool
}

// UpdateDatasetRequest merges only the non-nil fields.
type UpdateDatasetRequest struct {
	Name          *string
	Description   *string
	Fields        *[]Field
	SchemaVersion *string
	Permissions   *Permissions
	Config        *Config
	Status        *DatasetStatus
	Tags          *[]string
	Category      *string
	IsPublic      *bool
}

// DatasetFilter narrows ListDatasets. Zero values mean "any".
type DatasetFilter struct {
	OrganizationID    *domain.OrganizationID
	SourceApplication string
	Status            DatasetStatus
	Limit             int
	// ReadableBy keeps datasets where the user holds at least the viewer role.
	ReadableBy *domain.UserID
	// APIAccessOnly keeps datasets that allow API key access.
	APIAccessOnly bool
}

const (
	DefaultDatasetListLimit = 50
	MaxDatasetListLimit     = 500
)

// EffectiveLimit applies the default and clamp.
func (f DatasetFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultDatasetListLimit
	case f.Limit > MaxDatasetListLimit:
		return MaxDatasetListLimit
	}
	return f.Limit
}

// Matches applies every filter except the limit. Deleted datasets only match
// when Status asks for them.
func (f DatasetFilter) Matches(d *Dataset) bool {
	if f.OrganizationID != nil && d.OrganizationID != *f.OrganizationID {
		return false
	}
	if f.SourceApplication != "" && d.Source.Application != f.SourceApplication {
		return false
	}
	if f.ReadableBy != nil && d.Permissions.RoleOf(*f.ReadableBy) < RoleViewer {
		return false
	}
	if f.APIAccessOnly && !d.Permissions.APIAccess {
		return false
	}
	if f.Status != "" {
		return d.Status == f.Status
	}
	return d.Status != DatasetDeleted
}

type CreateRecordRequest struct {
	Data   Data
	Source RecordSource
}

// UpdateRecordRequest patches Data key by key. A nil Source keeps the
// existing provenance.
type UpdateRecordRequest struct {
	Data   Data
	Source *RecordSource
}
