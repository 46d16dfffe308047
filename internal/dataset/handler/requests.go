package handler

import (
	"strings"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

const maxDescriptionLength = 4096

// CreateDatasetRequest is the HTTP request body for POST /v1/datasets.
type CreateDatasetRequest struct {
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	OrganizationID string              `json:"organization_id"`
	Fields         []models.Field      `json:"fields"`
	SchemaVersion  string              `json:"schema_version"`
	Permissions    *models.Permissions `json:"permissions"`
	Config         *models.Config      `json:"config"`
	Source         models.Source       `json:"source"`
	Tags           []string            `json:"tags"`
	Category       string              `json:"category"`
	IsPublic       bool                `json:"is_public"`

	orgID domain.OrganizationID
}

// Validate checks request shape. Name and schema rules are enforced by the
// service so library callers get the same answers.
func (r *CreateDatasetRequest) Validate() error {
	if len(r.Description) > maxDescriptionLength {
		return dErrors.NewField(dErrors.CodeValidation, "description", "description must be 4096 characters or less")
	}
	r.OrganizationID = strings.TrimSpace(r.OrganizationID)
	if r.OrganizationID == "" {
		return dErrors.NewField(dErrors.CodeValidation, "organization_id", "organization_id is required")
	}
	orgID, err := domain.ParseOrganizationID(r.OrganizationID)
	if err != nil {
		return dErrors.NewField(dErrors.CodeValidation, "organization_id", "organization_id must be a UUID")
	}
	r.orgID = orgID
	return nil
}

func (r *CreateDatasetRequest) toModel() models.CreateDatasetRequest {
	return models.CreateDatasetRequest{
		Name:           r.Name,
		Description:    r.Description,
		OrganizationID: r.orgID,
		Fields:         r.Fields,
		SchemaVersion:  r.SchemaVersion,
		Permissions:    r.Permissions,
		Config:         r.Config,
		Source:         r.Source,
		Tags:           r.Tags,
		Category:       r.Category,
		IsPublic:       r.IsPublic,
	}
}

// UpdateDatasetRequest is the HTTP request body for PATCH /v1/datasets/{id}.
// Absent fields are left unchanged.
type UpdateDatasetRequest struct {
	Name          *string             `json:"name"`
	Description   *string             `json:"description"`
	Fields        *[]models.Field     `json:"fields"`
	SchemaVersion *string             `json:"schema_version"`
	Permissions   *models.Permissions `json:"permissions"`
	Config        *models.Config      `json:"config"`
	Status        *string             `json:"status"`
	Tags          *[]string           `json:"tags"`
	Category      *string             `json:"category"`
	IsPublic      *bool               `json:"is_public"`

	status *models.DatasetStatus
}

func (r *UpdateDatasetRequest) Validate() error {
	if r.Description != nil && len(*r.Description) > maxDescriptionLength {
		return dErrors.NewField(dErrors.CodeValidation, "description", "description must be 4096 characters or less")
	}
	if r.Status != nil {
		s := models.DatasetStatus(strings.ToLower(strings.TrimSpace(*r.Status)))
		if !s.IsValid() {
			return dErrors.NewField(dErrors.CodeValidation, "status", "unknown dataset status")
		}
		r.status = &s
	}
	return nil
}

func (r *UpdateDatasetRequest) toModel() models.UpdateDatasetRequest {
	return models.UpdateDatasetRequest{
		Name:          r.Name,
		Description:   r.Description,
		Fields:        r.Fields,
		SchemaVersion: r.SchemaVersion,
		Permissions:   r.Permissions,
		Config:        r.Config,
		Status:        r.status,
		Tags:          r.Tags,
		Category:      r.Category,
		IsPublic:      r.IsPublic,
	}
}

// RecordRequest is the body for record create and update.
type RecordRequest struct {
	Data   models.Data          `json:"data"`
	Source *models.RecordSource `json:"source"`
}

func (r *RecordRequest) Validate() error {
	if r.Data == nil {
		return dErrors.NewField(dErrors.CodeValidation, "data", "data is required")
	}
	return nil
}

func (r *RecordRequest) toCreate() models.CreateRecordRequest {
	req := models.CreateRecordRequest{Data: r.Data}
	if r.Source != nil {
		req.Source = *r.Source
	}
	return req
}

// BatchRequest is the body for POST /v1/datasets/{id}/records/batch.
type BatchRequest struct {
	Records []RecordRequest `json:"records"`
}

// Validate leaves size limits to the service, which owns the configured
// maximum.
func (r *BatchRequest) Validate() error {
	for i := range r.Records {
		if err := r.Records[i].Validate(); err != nil {
			return dErrors.NewField(dErrors.CodeValidation, "records", "every record needs data")
		}
	}
	return nil
}

func (r *BatchRequest) toModel() []models.CreateRecordRequest {
	out := make([]models.CreateRecordRequest, len(r.Records))
	for i := range r.Records {
		out[i] = r.Records[i].toCreate()
	}
	return out
}

// QueryRequest is the body for POST /v1/datasets/{id}/records/query.
type QueryRequest struct {
	Filters   models.Data `json:"filters"`
	SortBy    string      `json:"sort_by"`
	SortOrder string      `json:"sort_order"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
}

func (r *QueryRequest) Validate() error {
	if r.Page < 0 {
		return dErrors.NewField(dErrors.CodeValidation, "page", "page must not be negative")
	}
	if r.PageSize < 0 {
		return dErrors.NewField(dErrors.CodeValidation, "page_size", "page_size must not be negative")
	}
	return nil
}

func (r *QueryRequest) toModel(datasetID domain.DatasetID) models.RecordQuery {
	return models.RecordQuery{
		DatasetID: datasetID,
		Filters:   r.Filters,
		SortBy:    r.SortBy,
		SortOrder: models.SortOrder(r.SortOrder),
		Page:      r.Page,
		PageSize:  r.PageSize,
	}
}
