package models

import (
	"slices"
	"strings"
	"time"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	strutil "dataplane/pkg/platform/strings"
)

// DatasetStatus is the lifecycle state of a dataset.
type DatasetStatus string

const (
	DatasetActive   DatasetStatus = "active"
	DatasetArchived DatasetStatus = "archived"
	DatasetDeleted  DatasetStatus = "deleted"
)

func (s DatasetStatus) IsValid() bool {
	return s == DatasetActive || s == DatasetArchived || s == DatasetDeleted
}

// PublicAccess is the access level granted to any signed-in user.
type PublicAccess string

const (
	PublicAccessNone PublicAccess = "none"
	PublicAccessRead PublicAccess = "read"
)

// Role is a user's role on a dataset, ordered by privilege.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleOwner
)

type Permissions struct {
	Owners       []domain.UserID `json:"owners"`
	Editors      []domain.UserID `json:"editors"`
	Viewers      []domain.UserID `json:"viewers"`
	PublicAccess PublicAccess    `json:"public_access"`
	APIAccess    bool            `json:"api_access"`
}

// RoleOf returns the strongest role a user holds. PublicAccess=read grants
// viewer to everyone.
func (p Permissions) RoleOf(user domain.UserID) Role {
	switch {
	case slices.Contains(p.Owners, user):
		return RoleOwner
	case slices.Contains(p.Editors, user):
		return RoleEditor
	case slices.Contains(p.Viewers, user), p.PublicAccess == PublicAccessRead:
		return RoleViewer
	}
	return RoleNone
}

// DefaultPermissions makes the creator the sole owner with API access on.
func DefaultPermissions(creator domain.Actor) Permissions {
	p := Permissions{PublicAccess: PublicAccessNone, APIAccess: true}
	if uid, ok := creator.UserID(); ok {
		p.Owners = []domain.UserID{uid}
	}
	return p
}

type Config struct {
	ValidationMode      ValidationMode `json:"validation_mode"`
	ValidateOnSubmit    bool           `json:"validate_on_submit"`
	EnableWebhooks      bool           `json:"enable_webhooks"`
	EnableNotifications bool           `json:"enable_notifications"`
	RetentionDays       int            `json:"retention_days,omitempty"`
}

// DefaultConfig is strict validation on every submit.
func DefaultConfig() Config {
	return Config{ValidationMode: ValidationStrict, ValidateOnSubmit: true}
}

// Notifies reports whether record events should be published.
func (c Config) Notifies() bool {
	return c.EnableNotifications || c.EnableWebhooks
}

// Source records which application and step created a dataset.
type Source struct {
	Application string `json:"application,omitempty"`
	Step        string `json:"step,omitempty"`
}

type Metadata struct {
	RecordCount  int64      `json:"record_count"`
	Tags         []string   `json:"tags,omitempty"`
	Category     string     `json:"category,omitempty"`
	IsPublic     bool       `json:"is_public"`
	LastRecordAt *time.Time `json:"last_record_at,omitempty"`
}

// Dataset is the aggregate root for a schema-bearing record container.
//
// Invariants:
//   - Name is non-empty and at most 128 characters after trimming
//   - Metadata.RecordCount equals the number of active records; only the
//     record paths adjust it, inside the same store transaction
//   - Status transitions: active ↔ archived, either → deleted; deleted is terminal
//   - OrganizationID and CreatedBy are immutable after construction
type Dataset struct {
	ID             domain.DatasetID      `json:"id"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	OrganizationID domain.OrganizationID `json:"organization_id"`
	CreatedBy      domain.Actor          `json:"created_by"`
	Schema         Schema                `json:"schema"`
	Permissions    Permissions           `json:"permissions"`
	Config         Config                `json:"config"`
	Status         DatasetStatus         `json:"status"`
	Source         Source                `json:"source"`
	Metadata       Metadata              `json:"metadata"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

const maxDatasetNameLength = 128

// NormalizeDatasetName trims and checks a dataset name.
func NormalizeDatasetName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", dErrors.NewField(dErrors.CodeInvariantViolation, "name", "dataset name cannot be empty")
	}
	if len([]rune(name)) > maxDatasetNameLength {
		return "", dErrors.NewField(dErrors.CodeInvariantViolation, "name", "dataset name must be 128 characters or less")
	}
	return name, nil
}

// NewDataset builds an active dataset with a zero record count.
func NewDataset(
	datasetID domain.DatasetID,
	name, description string,
	orgID domain.OrganizationID,
	createdBy domain.Actor,
	schema Schema,
	perms Permissions,
	cfg Config,
	source Source,
	meta Metadata,
	now time.Time,
) (*Dataset, error) {
	name, err := NormalizeDatasetName(name)
	if err != nil {
		return nil, err
	}
	if orgID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeInvariantViolation, "organization_id", "organization is required")
	}
	if createdBy.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "dataset creator is required")
	}
	if !cfg.ValidationMode.IsValid() {
		return nil, dErrors.NewField(dErrors.CodeInvariantViolation, "config.validation_mode", "unknown validation mode")
	}
	if cfg.RetentionDays < 0 {
		return nil, dErrors.NewField(dErrors.CodeInvariantViolation, "config.retention_days", "retention days cannot be negative")
	}
	if perms.PublicAccess == "" {
		perms.PublicAccess = PublicAccessNone
	}
	if uid, ok := createdBy.UserID(); ok && !slices.Contains(perms.Owners, uid) {
		perms.Owners = append([]domain.UserID{uid}, perms.Owners...)
	}

	meta.RecordCount = 0
	meta.LastRecordAt = nil
	meta.Tags = strutil.DedupeAndTrimLower(meta.Tags)

	return &Dataset{
		ID:             datasetID,
		Name:           name,
		Description:    strings.TrimSpace(description),
		OrganizationID: orgID,
		CreatedBy:      createdBy,
		Schema:         schema,
		Permissions:    perms,
		Config:         cfg,
		Status:         DatasetActive,
		Source:         source,
		Metadata:       meta,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (d *Dataset) IsDeleted() bool { return d.Status == DatasetDeleted }

// CanAcceptRecords rejects writes to archived datasets. Deleted datasets are
// reported as not found by the service before this is reached.
func (d *Dataset) CanAcceptRecords() error {
	if d.Status == DatasetArchived {
		return dErrors.New(dErrors.CodeConflict, "dataset is archived")
	}
	return nil
}

// CanTransitionTo checks a status change requested through an update.
func (d *Dataset) CanTransitionTo(next DatasetStatus) error {
	switch {
	case !next.IsValid():
		return dErrors.NewField(dErrors.CodeInvariantViolation, "status", "unknown dataset status")
	case next == DatasetDeleted:
		return dErrors.NewField(dErrors.CodeInvariantViolation, "status", "use delete to remove a dataset")
	case d.IsDeleted():
		return dErrors.New(dErrors.CodeInvariantViolation, "dataset is deleted")
	}
	return nil
}

// ApplySoftDelete marks the dataset deleted. Records are left untouched.
func (d *Dataset) ApplySoftDelete(now time.Time) {
	d.Status = DatasetDeleted
	d.UpdatedAt = now
}

// Clone returns a deep copy safe to hand across store boundaries.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	c := *d
	c.Schema.Fields = slices.Clone(d.Schema.Fields)
	for i := range c.Schema.Fields {
		c.Schema.Fields[i].Options = slices.Clone(c.Schema.Fields[i].Options)
	}
	c.Permissions.Owners = slices.Clone(d.Permissions.Owners)
	c.Permissions.Editors = slices.Clone(d.Permissions.Editors)
	c.Permissions.Viewers = slices.Clone(d.Permissions.Viewers)
	c.Metadata.Tags = slices.Clone(d.Metadata.Tags)
	if d.Metadata.LastRecordAt != nil {
		t := *d.Metadata.LastRecordAt
		c.Metadata.LastRecordAt = &t
	}
	return &c
}
