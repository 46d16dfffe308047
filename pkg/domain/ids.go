package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "dataplane/pkg/domain-errors"
)

// Typed identifiers keep a record id from being passed where a dataset id is
// expected. All of them are UUIDs underneath.
type (
	DatasetID      uuid.UUID
	RecordID       uuid.UUID
	APIKeyID       uuid.UUID
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	AuditEntryID   uuid.UUID
)

const maxIDLength = 64

// parseUUID is the single parsing rule shared by every ID type: non-empty,
// well-formed, and not the nil UUID.
func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	return u, nil
}

func ParseDatasetID(s string) (DatasetID, error) {
	u, err := parseUUID("dataset id", s)
	return DatasetID(u), err
}

func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID("record id", s)
	return RecordID(u), err
}

func ParseAPIKeyID(s string) (APIKeyID, error) {
	u, err := parseUUID("api key id", s)
	return APIKeyID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

func ParseOrganizationID(s string) (OrganizationID, error) {
	u, err := parseUUID("organization id", s)
	return OrganizationID(u), err
}

func NewDatasetID() DatasetID       { return DatasetID(uuid.New()) }
func NewRecordID() RecordID         { return RecordID(uuid.New()) }
func NewAPIKeyID() APIKeyID         { return APIKeyID(uuid.New()) }
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

func (id DatasetID) String() string      { return uuid.UUID(id).String() }
func (id RecordID) String() string       { return uuid.UUID(id).String() }
func (id APIKeyID) String() string       { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id OrganizationID) String() string { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string   { return uuid.UUID(id).String() }

func (id DatasetID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id APIKeyID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id OrganizationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// JSON encodes IDs as their canonical string form.

func (id DatasetID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id RecordID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id APIKeyID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id OrganizationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id AuditEntryID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }

func (id *DatasetID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RecordID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *APIKeyID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OrganizationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AuditEntryID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
