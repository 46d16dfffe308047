package models

import (
	"slices"
	"strings"
	"time"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

const (
	maxNameLength        = 128
	MaxExpiresInDays     = 3650
	DisplayPrefixHexSize = 8
)

// Permissions grants levels of access. Admin implies write, write implies
// read. An empty DatasetIDs list means every dataset in the organization.
type Permissions struct {
	Read       bool               `json:"read"`
	Write      bool               `json:"write"`
	Admin      bool               `json:"admin"`
	DatasetIDs []domain.DatasetID `json:"dataset_ids,omitempty"`
}

// Level is the strongest permission granted.
func (p Permissions) Level() (domain.Permission, bool) {
	switch {
	case p.Admin:
		return domain.PermissionAdmin, true
	case p.Write:
		return domain.PermissionWrite, true
	case p.Read:
		return domain.PermissionRead, true
	}
	return 0, false
}

func (p Permissions) Allows(required domain.Permission) bool {
	level, ok := p.Level()
	return ok && level.Allows(required)
}

// Covers reports whether the dataset scope includes datasetID. A nil
// datasetID is an organization-level action and needs an unrestricted key.
func (p Permissions) Covers(datasetID *domain.DatasetID) bool {
	if len(p.DatasetIDs) == 0 {
		return true
	}
	if datasetID == nil {
		return false
	}
	return slices.Contains(p.DatasetIDs, *datasetID)
}

type Usage struct {
	RequestCount int64      `json:"request_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// APIKey is an organization-scoped credential. The secret is only stored as
// a bcrypt hash.
//
// Invariants:
//   - Revoked is terminal; RevokedAt is set exactly when Status is revoked
//   - A revoked or expired key authorizes nothing
type APIKey struct {
	ID             domain.APIKeyID       `json:"id"`
	Name           string                `json:"name"`
	Prefix         string                `json:"prefix"`
	SecretHash     string                `json:"-"`
	OrganizationID domain.OrganizationID `json:"organization_id"`
	IssuedBy       domain.UserID         `json:"issued_by"`
	Permissions    Permissions           `json:"permissions"`
	Usage          Usage                 `json:"usage"`
	Status         Status                `json:"status"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	RevokedAt      *time.Time            `json:"revoked_at,omitempty"`
}

// GenerateRequest describes a key to issue. ExpiresInDays of zero means the
// key never expires.
type GenerateRequest struct {
	Name           string
	OrganizationID domain.OrganizationID
	IssuedBy       domain.UserID
	Permissions    Permissions
	ExpiresInDays  int
}

func (r GenerateRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	switch {
	case name == "":
		return dErrors.NewField(dErrors.CodeValidation, "name", "name is required")
	case len(name) > maxNameLength:
		return dErrors.NewField(dErrors.CodeValidation, "name", "name must be at most 128 characters")
	case r.OrganizationID.IsNil():
		return dErrors.NewField(dErrors.CodeValidation, "organization_id", "organization is required")
	case r.IssuedBy.IsNil():
		return dErrors.NewField(dErrors.CodeValidation, "issued_by", "issuer is required")
	case r.ExpiresInDays < 0 || r.ExpiresInDays > MaxExpiresInDays:
		return dErrors.NewField(dErrors.CodeValidation, "expires_in_days", "expires_in_days must be between 0 and 3650")
	}
	if _, ok := r.Permissions.Level(); !ok {
		return dErrors.NewField(dErrors.CodeValidation, "permissions", "at least one permission is required")
	}
	return nil
}

// NewAPIKey builds an active key from a validated request.
func NewAPIKey(keyID domain.APIKeyID, req GenerateRequest, prefix, secretHash string, now time.Time) *APIKey {
	k := &APIKey{
		ID:             keyID,
		Name:           strings.TrimSpace(req.Name),
		Prefix:         prefix,
		SecretHash:     secretHash,
		OrganizationID: req.OrganizationID,
		IssuedBy:       req.IssuedBy,
		Permissions:    req.Permissions,
		Status:         StatusActive,
		CreatedAt:      now,
	}
	k.Permissions.DatasetIDs = slices.Clone(req.Permissions.DatasetIDs)
	if req.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, req.ExpiresInDays)
		k.ExpiresAt = &exp
	}
	return k
}

func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// IsUsable reports whether the key can authorize anything at now.
func (k *APIKey) IsUsable(now time.Time) bool {
	return k.Status == StatusActive && !k.IsExpired(now)
}

// Revoke marks the key revoked and reports whether anything changed.
func (k *APIKey) Revoke(now time.Time) bool {
	if k.Status == StatusRevoked {
		return false
	}
	k.Status = StatusRevoked
	k.RevokedAt = &now
	return true
}

func (k *APIKey) Clone() *APIKey {
	c := *k
	c.Permissions.DatasetIDs = slices.Clone(k.Permissions.DatasetIDs)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		c.RevokedAt = &t
	}
	if k.Usage.LastUsedAt != nil {
		t := *k.Usage.LastUsedAt
		c.Usage.LastUsedAt = &t
	}
	return &c
}
