package service

import (
	"context"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

// roleFor maps a permission level onto the dataset role a user needs:
// read is viewer, write is editor, admin is owner.
func roleFor(perm domain.Permission) models.Role {
	switch perm {
	case domain.PermissionAdmin:
		return models.RoleOwner
	case domain.PermissionWrite:
		return models.RoleEditor
	default:
		return models.RoleViewer
	}
}

// authorize checks actor against a loaded dataset. Users are checked against
// the dataset's role lists; API keys need APIAccess on the dataset and a
// matching key scope.
func (s *Service) authorize(ctx context.Context, d *models.Dataset, actor domain.Actor, perm domain.Permission) error {
	if uid, ok := actor.UserID(); ok {
		if d.Permissions.RoleOf(uid) >= roleFor(perm) {
			return nil
		}
		return s.denied(ctx, actor, "insufficient dataset role")
	}
	if keyID, ok := actor.APIKeyID(); ok {
		if !d.Permissions.APIAccess {
			return s.denied(ctx, actor, "dataset does not allow api access")
		}
		return s.authorizeKey(ctx, keyID, d.OrganizationID, &d.ID, perm)
	}
	return actor.Validate()
}

// authorizeOrg gates organization-level actions such as creating a dataset.
// Any user may create; keys need admin without a dataset restriction.
func (s *Service) authorizeOrg(ctx context.Context, orgID domain.OrganizationID, actor domain.Actor, perm domain.Permission) error {
	if keyID, ok := actor.APIKeyID(); ok {
		return s.authorizeKey(ctx, keyID, orgID, nil, perm)
	}
	return actor.Validate()
}

func (s *Service) authorizeKey(ctx context.Context, keyID domain.APIKeyID, orgID domain.OrganizationID, datasetID *domain.DatasetID, perm domain.Permission) error {
	actor := domain.APIKeyActor(keyID)
	if s.keys == nil {
		return s.denied(ctx, actor, "api keys are not enabled")
	}
	err := s.keys.AuthorizeKey(ctx, keyID, orgID, datasetID, perm)
	switch {
	case err == nil:
		return nil
	case dErrors.HasCode(err, dErrors.CodeForbidden), dErrors.HasCode(err, dErrors.CodeUnauthorized),
		dErrors.HasCode(err, dErrors.CodeNotFound):
		return s.denied(ctx, actor, "api key rejected")
	}
	return err
}

// denied logs the reason and returns the generic error callers see.
func (s *Service) denied(ctx context.Context, actor domain.Actor, reason string) error {
	s.logger.WarnContext(ctx, "access denied",
		"actor", actor.String(),
		"reason", reason,
	)
	if s.metrics != nil {
		s.metrics.IncAccessDenied(string(actor.Kind()))
	}
	return dErrors.New(dErrors.CodeForbidden, "access denied")
}
