package apikey

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"dataplane/internal/apikey/models"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/sentinel"
)

// InMemory is a thread-safe key store for tests and single-process runs.
type InMemory struct {
	mu   sync.RWMutex
	keys map[domain.APIKeyID]*models.APIKey
}

func NewInMemory() *InMemory {
	return &InMemory{keys: make(map[domain.APIKeyID]*models.APIKey)}
}

func (s *InMemory) Create(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return fmt.Errorf("api key %s: %w", key.ID, sentinel.ErrConflict)
	}
	s.keys[key.ID] = key.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, keyID domain.APIKeyID) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("api key %s: %w", keyID, sentinel.ErrNotFound)
	}
	return k.Clone(), nil
}

// ListByOrganization returns every key of the organization, newest first.
func (s *InMemory) ListByOrganization(_ context.Context, orgID domain.OrganizationID) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.OrganizationID == orgID {
			out = append(out, k.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.APIKey) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// UpdateStatus persists a status transition.
func (s *InMemory) UpdateStatus(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keys[key.ID]
	if !ok {
		return fmt.Errorf("api key %s: %w", key.ID, sentinel.ErrNotFound)
	}
	existing.Status = key.Status
	existing.RevokedAt = nil
	if key.RevokedAt != nil {
		t := *key.RevokedAt
		existing.RevokedAt = &t
	}
	return nil
}
