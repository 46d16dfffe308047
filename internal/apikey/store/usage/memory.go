// Package usage counts API key requests. Counters are advisory: callers
// treat failures as non-fatal.
package usage

import (
	"context"
	"sync"
	"time"

	"dataplane/internal/apikey/models"
	"dataplane/pkg/domain"
)

type InMemory struct {
	mu     sync.Mutex
	counts map[domain.APIKeyID]models.Usage
}

func NewInMemory() *InMemory {
	return &InMemory{counts: make(map[domain.APIKeyID]models.Usage)}
}

func (s *InMemory) Increment(_ context.Context, keyID domain.APIKeyID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.counts[keyID]
	u.RequestCount++
	if u.LastUsedAt == nil || at.After(*u.LastUsedAt) {
		t := at
		u.LastUsedAt = &t
	}
	s.counts[keyID] = u
	return nil
}

// Load returns usage for the given keys. Keys never used are absent.
func (s *InMemory) Load(_ context.Context, keyIDs []domain.APIKeyID) (map[domain.APIKeyID]models.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.APIKeyID]models.Usage, len(keyIDs))
	for _, id := range keyIDs {
		if u, ok := s.counts[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}
