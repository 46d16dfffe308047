package dataset

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/sentinel"
	txcontext "dataplane/pkg/platform/tx"
)

// InMemory stores datasets in a map. Mutations made under a journaled context
// register their inverse so a failed unit of work leaves no trace.
type InMemory struct {
	mu       sync.RWMutex
	datasets map[domain.DatasetID]*models.Dataset
}

func NewInMemory() *InMemory {
	return &InMemory{datasets: make(map[domain.DatasetID]*models.Dataset)}
}

func (s *InMemory) Create(ctx context.Context, d *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.datasets[d.ID]; exists {
		return fmt.Errorf("dataset %s: %w", d.ID, sentinel.ErrConflict)
	}
	s.datasets[d.ID] = d.Clone()
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.datasets, d.ID)
		s.mu.Unlock()
	})
	return nil
}

// FindByID returns the dataset in any status, including deleted.
func (s *InMemory) FindByID(_ context.Context, datasetID domain.DatasetID) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[datasetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return d.Clone(), nil
}

// FindForUpdate is FindByID; callers serialize through the dataset shard lock.
func (s *InMemory) FindForUpdate(ctx context.Context, datasetID domain.DatasetID) (*models.Dataset, error) {
	return s.FindByID(ctx, datasetID)
}

// Update replaces the stored definition. The record counter is owned by
// AdjustRecordCount and is never overwritten here.
func (s *InMemory) Update(ctx context.Context, d *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.datasets[d.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	next := d.Clone()
	next.Metadata.RecordCount = prev.Metadata.RecordCount
	next.Metadata.LastRecordAt = prev.Metadata.LastRecordAt
	s.datasets[d.ID] = next
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		if cur, ok := s.datasets[prev.ID]; ok {
			restored := prev.Clone()
			restored.Metadata.RecordCount = cur.Metadata.RecordCount
			restored.Metadata.LastRecordAt = cur.Metadata.LastRecordAt
			s.datasets[prev.ID] = restored
		}
		s.mu.Unlock()
	})
	return nil
}

// AdjustRecordCount adds delta to the counter atomically and, when
// lastRecordAt is set, advances the last-activity timestamp.
func (s *InMemory) AdjustRecordCount(ctx context.Context, datasetID domain.DatasetID, delta int64, lastRecordAt *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.datasets[datasetID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if d.Metadata.RecordCount+delta < 0 {
		return 0, fmt.Errorf("record count for %s would go negative: %w", datasetID, sentinel.ErrInvalidState)
	}
	prevLast := d.Metadata.LastRecordAt
	d.Metadata.RecordCount += delta
	if lastRecordAt != nil {
		t := *lastRecordAt
		d.Metadata.LastRecordAt = &t
	}
	count := d.Metadata.RecordCount
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		if cur, ok := s.datasets[datasetID]; ok {
			cur.Metadata.RecordCount -= delta
			cur.Metadata.LastRecordAt = prevLast
		}
		s.mu.Unlock()
	})
	return count, nil
}

// List returns matching datasets newest first, capped at the filter limit.
func (s *InMemory) List(_ context.Context, filter models.DatasetFilter) ([]*models.Dataset, error) {
	s.mu.RLock()
	out := make([]*models.Dataset, 0)
	for _, d := range s.datasets {
		if filter.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListCounters returns every dataset the filter matches, ignoring its limit,
// for statistics.
func (s *InMemory) ListCounters(_ context.Context, filter models.DatasetFilter) ([]*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Dataset, 0)
	for _, d := range s.datasets {
		if filter.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func sortNewestFirst(ds []*models.Dataset) {
	slices.SortFunc(ds, func(a, b *models.Dataset) int {
		if c := cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano()); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}
