package record

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/domain"
	"dataplane/pkg/platform/sentinel"
	txcontext "dataplane/pkg/platform/tx"
)

// InMemory keeps records in a map with a per-dataset index. Writes made
// under a journaled context register their inverse.
type InMemory struct {
	mu        sync.RWMutex
	records   map[domain.RecordID]*models.Record
	byDataset map[domain.DatasetID][]domain.RecordID
}

func NewInMemory() *InMemory {
	return &InMemory{
		records:   make(map[domain.RecordID]*models.Record),
		byDataset: make(map[domain.DatasetID][]domain.RecordID),
	}
}

func (s *InMemory) Create(ctx context.Context, r *models.Record) error {
	return s.CreateMany(ctx, []*models.Record{r})
}

// CreateMany inserts all records or none.
func (s *InMemory) CreateMany(ctx context.Context, rs []*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[domain.RecordID]struct{}, len(rs))
	for _, r := range rs {
		if _, exists := s.records[r.ID]; exists {
			return fmt.Errorf("record %s: %w", r.ID, sentinel.ErrConflict)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("record %s: %w", r.ID, sentinel.ErrConflict)
		}
		seen[r.ID] = struct{}{}
	}
	for _, r := range rs {
		s.records[r.ID] = r.Clone()
		s.byDataset[r.DatasetID] = append(s.byDataset[r.DatasetID], r.ID)
	}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, r := range rs {
			delete(s.records, r.ID)
			s.byDataset[r.DatasetID] = slices.DeleteFunc(s.byDataset[r.DatasetID], func(id domain.RecordID) bool {
				return id == r.ID
			})
		}
	})
	return nil
}

// FindByID returns the record in any status.
func (s *InMemory) FindByID(_ context.Context, recordID domain.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

// FindForUpdate is FindByID; callers serialize through the dataset shard lock.
func (s *InMemory) FindForUpdate(ctx context.Context, recordID domain.RecordID) (*models.Record, error) {
	return s.FindByID(ctx, recordID)
}

func (s *InMemory) Update(ctx context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if prev.DatasetID != r.DatasetID {
		return fmt.Errorf("record %s changed dataset: %w", r.ID, sentinel.ErrInvalidState)
	}
	s.records[r.ID] = r.Clone()
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		s.records[prev.ID] = prev
		s.mu.Unlock()
	})
	return nil
}

// Query returns one page of active records matching filter plus the size of
// the full filtered set.
func (s *InMemory) Query(_ context.Context, filter models.RecordFilter) ([]*models.Record, int, error) {
	s.mu.RLock()
	matched := make([]*models.Record, 0)
	for _, id := range s.byDataset[filter.DatasetID] {
		if r := s.records[id]; filter.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, filter.Compare)
	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

// CountActive counts a dataset's active records.
func (s *InMemory) CountActive(_ context.Context, datasetID domain.DatasetID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, id := range s.byDataset[datasetID] {
		if !s.records[id].IsDeleted() {
			n++
		}
	}
	return n, nil
}
