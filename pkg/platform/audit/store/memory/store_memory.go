package memory

import (
	"context"
	"sort"
	"sync"

	"dataplane/pkg/domain"
	audit "dataplane/pkg/platform/audit"
	txcontext "dataplane/pkg/platform/tx"
)

// InMemoryStore keeps entries in append order. Appends made inside a
// journaled unit of work are withdrawn if that unit rolls back, so the trail
// never describes a mutation that did not happen.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *InMemoryStore) Append(ctx context.Context, entry audit.Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	txcontext.OnRollback(ctx, func() { s.remove(entry.ID) })
	return nil
}

func (s *InMemoryStore) remove(entryID domain.AuditEntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ID == entryID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// ListByDataset returns the most recent entries for a dataset, newest first.
func (s *InMemoryStore) ListByDataset(_ context.Context, datasetID domain.DatasetID, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].DatasetID == datasetID {
			out = append(out, s.entries[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ListByRecord returns every entry referencing a record, oldest first.
func (s *InMemoryStore) ListByRecord(_ context.Context, recordID domain.RecordID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// All returns a copy of every stored entry in append order.
func (s *InMemoryStore) All() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry{}, s.entries...)
}
