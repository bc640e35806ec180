package memory

import (
	"context"
	"sort"
	"sync"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// EarningStore is an in-memory implementation of storage.EarningStore.
type EarningStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Earning // keyed by id
}

// NewEarningStore creates a new in-memory earning store.
func NewEarningStore() *EarningStore {
	return &EarningStore{data: make(map[string]*domain.Earning)}
}

func (s *EarningStore) insert(e *domain.Earning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}
	earningCopy := *e
	s.data[e.ID] = &earningCopy
	return nil
}

// GetByOwner retrieves earnings ordered by pair_number ASC.
func (s *EarningStore) GetByOwner(_ context.Context, ownerID int64) ([]*domain.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Earning
	for _, e := range s.data {
		if e.OwnerID == ownerID {
			earningCopy := *e
			result = append(result, &earningCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PairNumber < result[j].PairNumber
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.EarningStore = (*EarningStore)(nil)
