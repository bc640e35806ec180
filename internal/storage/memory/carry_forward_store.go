package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// CarryForwardStore is an in-memory implementation of
// storage.CarryForwardStore. Mutations happen through the commission store.
type CarryForwardStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CarryForward // keyed by id
}

// NewCarryForwardStore creates a new in-memory carry-forward store.
func NewCarryForwardStore() *CarryForwardStore {
	return &CarryForwardStore{data: make(map[string]*domain.CarryForward)}
}

func (s *CarryForwardStore) insert(cf *domain.CarryForward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[cf.ID]; exists {
		return storage.ErrDuplicateKey
	}
	cfCopy := *cf
	s.data[cf.ID] = &cfCopy
	return nil
}

// consume increments matched_count and deactivates when asked.
func (s *CarryForwardStore) consume(id string, deactivate bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cf, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	ts := at
	cf.MatchedCount++
	cf.MatchedAt = &ts
	if deactivate {
		cf.IsActive = false
	}
	return nil
}

// extend adds members to an existing record.
func (s *CarryForwardStore) extend(id string, members int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cf, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	cf.InitialMemberCount += members
	cf.IsActive = true
	return nil
}

// GetByID retrieves a carry-forward record.
func (s *CarryForwardStore) GetByID(_ context.Context, id string) (*domain.CarryForward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cf, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cfCopy := *cf
	return &cfCopy, nil
}

// ActiveForOwner retrieves active records with remaining members, oldest
// carried_forward_date first.
func (s *CarryForwardStore) ActiveForOwner(_ context.Context, ownerID int64) ([]*domain.CarryForward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeLocked(ownerID, domain.SideNone), nil
}

// ActiveForOwnerSide retrieves active records for one leg, oldest first.
func (s *CarryForwardStore) ActiveForOwnerSide(_ context.Context, ownerID int64, side domain.Side) ([]*domain.CarryForward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeLocked(ownerID, side), nil
}

func (s *CarryForwardStore) activeLocked(ownerID int64, side domain.Side) []*domain.CarryForward {
	var result []*domain.CarryForward
	for _, cf := range s.data {
		if cf.OwnerID != ownerID || !cf.IsActive || cf.RemainingCount() <= 0 {
			continue
		}
		if side != domain.SideNone && cf.Side != side {
			continue
		}
		cfCopy := *cf
		result = append(result, &cfCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CarriedForwardDate == result[j].CarriedForwardDate {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].CarriedForwardDate < result[j].CarriedForwardDate
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.CarryForwardStore = (*CarryForwardStore)(nil)
