package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// PairStore is an in-memory implementation of storage.PairStore. Pair rows
// are only created through the commission store; this store has no public
// insert.
type PairStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pair // keyed by pair_id
}

// NewPairStore creates a new in-memory pair store.
func NewPairStore() *PairStore {
	return &PairStore{data: make(map[string]*domain.Pair)}
}

func (s *PairStore) insert(p *domain.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PairID]; exists {
		return storage.ErrDuplicateKey
	}
	if p.PairNumberAfterActivation > 0 {
		for _, existing := range s.data {
			if existing.OwnerID == p.OwnerID &&
				existing.PairNumberAfterActivation == p.PairNumberAfterActivation {
				return storage.ErrDuplicateKey
			}
		}
	}

	pairCopy := *p
	s.data[p.PairID] = &pairCopy
	return nil
}

// GetByID retrieves a pair.
func (s *PairStore) GetByID(_ context.Context, pairID string) (*domain.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[pairID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	pairCopy := *p
	return &pairCopy, nil
}

// GetByOwner retrieves all pairs for an owner ordered by matched_at ASC.
func (s *PairStore) GetByOwner(_ context.Context, ownerID int64) ([]*domain.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Pair
	for _, p := range s.data {
		if p.OwnerID == ownerID {
			pairCopy := *p
			result = append(result, &pairCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MatchedAt.Equal(result[j].MatchedAt) {
			return result[i].PairNumberAfterActivation < result[j].PairNumberAfterActivation
		}
		return result[i].MatchedAt.Before(result[j].MatchedAt)
	})
	return result, nil
}

// CountForDay counts numbered pairs for an owner on one pair_date.
func (s *PairStore) CountForDay(_ context.Context, ownerID int64, day domain.Day) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.data {
		if p.OwnerID == ownerID && p.PairDate == day && p.PairNumberAfterActivation > 0 {
			count++
		}
	}
	return count, nil
}

// CountAfterActivation counts the owner's all-time numbered pairs.
func (s *PairStore) CountAfterActivation(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.data {
		if p.OwnerID == ownerID && p.PairNumberAfterActivation > 0 {
			count++
		}
	}
	return count, nil
}

// CountPaidUnblocked counts numbered pairs that were not blocked.
func (s *PairStore) CountPaidUnblocked(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.data {
		if p.OwnerID == ownerID && p.PairNumberAfterActivation > 0 && !p.CommissionBlocked {
			count++
		}
	}
	return count, nil
}

// CountConsumingSide counts pairs that consumed a member from one leg.
// Every numbered pair consumes one member from each leg, so this equals
// CountAfterActivation; it exists so callers express the derived
// availability quantity without duplicating that reasoning.
func (s *PairStore) CountConsumingSide(ctx context.Context, ownerID int64, _ domain.Side) (int, error) {
	return s.CountAfterActivation(ctx, ownerID)
}

// MarkProcessed transitions a pair Matched to Processed. Idempotent.
func (s *PairStore) MarkProcessed(_ context.Context, pairID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[pairID]
	if !exists {
		return storage.ErrNotFound
	}
	if p.Status == domain.PairStatusProcessed {
		return nil
	}
	ts := at
	p.Status = domain.PairStatusProcessed
	p.ProcessedAt = &ts
	return nil
}

// Verify interface compliance at compile time.
var _ storage.PairStore = (*PairStore)(nil)
