package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// OutboxStore is an in-memory implementation of storage.OutboxStore.
type OutboxStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.PendingCredit // keyed by id
	byPair map[string]string                // pair_id -> id
}

// NewOutboxStore creates a new in-memory outbox store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{
		data:   make(map[string]*domain.PendingCredit),
		byPair: make(map[string]string),
	}
}

func (s *OutboxStore) insert(c *domain.PendingCredit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byPair[c.PairID]; exists {
		return storage.ErrDuplicateKey
	}

	creditCopy := *c
	s.data[c.ID] = &creditCopy
	s.byPair[c.PairID] = c.ID
	return nil
}

// ListPending retrieves pending credits oldest first, up to limit.
func (s *OutboxStore) ListPending(_ context.Context, limit int) ([]*domain.PendingCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PendingCredit
	for _, c := range s.data {
		if c.Status == domain.CreditPending {
			creditCopy := *c
			result = append(result, &creditCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetByPair retrieves the credit enqueued for a pair.
func (s *OutboxStore) GetByPair(_ context.Context, pairID string) (*domain.PendingCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byPair[pairID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	creditCopy := *s.data[id]
	return &creditCopy, nil
}

// MarkApplied transitions a credit to applied. Idempotent.
func (s *OutboxStore) MarkApplied(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if c.Status == domain.CreditApplied {
		return nil
	}
	ts := at
	c.Status = domain.CreditApplied
	c.AppliedAt = &ts
	return nil
}

// RecordAttempt increments the attempt counter and stores the error.
func (s *OutboxStore) RecordAttempt(_ context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	c.Attempts++
	c.LastError = lastError
	return nil
}

// Verify interface compliance at compile time.
var _ storage.OutboxStore = (*OutboxStore)(nil)
