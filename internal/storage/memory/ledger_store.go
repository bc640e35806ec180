package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LedgerEntry // keyed by id
	keys map[string]struct{}            // idempotency keys
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		data: make(map[string]*domain.LedgerEntry),
		keys: make(map[string]struct{}),
	}
}

func idempotencyKey(userID int64, entryType domain.EntryType, refType, refID string) string {
	return fmt.Sprintf("%d|%s|%s|%s", userID, entryType, refType, refID)
}

// Insert adds an entry, rejecting duplicates on the idempotency key.
func (s *LedgerStore) Insert(_ context.Context, e *domain.LedgerEntry) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey(e.UserID, e.Type, e.ReferenceType, e.ReferenceID)
	if _, exists := s.keys[key]; exists {
		return storage.ErrDuplicateKey
	}

	entryCopy := *e
	s.data[e.ID] = &entryCopy
	s.keys[key] = struct{}{}
	return nil
}

// Exists reports whether an entry with the idempotency key exists.
func (s *LedgerStore) Exists(_ context.Context, userID int64, entryType domain.EntryType, refType, refID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.keys[idempotencyKey(userID, entryType, refType, refID)]
	return exists, nil
}

// GetByUser retrieves a user's entries ordered by created_at ASC.
func (s *LedgerStore) GetByUser(_ context.Context, userID int64) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEntry
	for _, e := range s.data {
		if e.UserID == userID {
			entryCopy := *e
			result = append(result, &entryCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Balance returns the signed sum of a user's entries on one account.
func (s *LedgerStore) Balance(_ context.Context, userID int64, account domain.Account) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, e := range s.data {
		if e.UserID == userID && e.Account == account {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

// Verify interface compliance at compile time.
var _ storage.LedgerStore = (*LedgerStore)(nil)
