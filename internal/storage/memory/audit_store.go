package memory

import (
	"context"
	"sort"
	"sync"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu     sync.RWMutex
	events []*domain.CommissionAudit
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// InsertBulk appends audit events.
func (s *AuditStore) InsertBulk(_ context.Context, events []*domain.CommissionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		eventCopy := *e
		s.events = append(s.events, &eventCopy)
	}
	return nil
}

// GetByUser retrieves a user's audit events ordered by event_time ASC.
func (s *AuditStore) GetByUser(_ context.Context, userID int64) ([]*domain.CommissionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CommissionAudit
	for _, e := range s.events {
		if e.UserID == userID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EventTime.Before(result[j].EventTime)
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.AuditStore = (*AuditStore)(nil)
