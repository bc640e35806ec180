package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// CommissionStore is an in-memory implementation of storage.CommissionStore.
// It composes the concrete memory stores; a store-level mutex stands in for
// the database transaction, and callers serialize per owner above it.
type CommissionStore struct {
	mu sync.Mutex

	pairs   *PairStore
	earns   *EarningStore
	carries *CarryForwardStore
	ledger  *LedgerStore
	outbox  *OutboxStore
}

// NewCommissionStore creates a commission store over the given memory stores.
func NewCommissionStore(pairs *PairStore, earns *EarningStore, carries *CarryForwardStore, ledger *LedgerStore, outbox *OutboxStore) *CommissionStore {
	return &CommissionStore{
		pairs:   pairs,
		earns:   earns,
		carries: carries,
		ledger:  ledger,
		outbox:  outbox,
	}
}

// ApplyPairMatch persists the full matching step.
func (s *CommissionStore) ApplyPairMatch(ctx context.Context, m *domain.PairMatch) error {
	if m == nil || m.Pair == nil || m.Earning == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pairs.insert(m.Pair); err != nil {
		return err
	}
	if err := s.earns.insert(m.Earning); err != nil {
		return fmt.Errorf("insert earning: %w", err)
	}
	for _, d := range m.Deductions {
		if err := s.ledger.Insert(ctx, d); err != nil {
			return fmt.Errorf("insert deduction: %w", err)
		}
	}
	if m.Credit != nil {
		if err := s.outbox.insert(m.Credit); err != nil {
			return fmt.Errorf("enqueue credit: %w", err)
		}
	}
	if cf := m.CarryForward; cf != nil {
		if cf.ConsumedID != "" {
			if err := s.carries.consume(cf.ConsumedID, cf.Deactivate, m.Pair.MatchedAt); err != nil {
				return fmt.Errorf("consume carry-forward: %w", err)
			}
		}
		if cf.Created != nil {
			if err := s.applyCarryCreate(cf.Created); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCarryForward persists a standalone create-or-extend, used when
// matching stops without producing a pair in the same step.
func (s *CommissionStore) RecordCarryForward(_ context.Context, cf *domain.CarryForward) error {
	if cf == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyCarryCreate(cf)
}

// applyCarryCreate extends an existing record for (owner, date, side) or
// inserts a new one.
func (s *CommissionStore) applyCarryCreate(cf *domain.CarryForward) error {
	s.carries.mu.Lock()
	var existing *domain.CarryForward
	for _, candidate := range s.carries.data {
		if candidate.OwnerID == cf.OwnerID &&
			candidate.CarriedForwardDate == cf.CarriedForwardDate &&
			candidate.Side == cf.Side {
			existing = candidate
			break
		}
	}
	s.carries.mu.Unlock()

	if existing != nil {
		return s.carries.extend(existing.ID, cf.InitialMemberCount)
	}
	return s.carries.insert(cf)
}

// ApplyDirectCommission persists the wallet credit and booking TDS for one
// direct referral, or reports a duplicate without writing anything.
func (s *CommissionStore) ApplyDirectCommission(ctx context.Context, dc *domain.DirectCommission) error {
	if dc == nil || dc.Credit == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.ledger.Exists(ctx, dc.Credit.UserID, dc.Credit.Type, dc.Credit.ReferenceType, dc.Credit.ReferenceID)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	if err := s.ledger.Insert(ctx, dc.Credit); err != nil {
		return err
	}
	if dc.TDS != nil {
		if err := s.ledger.Insert(ctx, dc.TDS); err != nil {
			return fmt.Errorf("insert direct commission tds: %w", err)
		}
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.CommissionStore = (*CommissionStore)(nil)

// SettingsStore is an in-memory implementation of storage.SettingsStore.
type SettingsStore struct {
	mu       sync.RWMutex
	settings domain.Settings
	set      bool
	updated  time.Time
}

// NewSettingsStore creates a settings store holding the platform defaults.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{settings: domain.DefaultSettings(), set: true}
}

// Get returns the current settings snapshot.
func (s *SettingsStore) Get(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return domain.DefaultSettings(), nil
	}
	return s.settings, nil
}

// Set replaces the settings snapshot.
func (s *SettingsStore) Set(settings domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	s.set = true
	s.updated = time.Now()
}

// Verify interface compliance at compile time.
var _ storage.SettingsStore = (*SettingsStore)(nil)
