// Package oracle defines the eligibility boundary the commission engine
// queries but does not own. Distributor status, active-buyer status, and
// activation payments live in external systems; the engine only ever asks.
package oracle

import (
	"context"
	"sync"
)

// Oracle answers eligibility questions about a user.
type Oracle interface {
	// IsDistributor reports whether the user may earn referral commissions.
	IsDistributor(ctx context.Context, userID int64) (bool, error)

	// IsActiveBuyer reports whether the user holds active/qualified status.
	// Owners without it stop earning pair commissions past the cap.
	IsActiveBuyer(ctx context.Context, userID int64) (bool, error)

	// HasActivationPayment reports whether the user's confirmed payments
	// total at least the activation amount.
	HasActivationPayment(ctx context.Context, userID int64) (bool, error)
}

// Static is a fixed in-memory Oracle for tests and local runs. Users absent
// from every set answer false to everything.
type Static struct {
	mu           sync.RWMutex
	distributors map[int64]bool
	activeBuyers map[int64]bool
	paid         map[int64]bool
}

// NewStatic creates an empty Static oracle.
func NewStatic() *Static {
	return &Static{
		distributors: make(map[int64]bool),
		activeBuyers: make(map[int64]bool),
		paid:         make(map[int64]bool),
	}
}

// SetDistributor sets the distributor flag for a user.
func (s *Static) SetDistributor(userID int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distributors[userID] = v
}

// SetActiveBuyer sets the active-buyer flag for a user.
func (s *Static) SetActiveBuyer(userID int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeBuyers[userID] = v
}

// SetActivationPayment sets the activation-payment flag for a user.
func (s *Static) SetActivationPayment(userID int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[userID] = v
}

// IsDistributor implements Oracle.
func (s *Static) IsDistributor(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.distributors[userID], nil
}

// IsActiveBuyer implements Oracle.
func (s *Static) IsActiveBuyer(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeBuyers[userID], nil
}

// HasActivationPayment implements Oracle.
func (s *Static) HasActivationPayment(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paid[userID], nil
}

// Compile-time interface check.
var _ Oracle = (*Static)(nil)
