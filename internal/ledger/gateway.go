// Package ledger holds the money-movement boundary: an idempotent gateway
// over the ledger store, the outbox consumer that applies deferred wallet
// credits, and the notifier that fans completed payments out to audit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// Sentinel errors for gateway callers.
var (
	// ErrAlreadyProcessed reports an idempotency short-circuit: the entry
	// for this key exists and nothing was written. Callers should treat it
	// as success.
	ErrAlreadyProcessed = errors.New("ledger entry already processed")

	// ErrInsufficientExternalState reports that the referenced account no
	// longer exists. Logged and surfaced, never fatal to tree bookkeeping.
	ErrInsufficientExternalState = errors.New("referenced ledger state missing")
)

// Gateway performs idempotent wallet and booking-balance mutations. Every
// write is keyed by (user, type, reference); a repeat is detected in
// storage and reported as ErrAlreadyProcessed without moving money twice.
type Gateway struct {
	ledger storage.LedgerStore
	logger *logrus.Logger
}

// NewGateway creates a Gateway.
func NewGateway(ledger storage.LedgerStore, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{ledger: ledger, logger: logger}
}

// CreditWallet adds amount to the user's spendable wallet.
func (g *Gateway) CreditWallet(ctx context.Context, userID int64, amount decimal.Decimal, entryType domain.EntryType, refType, refID, description string, at time.Time) error {
	return g.write(ctx, &domain.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Account:       domain.AccountWallet,
		Type:          entryType,
		Amount:        amount,
		ReferenceType: refType,
		ReferenceID:   refID,
		Description:   description,
		CreatedAt:     at,
	})
}

// DebitBookingBalance withholds amount from the user's booking balance.
func (g *Gateway) DebitBookingBalance(ctx context.Context, userID int64, amount decimal.Decimal, entryType domain.EntryType, refType, refID, description string, at time.Time) error {
	return g.write(ctx, &domain.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Account:       domain.AccountBooking,
		Type:          entryType,
		Amount:        amount.Neg(),
		ReferenceType: refType,
		ReferenceID:   refID,
		Description:   description,
		CreatedAt:     at,
	})
}

func (g *Gateway) write(ctx context.Context, entry *domain.LedgerEntry) error {
	err := g.ledger.Insert(ctx, entry)
	if errors.Is(err, storage.ErrDuplicateKey) {
		g.logger.WithFields(logrus.Fields{
			"user_id":      entry.UserID,
			"entry_type":   entry.Type,
			"reference_id": entry.ReferenceID,
		}).Debug("ledger write skipped, already processed")
		return ErrAlreadyProcessed
	}
	if errors.Is(err, storage.ErrMissingReference) {
		return fmt.Errorf("write %s for user %d: %w", entry.Type, entry.UserID, ErrInsufficientExternalState)
	}
	if err != nil {
		return fmt.Errorf("write %s for user %d: %w", entry.Type, entry.UserID, err)
	}
	return nil
}
