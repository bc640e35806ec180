package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound events. The engine is invoked synchronously from whatever
// boundary delivers these; delivery is at-least-once, so every handler is
// idempotent.

// UserPlaced announces a new member joining under a referrer.
type UserPlaced struct {
	NewUserID  int64
	ReferrerID int64
	// ExplicitSide, when set, requests direct attachment to that leg of the
	// referrer. Auto-placement applies when nil or when the slot is taken.
	ExplicitSide *Side
	OccurredAt   time.Time
}

// PaymentConfirmed announces a confirmed booking payment for a user.
type PaymentConfirmed struct {
	UserID     int64
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// DistributorStatusChanged announces an eligibility flip for a user.
type DistributorStatusChanged struct {
	UserID     int64
	OccurredAt time.Time
}

// ActiveBuyerStatusChanged announces an active-buyer flip for a user.
type ActiveBuyerStatusChanged struct {
	UserID     int64
	OccurredAt time.Time
}
