package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PairStatus is the lifecycle state of a matched pair.
type PairStatus string

// Pair status constants. A pair is created Matched and becomes Processed
// once its wallet credit is confirmed (immediately, for blocked pairs).
// Pairs are never deleted or renumbered.
const (
	PairStatusMatched   PairStatus = "matched"
	PairStatusProcessed PairStatus = "processed"
)

// Day is a calendar date in YYYY-MM-DD form, used for daily pair-limit
// scoping independent of any monthly aggregate.
type Day string

// DayOf truncates t to its calendar date in UTC.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format("2006-01-02"))
}

// Pair records one left/right match for an owner.
type Pair struct {
	PairID  string // uuid
	OwnerID int64

	LeftUserID  int64
	RightUserID int64

	PairAmount    decimal.Decimal // gross
	EarningAmount decimal.Decimal // net after deductions; zero when blocked

	Status      PairStatus
	MatchedAt   time.Time
	ProcessedAt *time.Time

	PairDate Day
	// PairMonth and PairYear mirror the matched_at calendar month. They are
	// persisted for audit parity; no monthly cap is derived from them.
	PairMonth int
	PairYear  int

	// PairNumberAfterActivation is the owner's permanent sequential pair
	// number. Assigned once, never reused, advances even for blocked pairs.
	PairNumberAfterActivation int

	IsCarryForwardPair bool
	CarryForwardID     *string

	ExtraDeductionApplied decimal.Decimal

	// CommissionBlocked marks a pair whose commission was suppressed rather
	// than paid. The pair still exists and keeps its number; blocking is
	// re-evaluated fresh on each future pair.
	CommissionBlocked bool
	BlockedReason     string

	CreatedAt time.Time
}

// Earning is the audit record persisted alongside every pair.
type Earning struct {
	ID      string // uuid
	OwnerID int64
	PairID  string

	Amount     decimal.Decimal // gross
	PairNumber int             // all-time sequential per owner

	ExtraDeducted decimal.Decimal
	NetAmount     decimal.Decimal

	CreatedAt time.Time
}

// CarryForward tracks surplus unmatched members on the longer leg, deferred
// past a matching stop. remaining = InitialMemberCount - MatchedCount; the
// record deactivates when remaining reaches zero.
type CarryForward struct {
	ID      string // uuid
	OwnerID int64

	CarriedForwardDate Day
	Side               Side

	InitialMemberCount int
	MatchedCount       int

	IsActive  bool
	MatchedAt *time.Time
	CreatedAt time.Time
}

// RemainingCount returns how many carried-forward members are still
// unmatched.
func (cf *CarryForward) RemainingCount() int {
	return cf.InitialMemberCount - cf.MatchedCount
}
