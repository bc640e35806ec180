// Package matching implements the pair-matching state machine: left/right
// members are consumed into Pairs under a daily limit, surplus on the long
// leg is carried forward across days, and each paid pair produces booking
// deductions plus an idempotent outbox credit.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/oracle"
	"ev-commission-engine/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Notifier receives blocked-commission audit events.
type Notifier interface {
	CommissionBlocked(ctx context.Context, ownerID int64, pairID string, reason string, at time.Time)
}

// Engine matches pairs for one owner at a time.
type Engine struct {
	nodes       storage.NodeStore
	pairs       storage.PairStore
	carries     storage.CarryForwardStore
	commissions storage.CommissionStore
	oracle      oracle.Oracle
	notifier    Notifier
	logger      *logrus.Logger

	locks *ownerLocks
}

// EngineOptions configures a matching Engine.
type EngineOptions struct {
	Nodes       storage.NodeStore
	Pairs       storage.PairStore
	Carries     storage.CarryForwardStore
	Commissions storage.CommissionStore
	Oracle      oracle.Oracle
	Notifier    Notifier
	Logger      *logrus.Logger
}

// NewEngine creates a matching Engine.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		nodes:       opts.Nodes,
		pairs:       opts.Pairs,
		carries:     opts.Carries,
		commissions: opts.Commissions,
		oracle:      opts.Oracle,
		notifier:    opts.Notifier,
		logger:      logger,
		locks:       newOwnerLocks(),
	}
}

// Match runs the state machine for one owner and returns the pairs it
// created. It is safe to invoke at any time; when the owner is not
// activated, not earn-eligible, or has nothing to match it does nothing.
// Matching for one owner is strictly serialized; different owners may run
// concurrently.
func (e *Engine) Match(ctx context.Context, ownerID int64, settings domain.Settings, now time.Time) ([]*domain.Pair, error) {
	unlock := e.locks.lock(ownerID)
	defer unlock()

	node, err := e.nodes.GetByUser(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load owner node %d: %w", ownerID, err)
	}
	if !node.BinaryCommissionActivated || node.LeftCount == 0 || node.RightCount == 0 {
		return nil, nil
	}

	eligible, err := e.oracle.IsDistributor(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("check distributor status of %d: %w", ownerID, err)
	}
	if !eligible {
		return nil, nil
	}

	leftChild, rightChild, err := e.legRepresentatives(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	today := domain.DayOf(now)
	var created []*domain.Pair

	for {
		pairsToday, err := e.pairs.CountForDay(ctx, ownerID, today)
		if err != nil {
			return created, fmt.Errorf("count pairs for day: %w", err)
		}
		totalPairs, err := e.pairs.CountAfterActivation(ctx, ownerID)
		if err != nil {
			return created, fmt.Errorf("count pairs after activation: %w", err)
		}

		// Availability is always derived from pair history; the lifetime
		// side counters are never decremented.
		availLeft := node.LeftCount - int64(totalPairs)
		availRight := node.RightCount - int64(totalPairs)

		if pairsToday >= settings.BinaryDailyPairLimit || availLeft <= 0 || availRight <= 0 {
			if err := e.carryForwardSurplus(ctx, ownerID, availLeft, availRight, today, now); err != nil {
				return created, err
			}
			return created, nil
		}

		cf, err := e.oldestActiveCarry(ctx, ownerID)
		if err != nil {
			return created, err
		}

		pair, err := e.buildPair(ctx, ownerID, leftChild, rightChild, cf, totalPairs+1, settings, now, today)
		if err != nil {
			return created, err
		}

		err = e.commissions.ApplyPairMatch(ctx, pair)
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost a numbering race with a concurrent matcher for the same
			// owner in another process; recount and retry.
			continue
		}
		if err != nil {
			return created, fmt.Errorf("apply pair match for %d: %w", ownerID, err)
		}

		created = append(created, pair.Pair)
		e.logger.WithFields(logrus.Fields{
			"owner_id":      ownerID,
			"pair_id":       pair.Pair.PairID,
			"pair_number":   pair.Pair.PairNumberAfterActivation,
			"carry_forward": pair.Pair.IsCarryForwardPair,
			"blocked":       pair.Pair.CommissionBlocked,
			"net":           pair.Pair.EarningAmount.String(),
		}).Info("pair matched")

		if pair.Pair.CommissionBlocked && e.notifier != nil {
			e.notifier.CommissionBlocked(ctx, ownerID, pair.Pair.PairID, pair.Pair.BlockedReason, now)
		}
	}
}

// legRepresentatives resolves the owner's immediate children, recorded on
// each Pair as the consumed left and right users.
func (e *Engine) legRepresentatives(ctx context.Context, ownerID int64) (int64, int64, error) {
	left, err := e.nodes.GetChild(ctx, ownerID, domain.SideLeft)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve left leg of %d: %w", ownerID, err)
	}
	right, err := e.nodes.GetChild(ctx, ownerID, domain.SideRight)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve right leg of %d: %w", ownerID, err)
	}
	return left.UserID, right.UserID, nil
}

// oldestActiveCarry returns the active carry-forward with remaining members
// that should be consumed preferentially, or nil when none exists.
func (e *Engine) oldestActiveCarry(ctx context.Context, ownerID int64) (*domain.CarryForward, error) {
	carries, err := e.carries.ActiveForOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list active carry-forwards of %d: %w", ownerID, err)
	}
	for _, cf := range carries {
		if cf.RemainingCount() > 0 {
			return cf, nil
		}
	}
	return nil, nil
}

// buildPair assembles the atomic PairMatch aggregate for the next pair.
func (e *Engine) buildPair(ctx context.Context, ownerID, leftUserID, rightUserID int64, cf *domain.CarryForward, pairNumber int, settings domain.Settings, now time.Time, today domain.Day) (*domain.PairMatch, error) {
	blocked, reason, err := e.blockDecision(ctx, ownerID, settings)
	if err != nil {
		return nil, err
	}

	gross := settings.BinaryPairCommissionAmount
	tds := gross.Mul(settings.BinaryCommissionTDSPercentage).Div(hundred)
	net := gross.Sub(tds)
	extra := decimal.Zero
	if pairNumber > settings.BinaryTDSThresholdPairs {
		extra = gross.Mul(settings.BinaryExtraDeductionPercentage).Div(hundred)
		net = net.Sub(extra)
	}

	pairID := uuid.NewString()
	pair := &domain.Pair{
		PairID:                    pairID,
		OwnerID:                   ownerID,
		LeftUserID:                leftUserID,
		RightUserID:               rightUserID,
		PairAmount:                gross,
		Status:                    domain.PairStatusMatched,
		MatchedAt:                 now,
		PairDate:                  today,
		PairMonth:                 int(now.UTC().Month()),
		PairYear:                  now.UTC().Year(),
		PairNumberAfterActivation: pairNumber,
		ExtraDeductionApplied:     extra,
		CreatedAt:                 now,
	}

	match := &domain.PairMatch{Pair: pair}

	if cf != nil {
		pair.IsCarryForwardPair = true
		cfID := cf.ID
		pair.CarryForwardID = &cfID
		match.CarryForward = &domain.CarryForwardUpdate{
			ConsumedID: cf.ID,
			Deactivate: cf.RemainingCount() == 1,
		}
	}

	if blocked {
		// Blocked pairs keep their number and reach Processed immediately;
		// no money moves.
		processedAt := now
		pair.CommissionBlocked = true
		pair.BlockedReason = reason
		pair.EarningAmount = decimal.Zero
		pair.Status = domain.PairStatusProcessed
		pair.ProcessedAt = &processedAt

		match.Earning = &domain.Earning{
			ID:            uuid.NewString(),
			OwnerID:       ownerID,
			PairID:        pairID,
			Amount:        gross,
			PairNumber:    pairNumber,
			ExtraDeducted: decimal.Zero,
			NetAmount:     decimal.Zero,
			CreatedAt:     now,
		}
		return match, nil
	}

	pair.EarningAmount = net
	match.Earning = &domain.Earning{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		PairID:        pairID,
		Amount:        gross,
		PairNumber:    pairNumber,
		ExtraDeducted: extra,
		NetAmount:     net,
		CreatedAt:     now,
	}

	match.Deductions = []*domain.LedgerEntry{{
		ID:            uuid.NewString(),
		UserID:        ownerID,
		Account:       domain.AccountBooking,
		Type:          domain.EntryTDSDeduction,
		Amount:        tds.Neg(),
		ReferenceType: domain.RefTypePair,
		ReferenceID:   pairID,
		Description:   fmt.Sprintf("TDS on binary pair %d", pairNumber),
		CreatedAt:     now,
	}}
	if extra.IsPositive() {
		match.Deductions = append(match.Deductions, &domain.LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        ownerID,
			Account:       domain.AccountBooking,
			Type:          domain.EntryExtraDeduction,
			Amount:        extra.Neg(),
			ReferenceType: domain.RefTypePair,
			ReferenceID:   pairID,
			Description:   fmt.Sprintf("extra deduction on binary pair %d", pairNumber),
			CreatedAt:     now,
		})
	}

	match.Credit = &domain.PendingCredit{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		PairID:    pairID,
		Amount:    net,
		Status:    domain.CreditPending,
		CreatedAt: now,
	}
	return match, nil
}

// blockDecision applies the earning cap for owners who are not active
// buyers. It is evaluated fresh for every pair; regaining status unblocks
// future pairs without touching past ones.
func (e *Engine) blockDecision(ctx context.Context, ownerID int64, settings domain.Settings) (bool, string, error) {
	active, err := e.oracle.IsActiveBuyer(ctx, ownerID)
	if err != nil {
		return false, "", fmt.Errorf("check active-buyer status of %d: %w", ownerID, err)
	}
	if active {
		return false, "", nil
	}

	paid, err := e.pairs.CountPaidUnblocked(ctx, ownerID)
	if err != nil {
		return false, "", fmt.Errorf("count paid pairs of %d: %w", ownerID, err)
	}
	if paid < settings.MaxEarningsBeforeActiveBuyer {
		return false, "", nil
	}
	return true, fmt.Sprintf("owner is not an active buyer and already earned %d pairs", paid), nil
}

// carryForwardSurplus records new surplus on the strictly longer leg when
// matching stops, excluding members an active carry-forward already covers.
func (e *Engine) carryForwardSurplus(ctx context.Context, ownerID int64, availLeft, availRight int64, today domain.Day, now time.Time) error {
	if availLeft == availRight {
		return nil
	}

	side, avail := domain.SideLeft, availLeft
	if availRight > availLeft {
		side, avail = domain.SideRight, availRight
	}
	if avail <= 0 {
		return nil
	}

	carries, err := e.carries.ActiveForOwnerSide(ctx, ownerID, side)
	if err != nil {
		return fmt.Errorf("list active carry-forwards of %d: %w", ownerID, err)
	}
	covered := int64(0)
	for _, cf := range carries {
		covered += int64(cf.RemainingCount())
	}

	surplus := avail - covered
	if surplus <= 0 {
		return nil
	}

	cf := &domain.CarryForward{
		ID:                 uuid.NewString(),
		OwnerID:            ownerID,
		CarriedForwardDate: today,
		Side:               side,
		InitialMemberCount: int(surplus),
		IsActive:           true,
		CreatedAt:          now,
	}
	if err := e.commissions.RecordCarryForward(ctx, cf); err != nil {
		return fmt.Errorf("record carry-forward for %d: %w", ownerID, err)
	}

	e.logger.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"side":     side,
		"members":  surplus,
		"date":     today,
	}).Info("carry-forward recorded")
	return nil
}
