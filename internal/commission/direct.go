// Package commission pays direct-referral commissions and tracks the
// one-time activation transition of each tree owner.
package commission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/oracle"
	"ev-commission-engine/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Notifier receives the outbound payment notification. Implementations must
// tolerate duplicate delivery.
type Notifier interface {
	CommissionPaid(ctx context.Context, event *domain.CommissionPaid)
}

// Processor handles per-placement commission work: the flat direct-referral
// payment for each of the first N qualifying children and the activation
// flip when the Nth arrives.
type Processor struct {
	nodes       storage.NodeStore
	ledger      storage.LedgerStore
	commissions storage.CommissionStore
	oracle      oracle.Oracle
	notifier    Notifier
	logger      *logrus.Logger
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Nodes       storage.NodeStore
	Ledger      storage.LedgerStore
	Commissions storage.CommissionStore
	Oracle      oracle.Oracle
	Notifier    Notifier
	Logger      *logrus.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(opts ProcessorOptions) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Processor{
		nodes:       opts.Nodes,
		ledger:      opts.Ledger,
		commissions: opts.Commissions,
		oracle:      opts.Oracle,
		notifier:    opts.Notifier,
		logger:      logger,
	}
}

// OnPlacement runs after a tree attach. It pays the direct commission when
// the new child is within the referrer's first N and has a confirmed
// activation payment, then flips activation if the Nth child just arrived.
// Both effects are safe to repeat: the payment is guarded by the ledger
// idempotency key and the flip happens at most once in storage.
func (p *Processor) OnPlacement(ctx context.Context, placement *domain.Placement, settings domain.Settings, now time.Time) error {
	referrer := placement.Referrer
	child := placement.Node

	if placement.DirectChildrenBefore < settings.BinaryCommissionActivationCount {
		if err := p.payDirect(ctx, referrer.UserID, child.UserID, settings, now); err != nil {
			return err
		}
	}

	countAfter := placement.DirectChildrenBefore + 1
	if countAfter >= settings.BinaryCommissionActivationCount {
		flipped, err := p.nodes.SetActivated(ctx, referrer.UserID, now)
		if err != nil {
			return fmt.Errorf("activate node %d: %w", referrer.UserID, err)
		}
		if flipped {
			p.logger.WithFields(logrus.Fields{
				"user_id":         referrer.UserID,
				"direct_children": countAfter,
			}).Info("binary commission activated")
		}
	}
	return nil
}

// payDirect pays one direct-referral commission, at most once per
// (referrer, child).
func (p *Processor) payDirect(ctx context.Context, referrerID, childID int64, settings domain.Settings, now time.Time) error {
	qualifies, err := p.oracle.HasActivationPayment(ctx, childID)
	if err != nil {
		return fmt.Errorf("check activation payment of %d: %w", childID, err)
	}
	if !qualifies {
		p.logger.WithFields(logrus.Fields{
			"referrer_id": referrerID,
			"child_id":    childID,
		}).Debug("direct commission deferred, child has no activation payment")
		return nil
	}

	gross := settings.DirectUserCommissionAmount
	tds := gross.Mul(settings.BinaryCommissionTDSPercentage).Div(hundred)
	net := gross.Sub(tds)
	childRef := strconv.FormatInt(childID, 10)

	dc := &domain.DirectCommission{
		Credit: &domain.LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        referrerID,
			Account:       domain.AccountWallet,
			Type:          domain.EntryDirectUserCommission,
			Amount:        net,
			ReferenceType: domain.RefTypeUser,
			ReferenceID:   childRef,
			Description:   fmt.Sprintf("direct referral commission for user %d", childID),
			CreatedAt:     now,
		},
		TDS: &domain.LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        referrerID,
			Account:       domain.AccountBooking,
			Type:          domain.EntryTDSDeduction,
			Amount:        tds.Neg(),
			ReferenceType: domain.RefTypeUser,
			ReferenceID:   childRef,
			Description:   fmt.Sprintf("TDS on direct referral commission for user %d", childID),
			CreatedAt:     now,
		},
	}

	err = p.commissions.ApplyDirectCommission(ctx, dc)
	if errors.Is(err, storage.ErrDuplicateKey) {
		p.logger.WithFields(logrus.Fields{
			"referrer_id": referrerID,
			"child_id":    childID,
		}).Debug("direct commission already paid")
		return nil
	}
	if err != nil {
		return fmt.Errorf("pay direct commission to %d for %d: %w", referrerID, childID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"referrer_id": referrerID,
		"child_id":    childID,
		"net":         net.String(),
		"tds":         tds.String(),
	}).Info("direct commission paid")

	if p.notifier != nil {
		p.notifier.CommissionPaid(ctx, &domain.CommissionPaid{
			UserID:      referrerID,
			Type:        domain.EntryDirectUserCommission,
			Amount:      net,
			ReferenceID: childRef,
			PaidAt:      now,
		})
	}
	return nil
}
