package commission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
)

// Reconcile repairs direct-commission state for one referrer after the
// fact. Placement and payment confirmation arrive as separate events, so an
// activation threshold can be crossed while the commission that should have
// accompanied a child is still missing. Reconcile walks the referrer's
// direct children in placement order, verifies the ledger entry for each of
// the first N, and creates any missing payment behind the same idempotency
// guard the live path uses. It never duplicates a payment.
func (p *Processor) Reconcile(ctx context.Context, referrerID int64, settings domain.Settings, now time.Time) error {
	referrer, err := p.nodes.GetByUser(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("load referrer %d: %w", referrerID, err)
	}

	children, err := p.nodes.GetReferred(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("list referred users of %d: %w", referrerID, err)
	}

	paid := 0
	for i, child := range children {
		if i >= settings.BinaryCommissionActivationCount {
			break
		}

		exists, err := p.ledger.Exists(ctx, referrerID, domain.EntryDirectUserCommission,
			domain.RefTypeUser, strconv.FormatInt(child.UserID, 10))
		if err != nil {
			return fmt.Errorf("check existing commission for %d: %w", child.UserID, err)
		}
		if exists {
			continue
		}

		if err := p.payDirect(ctx, referrerID, child.UserID, settings, now); err != nil {
			return err
		}
		paid++
	}

	if referrer.DirectChildrenCount >= settings.BinaryCommissionActivationCount && !referrer.BinaryCommissionActivated {
		flipped, err := p.nodes.SetActivated(ctx, referrerID, now)
		if err != nil {
			return fmt.Errorf("activate node %d: %w", referrerID, err)
		}
		if flipped {
			p.logger.WithField("user_id", referrerID).Info("binary commission activated during reconciliation")
		}
	}

	if paid > 0 {
		p.logger.WithFields(logrus.Fields{
			"referrer_id": referrerID,
			"created":     paid,
		}).Info("reconciled missing direct commissions")
	}
	return nil
}
