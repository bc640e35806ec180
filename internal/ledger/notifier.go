package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// Notifier fans commission outcomes out to audit and compliance consumers.
// Delivery is best-effort: a failed audit write is logged and dropped, it
// never rolls back the money movement it describes.
type Notifier struct {
	audit  storage.AuditStore // optional
	logger *logrus.Logger
}

// NewNotifier creates a Notifier. audit may be nil.
func NewNotifier(audit storage.AuditStore, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Notifier{audit: audit, logger: logger}
}

// CommissionPaid announces a completed commission payment.
func (n *Notifier) CommissionPaid(ctx context.Context, event *domain.CommissionPaid) {
	n.logger.WithFields(logrus.Fields{
		"user_id":      event.UserID,
		"type":         event.Type,
		"amount":       event.Amount.String(),
		"reference_id": event.ReferenceID,
	}).Info("commission paid")

	if n.audit == nil {
		return
	}
	err := n.audit.InsertBulk(ctx, []*domain.CommissionAudit{{
		EventTime:   event.PaidAt,
		UserID:      event.UserID,
		EntryType:   event.Type,
		Amount:      event.Amount,
		ReferenceID: event.ReferenceID,
	}})
	if err != nil {
		n.logger.WithError(err).Warn("audit write failed for paid commission")
	}
}

// CommissionBlocked announces a suppressed pair commission.
func (n *Notifier) CommissionBlocked(ctx context.Context, ownerID int64, pairID string, reason string, at time.Time) {
	n.logger.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"pair_id":  pairID,
		"reason":   reason,
	}).Info("commission blocked")

	if n.audit == nil {
		return
	}
	err := n.audit.InsertBulk(ctx, []*domain.CommissionAudit{{
		EventTime:   at,
		UserID:      ownerID,
		EntryType:   domain.EntryBinaryPairCommission,
		Amount:      decimal.Zero,
		ReferenceID: pairID,
		Blocked:     true,
	}})
	if err != nil {
		n.logger.WithError(err).Warn("audit write failed for blocked commission")
	}
}
