package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

const defaultBatchSize = 100

// Consumer drains the pending-credit outbox. Each credit is applied through
// the idempotent gateway, so redelivery after a crash between the wallet
// write and the applied mark changes no balance a second time.
type Consumer struct {
	outbox   storage.OutboxStore
	pairs    storage.PairStore
	gateway  *Gateway
	notifier *Notifier
	retryer  *Retryer
	logger   *logrus.Logger

	batchSize int
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Outbox   storage.OutboxStore
	Pairs    storage.PairStore
	Gateway  *Gateway
	Notifier *Notifier
	Retryer  *Retryer
	Logger   *logrus.Logger

	// BatchSize bounds credits per Drain call. Defaults to 100.
	BatchSize int
}

// NewConsumer creates a Consumer.
func NewConsumer(opts ConsumerOptions) *Consumer {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	retryer := opts.Retryer
	if retryer == nil {
		retryer = NewRetryer(DefaultRetryConfig("wallet-credit"),
			[]error{ErrInsufficientExternalState}, logger)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Consumer{
		outbox:    opts.Outbox,
		pairs:     opts.Pairs,
		gateway:   opts.Gateway,
		notifier:  opts.Notifier,
		retryer:   retryer,
		logger:    logger,
		batchSize: batch,
	}
}

// Drain applies one batch of pending credits and returns how many reached
// the wallet. Per-credit failures are recorded on the credit and skipped;
// they surface again on the next drain.
func (c *Consumer) Drain(ctx context.Context, now time.Time) (int, error) {
	credits, err := c.outbox.ListPending(ctx, c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending credits: %w", err)
	}

	applied := 0
	for _, credit := range credits {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := c.applyOne(ctx, credit, now); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"credit_id": credit.ID,
				"pair_id":   credit.PairID,
			}).Error("wallet credit failed")
			if recordErr := c.outbox.RecordAttempt(ctx, credit.ID, err.Error()); recordErr != nil {
				c.logger.WithError(recordErr).Error("record credit attempt failed")
			}
			continue
		}
		applied++
	}
	return applied, nil
}

func (c *Consumer) applyOne(ctx context.Context, credit *domain.PendingCredit, now time.Time) error {
	err := c.retryer.Execute(ctx, func() error {
		creditErr := c.gateway.CreditWallet(ctx, credit.UserID, credit.Amount,
			domain.EntryBinaryPairCommission, domain.RefTypePair, credit.PairID,
			fmt.Sprintf("binary pair commission for pair %s", credit.PairID), now)
		// Already credited on a previous delivery; finish the bookkeeping.
		if errors.Is(creditErr, ErrAlreadyProcessed) {
			return nil
		}
		return creditErr
	})
	if err != nil {
		return err
	}

	if err := c.outbox.MarkApplied(ctx, credit.ID, now); err != nil {
		return fmt.Errorf("mark credit applied: %w", err)
	}
	if err := c.pairs.MarkProcessed(ctx, credit.PairID, now); err != nil {
		return fmt.Errorf("mark pair processed: %w", err)
	}

	if c.notifier != nil {
		c.notifier.CommissionPaid(ctx, &domain.CommissionPaid{
			UserID:      credit.UserID,
			Type:        domain.EntryBinaryPairCommission,
			Amount:      credit.Amount,
			ReferenceID: credit.PairID,
			PaidAt:      now,
		})
	}
	return nil
}
