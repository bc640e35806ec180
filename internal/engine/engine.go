// Package engine wires the placement, commission, and matching components
// behind the inbound event boundary.
// A placement flows through activation and direct commission, then pair
// matching, then the pending-credit outbox.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/commission"
	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/ledger"
	"ev-commission-engine/internal/matching"
	"ev-commission-engine/internal/storage"
	"ev-commission-engine/internal/tree"
)

// Engine dispatches inbound events to the right components. Every handler
// is idempotent, so at-least-once delivery of any event is safe.
type Engine struct {
	nodes     storage.NodeStore
	settings  storage.SettingsStore
	placement *tree.Engine
	processor *commission.Processor
	matcher   *matching.Engine
	consumer  *ledger.Consumer
	logger    *logrus.Logger
}

// Options for creating an Engine.
type Options struct {
	Nodes     storage.NodeStore
	Settings  storage.SettingsStore
	Placement *tree.Engine
	Processor *commission.Processor
	Matcher   *matching.Engine
	Consumer  *ledger.Consumer
	Logger    *logrus.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		nodes:     opts.Nodes,
		settings:  opts.Settings,
		placement: opts.Placement,
		processor: opts.Processor,
		matcher:   opts.Matcher,
		consumer:  opts.Consumer,
		logger:    logger,
	}
}

// HandleUserPlaced places the new member, pays any direct commission, flips
// activation when due, then runs pair matching for every activated owner
// whose leg counts the placement changed.
func (e *Engine) HandleUserPlaced(ctx context.Context, ev domain.UserPlaced) (*domain.Placement, error) {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	placement, err := e.placement.Place(ctx, ev.NewUserID, ev.ReferrerID, ev.ExplicitSide, ev.OccurredAt)
	if err != nil {
		return nil, err
	}

	if err := e.processor.OnPlacement(ctx, placement, settings, ev.OccurredAt); err != nil {
		return placement, err
	}

	if err := e.matchAffectedOwners(ctx, placement, settings, ev.OccurredAt); err != nil {
		return placement, err
	}
	return placement, nil
}

// matchAffectedOwners runs matching for the new node's ancestors and its
// referrer. The placement bumped one leg counter on each of them; any that
// are activated may now have a fresh pair.
func (e *Engine) matchAffectedOwners(ctx context.Context, placement *domain.Placement, settings domain.Settings, now time.Time) error {
	ancestors, err := e.nodes.AncestorChain(ctx, placement.Node.UserID)
	if err != nil {
		return fmt.Errorf("fetch ancestor chain: %w", err)
	}

	owners := make([]int64, 0, len(ancestors)+1)
	seen := make(map[int64]struct{}, len(ancestors)+1)
	for _, a := range ancestors {
		owners = append(owners, a.UserID)
		seen[a.UserID] = struct{}{}
	}
	if _, ok := seen[placement.Referrer.UserID]; !ok {
		owners = append(owners, placement.Referrer.UserID)
	}

	for _, ownerID := range owners {
		if _, err := e.matcher.Match(ctx, ownerID, settings, now); err != nil {
			return fmt.Errorf("match owner %d: %w", ownerID, err)
		}
	}
	return nil
}

// HandlePaymentConfirmed reconciles direct commissions the payment may have
// unlocked and re-runs matching for the payer's ancestors.
func (e *Engine) HandlePaymentConfirmed(ctx context.Context, ev domain.PaymentConfirmed) error {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	node, err := e.nodes.GetByUser(ctx, ev.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		// Payment before placement; reconciliation will catch up once the
		// user enters the tree.
		e.logger.WithField("user_id", ev.UserID).Debug("payment confirmed for user without node")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load node for payment of %d: %w", ev.UserID, err)
	}

	if node.ReferrerID != nil {
		if err := e.processor.Reconcile(ctx, *node.ReferrerID, settings, ev.OccurredAt); err != nil {
			return err
		}
	}

	ancestors, err := e.nodes.AncestorChain(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("fetch ancestor chain: %w", err)
	}
	for _, a := range ancestors {
		if _, err := e.matcher.Match(ctx, a.UserID, settings, ev.OccurredAt); err != nil {
			return fmt.Errorf("match owner %d: %w", a.UserID, err)
		}
	}
	return nil
}

// HandleDistributorStatusChanged re-runs matching for the user whose
// earn-eligibility flipped.
func (e *Engine) HandleDistributorStatusChanged(ctx context.Context, ev domain.DistributorStatusChanged) error {
	return e.matchOne(ctx, ev.UserID, ev.OccurredAt)
}

// HandleActiveBuyerStatusChanged re-runs matching for the user whose
// active-buyer status flipped; blocking is evaluated fresh per pair.
func (e *Engine) HandleActiveBuyerStatusChanged(ctx context.Context, ev domain.ActiveBuyerStatusChanged) error {
	return e.matchOne(ctx, ev.UserID, ev.OccurredAt)
}

func (e *Engine) matchOne(ctx context.Context, ownerID int64, now time.Time) error {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if _, err := e.matcher.Match(ctx, ownerID, settings, now); err != nil {
		return fmt.Errorf("match owner %d: %w", ownerID, err)
	}
	return nil
}

// MoveNode applies a validated manual tree edit.
func (e *Engine) MoveNode(ctx context.Context, userID, newParentID int64, newSide domain.Side) error {
	return e.placement.Move(ctx, userID, newParentID, newSide)
}

// Sweep re-runs matching for the given owners and then drains the credit
// outbox once. A nil owner list sweeps every activated owner. Intended for
// periodic invocation; safe to repeat.
func (e *Engine) Sweep(ctx context.Context, ownerIDs []int64, now time.Time) error {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if ownerIDs == nil {
		ownerIDs, err = e.nodes.ListActivated(ctx)
		if err != nil {
			return fmt.Errorf("list activated owners: %w", err)
		}
	}

	for _, ownerID := range ownerIDs {
		if _, err := e.matcher.Match(ctx, ownerID, settings, now); err != nil {
			e.logger.WithError(err).WithField("owner_id", ownerID).Error("sweep match failed")
		}
	}

	if e.consumer != nil {
		applied, err := e.consumer.Drain(ctx, now)
		if err != nil {
			return fmt.Errorf("drain credit outbox: %w", err)
		}
		if applied > 0 {
			e.logger.WithField("applied", applied).Info("outbox credits applied")
		}
	}
	return nil
}
