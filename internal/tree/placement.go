package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// Engine places members into the binary tree and performs validated moves.
// It owns no state of its own; all tree shape lives in the node store.
type Engine struct {
	nodes  storage.NodeStore
	logger *logrus.Logger
}

// NewEngine creates a placement engine.
func NewEngine(nodes storage.NodeStore, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{nodes: nodes, logger: logger}
}

// Place inserts userID under referrerID. With an explicit side the slot must
// be empty; otherwise the first free slot in breadth-first left-first order
// from the referrer is used. The referrer's node is bootstrapped as a root
// if it does not exist yet.
//
// Ancestor descendant counts are incremented by one along the path to the
// root, bottom-up, in the same transaction as the insert.
func (e *Engine) Place(ctx context.Context, userID, referrerID int64, explicitSide *domain.Side, now time.Time) (*domain.Placement, error) {
	if userID == referrerID {
		return nil, fmt.Errorf("place user %d: %w", userID, ErrCycle)
	}

	if _, err := e.nodes.GetByUser(ctx, userID); err == nil {
		return nil, fmt.Errorf("place user %d: %w", userID, storage.ErrDuplicateKey)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check existing node: %w", err)
	}

	referrer, err := e.nodes.GetByUser(ctx, referrerID)
	if errors.Is(err, storage.ErrNotFound) {
		referrer, err = e.bootstrapRoot(ctx, referrerID, now)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve referrer node %d: %w", referrerID, err)
	}

	// An explicit side wins only when that slot under the referrer is free;
	// otherwise auto-placement takes over.
	var parent *domain.Node
	var side domain.Side
	if explicitSide != nil && explicitSide.Valid() {
		if _, err := e.nodes.GetChild(ctx, referrerID, *explicitSide); errors.Is(err, storage.ErrNotFound) {
			parent, side = referrer, *explicitSide
		} else if err != nil {
			return nil, fmt.Errorf("check slot: %w", err)
		}
	}
	if parent == nil {
		parent, side, err = e.findOpenSlot(ctx, referrer)
		if err != nil {
			return nil, err
		}
	}

	deltas, err := e.ancestorDeltas(ctx, parent, side)
	if err != nil {
		return nil, err
	}

	node := &domain.Node{
		UserID:     userID,
		ParentID:   &parent.UserID,
		Side:       side,
		Level:      parent.Level + 1,
		ReferrerID: &referrer.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	directBefore, err := e.nodes.Attach(ctx, node, deltas)
	if err != nil {
		return nil, fmt.Errorf("attach node %d: %w", userID, err)
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"parent_id":   parent.UserID,
		"referrer_id": referrer.UserID,
		"side":        side,
		"level":       node.Level,
	}).Info("placed user in binary tree")

	return &domain.Placement{
		Node:                 node,
		Parent:               parent,
		Referrer:             referrer,
		DirectChildrenBefore: directBefore,
	}, nil
}

// bootstrapRoot creates a root node for a referrer being placed under for
// the first time.
func (e *Engine) bootstrapRoot(ctx context.Context, userID int64, now time.Time) (*domain.Node, error) {
	root := &domain.Node{
		UserID:    userID,
		Side:      domain.SideNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.nodes.Insert(ctx, root); err != nil {
		// Lost a race with a concurrent bootstrap; use the winner's node.
		if errors.Is(err, storage.ErrDuplicateKey) {
			return e.nodes.GetByUser(ctx, userID)
		}
		return nil, fmt.Errorf("bootstrap root node: %w", err)
	}

	e.logger.WithField("user_id", userID).Info("bootstrapped root node")
	return root, nil
}

// findOpenSlot runs a breadth-first search from start, visiting left before
// right, and returns the first node with a free side.
func (e *Engine) findOpenSlot(ctx context.Context, start *domain.Node) (*domain.Node, domain.Side, error) {
	queue := []*domain.Node{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := e.nodes.GetChildren(ctx, current.UserID)
		if err != nil {
			return nil, domain.SideNone, fmt.Errorf("list children of %d: %w", current.UserID, err)
		}

		var left, right *domain.Node
		for _, c := range children {
			switch c.Side {
			case domain.SideLeft:
				if left != nil {
					return nil, domain.SideNone, fmt.Errorf("node %d has two left children: %w", current.UserID, ErrConsistency)
				}
				left = c
			case domain.SideRight:
				if right != nil {
					return nil, domain.SideNone, fmt.Errorf("node %d has two right children: %w", current.UserID, ErrConsistency)
				}
				right = c
			default:
				return nil, domain.SideNone, fmt.Errorf("child %d of %d has no side: %w", c.UserID, current.UserID, ErrConsistency)
			}
		}

		if left == nil {
			return current, domain.SideLeft, nil
		}
		if right == nil {
			return current, domain.SideRight, nil
		}
		queue = append(queue, left, right)
	}
	return nil, domain.SideNone, fmt.Errorf("exhausted search space: %w", ErrConsistency)
}

// ancestorDeltas builds the +1 count increments along the path from the new
// slot up to the root. The slice is ordered bottom-up so every call site
// locks ancestors in the same direction.
func (e *Engine) ancestorDeltas(ctx context.Context, parent *domain.Node, side domain.Side) ([]domain.SideDelta, error) {
	deltas := []domain.SideDelta{{UserID: parent.UserID, Side: side, Delta: 1}}

	chain, err := e.nodes.AncestorChain(ctx, parent.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch ancestor chain of %d: %w", parent.UserID, err)
	}

	through := parent
	for _, ancestor := range chain {
		if !through.Side.Valid() {
			return nil, fmt.Errorf("non-root node %d has no side: %w", through.UserID, ErrConsistency)
		}
		deltas = append(deltas, domain.SideDelta{UserID: ancestor.UserID, Side: through.Side, Delta: 1})
		through = ancestor
	}
	return deltas, nil
}
