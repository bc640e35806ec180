package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// Move reparents userID under (newParentID, newSide). The destination slot
// must be empty and newParentID must not lie inside userID's subtree.
// Levels for the whole moved subtree are recomputed iteratively and the
// descendant counts of both the old and new ancestor chains are adjusted by
// the subtree size, all applied atomically by the store.
func (e *Engine) Move(ctx context.Context, userID, newParentID int64, newSide domain.Side) error {
	if !newSide.Valid() {
		return fmt.Errorf("move node %d: %w", userID, storage.ErrInvalidInput)
	}
	if userID == newParentID {
		return fmt.Errorf("move node %d under itself: %w", userID, ErrCycle)
	}

	node, err := e.nodes.GetByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load node %d: %w", userID, err)
	}
	if node.IsRoot() {
		return fmt.Errorf("move root node %d: %w", userID, storage.ErrInvalidInput)
	}

	newParent, err := e.nodes.GetByUser(ctx, newParentID)
	if err != nil {
		return fmt.Errorf("load new parent %d: %w", newParentID, err)
	}

	// Cycle check: walk the new parent's ancestor chain.
	chain, err := e.nodes.AncestorChain(ctx, newParentID)
	if err != nil {
		return fmt.Errorf("fetch ancestor chain of %d: %w", newParentID, err)
	}
	for _, a := range chain {
		if a.UserID == userID {
			return fmt.Errorf("new parent %d is a descendant of %d: %w", newParentID, userID, ErrCycle)
		}
	}

	if occupant, err := e.nodes.GetChild(ctx, newParentID, newSide); err == nil {
		if occupant.UserID == userID {
			return nil // already in place
		}
		return fmt.Errorf("attach under %d %s: %w", newParentID, newSide, ErrSlotOccupied)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check slot: %w", err)
	}

	subtree, err := e.nodes.Subtree(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch subtree of %d: %w", userID, err)
	}

	levels, err := recomputeLevels(subtree, userID, newParent.Level+1)
	if err != nil {
		return err
	}

	size := int64(len(subtree))

	oldParent, err := e.nodes.GetByUser(ctx, *node.ParentID)
	if err != nil {
		return fmt.Errorf("load old parent %d: %w", *node.ParentID, err)
	}
	oldDeltas, err := e.chainDeltas(ctx, oldParent, node.Side, -size)
	if err != nil {
		return err
	}
	newDeltas, err := e.chainDeltas(ctx, newParent, newSide, size)
	if err != nil {
		return err
	}

	move := &domain.TreeMove{
		UserID:       userID,
		NewParentID:  newParentID,
		NewSide:      newSide,
		LevelUpdates: levels,
		CountDeltas:  append(oldDeltas, newDeltas...),
	}
	if err := e.nodes.Reparent(ctx, move); err != nil {
		return fmt.Errorf("reparent node %d: %w", userID, err)
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"old_parent_id": oldParent.UserID,
		"new_parent_id": newParentID,
		"new_side":      newSide,
		"subtree_size":  size,
	}).Info("moved subtree")
	return nil
}

// chainDeltas builds count adjustments of the given magnitude along the path
// from (parent, side) to the root, bottom-up, mirroring ancestorDeltas.
func (e *Engine) chainDeltas(ctx context.Context, parent *domain.Node, side domain.Side, delta int64) ([]domain.SideDelta, error) {
	deltas := []domain.SideDelta{{UserID: parent.UserID, Side: side, Delta: delta}}

	chain, err := e.nodes.AncestorChain(ctx, parent.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch ancestor chain of %d: %w", parent.UserID, err)
	}

	through := parent
	for _, ancestor := range chain {
		if !through.Side.Valid() {
			return nil, fmt.Errorf("non-root node %d has no side: %w", through.UserID, ErrConsistency)
		}
		deltas = append(deltas, domain.SideDelta{UserID: ancestor.UserID, Side: through.Side, Delta: delta})
		through = ancestor
	}
	return deltas, nil
}

// recomputeLevels assigns fresh levels to a moved subtree with an explicit
// worklist, so depth is bounded by memory rather than the call stack.
func recomputeLevels(subtree []*domain.Node, rootID int64, rootLevel int) ([]domain.LevelUpdate, error) {
	children := make(map[int64][]int64, len(subtree))
	seen := make(map[int64]struct{}, len(subtree))
	for _, n := range subtree {
		seen[n.UserID] = struct{}{}
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n.UserID)
		}
	}
	if _, ok := seen[rootID]; !ok {
		return nil, fmt.Errorf("subtree fetch missing its own root %d: %w", rootID, ErrConsistency)
	}

	updates := make([]domain.LevelUpdate, 0, len(subtree))
	type item struct {
		id    int64
		level int
	}
	stack := []item{{rootID, rootLevel}}
	visited := make(map[int64]struct{}, len(subtree))
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, dup := visited[cur.id]; dup {
			return nil, fmt.Errorf("node %d reached twice in subtree: %w", cur.id, ErrConsistency)
		}
		visited[cur.id] = struct{}{}

		updates = append(updates, domain.LevelUpdate{UserID: cur.id, Level: cur.level})
		for _, childID := range children[cur.id] {
			stack = append(stack, item{childID, cur.level + 1})
		}
	}
	if len(visited) != len(subtree) {
		return nil, fmt.Errorf("subtree of %d is not connected: %w", rootID, ErrConsistency)
	}
	return updates, nil
}
