// Package verification audits stored tree and commission state against
// values recomputed from first principles. Divergences are reported, never
// auto-repaired; a corrupted invariant needs operator attention.
package verification

import (
	"context"
	"fmt"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// Divergence is one mismatch between a stored value and its recomputation.
type Divergence struct {
	UserID     int64
	Field      string
	Stored     string
	Recomputed string
}

func (d Divergence) String() string {
	return fmt.Sprintf("user %d: %s stored=%s recomputed=%s", d.UserID, d.Field, d.Stored, d.Recomputed)
}

// Report collects the divergences of one verification run.
type Report struct {
	NodesChecked int
	Divergences  []Divergence
}

// OK reports whether the run found no divergences.
func (r *Report) OK() bool {
	return len(r.Divergences) == 0
}

func (r *Report) add(userID int64, field string, stored, recomputed any) {
	r.Divergences = append(r.Divergences, Divergence{
		UserID:     userID,
		Field:      field,
		Stored:     fmt.Sprintf("%v", stored),
		Recomputed: fmt.Sprintf("%v", recomputed),
	})
}

// TreeVerifier recomputes tree invariants by full traversal.
type TreeVerifier struct {
	nodes   storage.NodeStore
	pairs   storage.PairStore
	carries storage.CarryForwardStore
}

// NewTreeVerifier creates a TreeVerifier.
func NewTreeVerifier(nodes storage.NodeStore, pairs storage.PairStore, carries storage.CarryForwardStore) *TreeVerifier {
	return &TreeVerifier{nodes: nodes, pairs: pairs, carries: carries}
}

// VerifySubtree checks every node under rootID: slot uniqueness, the level
// invariant, and the lifetime side counters against a full recount of
// descendants per leg.
func (v *TreeVerifier) VerifySubtree(ctx context.Context, rootID int64) (*Report, error) {
	subtree, err := v.nodes.Subtree(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("fetch subtree of %d: %w", rootID, err)
	}

	byID := make(map[int64]*domain.Node, len(subtree))
	children := make(map[int64][]*domain.Node, len(subtree))
	for _, n := range subtree {
		byID[n.UserID] = n
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n)
		}
	}

	report := &Report{NodesChecked: len(subtree)}
	for _, n := range subtree {
		if parent, ok := lookupParent(byID, n); ok {
			if n.Level != parent.Level+1 {
				report.add(n.UserID, "level", n.Level, parent.Level+1)
			}
		}

		sides := map[domain.Side]int{}
		for _, c := range children[n.UserID] {
			sides[c.Side]++
		}
		for side, count := range sides {
			if count > 1 {
				report.add(n.UserID, fmt.Sprintf("children_%s", side), count, 1)
			}
		}

		left := subtreeSize(children, n.UserID, domain.SideLeft)
		right := subtreeSize(children, n.UserID, domain.SideRight)
		if n.LeftCount != left {
			report.add(n.UserID, "left_count", n.LeftCount, left)
		}
		if n.RightCount != right {
			report.add(n.UserID, "right_count", n.RightCount, right)
		}
	}
	return report, nil
}

// VerifyCarryForwardConservation checks that, per leg, pairs matched plus
// active carried-forward members never exceed the members ever placed on
// that leg. The remainder is surplus not yet carried forward, which is
// always non-negative in a consistent store.
func (v *TreeVerifier) VerifyCarryForwardConservation(ctx context.Context, ownerID int64) (*Report, error) {
	node, err := v.nodes.GetByUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load node %d: %w", ownerID, err)
	}

	totalPairs, err := v.pairs.CountAfterActivation(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count pairs of %d: %w", ownerID, err)
	}

	report := &Report{NodesChecked: 1}
	for _, side := range []domain.Side{domain.SideLeft, domain.SideRight} {
		carries, err := v.carries.ActiveForOwnerSide(ctx, ownerID, side)
		if err != nil {
			return nil, fmt.Errorf("list carry-forwards of %d: %w", ownerID, err)
		}
		remaining := int64(0)
		for _, cf := range carries {
			remaining += int64(cf.RemainingCount())
		}

		surplus := node.SideCount(side) - int64(totalPairs) - remaining
		if surplus < 0 {
			report.add(ownerID, fmt.Sprintf("conservation_%s", side),
				fmt.Sprintf("pairs=%d carried=%d", totalPairs, remaining),
				fmt.Sprintf("side_count=%d", node.SideCount(side)))
		}
	}
	return report, nil
}

func lookupParent(byID map[int64]*domain.Node, n *domain.Node) (*domain.Node, bool) {
	if n.ParentID == nil {
		return nil, false
	}
	parent, ok := byID[*n.ParentID]
	return parent, ok
}

// subtreeSize counts all descendants reachable through one leg, with an
// explicit stack.
func subtreeSize(children map[int64][]*domain.Node, rootID int64, side domain.Side) int64 {
	var start []*domain.Node
	for _, c := range children[rootID] {
		if c.Side == side {
			start = append(start, c)
		}
	}

	count := int64(0)
	stack := start
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, children[n.UserID]...)
	}
	return count
}
