package domain

import "time"

// Side identifies which leg of the binary tree a node occupies under its
// parent. The root occupies no side.
type Side string

// Side constants.
const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideNone  Side = ""
)

// Opposite returns the other leg. SideNone maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case SideLeft:
		return SideRight
	case SideRight:
		return SideLeft
	default:
		return SideNone
	}
}

// Valid reports whether s is a placeable side.
func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// Node is one user's position in the binary placement tree.
// LeftCount and RightCount are lifetime descendant totals per leg; they are
// never decremented when pairs are matched. Availability for matching is
// always derived from pair history, never stored here.
type Node struct {
	UserID   int64
	ParentID *int64 // nil for the root of a placement tree
	Side     Side   // SideNone for the root
	Level    int

	// ReferrerID is the sponsor who referred this user. Breadth-first
	// auto-placement can attach a node far below its referrer, so this is
	// distinct from ParentID. Nil for bootstrapped roots.
	ReferrerID *int64

	LeftCount  int64
	RightCount int64

	// DirectChildrenCount is how many users this node has referred, counted
	// at placement time regardless of where auto-placement attached them.
	DirectChildrenCount int

	// BinaryCommissionActivated flips from false to true exactly once, when
	// DirectChildrenCount first reaches the configured threshold.
	BinaryCommissionActivated bool
	ActivationTimestamp       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SideCount returns the lifetime descendant total for one leg.
func (n *Node) SideCount(s Side) int64 {
	if s == SideLeft {
		return n.LeftCount
	}
	return n.RightCount
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// SideDelta is a single ancestor-count increment produced by a placement or
// move: bump UserID's counter for Side by Delta. Deltas are applied in slice
// order, which placement builds bottom-up toward the root so that lock
// acquisition is consistent across call sites.
type SideDelta struct {
	UserID int64
	Side   Side
	Delta  int64
}

// LevelUpdate assigns a recomputed level to one node of a moved subtree.
type LevelUpdate struct {
	UserID int64
	Level  int
}

// TreeMove is the validated, precomputed mutation for reparenting a node:
// the new slot plus every level and count adjustment it implies. Stores
// apply it atomically.
type TreeMove struct {
	UserID      int64
	NewParentID int64
	NewSide     Side

	LevelUpdates []LevelUpdate
	CountDeltas  []SideDelta
}
