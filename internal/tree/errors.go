package tree

import "errors"

// Sentinel errors for placement and move validation. Callers should use
// errors.Is for comparison since they may be wrapped with context.
var (
	// ErrSlotOccupied indicates the destination (parent, side) is taken.
	ErrSlotOccupied = errors.New("placement slot occupied")

	// ErrCycle indicates a move that would make a node its own ancestor.
	ErrCycle = errors.New("move would create a cycle")

	// ErrConsistency indicates a corrupted tree invariant, such as two nodes
	// sharing the same (parent, side). It is never repaired automatically;
	// automated processing for the affected subtree halts until an operator
	// intervenes.
	ErrConsistency = errors.New("tree consistency violation")
)
