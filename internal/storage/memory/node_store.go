package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// NodeStore is an in-memory implementation of storage.NodeStore.
type NodeStore struct {
	mu    sync.RWMutex
	nodes map[int64]*domain.Node // keyed by user_id
	slots map[string]int64       // "parent/side" -> child user_id
}

// NewNodeStore creates a new in-memory node store.
func NewNodeStore() *NodeStore {
	return &NodeStore{
		nodes: make(map[int64]*domain.Node),
		slots: make(map[string]int64),
	}
}

func slotKey(parentID int64, side domain.Side) string {
	return fmt.Sprintf("%d/%s", parentID, side)
}

// Insert adds a detached or root node.
func (s *NodeStore) Insert(_ context.Context, n *domain.Node) error {
	if n == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(n)
}

func (s *NodeStore) insertLocked(n *domain.Node) error {
	if _, exists := s.nodes[n.UserID]; exists {
		return storage.ErrDuplicateKey
	}
	if n.ParentID != nil {
		key := slotKey(*n.ParentID, n.Side)
		if _, taken := s.slots[key]; taken {
			return storage.ErrDuplicateKey
		}
		s.slots[key] = n.UserID
	}

	nodeCopy := *n
	s.nodes[n.UserID] = &nodeCopy
	return nil
}

// GetByUser retrieves a node by user ID.
func (s *NodeStore) GetByUser(_ context.Context, userID int64) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getLocked(userID)
}

func (s *NodeStore) getLocked(userID int64) (*domain.Node, error) {
	n, exists := s.nodes[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	nodeCopy := *n
	return &nodeCopy, nil
}

// GetChild retrieves the child occupying (parent, side).
func (s *NodeStore) GetChild(_ context.Context, parentID int64, side domain.Side) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	childID, exists := s.slots[slotKey(parentID, side)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.getLocked(childID)
}

// GetChildren retrieves both children of parent, left before right.
func (s *NodeStore) GetChildren(_ context.Context, parentID int64) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var children []*domain.Node
	for _, side := range []domain.Side{domain.SideLeft, domain.SideRight} {
		if childID, exists := s.slots[slotKey(parentID, side)]; exists {
			child, err := s.getLocked(childID)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
	}
	return children, nil
}

// GetReferred retrieves nodes sponsored by referrerID in placement order.
func (s *NodeStore) GetReferred(_ context.Context, referrerID int64) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Node
	for _, n := range s.nodes {
		if n.ReferrerID != nil && *n.ReferrerID == referrerID {
			nodeCopy := *n
			result = append(result, &nodeCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// AncestorChain retrieves ancestors bottom-up, parent first, root last.
func (s *NodeStore) AncestorChain(_ context.Context, userID int64) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	var chain []*domain.Node
	for n.ParentID != nil {
		parent, exists := s.nodes[*n.ParentID]
		if !exists {
			return nil, fmt.Errorf("ancestor chain of %d: parent %d: %w", userID, *n.ParentID, storage.ErrNotFound)
		}
		parentCopy := *parent
		chain = append(chain, &parentCopy)
		n = parent
	}
	return chain, nil
}

// Subtree retrieves the node and all its descendants via an explicit queue.
func (s *NodeStore) Subtree(_ context.Context, userID int64) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, exists := s.nodes[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	var result []*domain.Node
	queue := []*domain.Node{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		currentCopy := *current
		result = append(result, &currentCopy)

		for _, side := range []domain.Side{domain.SideLeft, domain.SideRight} {
			if childID, ok := s.slots[slotKey(current.UserID, side)]; ok {
				queue = append(queue, s.nodes[childID])
			}
		}
	}
	return result, nil
}

// Attach inserts the node, bumps the referrer's direct-children count, and
// applies the ancestor count deltas atomically under the store lock.
func (s *NodeStore) Attach(_ context.Context, n *domain.Node, deltas []domain.SideDelta) (int, error) {
	if n == nil || n.ParentID == nil || !n.Side.Valid() || n.ReferrerID == nil {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[*n.ParentID]; !exists {
		return 0, storage.ErrNotFound
	}
	referrer, exists := s.nodes[*n.ReferrerID]
	if !exists {
		return 0, storage.ErrNotFound
	}

	if err := s.insertLocked(n); err != nil {
		return 0, err
	}

	before := referrer.DirectChildrenCount
	referrer.DirectChildrenCount++
	referrer.UpdatedAt = n.CreatedAt

	if err := s.applyDeltasLocked(deltas); err != nil {
		return 0, err
	}
	return before, nil
}

func (s *NodeStore) applyDeltasLocked(deltas []domain.SideDelta) error {
	for _, d := range deltas {
		target, exists := s.nodes[d.UserID]
		if !exists {
			return fmt.Errorf("count delta for %d: %w", d.UserID, storage.ErrNotFound)
		}
		switch d.Side {
		case domain.SideLeft:
			target.LeftCount += d.Delta
		case domain.SideRight:
			target.RightCount += d.Delta
		default:
			return storage.ErrInvalidInput
		}
	}
	return nil
}

// Reparent applies a validated move atomically.
func (s *NodeStore) Reparent(_ context.Context, move *domain.TreeMove) error {
	if move == nil || !move.NewSide.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.nodes[move.UserID]
	if !exists {
		return storage.ErrNotFound
	}
	if _, exists := s.nodes[move.NewParentID]; !exists {
		return storage.ErrNotFound
	}

	newKey := slotKey(move.NewParentID, move.NewSide)
	if _, taken := s.slots[newKey]; taken {
		return storage.ErrDuplicateKey
	}

	if n.ParentID != nil {
		delete(s.slots, slotKey(*n.ParentID, n.Side))
	}
	parentID := move.NewParentID
	n.ParentID = &parentID
	n.Side = move.NewSide
	s.slots[newKey] = n.UserID

	for _, lu := range move.LevelUpdates {
		target, exists := s.nodes[lu.UserID]
		if !exists {
			return fmt.Errorf("level update for %d: %w", lu.UserID, storage.ErrNotFound)
		}
		target.Level = lu.Level
	}

	return s.applyDeltasLocked(move.CountDeltas)
}

// ListActivated returns the user IDs of all activated nodes, ascending.
func (s *NodeStore) ListActivated(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, n := range s.nodes {
		if n.BinaryCommissionActivated {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SetActivated flips activation at most once.
func (s *NodeStore) SetActivated(_ context.Context, userID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.nodes[userID]
	if !exists {
		return false, storage.ErrNotFound
	}
	if n.BinaryCommissionActivated {
		return false, nil
	}

	ts := at
	n.BinaryCommissionActivated = true
	n.ActivationTimestamp = &ts
	n.UpdatedAt = at
	return true, nil
}

// Verify interface compliance at compile time.
var _ storage.NodeStore = (*NodeStore)(nil)
