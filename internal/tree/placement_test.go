package tree

import (
	"context"
	"errors"
	"testing"
	"time"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
	"ev-commission-engine/internal/storage/memory"
)

func newTestEngine() (*Engine, *memory.NodeStore) {
	nodes := memory.NewNodeStore()
	return NewEngine(nodes, nil), nodes
}

func placeAll(t *testing.T, e *Engine, referrerID int64, userIDs ...int64) {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, id := range userIDs {
		if _, err := e.Place(context.Background(), id, referrerID, nil, now); err != nil {
			t.Fatalf("Place(%d) failed: %v", id, err)
		}
		now = now.Add(time.Minute)
	}
}

func TestPlace_BootstrapsRoot(t *testing.T) {
	e, nodes := newTestEngine()
	ctx := context.Background()

	placement, err := e.Place(ctx, 2, 1, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	root, err := nodes.GetByUser(ctx, 1)
	if err != nil {
		t.Fatalf("root node missing: %v", err)
	}
	if !root.IsRoot() {
		t.Errorf("referrer node should be a root, got parent %v", root.ParentID)
	}
	if root.Level != 0 {
		t.Errorf("root level = %d, want 0", root.Level)
	}

	if placement.Node.UserID != 2 {
		t.Errorf("placed user = %d, want 2", placement.Node.UserID)
	}
	if placement.Parent.UserID != 1 || placement.Node.Side != domain.SideLeft {
		t.Errorf("first child should attach at (1, left), got (%d, %s)",
			placement.Parent.UserID, placement.Node.Side)
	}
	if placement.Node.Level != 1 {
		t.Errorf("child level = %d, want 1", placement.Node.Level)
	}
}

func TestPlace_BreadthFirstLeftFirst(t *testing.T) {
	e, nodes := newTestEngine()
	ctx := context.Background()

	placeAll(t, e, 1, 2, 3, 4, 5, 6, 7)

	// Slots fill level by level, left before right.
	want := []struct {
		userID int64
		parent int64
		side   domain.Side
	}{
		{2, 1, domain.SideLeft},
		{3, 1, domain.SideRight},
		{4, 2, domain.SideLeft},
		{5, 2, domain.SideRight},
		{6, 3, domain.SideLeft},
		{7, 3, domain.SideRight},
	}
	for _, w := range want {
		n, err := nodes.GetByUser(ctx, w.userID)
		if err != nil {
			t.Fatalf("node %d missing: %v", w.userID, err)
		}
		if *n.ParentID != w.parent || n.Side != w.side {
			t.Errorf("node %d at (%d, %s), want (%d, %s)",
				w.userID, *n.ParentID, n.Side, w.parent, w.side)
		}
	}
}

func TestPlace_AncestorCountsAndLevels(t *testing.T) {
	e, nodes := newTestEngine()
	ctx := context.Background()

	placeAll(t, e, 1, 2, 3, 4, 5, 6, 7)

	root, _ := nodes.GetByUser(ctx, 1)
	if root.LeftCount != 3 || root.RightCount != 3 {
		t.Errorf("root counts = (%d, %d), want (3, 3)", root.LeftCount, root.RightCount)
	}

	for _, id := range []int64{2, 3} {
		n, _ := nodes.GetByUser(ctx, id)
		if n.LeftCount != 1 || n.RightCount != 1 {
			t.Errorf("node %d counts = (%d, %d), want (1, 1)", id, n.LeftCount, n.RightCount)
		}
		if n.Level != 1 {
			t.Errorf("node %d level = %d, want 1", id, n.Level)
		}
	}
	for _, id := range []int64{4, 5, 6, 7} {
		n, _ := nodes.GetByUser(ctx, id)
		if n.LeftCount != 0 || n.RightCount != 0 {
			t.Errorf("leaf %d counts = (%d, %d), want (0, 0)", id, n.LeftCount, n.RightCount)
		}
		if n.Level != 2 {
			t.Errorf("node %d level = %d, want 2", id, n.Level)
		}
	}
}

func TestPlace_ExplicitSide(t *testing.T) {
	e, nodes := newTestEngine()
	ctx := context.Background()
	now := time.Now().UTC()

	right := domain.SideRight
	placement, err := e.Place(ctx, 2, 1, &right, now)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if placement.Parent.UserID != 1 || placement.Node.Side != domain.SideRight {
		t.Errorf("explicit right should win when free, got (%d, %s)",
			placement.Parent.UserID, placement.Node.Side)
	}

	// The requested slot is taken now; auto-placement takes over.
	placement, err = e.Place(ctx, 3, 1, &right, now)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if placement.Parent.UserID != 1 || placement.Node.Side != domain.SideLeft {
		t.Errorf("occupied explicit slot should fall back to BFS, got (%d, %s)",
			placement.Parent.UserID, placement.Node.Side)
	}

	root, _ := nodes.GetByUser(ctx, 1)
	if root.LeftCount != 1 || root.RightCount != 1 {
		t.Errorf("root counts = (%d, %d), want (1, 1)", root.LeftCount, root.RightCount)
	}
}

func TestPlace_ReferrerDeepInTree(t *testing.T) {
	e, nodes := newTestEngine()
	ctx := context.Background()

	// Fill the referrer's own slots, then refer once more: the new member
	// lands below, but the referral is still credited to the referrer.
	placeAll(t, e, 1, 2, 3, 4)

	n, _ := nodes.GetByUser(ctx, 4)
	if *n.ParentID != 2 {
		t.Fatalf("node 4 parent = %d, want 2", *n.ParentID)
	}
	if *n.ReferrerID != 1 {
		t.Errorf("node 4 referrer = %d, want 1", *n.ReferrerID)
	}

	referrer, _ := nodes.GetByUser(ctx, 1)
	if referrer.DirectChildrenCount != 3 {
		t.Errorf("referrer direct children = %d, want 3", referrer.DirectChildrenCount)
	}
	parent, _ := nodes.GetByUser(ctx, 2)
	if parent.DirectChildrenCount != 0 {
		t.Errorf("tree parent direct children = %d, want 0", parent.DirectChildrenCount)
	}
}

func TestPlace_DirectChildrenBeforeSequence(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, userID := range []int64{10, 11, 12, 13} {
		placement, err := e.Place(ctx, userID, 1, nil, now)
		if err != nil {
			t.Fatalf("Place(%d) failed: %v", userID, err)
		}
		if placement.DirectChildrenBefore != i {
			t.Errorf("placement %d: DirectChildrenBefore = %d, want %d",
				userID, placement.DirectChildrenBefore, i)
		}
	}
}

func TestPlace_SelfReferral(t *testing.T) {
	e, _ := newTestEngine()

	_, err := e.Place(context.Background(), 1, 1, nil, time.Now().UTC())
	if !errors.Is(err, ErrCycle) {
		t.Errorf("self-referral error = %v, want ErrCycle", err)
	}
}

func TestPlace_AlreadyPlaced(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := e.Place(ctx, 2, 1, nil, now); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	_, err := e.Place(ctx, 2, 1, nil, now)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("repeated placement error = %v, want ErrDuplicateKey", err)
	}
}

func TestPlace_DetectsDuplicateSideChildren(t *testing.T) {
	nodes := memory.NewNodeStore()
	_ = NewEngine(nodes, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	// Corrupt the tree behind the store's slot map: two nodes claiming
	// (1, left) via distinct raw inserts.
	root := &domain.Node{UserID: 1, CreatedAt: now, UpdatedAt: now}
	if err := nodes.Insert(ctx, root); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	childA := &domain.Node{UserID: 2, ParentID: &root.UserID, Side: domain.SideLeft, Level: 1, ReferrerID: &root.UserID, CreatedAt: now}
	if err := nodes.Insert(ctx, childA); err != nil {
		t.Fatalf("insert child: %v", err)
	}
	childB := &domain.Node{UserID: 3, ParentID: &root.UserID, Side: domain.SideLeft, Level: 1, ReferrerID: &root.UserID, CreatedAt: now}
	if err := nodes.Insert(ctx, childB); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("slot map should reject the duplicate, got %v", err)
	}
}
