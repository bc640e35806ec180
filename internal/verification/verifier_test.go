package verification

import (
	"context"
	"testing"
	"time"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage/memory"
)

func seedTree(t *testing.T, nodes *memory.NodeStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	// 1 -> 2(L), 3(R); 2 -> 4(L)
	root := &domain.Node{UserID: 1, LeftCount: 2, RightCount: 1, CreatedAt: now}
	if err := nodes.Insert(ctx, root); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	insert := func(userID, parentID int64, side domain.Side, level int, left, right int64) {
		n := &domain.Node{
			UserID:     userID,
			ParentID:   &parentID,
			Side:       side,
			Level:      level,
			ReferrerID: &root.UserID,
			LeftCount:  left,
			RightCount: right,
			CreatedAt:  now,
		}
		if err := nodes.Insert(ctx, n); err != nil {
			t.Fatalf("insert %d: %v", userID, err)
		}
	}
	insert(2, 1, domain.SideLeft, 1, 1, 0)
	insert(3, 1, domain.SideRight, 1, 0, 0)
	insert(4, 2, domain.SideLeft, 2, 0, 0)
}

func TestVerifySubtree_CleanTree(t *testing.T) {
	nodes := memory.NewNodeStore()
	seedTree(t, nodes)
	v := NewTreeVerifier(nodes, memory.NewPairStore(), memory.NewCarryForwardStore())

	report, err := v.VerifySubtree(context.Background(), 1)
	if err != nil {
		t.Fatalf("VerifySubtree failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("clean tree reported divergences: %v", report.Divergences)
	}
	if report.NodesChecked != 4 {
		t.Errorf("nodes checked = %d, want 4", report.NodesChecked)
	}
}

func TestVerifySubtree_DetectsCountDrift(t *testing.T) {
	nodes := memory.NewNodeStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// Stored left count disagrees with the actual shape.
	root := &domain.Node{UserID: 1, LeftCount: 5, RightCount: 0, CreatedAt: now}
	if err := nodes.Insert(ctx, root); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	child := &domain.Node{UserID: 2, ParentID: &root.UserID, Side: domain.SideLeft, Level: 1, ReferrerID: &root.UserID, CreatedAt: now}
	if err := nodes.Insert(ctx, child); err != nil {
		t.Fatalf("insert child: %v", err)
	}

	v := NewTreeVerifier(nodes, memory.NewPairStore(), memory.NewCarryForwardStore())
	report, err := v.VerifySubtree(ctx, 1)
	if err != nil {
		t.Fatalf("VerifySubtree failed: %v", err)
	}
	if report.OK() {
		t.Fatal("count drift not detected")
	}

	found := false
	for _, d := range report.Divergences {
		if d.UserID == 1 && d.Field == "left_count" {
			found = true
			if d.Stored != "5" || d.Recomputed != "1" {
				t.Errorf("divergence = %s, want stored=5 recomputed=1", d)
			}
		}
	}
	if !found {
		t.Errorf("no left_count divergence in %v", report.Divergences)
	}
}

func TestVerifySubtree_DetectsLevelViolation(t *testing.T) {
	nodes := memory.NewNodeStore()
	ctx := context.Background()
	now := time.Now().UTC()

	root := &domain.Node{UserID: 1, LeftCount: 1, CreatedAt: now}
	if err := nodes.Insert(ctx, root); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	child := &domain.Node{UserID: 2, ParentID: &root.UserID, Side: domain.SideLeft, Level: 7, ReferrerID: &root.UserID, CreatedAt: now}
	if err := nodes.Insert(ctx, child); err != nil {
		t.Fatalf("insert child: %v", err)
	}

	v := NewTreeVerifier(nodes, memory.NewPairStore(), memory.NewCarryForwardStore())
	report, err := v.VerifySubtree(ctx, 1)
	if err != nil {
		t.Fatalf("VerifySubtree failed: %v", err)
	}

	found := false
	for _, d := range report.Divergences {
		if d.UserID == 2 && d.Field == "level" {
			found = true
		}
	}
	if !found {
		t.Errorf("level violation not reported: %v", report.Divergences)
	}
}

func TestVerifyCarryForwardConservation(t *testing.T) {
	nodes := memory.NewNodeStore()
	pairs := memory.NewPairStore()
	carries := memory.NewCarryForwardStore()
	ctx := context.Background()
	now := time.Now().UTC()

	owner := &domain.Node{UserID: 1, LeftCount: 10, RightCount: 7, CreatedAt: now}
	if err := nodes.Insert(ctx, owner); err != nil {
		t.Fatalf("insert owner: %v", err)
	}

	v := NewTreeVerifier(nodes, pairs, carries)

	// No pairs, no carries: trivially conserved.
	report, err := v.VerifyCarryForwardConservation(ctx, 1)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("conserved state reported divergences: %v", report.Divergences)
	}

	// An oversized carry-forward breaks the bound on the right leg:
	// 0 pairs + 9 carried > 7 members ever placed.
	oversized := &domain.CarryForward{
		ID:                 "cf-oversized",
		OwnerID:            1,
		CarriedForwardDate: domain.DayOf(now),
		Side:               domain.SideRight,
		InitialMemberCount: 9,
		IsActive:           true,
		CreatedAt:          now,
	}
	store := memory.NewCommissionStore(pairs, memory.NewEarningStore(), carries, memory.NewLedgerStore(), memory.NewOutboxStore())
	if err := store.RecordCarryForward(ctx, oversized); err != nil {
		t.Fatalf("record carry-forward: %v", err)
	}

	report, err = v.VerifyCarryForwardConservation(ctx, 1)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if report.OK() {
		t.Error("conservation violation not detected")
	}
}
