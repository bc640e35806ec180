package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

func insertRoot(t *testing.T, store *NodeStore, userID int64) *domain.Node {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	n := &domain.Node{UserID: userID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Insert(context.Background(), n))
	return n
}

func attachChild(t *testing.T, store *NodeStore, userID, parentID, referrerID int64, side domain.Side, level int, deltas []domain.SideDelta) int {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	n := &domain.Node{
		UserID:     userID,
		ParentID:   &parentID,
		Side:       side,
		Level:      level,
		ReferrerID: &referrerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	before, err := store.Attach(context.Background(), n, deltas)
	require.NoError(t, err)
	return before
}

func TestNodeStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)

	retrieved, err := store.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), retrieved.UserID)
	assert.Nil(t, retrieved.ParentID)
	assert.Equal(t, domain.SideNone, retrieved.Side)
	assert.False(t, retrieved.BinaryCommissionActivated)

	_, err = store.GetByUser(ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Insert(ctx, &domain.Node{UserID: 1})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestNodeStore_AttachUpdatesCountsAndReferrer(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)

	before := attachChild(t, store, 2, 1, 1, domain.SideLeft, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideLeft, Delta: 1}})
	assert.Equal(t, 0, before)

	before = attachChild(t, store, 3, 1, 1, domain.SideRight, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideRight, Delta: 1}})
	assert.Equal(t, 1, before)

	// Attach under 2 with referrer 1: counts bubble up, referral stays on 1.
	before = attachChild(t, store, 4, 2, 1, domain.SideLeft, 2, []domain.SideDelta{
		{UserID: 2, Side: domain.SideLeft, Delta: 1},
		{UserID: 1, Side: domain.SideLeft, Delta: 1},
	})
	assert.Equal(t, 2, before)

	root, err := store.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), root.LeftCount)
	assert.Equal(t, int64(1), root.RightCount)
	assert.Equal(t, 3, root.DirectChildrenCount)

	middle, err := store.GetByUser(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), middle.LeftCount)
	assert.Equal(t, 0, middle.DirectChildrenCount)
}

func TestNodeStore_AttachIncrementsReferrerOnDeltaWalk(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)
	attachChild(t, store, 2, 1, 1, domain.SideLeft, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideLeft, Delta: 1}})
	attachChild(t, store, 3, 2, 2, domain.SideLeft, 2, []domain.SideDelta{
		{UserID: 2, Side: domain.SideLeft, Delta: 1},
		{UserID: 1, Side: domain.SideLeft, Delta: 1},
	})

	// Referrer 2 sits mid-chain: its side counter and direct-children count
	// move in the same row update, before any ancestor above it is touched.
	before := attachChild(t, store, 4, 3, 2, domain.SideLeft, 3, []domain.SideDelta{
		{UserID: 3, Side: domain.SideLeft, Delta: 1},
		{UserID: 2, Side: domain.SideLeft, Delta: 1},
		{UserID: 1, Side: domain.SideLeft, Delta: 1},
	})
	assert.Equal(t, 1, before)

	referrer, err := store.GetByUser(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), referrer.LeftCount)
	assert.Equal(t, 2, referrer.DirectChildrenCount)

	root, err := store.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), root.LeftCount)
	assert.Equal(t, 1, root.DirectChildrenCount)

	// Referrer absent from the delta chain still gets its count bumped.
	before = attachChild(t, store, 5, 4, 3, domain.SideLeft, 4,
		[]domain.SideDelta{{UserID: 4, Side: domain.SideLeft, Delta: 1}})
	assert.Equal(t, 0, before)

	offChain, err := store.GetByUser(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, offChain.DirectChildrenCount)
	assert.Equal(t, int64(1), offChain.LeftCount, "off-chain referrer side counts untouched")
}

func TestNodeStore_AttachUnknownReferrerRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)
	now := time.Now().UTC()

	_, err := store.Attach(ctx, &domain.Node{
		UserID:     2,
		ParentID:   ptr(int64(1)),
		Side:       domain.SideLeft,
		Level:      1,
		ReferrerID: ptr(int64(404)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, []domain.SideDelta{{UserID: 1, Side: domain.SideLeft, Delta: 1}})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetByUser(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound, "insert rolled back with the failed increment")

	root, err := store.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), root.LeftCount)
}

func TestNodeStore_SlotUniqueness(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)

	insertRoot(t, store, 1)
	attachChild(t, store, 2, 1, 1, domain.SideLeft, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideLeft, Delta: 1}})

	now := time.Now().UTC()
	_, err := store.Attach(context.Background(), &domain.Node{
		UserID:     3,
		ParentID:   ptr(int64(1)),
		Side:       domain.SideLeft,
		Level:      1,
		ReferrerID: ptr(int64(1)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestNodeStore_ChildLookups(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)
	attachChild(t, store, 2, 1, 1, domain.SideLeft, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideLeft, Delta: 1}})
	attachChild(t, store, 3, 1, 1, domain.SideRight, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideRight, Delta: 1}})

	left, err := store.GetChild(ctx, 1, domain.SideLeft)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left.UserID)

	_, err = store.GetChild(ctx, 2, domain.SideLeft)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	children, err := store.GetChildren(ctx, 1)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, domain.SideLeft, children[0].Side)
	assert.Equal(t, domain.SideRight, children[1].Side)

	referred, err := store.GetReferred(ctx, 1)
	require.NoError(t, err)
	require.Len(t, referred, 2)
	assert.Equal(t, int64(2), referred[0].UserID)
	assert.Equal(t, int64(3), referred[1].UserID)
}

func TestNodeStore_AncestorChainAndSubtree(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)
	attachChild(t, store, 2, 1, 1, domain.SideLeft, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideLeft, Delta: 1}})
	attachChild(t, store, 3, 2, 1, domain.SideRight, 2, []domain.SideDelta{
		{UserID: 2, Side: domain.SideRight, Delta: 1},
		{UserID: 1, Side: domain.SideLeft, Delta: 1},
	})

	chain, err := store.AncestorChain(ctx, 3)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, int64(2), chain[0].UserID, "parent first")
	assert.Equal(t, int64(1), chain[1].UserID, "root last")

	chain, err = store.AncestorChain(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, chain)

	subtree, err := store.Subtree(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, subtree, 3)
	assert.Equal(t, int64(1), subtree[0].UserID)

	_, err = store.Subtree(ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNodeStore_SetActivatedOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)

	at := time.Now().UTC().Truncate(time.Microsecond)
	flipped, err := store.SetActivated(ctx, 1, at)
	require.NoError(t, err)
	assert.True(t, flipped)

	// Second flip is a no-op and keeps the original timestamp.
	flipped, err = store.SetActivated(ctx, 1, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, flipped)

	n, err := store.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, n.BinaryCommissionActivated)
	require.NotNil(t, n.ActivationTimestamp)
	assert.WithinDuration(t, at, *n.ActivationTimestamp, time.Millisecond)
}

func TestNodeStore_ListActivated(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)
	insertRoot(t, store, 2)
	insertRoot(t, store, 3)

	ids, err := store.ListActivated(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	at := time.Now().UTC()
	_, err = store.SetActivated(ctx, 3, at)
	require.NoError(t, err)
	_, err = store.SetActivated(ctx, 1, at)
	require.NoError(t, err)

	ids, err = store.ListActivated(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestNodeStore_Reparent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewNodeStore(pool)
	ctx := context.Background()

	insertRoot(t, store, 1)
	attachChild(t, store, 2, 1, 1, domain.SideLeft, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideLeft, Delta: 1}})
	attachChild(t, store, 3, 1, 1, domain.SideRight, 1,
		[]domain.SideDelta{{UserID: 1, Side: domain.SideRight, Delta: 1}})

	err := store.Reparent(ctx, &domain.TreeMove{
		UserID:       3,
		NewParentID:  2,
		NewSide:      domain.SideLeft,
		LevelUpdates: []domain.LevelUpdate{{UserID: 3, Level: 2}},
		CountDeltas: []domain.SideDelta{
			{UserID: 1, Side: domain.SideRight, Delta: -1},
			{UserID: 2, Side: domain.SideLeft, Delta: 1},
			{UserID: 1, Side: domain.SideLeft, Delta: 1},
		},
	})
	require.NoError(t, err)

	moved, err := store.GetByUser(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), *moved.ParentID)
	assert.Equal(t, domain.SideLeft, moved.Side)
	assert.Equal(t, 2, moved.Level)

	root, err := store.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), root.LeftCount)
	assert.Equal(t, int64(0), root.RightCount)
}
