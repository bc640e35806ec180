package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// NodeStore implements storage.NodeStore using PostgreSQL.
type NodeStore struct {
	pool *Pool
}

// NewNodeStore creates a new NodeStore.
func NewNodeStore(pool *Pool) *NodeStore {
	return &NodeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.NodeStore = (*NodeStore)(nil)

const nodeColumns = `
	user_id, parent_id, side, level, referrer_id, left_count, right_count,
	direct_children_count, binary_commission_activated,
	activation_timestamp, created_at, updated_at
`

// Insert adds a detached or root node.
func (s *NodeStore) Insert(ctx context.Context, n *domain.Node) error {
	query := `
		INSERT INTO binary_nodes (
			user_id, parent_id, side, level, referrer_id, left_count,
			right_count, direct_children_count, binary_commission_activated,
			activation_timestamp, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		n.UserID,
		n.ParentID,
		sideValue(n.Side),
		n.Level,
		n.ReferrerID,
		n.LeftCount,
		n.RightCount,
		n.DirectChildrenCount,
		n.BinaryCommissionActivated,
		n.ActivationTimestamp,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

// GetByUser retrieves a node by user ID. Returns ErrNotFound if not exists.
func (s *NodeStore) GetByUser(ctx context.Context, userID int64) (*domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM binary_nodes WHERE user_id = $1`

	row := s.pool.QueryRow(ctx, query, userID)
	n, err := scanNode(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get node by user: %w", err)
	}
	return n, nil
}

// GetChild retrieves the child occupying (parent, side).
func (s *NodeStore) GetChild(ctx context.Context, parentID int64, side domain.Side) (*domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM binary_nodes WHERE parent_id = $1 AND side = $2`

	row := s.pool.QueryRow(ctx, query, parentID, string(side))
	n, err := scanNode(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get child: %w", err)
	}
	return n, nil
}

// GetChildren retrieves both children of parent, left before right.
func (s *NodeStore) GetChildren(ctx context.Context, parentID int64) ([]*domain.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM binary_nodes
		WHERE parent_id = $1
		ORDER BY side ASC
	`

	rows, err := s.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// GetReferred retrieves nodes sponsored by referrerID in placement order.
func (s *NodeStore) GetReferred(ctx context.Context, referrerID int64) ([]*domain.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM binary_nodes
		WHERE referrer_id = $1
		ORDER BY created_at ASC, user_id ASC
	`

	rows, err := s.pool.Query(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("get referred: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// AncestorChain retrieves the node's ancestors bottom-up in one recursive
// query, parent first, root last.
func (s *NodeStore) AncestorChain(ctx context.Context, userID int64) ([]*domain.Node, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT n.*, 1 AS depth
			FROM binary_nodes n
			WHERE n.user_id = (SELECT parent_id FROM binary_nodes WHERE user_id = $1)
			UNION ALL
			SELECT n.*, c.depth + 1
			FROM binary_nodes n
			JOIN chain c ON n.user_id = c.parent_id
		)
		SELECT ` + nodeColumns + ` FROM chain ORDER BY depth ASC
	`

	if _, err := s.GetByUser(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get ancestor chain: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// Subtree retrieves the node and all its descendants.
func (s *NodeStore) Subtree(ctx context.Context, userID int64) ([]*domain.Node, error) {
	query := `
		WITH RECURSIVE subtree AS (
			SELECT n.*, 1 AS depth
			FROM binary_nodes n
			WHERE n.user_id = $1
			UNION ALL
			SELECT n.*, t.depth + 1
			FROM binary_nodes n
			JOIN subtree t ON n.parent_id = t.user_id
		)
		SELECT ` + nodeColumns + ` FROM subtree ORDER BY depth ASC, side ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get subtree: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, storage.ErrNotFound
	}
	return nodes, nil
}

// Attach inserts the node, applies the ancestor deltas, and bumps the
// referrer's direct-children count in one transaction. Ancestor row locks
// are taken strictly bottom-up: the referrer sits on the delta chain, so
// its increment is folded into that walk rather than issued first, and two
// concurrent placements in overlapping subtrees always lock toward the
// root in the same order.
func (s *NodeStore) Attach(ctx context.Context, n *domain.Node, deltas []domain.SideDelta) (int, error) {
	if n.ParentID == nil || !n.Side.Valid() || n.ReferrerID == nil {
		return 0, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin attach: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO binary_nodes (
			user_id, parent_id, side, level, referrer_id, left_count,
			right_count, direct_children_count, binary_commission_activated,
			activation_timestamp, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		n.UserID, n.ParentID, string(n.Side), n.Level, n.ReferrerID,
		n.LeftCount, n.RightCount,
		n.DirectChildrenCount, n.BinaryCommissionActivated,
		n.ActivationTimestamp, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, storage.ErrDuplicateKey
		}
		return 0, fmt.Errorf("insert node: %w", err)
	}

	before := -1
	for _, d := range deltas {
		column := "left_count"
		if d.Side == domain.SideRight {
			column = "right_count"
		}

		if before < 0 && d.UserID == *n.ReferrerID {
			err := tx.QueryRow(ctx, fmt.Sprintf(`
				UPDATE binary_nodes
				SET %s = %s + $2,
					direct_children_count = direct_children_count + 1,
					updated_at = $3
				WHERE user_id = $1
				RETURNING direct_children_count - 1
			`, column, column), d.UserID, d.Delta, n.CreatedAt).Scan(&before)
			if err != nil {
				if isNotFoundError(err) {
					return 0, fmt.Errorf("apply count delta for %d: %w", d.UserID, storage.ErrNotFound)
				}
				return 0, fmt.Errorf("increment direct children: %w", err)
			}
			continue
		}

		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE binary_nodes SET %s = %s + $2, updated_at = $3 WHERE user_id = $1
		`, column, column), d.UserID, d.Delta, n.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("apply count delta for %d: %w", d.UserID, err)
		}
		if tag.RowsAffected() == 0 {
			return 0, fmt.Errorf("apply count delta for %d: %w", d.UserID, storage.ErrNotFound)
		}
	}

	// Referrer outside the delta chain (bootstrap attaches, direct store
	// callers): its row is the last one locked.
	if before < 0 {
		err := tx.QueryRow(ctx, `
			UPDATE binary_nodes
			SET direct_children_count = direct_children_count + 1, updated_at = $2
			WHERE user_id = $1
			RETURNING direct_children_count - 1
		`, *n.ReferrerID, n.CreatedAt).Scan(&before)
		if err != nil {
			if isNotFoundError(err) {
				return 0, storage.ErrNotFound
			}
			return 0, fmt.Errorf("increment direct children: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit attach: %w", err)
	}
	return before, nil
}

// Reparent applies a validated move atomically.
func (s *NodeStore) Reparent(ctx context.Context, move *domain.TreeMove) error {
	if move == nil || !move.NewSide.Valid() {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reparent: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE binary_nodes
		SET parent_id = $2, side = $3, updated_at = $4
		WHERE user_id = $1
	`, move.UserID, move.NewParentID, string(move.NewSide), now)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("reparent node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	for _, lu := range move.LevelUpdates {
		if _, err := tx.Exec(ctx, `
			UPDATE binary_nodes SET level = $2, updated_at = $3 WHERE user_id = $1
		`, lu.UserID, lu.Level, now); err != nil {
			return fmt.Errorf("update level of %d: %w", lu.UserID, err)
		}
	}

	if err := applyDeltas(ctx, tx, move.CountDeltas, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reparent: %w", err)
	}
	return nil
}

// ListActivated returns the user IDs of all activated nodes, ascending.
func (s *NodeStore) ListActivated(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM binary_nodes
		WHERE binary_commission_activated
		ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list activated owners: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan activated owner: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activated owners: %w", err)
	}
	return ids, nil
}

// SetActivated flips activation at most once.
func (s *NodeStore) SetActivated(ctx context.Context, userID int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE binary_nodes
		SET binary_commission_activated = TRUE, activation_timestamp = $2, updated_at = $2
		WHERE user_id = $1 AND binary_commission_activated = FALSE
	`, userID, at)
	if err != nil {
		return false, fmt.Errorf("set activated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// applyDeltas increments per-side lifetime counters inside a transaction.
func applyDeltas(ctx context.Context, tx pgx.Tx, deltas []domain.SideDelta, now time.Time) error {
	for _, d := range deltas {
		column := "left_count"
		if d.Side == domain.SideRight {
			column = "right_count"
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE binary_nodes SET %s = %s + $2, updated_at = $3 WHERE user_id = $1
		`, column, column), d.UserID, d.Delta, now)
		if err != nil {
			return fmt.Errorf("apply count delta for %d: %w", d.UserID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("apply count delta for %d: %w", d.UserID, storage.ErrNotFound)
		}
	}
	return nil
}

// sideValue maps SideNone to NULL for root nodes.
func sideValue(s domain.Side) any {
	if !s.Valid() {
		return nil
	}
	return string(s)
}

// scanNode scans a single row into a Node.
func scanNode(row pgx.Row) (*domain.Node, error) {
	var n domain.Node
	var side *string

	err := row.Scan(
		&n.UserID,
		&n.ParentID,
		&side,
		&n.Level,
		&n.ReferrerID,
		&n.LeftCount,
		&n.RightCount,
		&n.DirectChildrenCount,
		&n.BinaryCommissionActivated,
		&n.ActivationTimestamp,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if side != nil {
		n.Side = domain.Side(*side)
	}
	return &n, nil
}

// scanNodes scans multiple rows into a slice of Node.
func scanNodes(rows pgx.Rows) ([]*domain.Node, error) {
	var nodes []*domain.Node

	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node rows: %w", err)
	}

	return nodes, nil
}
