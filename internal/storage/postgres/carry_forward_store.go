package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// CarryForwardStore implements storage.CarryForwardStore using PostgreSQL.
type CarryForwardStore struct {
	pool *Pool
}

// NewCarryForwardStore creates a new CarryForwardStore.
func NewCarryForwardStore(pool *Pool) *CarryForwardStore {
	return &CarryForwardStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CarryForwardStore = (*CarryForwardStore)(nil)

const carryForwardColumns = `
	id, owner_id, carried_forward_date, side, initial_member_count,
	matched_count, is_active, matched_at, created_at
`

// GetByID retrieves a carry-forward record. Returns ErrNotFound if none.
func (s *CarryForwardStore) GetByID(ctx context.Context, id string) (*domain.CarryForward, error) {
	query := `SELECT ` + carryForwardColumns + ` FROM binary_carry_forwards WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	cf, err := scanCarryForward(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get carry-forward by id: %w", err)
	}
	return cf, nil
}

// ActiveForOwner retrieves active records with remaining members, oldest
// carried_forward_date first.
func (s *CarryForwardStore) ActiveForOwner(ctx context.Context, ownerID int64) ([]*domain.CarryForward, error) {
	query := `
		SELECT ` + carryForwardColumns + `
		FROM binary_carry_forwards
		WHERE owner_id = $1 AND is_active = TRUE AND initial_member_count > matched_count
		ORDER BY carried_forward_date ASC, created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get active carry-forwards: %w", err)
	}
	defer rows.Close()

	return scanCarryForwards(rows)
}

// ActiveForOwnerSide retrieves active records for one leg, oldest first.
func (s *CarryForwardStore) ActiveForOwnerSide(ctx context.Context, ownerID int64, side domain.Side) ([]*domain.CarryForward, error) {
	query := `
		SELECT ` + carryForwardColumns + `
		FROM binary_carry_forwards
		WHERE owner_id = $1 AND side = $2 AND is_active = TRUE
			AND initial_member_count > matched_count
		ORDER BY carried_forward_date ASC, created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, ownerID, string(side))
	if err != nil {
		return nil, fmt.Errorf("get active carry-forwards by side: %w", err)
	}
	defer rows.Close()

	return scanCarryForwards(rows)
}

// scanCarryForward scans a single row into a CarryForward.
func scanCarryForward(row pgx.Row) (*domain.CarryForward, error) {
	var cf domain.CarryForward
	var date time.Time
	var side string

	err := row.Scan(
		&cf.ID,
		&cf.OwnerID,
		&date,
		&side,
		&cf.InitialMemberCount,
		&cf.MatchedCount,
		&cf.IsActive,
		&cf.MatchedAt,
		&cf.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cf.CarriedForwardDate = domain.DayOf(date)
	cf.Side = domain.Side(side)
	return &cf, nil
}

// scanCarryForwards scans multiple rows into a slice of CarryForward.
func scanCarryForwards(rows pgx.Rows) ([]*domain.CarryForward, error) {
	var result []*domain.CarryForward

	for rows.Next() {
		cf, err := scanCarryForward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan carry-forward row: %w", err)
		}
		result = append(result, cf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate carry-forward rows: %w", err)
	}

	return result, nil
}
