package postgres

import (
	"context"
	"fmt"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// EarningStore implements storage.EarningStore using PostgreSQL.
type EarningStore struct {
	pool *Pool
}

// NewEarningStore creates a new EarningStore.
func NewEarningStore(pool *Pool) *EarningStore {
	return &EarningStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EarningStore = (*EarningStore)(nil)

// GetByOwner retrieves earnings ordered by pair_number ASC.
func (s *EarningStore) GetByOwner(ctx context.Context, ownerID int64) ([]*domain.Earning, error) {
	query := `
		SELECT id, owner_id, pair_id, amount, pair_number, extra_deducted,
			net_amount, created_at
		FROM binary_earnings
		WHERE owner_id = $1
		ORDER BY pair_number ASC
	`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get earnings by owner: %w", err)
	}
	defer rows.Close()

	var earnings []*domain.Earning
	for rows.Next() {
		var e domain.Earning
		err := rows.Scan(
			&e.ID,
			&e.OwnerID,
			&e.PairID,
			&e.Amount,
			&e.PairNumber,
			&e.ExtraDeducted,
			&e.NetAmount,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan earning row: %w", err)
		}
		earnings = append(earnings, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate earning rows: %w", err)
	}

	return earnings, nil
}
