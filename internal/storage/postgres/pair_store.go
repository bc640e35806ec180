package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// PairStore implements storage.PairStore using PostgreSQL.
type PairStore struct {
	pool *Pool
}

// NewPairStore creates a new PairStore.
func NewPairStore(pool *Pool) *PairStore {
	return &PairStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PairStore = (*PairStore)(nil)

const pairColumns = `
	pair_id, owner_id, left_user_id, right_user_id, pair_amount,
	earning_amount, status, matched_at, processed_at, pair_date,
	pair_month, pair_year, pair_number_after_activation,
	is_carry_forward_pair, carry_forward_id, extra_deduction_applied,
	commission_blocked, blocked_reason, created_at
`

// GetByID retrieves a pair. Returns ErrNotFound if not exists.
func (s *PairStore) GetByID(ctx context.Context, pairID string) (*domain.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM binary_pairs WHERE pair_id = $1`

	row := s.pool.QueryRow(ctx, query, pairID)
	p, err := scanPair(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pair by id: %w", err)
	}
	return p, nil
}

// GetByOwner retrieves all pairs for an owner ordered by matched_at ASC.
func (s *PairStore) GetByOwner(ctx context.Context, ownerID int64) ([]*domain.Pair, error) {
	query := `
		SELECT ` + pairColumns + `
		FROM binary_pairs
		WHERE owner_id = $1
		ORDER BY matched_at ASC, pair_number_after_activation ASC
	`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get pairs by owner: %w", err)
	}
	defer rows.Close()

	return scanPairs(rows)
}

// CountForDay counts numbered pairs for an owner on one pair_date.
func (s *PairStore) CountForDay(ctx context.Context, ownerID int64, day domain.Day) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM binary_pairs
		WHERE owner_id = $1 AND pair_date = $2 AND pair_number_after_activation IS NOT NULL
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, ownerID, string(day)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pairs for day: %w", err)
	}
	return count, nil
}

// CountAfterActivation counts the owner's all-time numbered pairs.
func (s *PairStore) CountAfterActivation(ctx context.Context, ownerID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM binary_pairs
		WHERE owner_id = $1 AND pair_number_after_activation IS NOT NULL
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pairs after activation: %w", err)
	}
	return count, nil
}

// CountPaidUnblocked counts numbered pairs that were not blocked.
func (s *PairStore) CountPaidUnblocked(ctx context.Context, ownerID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM binary_pairs
		WHERE owner_id = $1 AND pair_number_after_activation IS NOT NULL
			AND commission_blocked = FALSE
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count paid unblocked pairs: %w", err)
	}
	return count, nil
}

// CountConsumingSide counts pairs that consumed one member from a leg.
// Every numbered pair consumes one member per leg, so the side is not a
// filter; the method keeps availability a derived quantity at call sites.
func (s *PairStore) CountConsumingSide(ctx context.Context, ownerID int64, _ domain.Side) (int, error) {
	return s.CountAfterActivation(ctx, ownerID)
}

// MarkProcessed transitions a pair Matched to Processed. Idempotent.
func (s *PairStore) MarkProcessed(ctx context.Context, pairID string, at time.Time) error {
	query := `
		UPDATE binary_pairs
		SET status = $2, processed_at = $3
		WHERE pair_id = $1 AND status <> $2
	`

	tag, err := s.pool.Exec(ctx, query, pairID, string(domain.PairStatusProcessed), at)
	if err != nil {
		return fmt.Errorf("mark pair processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already processed or missing; distinguish for callers.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM binary_pairs WHERE pair_id = $1)`, pairID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("mark pair processed: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
	}
	return nil
}

// scanPair scans a single row into a Pair.
func scanPair(row pgx.Row) (*domain.Pair, error) {
	var p domain.Pair
	var status string
	var pairDate time.Time
	var pairNumber *int

	err := row.Scan(
		&p.PairID,
		&p.OwnerID,
		&p.LeftUserID,
		&p.RightUserID,
		&p.PairAmount,
		&p.EarningAmount,
		&status,
		&p.MatchedAt,
		&p.ProcessedAt,
		&pairDate,
		&p.PairMonth,
		&p.PairYear,
		&pairNumber,
		&p.IsCarryForwardPair,
		&p.CarryForwardID,
		&p.ExtraDeductionApplied,
		&p.CommissionBlocked,
		&p.BlockedReason,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PairStatus(status)
	p.PairDate = domain.DayOf(pairDate)
	if pairNumber != nil {
		p.PairNumberAfterActivation = *pairNumber
	}
	return &p, nil
}

// scanPairs scans multiple rows into a slice of Pair.
func scanPairs(rows pgx.Rows) ([]*domain.Pair, error) {
	var pairs []*domain.Pair

	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pair row: %w", err)
		}
		pairs = append(pairs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pair rows: %w", err)
	}

	return pairs, nil
}
