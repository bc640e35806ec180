package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// OutboxStore implements storage.OutboxStore using PostgreSQL.
type OutboxStore struct {
	pool *Pool
}

// NewOutboxStore creates a new OutboxStore.
func NewOutboxStore(pool *Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutboxStore = (*OutboxStore)(nil)

const creditColumns = `
	id, user_id, pair_id, amount, status, attempts, last_error,
	created_at, applied_at
`

// ListPending retrieves pending credits oldest first, up to limit.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]*domain.PendingCredit, error) {
	query := `
		SELECT ` + creditColumns + `
		FROM pending_credits
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, string(domain.CreditPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending credits: %w", err)
	}
	defer rows.Close()

	return scanCredits(rows)
}

// GetByPair retrieves the credit enqueued for a pair.
func (s *OutboxStore) GetByPair(ctx context.Context, pairID string) (*domain.PendingCredit, error) {
	query := `SELECT ` + creditColumns + ` FROM pending_credits WHERE pair_id = $1`

	row := s.pool.QueryRow(ctx, query, pairID)
	c, err := scanCredit(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get credit by pair: %w", err)
	}
	return c, nil
}

// MarkApplied transitions a credit to applied. Idempotent.
func (s *OutboxStore) MarkApplied(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE pending_credits
		SET status = $2, applied_at = $3
		WHERE id = $1 AND status <> $2
	`

	if _, err := s.pool.Exec(ctx, query, id, string(domain.CreditApplied), at); err != nil {
		return fmt.Errorf("mark credit applied: %w", err)
	}
	return nil
}

// RecordAttempt increments the attempt counter and stores the error.
func (s *OutboxStore) RecordAttempt(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE pending_credits
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, lastError)
	if err != nil {
		return fmt.Errorf("record credit attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanCredit scans a single row into a PendingCredit.
func scanCredit(row pgx.Row) (*domain.PendingCredit, error) {
	var c domain.PendingCredit
	var status string

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.PairID,
		&c.Amount,
		&status,
		&c.Attempts,
		&c.LastError,
		&c.CreatedAt,
		&c.AppliedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.CreditStatus(status)
	return &c, nil
}

// scanCredits scans multiple rows into a slice of PendingCredit.
func scanCredits(rows pgx.Rows) ([]*domain.PendingCredit, error) {
	var credits []*domain.PendingCredit

	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit row: %w", err)
		}
		credits = append(credits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit rows: %w", err)
	}

	return credits, nil
}
