package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// CommissionStore implements storage.CommissionStore using PostgreSQL.
// Each aggregate is applied in a single transaction that first locks the
// owner's node row, which serializes matching per owner at the database
// even if an engine-level lock is bypassed.
type CommissionStore struct {
	pool *Pool
}

// NewCommissionStore creates a new CommissionStore.
func NewCommissionStore(pool *Pool) *CommissionStore {
	return &CommissionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CommissionStore = (*CommissionStore)(nil)

// ApplyPairMatch persists a pair, its earning record, booking deductions,
// the outbox credit, and the carry-forward mutation atomically.
func (s *CommissionStore) ApplyPairMatch(ctx context.Context, m *domain.PairMatch) error {
	if m == nil || m.Pair == nil || m.Earning == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin pair match: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOwnerNode(ctx, tx, m.Pair.OwnerID); err != nil {
		return err
	}

	p := m.Pair
	var pairNumber *int
	if p.PairNumberAfterActivation > 0 {
		pairNumber = &p.PairNumberAfterActivation
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO binary_pairs (
			pair_id, owner_id, left_user_id, right_user_id, pair_amount,
			earning_amount, status, matched_at, processed_at, pair_date,
			pair_month, pair_year, pair_number_after_activation,
			is_carry_forward_pair, carry_forward_id, extra_deduction_applied,
			commission_blocked, blocked_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19)
	`,
		p.PairID, p.OwnerID, p.LeftUserID, p.RightUserID, p.PairAmount,
		p.EarningAmount, string(p.Status), p.MatchedAt, p.ProcessedAt,
		string(p.PairDate), p.PairMonth, p.PairYear, pairNumber,
		p.IsCarryForwardPair, p.CarryForwardID, p.ExtraDeductionApplied,
		p.CommissionBlocked, p.BlockedReason, p.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pair: %w", err)
	}

	e := m.Earning
	_, err = tx.Exec(ctx, `
		INSERT INTO binary_earnings (
			id, owner_id, pair_id, amount, pair_number, extra_deducted,
			net_amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		e.ID, e.OwnerID, e.PairID, e.Amount, e.PairNumber,
		e.ExtraDeducted, e.NetAmount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert earning: %w", err)
	}

	for _, d := range m.Deductions {
		if err := insertLedgerEntry(ctx, tx, d); err != nil {
			return err
		}
	}

	if c := m.Credit; c != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO pending_credits (
				id, user_id, pair_id, amount, status, attempts, last_error,
				created_at, applied_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			c.ID, c.UserID, c.PairID, c.Amount, string(c.Status),
			c.Attempts, c.LastError, c.CreatedAt, c.AppliedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("enqueue credit: %w", err)
		}
	}

	if cf := m.CarryForward; cf != nil {
		if cf.ConsumedID != "" {
			tag, err := tx.Exec(ctx, `
				UPDATE binary_carry_forwards
				SET matched_count = matched_count + 1,
					matched_at = $2,
					is_active = CASE WHEN $3 THEN FALSE ELSE is_active END
				WHERE id = $1
			`, cf.ConsumedID, p.MatchedAt, cf.Deactivate)
			if err != nil {
				return fmt.Errorf("consume carry-forward: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("consume carry-forward %s: %w", cf.ConsumedID, storage.ErrNotFound)
			}
		}
		if cf.Created != nil {
			if err := upsertCarryForward(ctx, tx, cf.Created); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit pair match: %w", err)
	}
	return nil
}

// ApplyDirectCommission inserts the wallet credit and booking TDS in one
// transaction. The ledger unique key makes the existence check and the
// insert a single atomic step; a duplicate writes nothing.
func (s *CommissionStore) ApplyDirectCommission(ctx context.Context, dc *domain.DirectCommission) error {
	if dc == nil || dc.Credit == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin direct commission: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertLedgerEntry(ctx, tx, dc.Credit); err != nil {
		return err
	}
	if dc.TDS != nil {
		if err := insertLedgerEntry(ctx, tx, dc.TDS); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit direct commission: %w", err)
	}
	return nil
}

// RecordCarryForward creates or extends a carry-forward record standalone.
func (s *CommissionStore) RecordCarryForward(ctx context.Context, cf *domain.CarryForward) error {
	if cf == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin carry-forward: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOwnerNode(ctx, tx, cf.OwnerID); err != nil {
		return err
	}
	if err := upsertCarryForward(ctx, tx, cf); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit carry-forward: %w", err)
	}
	return nil
}

// lockOwnerNode takes the per-owner row lock that serializes matching.
func lockOwnerNode(ctx context.Context, tx pgx.Tx, ownerID int64) error {
	var id int64
	err := tx.QueryRow(ctx,
		`SELECT user_id FROM binary_nodes WHERE user_id = $1 FOR UPDATE`, ownerID,
	).Scan(&id)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock owner node: %w", err)
	}
	return nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, user_id, account, entry_type, amount, reference_type,
			reference_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID, e.UserID, string(e.Account), string(e.Type), e.Amount,
		e.ReferenceType, e.ReferenceID, e.Description, e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return storage.ErrMissingReference
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// upsertCarryForward extends the (owner, date, side) record if present,
// otherwise inserts a new one.
func upsertCarryForward(ctx context.Context, tx pgx.Tx, cf *domain.CarryForward) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO binary_carry_forwards (
			id, owner_id, carried_forward_date, side, initial_member_count,
			matched_count, is_active, matched_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id, carried_forward_date, side) DO UPDATE
		SET initial_member_count =
				binary_carry_forwards.initial_member_count + EXCLUDED.initial_member_count,
			is_active = TRUE
	`,
		cf.ID, cf.OwnerID, string(cf.CarriedForwardDate), string(cf.Side),
		cf.InitialMemberCount, cf.MatchedCount, cf.IsActive, cf.MatchedAt,
		cf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert carry-forward: %w", err)
	}
	return nil
}
