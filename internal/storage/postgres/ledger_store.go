package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const ledgerColumns = `
	id, user_id, account, entry_type, amount, reference_type,
	reference_id, description, created_at
`

// Insert adds an entry. The unique key on (user_id, entry_type,
// reference_type, reference_id) surfaces duplicates as ErrDuplicateKey.
func (s *LedgerStore) Insert(ctx context.Context, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			id, user_id, account, entry_type, amount, reference_type,
			reference_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.UserID,
		string(e.Account),
		string(e.Type),
		e.Amount,
		e.ReferenceType,
		e.ReferenceID,
		e.Description,
		e.CreatedAt,
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

// Exists reports whether an entry with the idempotency key exists.
func (s *LedgerStore) Exists(ctx context.Context, userID int64, entryType domain.EntryType, refType, refID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE user_id = $1 AND entry_type = $2
				AND reference_type = $3 AND reference_id = $4
		)
	`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, userID, string(entryType), refType, refID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ledger entry exists: %w", err)
	}
	return exists, nil
}

// GetByUser retrieves a user's entries ordered by created_at ASC.
func (s *LedgerStore) GetByUser(ctx context.Context, userID int64) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get ledger entries by user: %w", err)
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// Balance returns the signed sum of a user's entries on one account.
func (s *LedgerStore) Balance(ctx context.Context, userID int64, account domain.Account) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND account = $2
	`

	var balance decimal.Decimal
	if err := s.pool.QueryRow(ctx, query, userID, string(account)).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// scanLedgerEntry scans a single row into a LedgerEntry.
func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var account, entryType string

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&account,
		&entryType,
		&e.Amount,
		&e.ReferenceType,
		&e.ReferenceID,
		&e.Description,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Account = domain.Account(account)
	e.Type = domain.EntryType(entryType)
	return &e, nil
}

// scanLedgerEntries scans multiple rows into a slice of LedgerEntry.
func scanLedgerEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry

	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}

	return entries, nil
}
