package clickhouse

import (
	"context"
	"fmt"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// AuditStore implements storage.AuditStore using ClickHouse. MergeTree does
// not enforce uniqueness; duplicates from redelivered notifications are
// tolerated since analytics queries aggregate over the ledger key anyway.
type AuditStore struct {
	conn *Conn
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(conn *Conn) *AuditStore {
	return &AuditStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// InsertBulk appends audit events in one batch.
func (s *AuditStore) InsertBulk(ctx context.Context, events []*domain.CommissionAudit) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO commission_audit (
			event_time, user_id, entry_type, amount, reference_id, blocked
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		blocked := uint8(0)
		if e.Blocked {
			blocked = 1
		}
		err = batch.Append(
			e.EventTime, e.UserID, string(e.EntryType),
			e.Amount, e.ReferenceID, blocked,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByUser retrieves a user's audit events, ordered by event_time ASC.
func (s *AuditStore) GetByUser(ctx context.Context, userID int64) ([]*domain.CommissionAudit, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_time, user_id, entry_type, amount, reference_id, blocked
		FROM commission_audit
		WHERE user_id = ?
		ORDER BY event_time ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query audit by user: %w", err)
	}
	defer rows.Close()

	var events []*domain.CommissionAudit
	for rows.Next() {
		var e domain.CommissionAudit
		var entryType string
		var blocked uint8

		if err := rows.Scan(&e.EventTime, &e.UserID, &entryType, &e.Amount, &e.ReferenceID, &blocked); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}

		e.EntryType = domain.EntryType(entryType)
		e.Blocked = blocked == 1
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return events, nil
}
