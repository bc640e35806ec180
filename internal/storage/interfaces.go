package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ev-commission-engine/internal/domain"
)

// NodeStore provides access to binary_nodes storage.
type NodeStore interface {
	// Insert adds a detached or root node. Returns ErrDuplicateKey if the
	// user already has a node or the (parent, side) slot is taken.
	Insert(ctx context.Context, n *domain.Node) error

	// GetByUser retrieves a node by user ID. Returns ErrNotFound if none.
	GetByUser(ctx context.Context, userID int64) (*domain.Node, error)

	// GetChild retrieves the child occupying (parent, side).
	// Returns ErrNotFound when the slot is empty.
	GetChild(ctx context.Context, parentID int64, side domain.Side) (*domain.Node, error)

	// GetChildren retrieves both children of parent, left before right.
	GetChildren(ctx context.Context, parentID int64) ([]*domain.Node, error)

	// GetReferred retrieves the nodes sponsored by referrerID, in placement
	// order (created_at ASC).
	GetReferred(ctx context.Context, referrerID int64) ([]*domain.Node, error)

	// AncestorChain retrieves the node's ancestors in one batched fetch,
	// ordered bottom-up: parent first, root last. Excludes the node itself.
	AncestorChain(ctx context.Context, userID int64) ([]*domain.Node, error)

	// Subtree retrieves the node and all its descendants.
	Subtree(ctx context.Context, userID int64) ([]*domain.Node, error)

	// Attach inserts the node, increments its referrer's direct-children
	// count, and applies the ancestor count deltas, all atomically.
	// Returns the referrer's direct-children count prior to the increment,
	// ErrDuplicateKey if the slot is occupied.
	Attach(ctx context.Context, n *domain.Node, deltas []domain.SideDelta) (directChildrenBefore int, err error)

	// Reparent applies a validated move atomically: new parent/side, level
	// updates for the moved subtree, count deltas for both ancestor chains.
	Reparent(ctx context.Context, move *domain.TreeMove) error

	// ListActivated returns the user IDs of all activated nodes, ascending.
	// This is the default owner set for matching sweeps.
	ListActivated(ctx context.Context) ([]int64, error)

	// SetActivated flips binary_commission_activated to true and records
	// the timestamp, guarded so the transition happens at most once.
	// Returns true only for the invocation that performed the flip.
	SetActivated(ctx context.Context, userID int64, at time.Time) (bool, error)
}

// PairStore provides access to binary_pairs storage.
type PairStore interface {
	// GetByID retrieves a pair. Returns ErrNotFound if none.
	GetByID(ctx context.Context, pairID string) (*domain.Pair, error)

	// GetByOwner retrieves all pairs for an owner ordered by matched_at ASC.
	GetByOwner(ctx context.Context, ownerID int64) ([]*domain.Pair, error)

	// CountForDay counts numbered pairs for an owner on one pair_date.
	CountForDay(ctx context.Context, ownerID int64, day domain.Day) (int, error)

	// CountAfterActivation counts the owner's all-time numbered pairs.
	CountAfterActivation(ctx context.Context, ownerID int64) (int, error)

	// CountPaidUnblocked counts numbered pairs that were not blocked.
	CountPaidUnblocked(ctx context.Context, ownerID int64) (int, error)

	// CountConsumingSide counts pairs that consumed one member from the
	// given leg, i.e. every numbered pair (fresh or carry-forward).
	CountConsumingSide(ctx context.Context, ownerID int64, side domain.Side) (int, error)

	// MarkProcessed transitions a pair Matched to Processed. Idempotent:
	// a pair already processed is left untouched.
	MarkProcessed(ctx context.Context, pairID string, at time.Time) error
}

// CarryForwardStore provides access to binary_carry_forwards storage.
type CarryForwardStore interface {
	// GetByID retrieves a carry-forward record. Returns ErrNotFound if none.
	GetByID(ctx context.Context, id string) (*domain.CarryForward, error)

	// ActiveForOwner retrieves active records with remaining members,
	// oldest carried_forward_date first.
	ActiveForOwner(ctx context.Context, ownerID int64) ([]*domain.CarryForward, error)

	// ActiveForOwnerSide retrieves active records for one leg, oldest first.
	ActiveForOwnerSide(ctx context.Context, ownerID int64, side domain.Side) ([]*domain.CarryForward, error)
}

// EarningStore provides access to binary_earnings storage.
type EarningStore interface {
	// GetByOwner retrieves earnings ordered by pair_number ASC.
	GetByOwner(ctx context.Context, ownerID int64) ([]*domain.Earning, error)
}

// LedgerStore provides access to ledger_entries storage.
type LedgerStore interface {
	// Insert adds an entry. Returns ErrDuplicateKey when the idempotency
	// key (user, type, reference_type, reference_id) already exists, and
	// ErrMissingReference when the target account no longer exists.
	Insert(ctx context.Context, e *domain.LedgerEntry) error

	// Exists reports whether an entry with the idempotency key exists.
	Exists(ctx context.Context, userID int64, entryType domain.EntryType, refType, refID string) (bool, error)

	// GetByUser retrieves a user's entries ordered by created_at ASC.
	GetByUser(ctx context.Context, userID int64) ([]*domain.LedgerEntry, error)

	// Balance returns the signed sum of a user's entries on one account.
	Balance(ctx context.Context, userID int64, account domain.Account) (decimal.Decimal, error)
}

// OutboxStore provides access to pending_credits storage.
type OutboxStore interface {
	// ListPending retrieves pending credits oldest first, up to limit.
	ListPending(ctx context.Context, limit int) ([]*domain.PendingCredit, error)

	// GetByPair retrieves the credit enqueued for a pair.
	GetByPair(ctx context.Context, pairID string) (*domain.PendingCredit, error)

	// MarkApplied transitions a credit to applied. Idempotent.
	MarkApplied(ctx context.Context, id string, at time.Time) error

	// RecordAttempt increments the attempt counter and stores the error.
	RecordAttempt(ctx context.Context, id string, lastError string) error
}

// CommissionStore persists the engine's atomic aggregates. Both writes are
// all-or-nothing; the Postgres implementation wraps them in one transaction
// holding a row lock on the owner's node.
type CommissionStore interface {
	// ApplyPairMatch persists a pair, its earning record, booking-balance
	// deductions, the outbox credit, and the carry-forward mutation.
	// Returns ErrDuplicateKey if the pair number was concurrently taken.
	ApplyPairMatch(ctx context.Context, m *domain.PairMatch) error

	// ApplyDirectCommission persists the wallet credit and booking TDS for
	// one direct referral. The existence check and the insert happen in the
	// same transaction; a repeat invocation returns ErrDuplicateKey and
	// writes nothing.
	ApplyDirectCommission(ctx context.Context, dc *domain.DirectCommission) error

	// RecordCarryForward creates a carry-forward record, or extends the
	// existing one for the same (owner, date, side).
	RecordCarryForward(ctx context.Context, cf *domain.CarryForward) error
}

// AuditStore writes the append-only commission analytics feed.
type AuditStore interface {
	// InsertBulk appends audit events. Best-effort; rows are never updated.
	InsertBulk(ctx context.Context, events []*domain.CommissionAudit) error

	// GetByUser retrieves a user's audit events ordered by event_time ASC.
	GetByUser(ctx context.Context, userID int64) ([]*domain.CommissionAudit, error)
}

// SettingsStore reads the platform settings snapshot.
type SettingsStore interface {
	// Get returns the current settings. Returns defaults if none stored.
	Get(ctx context.Context) (domain.Settings, error)
}
