package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account distinguishes the spendable earnings wallet from the booking
// balance tied to the user's own purchase. TDS and extra deductions are
// always withheld on the booking account, never the wallet.
type Account string

// Account constants.
const (
	AccountWallet  Account = "wallet"
	AccountBooking Account = "booking"
)

// EntryType classifies a ledger entry.
type EntryType string

// Entry type constants.
const (
	EntryDirectUserCommission EntryType = "DIRECT_USER_COMMISSION"
	EntryBinaryPairCommission EntryType = "BINARY_PAIR_COMMISSION"
	EntryTDSDeduction         EntryType = "TDS_DEDUCTION"
	EntryExtraDeduction       EntryType = "EXTRA_DEDUCTION"
)

// Reference type constants for ledger entries.
const (
	RefTypeUser = "user"
	RefTypePair = "binary_pair"
)

// LedgerEntry is one signed balance mutation. The tuple
// (UserID, EntryType, ReferenceType, ReferenceID) is unique in storage;
// that key is the idempotency guarantee for every commission payment.
type LedgerEntry struct {
	ID      string // uuid
	UserID  int64
	Account Account
	Type    EntryType

	Amount decimal.Decimal // signed; deductions are negative

	ReferenceType string
	ReferenceID   string
	Description   string

	CreatedAt time.Time
}

// CreditStatus is the lifecycle state of an outbox credit instruction.
type CreditStatus string

// Credit status constants.
const (
	CreditPending CreditStatus = "pending"
	CreditApplied CreditStatus = "applied"
)

// PendingCredit is a durable outbox row: an idempotent wallet-credit
// instruction keyed by the pair that earned it. It is written in the same
// transaction as the pair and applied later by the outbox consumer, which
// tolerates at-least-once delivery.
type PendingCredit struct {
	ID     string // uuid
	UserID int64
	PairID string

	Amount decimal.Decimal

	Status    CreditStatus
	Attempts  int
	LastError string

	CreatedAt time.Time
	AppliedAt *time.Time
}

// CommissionPaid is the outbound notification emitted for audit and
// compliance collaborators after a commission reaches the wallet.
type CommissionPaid struct {
	UserID      int64
	Type        EntryType
	Amount      decimal.Decimal
	ReferenceID string
	PaidAt      time.Time
}

// CommissionAudit is one row of the append-only analytics feed. Blocked
// events carry a zero amount; the ledger remains the source of truth.
type CommissionAudit struct {
	EventTime   time.Time
	UserID      int64
	EntryType   EntryType
	Amount      decimal.Decimal
	ReferenceID string
	Blocked     bool
}
