package domain

// Placement is the result of one tree insertion: the new node, the parent
// it attached to, the referrer who sponsored it, and the referrer's
// direct-children count captured before the attach incremented it. The
// commission processor needs the before value to decide both the direct
// commission and the activation flip.
type Placement struct {
	Node     *Node
	Parent   *Node
	Referrer *Node

	DirectChildrenBefore int
}

// CarryForwardUpdate describes the carry-forward side effect of one pair
// match: either consume one member from an existing record (ConsumedID set,
// Deactivate when it empties) or create/extend a record for new surplus.
type CarryForwardUpdate struct {
	ConsumedID string
	Deactivate bool

	Created *CarryForward
}

// PairMatch is the atomic unit persisted for one matching step: the pair,
// its earning record, booking-balance deductions, the outbox credit, and
// any carry-forward mutation. Stores apply all of it in one transaction.
type PairMatch struct {
	Pair    *Pair
	Earning *Earning

	// Deductions are booking-account ledger entries (TDS, extra). Empty for
	// blocked pairs.
	Deductions []*LedgerEntry

	// Credit is the pending wallet credit enqueued to the outbox. Nil for
	// blocked pairs.
	Credit *PendingCredit

	CarryForward *CarryForwardUpdate
}

// DirectCommission is the atomic unit for one direct-referral payment: the
// net wallet credit and the TDS withheld on the booking balance, both
// referencing the new user. The store inserts both or neither, and reports
// a duplicate when the credit already exists.
type DirectCommission struct {
	Credit *LedgerEntry // wallet, net of TDS
	TDS    *LedgerEntry // booking, negative
}
