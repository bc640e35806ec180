package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
	"ev-commission-engine/internal/storage/memory"
)

// flakyLedger wraps the memory store and fails the first failures inserts.
type flakyLedger struct {
	*memory.LedgerStore
	failures int
	failWith error
	calls    int
}

func (f *flakyLedger) Insert(ctx context.Context, e *domain.LedgerEntry) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return f.failWith
	}
	return f.LedgerStore.Insert(ctx, e)
}

type consumerFixture struct {
	pairs       *memory.PairStore
	outbox      *memory.OutboxStore
	ledger      *flakyLedger
	commissions *memory.CommissionStore
	audit       *memory.AuditStore
	consumer    *Consumer
}

func newConsumerFixture(retryer *Retryer) *consumerFixture {
	pairs := memory.NewPairStore()
	outbox := memory.NewOutboxStore()
	ledgerStore := &flakyLedger{LedgerStore: memory.NewLedgerStore()}
	audit := memory.NewAuditStore()

	f := &consumerFixture{
		pairs:  pairs,
		outbox: outbox,
		ledger: ledgerStore,
		audit:  audit,
		commissions: memory.NewCommissionStore(
			pairs, memory.NewEarningStore(), memory.NewCarryForwardStore(),
			ledgerStore.LedgerStore, outbox),
	}
	f.consumer = NewConsumer(ConsumerOptions{
		Outbox:   outbox,
		Pairs:    pairs,
		Gateway:  NewGateway(ledgerStore, nil),
		Notifier: NewNotifier(audit, nil),
		Retryer:  retryer,
	})
	return f
}

// seedPair enqueues one matched pair with a pending credit.
func (f *consumerFixture) seedPair(t *testing.T, ownerID int64, number int, net decimal.Decimal, at time.Time) string {
	t.Helper()
	pairID := fmt.Sprintf("pair-%d-%d", ownerID, number)
	match := &domain.PairMatch{
		Pair: &domain.Pair{
			PairID:                    pairID,
			OwnerID:                   ownerID,
			PairAmount:                decimal.NewFromInt(2000),
			EarningAmount:             net,
			Status:                    domain.PairStatusMatched,
			MatchedAt:                 at,
			PairDate:                  domain.DayOf(at),
			PairNumberAfterActivation: number,
			CreatedAt:                 at,
		},
		Earning: &domain.Earning{
			ID:         pairID + "-earning",
			OwnerID:    ownerID,
			PairID:     pairID,
			Amount:     decimal.NewFromInt(2000),
			PairNumber: number,
			NetAmount:  net,
			CreatedAt:  at,
		},
		Credit: &domain.PendingCredit{
			ID:        pairID + "-credit",
			UserID:    ownerID,
			PairID:    pairID,
			Amount:    net,
			Status:    domain.CreditPending,
			CreatedAt: at,
		},
	}
	if err := f.commissions.ApplyPairMatch(context.Background(), match); err != nil {
		t.Fatalf("seed pair %s: %v", pairID, err)
	}
	return pairID
}

func fastRetryer(maxAttempts int) *Retryer {
	return NewRetryer(RetryConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2.0,
		Name:        "test",
	}, []error{ErrInsufficientExternalState}, nil)
}

func TestDrain_AppliesPendingCredits(t *testing.T) {
	f := newConsumerFixture(fastRetryer(3))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	net := decimal.NewFromInt(1600)

	for i := 1; i <= 3; i++ {
		f.seedPair(t, 1, i, net, now.Add(time.Duration(i)*time.Second))
	}

	applied, err := f.consumer.Drain(ctx, now)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if applied != 3 {
		t.Errorf("applied = %d, want 3", applied)
	}

	wallet, _ := f.ledger.Balance(ctx, 1, domain.AccountWallet)
	if want := decimal.NewFromInt(4800); !wallet.Equal(want) {
		t.Errorf("wallet = %s, want %s", wallet, want)
	}

	pending, _ := f.outbox.ListPending(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("pending credits after drain = %d, want 0", len(pending))
	}

	// Pairs reach their terminal state.
	for i := 1; i <= 3; i++ {
		p, err := f.pairs.GetByID(ctx, fmt.Sprintf("pair-1-%d", i))
		if err != nil {
			t.Fatalf("load pair: %v", err)
		}
		if p.Status != domain.PairStatusProcessed || p.ProcessedAt == nil {
			t.Errorf("pair %d status = %s, want processed", i, p.Status)
		}
	}

	events, _ := f.audit.GetByUser(ctx, 1)
	if len(events) != 3 {
		t.Errorf("audit events = %d, want 3", len(events))
	}
}

func TestDrain_RedeliveryMovesNoMoney(t *testing.T) {
	f := newConsumerFixture(fastRetryer(3))
	ctx := context.Background()
	now := time.Now().UTC()
	net := decimal.NewFromInt(1600)

	pairID := f.seedPair(t, 1, 1, net, now)

	// Crash scenario: the wallet write survived a previous delivery but the
	// applied mark was lost.
	err := f.ledger.Insert(ctx, &domain.LedgerEntry{
		ID:            "previous-delivery",
		UserID:        1,
		Account:       domain.AccountWallet,
		Type:          domain.EntryBinaryPairCommission,
		Amount:        net,
		ReferenceType: domain.RefTypePair,
		ReferenceID:   pairID,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("pre-insert entry: %v", err)
	}

	applied, err := f.consumer.Drain(ctx, now)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (bookkeeping completes)", applied)
	}

	wallet, _ := f.ledger.Balance(ctx, 1, domain.AccountWallet)
	if !wallet.Equal(net) {
		t.Errorf("wallet = %s, want %s credited exactly once", wallet, net)
	}

	credit, _ := f.outbox.GetByPair(ctx, pairID)
	if credit.Status != domain.CreditApplied {
		t.Errorf("credit status = %s, want applied", credit.Status)
	}
}

func TestDrain_RecordsFailureAndRetriesNextRun(t *testing.T) {
	f := newConsumerFixture(fastRetryer(1))
	ctx := context.Background()
	now := time.Now().UTC()

	pairID := f.seedPair(t, 1, 1, decimal.NewFromInt(1600), now)
	f.ledger.failures = 1
	f.ledger.failWith = errors.New("connection reset")

	applied, err := f.consumer.Drain(ctx, now)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 on failure", applied)
	}

	credit, _ := f.outbox.GetByPair(ctx, pairID)
	if credit.Status != domain.CreditPending {
		t.Errorf("failed credit status = %s, want pending", credit.Status)
	}
	if credit.Attempts != 1 || credit.LastError == "" {
		t.Errorf("attempt not recorded: attempts=%d lastError=%q", credit.Attempts, credit.LastError)
	}

	// The failure cleared; the next drain picks the credit back up.
	applied, err = f.consumer.Drain(ctx, now)
	if err != nil || applied != 1 {
		t.Fatalf("second drain applied = %d, err %v, want 1", applied, err)
	}
}

func TestDrain_DoesNotRetryMissingExternalState(t *testing.T) {
	f := newConsumerFixture(fastRetryer(5))
	ctx := context.Background()
	now := time.Now().UTC()

	f.seedPair(t, 1, 1, decimal.NewFromInt(1600), now)
	f.ledger.failures = 10
	f.ledger.failWith = storage.ErrMissingReference
	f.ledger.calls = 0

	applied, err := f.consumer.Drain(ctx, now)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
	if f.ledger.calls != 1 {
		t.Errorf("insert attempts = %d, want 1 (no retry on missing state)", f.ledger.calls)
	}
}

func TestGateway_Idempotency(t *testing.T) {
	store := memory.NewLedgerStore()
	g := NewGateway(store, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	amount := decimal.NewFromInt(800)

	err := g.CreditWallet(ctx, 1, amount, domain.EntryDirectUserCommission, domain.RefTypeUser, "42", "direct referral", now)
	if err != nil {
		t.Fatalf("first credit failed: %v", err)
	}
	err = g.CreditWallet(ctx, 1, amount, domain.EntryDirectUserCommission, domain.RefTypeUser, "42", "direct referral", now)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("repeat credit error = %v, want ErrAlreadyProcessed", err)
	}

	wallet, _ := store.Balance(ctx, 1, domain.AccountWallet)
	if !wallet.Equal(amount) {
		t.Errorf("wallet = %s, want %s", wallet, amount)
	}
}

func TestGateway_DebitWithholds(t *testing.T) {
	store := memory.NewLedgerStore()
	g := NewGateway(store, nil)
	ctx := context.Background()

	err := g.DebitBookingBalance(ctx, 1, decimal.NewFromInt(400), domain.EntryTDSDeduction, domain.RefTypePair, "p1", "TDS", time.Now().UTC())
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	booking, _ := store.Balance(ctx, 1, domain.AccountBooking)
	if want := decimal.NewFromInt(-400); !booking.Equal(want) {
		t.Errorf("booking = %s, want %s", booking, want)
	}
}

func TestRetryer_RecoversAfterTransientFailures(t *testing.T) {
	r := fastRetryer(4)
	calls := 0

	err := r.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryer_ExhaustsBudget(t *testing.T) {
	r := fastRetryer(3)
	calls := 0
	permanent := errors.New("permanent")

	err := r.Execute(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("error = %v, want wrapped permanent failure", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryer_HonorsContextCancel(t *testing.T) {
	r := fastRetryer(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Execute(ctx, func() error { return errors.New("never retried") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
