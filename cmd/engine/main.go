// Package main runs the commission engine end to end on in-memory stores:
// members join under a distributor, activation flips, pairs match under the
// daily limit, surplus carries forward, and the outbox credits wallets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"ev-commission-engine/internal/commission"
	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/engine"
	"ev-commission-engine/internal/ledger"
	"ev-commission-engine/internal/matching"
	"ev-commission-engine/internal/oracle"
	"ev-commission-engine/internal/storage/memory"
	"ev-commission-engine/internal/tree"
)

func main() {
	members := flag.Int("members", 12, "Members to place under the root distributor")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx := context.Background()

	nodes := memory.NewNodeStore()
	pairs := memory.NewPairStore()
	earns := memory.NewEarningStore()
	carries := memory.NewCarryForwardStore()
	ledgerStore := memory.NewLedgerStore()
	outbox := memory.NewOutboxStore()
	commissions := memory.NewCommissionStore(pairs, earns, carries, ledgerStore, outbox)
	audit := memory.NewAuditStore()
	settingsStore := memory.NewSettingsStore()

	elig := oracle.NewStatic()
	notifier := ledger.NewNotifier(audit, logger)

	matcher := matching.NewEngine(matching.EngineOptions{
		Nodes:       nodes,
		Pairs:       pairs,
		Carries:     carries,
		Commissions: commissions,
		Oracle:      elig,
		Notifier:    notifier,
		Logger:      logger,
	})
	processor := commission.NewProcessor(commission.ProcessorOptions{
		Nodes:       nodes,
		Ledger:      ledgerStore,
		Commissions: commissions,
		Oracle:      elig,
		Notifier:    notifier,
		Logger:      logger,
	})
	consumer := ledger.NewConsumer(ledger.ConsumerOptions{
		Outbox:   outbox,
		Pairs:    pairs,
		Gateway:  ledger.NewGateway(ledgerStore, logger),
		Notifier: notifier,
		Logger:   logger,
	})

	eng := engine.New(engine.Options{
		Nodes:     nodes,
		Settings:  settingsStore,
		Placement: tree.NewEngine(nodes, logger),
		Processor: processor,
		Matcher:   matcher,
		Consumer:  consumer,
		Logger:    logger,
	})

	const rootID int64 = 1
	elig.SetDistributor(rootID, true)
	elig.SetActiveBuyer(rootID, true)

	now := time.Now().UTC()
	fmt.Printf("=== Commission Engine Demo ===\n")
	fmt.Printf("Placing %d members under distributor %d\n\n", *members, rootID)

	for i := 0; i < *members; i++ {
		userID := rootID + int64(i) + 1
		elig.SetActivationPayment(userID, true)

		_, err := eng.HandleUserPlaced(ctx, domain.UserPlaced{
			NewUserID:  userID,
			ReferrerID: rootID,
			OccurredAt: now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "place user %d: %v\n", userID, err)
			os.Exit(1)
		}
	}

	if err := eng.Sweep(ctx, []int64{rootID}, now.Add(time.Hour)); err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}

	root, err := nodes.GetByUser(ctx, rootID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load root: %v\n", err)
		os.Exit(1)
	}
	matched, _ := pairs.GetByOwner(ctx, rootID)
	wallet, _ := ledgerStore.Balance(ctx, rootID, domain.AccountWallet)
	booking, _ := ledgerStore.Balance(ctx, rootID, domain.AccountBooking)

	fmt.Printf("Distributor %d:\n", rootID)
	fmt.Printf("  activated:       %v\n", root.BinaryCommissionActivated)
	fmt.Printf("  direct children: %d\n", root.DirectChildrenCount)
	fmt.Printf("  left/right:      %d/%d\n", root.LeftCount, root.RightCount)
	fmt.Printf("  pairs matched:   %d\n", len(matched))
	fmt.Printf("  wallet balance:  %s\n", wallet.String())
	fmt.Printf("  booking balance: %s\n", booking.String())
}
