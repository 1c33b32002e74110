// Command activate-subscription repairs a missed checkout webhook: it lists
// recent completed Stripe checkout sessions and activates a chosen one on
// the matching account.
//
// Usage:
//
//	activate-subscription            # list recent completed sessions
//	activate-subscription -session cs_xxx [-yes]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/billing"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/logging"
	"github.com/google/uuid"
)

func main() {
	sessionID := flag.String("session", "", "checkout session id to activate")
	limit := flag.Int("limit", 10, "how many recent sessions to list")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	logging.Setup()
	cfg := config.Load()

	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	stripe := billing.NewStripeClient(cfg)
	accounts := identity.NewService(database.DB)
	quota := ledger.New(database.DB, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sessions, err := stripe.ListCompletedCheckouts(ctx, *limit)
	if err != nil {
		slog.Error("failed to list checkout sessions", "error", err)
		os.Exit(1)
	}

	var subscriptionSessions []billing.CheckoutSession
	for _, s := range sessions {
		if s.Mode == "subscription" && s.Subscription != "" {
			subscriptionSessions = append(subscriptionSessions, s)
		}
	}
	if len(subscriptionSessions) == 0 {
		fmt.Println("No completed subscription checkout sessions found.")
		return
	}

	if *sessionID == "" {
		fmt.Printf("Found %d completed subscription session(s):\n\n", len(subscriptionSessions))
		for _, s := range subscriptionSessions {
			fmt.Printf("  session=%s  account=%s  customer=%s  created=%s\n",
				s.ID, s.Metadata["account_id"], s.Customer,
				time.Unix(s.Created, 0).UTC().Format(time.RFC3339))
		}
		fmt.Println("\nRe-run with -session <id> to activate one.")
		return
	}

	var session *billing.CheckoutSession
	for i := range subscriptionSessions {
		if subscriptionSessions[i].ID == *sessionID {
			session = &subscriptionSessions[i]
			break
		}
	}
	if session == nil {
		slog.Error("session not found among recent completed sessions", "session_id", *sessionID)
		os.Exit(1)
	}

	sub, err := stripe.GetSubscription(ctx, session.Subscription)
	if err != nil {
		slog.Error("failed to fetch subscription", "subscription_id", session.Subscription, "error", err)
		os.Exit(1)
	}
	periodEnd, err := sub.PeriodEnd()
	if err != nil {
		slog.Error("subscription has no period end", "subscription_id", sub.ID, "error", err)
		os.Exit(1)
	}

	accountID, err := resolveAccount(accounts, session)
	if err != nil {
		slog.Error("could not resolve account for session", "session_id", session.ID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Activating subscription:\n")
	fmt.Printf("  account:         %s\n", accountID)
	fmt.Printf("  subscription_id: %s\n", session.Subscription)
	fmt.Printf("  customer_id:     %s\n", session.Customer)
	fmt.Printf("  period_end:      %s\n", periodEnd.Format(time.RFC3339))

	if !*yes {
		fmt.Print("\nProceed? [y/N]: ")
		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return
		}
	}

	if err := quota.Activate(accountID, session.Subscription, session.Customer, periodEnd); err != nil {
		slog.Error("activation failed", "account_id", accountID, "error", err)
		os.Exit(1)
	}
	fmt.Println("Subscription activated.")
}

func resolveAccount(accounts *identity.Service, session *billing.CheckoutSession) (uuid.UUID, error) {
	if raw := session.Metadata["account_id"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("bad account_id metadata %q: %w", raw, err)
		}
		if _, err := accounts.ByID(id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}
	acc, err := accounts.ByStripeCustomer(session.Customer)
	if err != nil {
		return uuid.Nil, err
	}
	return acc.ID, nil
}
