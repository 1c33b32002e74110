// Package billing consumes payment-processor lifecycle events and keeps the
// quota ledger in sync with them.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMalformedEvent marks a payload the reconciler could not interpret. The
// processor gets a 4xx and will not retry.
var ErrMalformedEvent = errors.New("malformed payment event")

// SubscriptionFetcher is the slice of the Stripe client the reconciler needs.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// Reconciler applies payment lifecycle events to the ledger, exactly once
// per event id. Events arrive at least once; the idempotency marker and the
// ledger mutation commit in one transaction, so a replay is either fully
// applied or fully skipped.
type Reconciler struct {
	db            *gorm.DB
	ledger        *ledger.Ledger
	accounts      *identity.Service
	stripe        SubscriptionFetcher
	webhookSecret string
	addonPackSize int
	now           func() time.Time
}

func NewReconciler(db *gorm.DB, lg *ledger.Ledger, accounts *identity.Service, stripe SubscriptionFetcher, cfg *config.Config) *Reconciler {
	return &Reconciler{
		db:            db,
		ledger:        lg,
		accounts:      accounts,
		stripe:        stripe,
		webhookSecret: cfg.StripeWebhookSecret,
		addonPackSize: cfg.AddonPackSize,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type invoiceObject struct {
	Subscription string `json:"subscription"`
}

// HandleEvent verifies, deduplicates and applies one webhook delivery.
// A nil return means the delivery is acknowledged, including replays and
// event kinds this service does not act on.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, sigHeader string) error {
	if err := verifySignature(payload, sigHeader, r.webhookSecret, r.now()); err != nil {
		return err
	}

	var event eventEnvelope
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.ID == "" || event.Type == "" {
		return fmt.Errorf("%w: missing event id or type", ErrMalformedEvent)
	}

	accountID, apply, err := r.plan(ctx, &event)
	if err != nil {
		return err
	}
	if apply == nil {
		slog.Info("payment event ignored", "event_id", event.ID, "event_type", event.Type)
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ProcessedPaymentEvent{
			EventID:    event.ID,
			Type:       event.Type,
			AccountID:  &accountID,
			ReceivedAt: r.now(),
		})
		if res.Error != nil {
			return fmt.Errorf("record payment event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			slog.Info("duplicate payment event acknowledged", "event_id", event.ID, "event_type", event.Type)
			return nil
		}

		if err := apply(r.ledger.WithTx(tx)); err != nil {
			return fmt.Errorf("apply payment event %s: %w", event.ID, err)
		}
		slog.Info("payment event applied", "event_id", event.ID, "event_type", event.Type, "account_id", accountID)
		return nil
	})
}

// plan resolves an event into the account it concerns and the ledger
// mutation to run. Network lookups happen here, before the transaction. A
// nil apply func means the event is acknowledged without state change.
func (r *Reconciler) plan(ctx context.Context, event *eventEnvelope) (uuid.UUID, func(*ledger.Ledger) error, error) {
	switch event.Type {
	case "checkout.session.completed":
		return r.planCheckout(ctx, event)
	case "invoice.paid":
		return r.planRenewal(ctx, event)
	case "customer.subscription.updated":
		return r.planSubscriptionUpdate(event)
	case "customer.subscription.deleted":
		return r.planSubscriptionDeleted(event)
	default:
		return uuid.Nil, nil, nil
	}
}

func (r *Reconciler) planCheckout(ctx context.Context, event *eventEnvelope) (uuid.UUID, func(*ledger.Ledger) error, error) {
	var session CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
	}

	accountID, err := r.resolveAccount(session.Metadata, session.Subscription, session.Customer)
	if err != nil {
		slog.Error("checkout session has no resolvable account", "event_id", event.ID, "session_id", session.ID, "error", err)
		return uuid.Nil, nil, nil
	}

	if session.Mode == "subscription" && session.Subscription != "" {
		sub, err := r.stripe.GetSubscription(ctx, session.Subscription)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("fetch subscription %s: %w", session.Subscription, err)
		}
		periodEnd, err := sub.PeriodEnd()
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return accountID, func(lg *ledger.Ledger) error {
			return lg.Activate(accountID, session.Subscription, session.Customer, periodEnd)
		}, nil
	}

	if session.Metadata["type"] == "addon" {
		n := r.addonPackSize
		return accountID, func(lg *ledger.Ledger) error {
			return lg.AddCredits(accountID, n)
		}, nil
	}

	slog.Warn("checkout session is neither subscription nor addon", "event_id", event.ID, "mode", session.Mode)
	return uuid.Nil, nil, nil
}

func (r *Reconciler) planRenewal(ctx context.Context, event *eventEnvelope) (uuid.UUID, func(*ledger.Ledger) error, error) {
	var invoice invoiceObject
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: invoice: %v", ErrMalformedEvent, err)
	}
	if invoice.Subscription == "" {
		return uuid.Nil, nil, nil
	}

	sub, err := r.stripe.GetSubscription(ctx, invoice.Subscription)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("fetch subscription %s: %w", invoice.Subscription, err)
	}
	periodEnd, err := sub.PeriodEnd()
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	accountID, err := r.resolveAccount(sub.Metadata, sub.ID, sub.Customer)
	if err != nil {
		slog.Error("renewal invoice has no resolvable account", "event_id", event.ID, "subscription_id", sub.ID, "error", err)
		return uuid.Nil, nil, nil
	}

	return accountID, func(lg *ledger.Ledger) error {
		return lg.ApplyRenewal(accountID, periodEnd)
	}, nil
}

func (r *Reconciler) planSubscriptionUpdate(event *eventEnvelope) (uuid.UUID, func(*ledger.Ledger) error, error) {
	var sub Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: subscription: %v", ErrMalformedEvent, err)
	}

	accountID, err := r.resolveAccount(sub.Metadata, sub.ID, sub.Customer)
	if err != nil {
		slog.Error("subscription update has no resolvable account", "event_id", event.ID, "subscription_id", sub.ID, "error", err)
		return uuid.Nil, nil, nil
	}

	switch sub.Status {
	case "active", "trialing":
		periodEnd, err := sub.PeriodEnd()
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return accountID, func(lg *ledger.Ledger) error {
			return lg.UpdatePeriod(accountID, models.TierActive, periodEnd)
		}, nil
	case "canceled":
		return accountID, func(lg *ledger.Ledger) error {
			return lg.MarkCancelled(accountID)
		}, nil
	case "incomplete", "past_due", "unpaid":
		// The processor is still retrying payment. Cutting the user off
		// here would end a grace period Stripe itself grants.
		slog.Warn("ignoring transient subscription status", "event_id", event.ID, "status", sub.Status, "account_id", accountID)
		return uuid.Nil, nil, nil
	case "incomplete_expired":
		return accountID, func(lg *ledger.Ledger) error {
			return lg.ApplyCancellationTerminal(accountID)
		}, nil
	default:
		slog.Warn("unknown subscription status", "event_id", event.ID, "status", sub.Status)
		return uuid.Nil, nil, nil
	}
}

func (r *Reconciler) planSubscriptionDeleted(event *eventEnvelope) (uuid.UUID, func(*ledger.Ledger) error, error) {
	var sub Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: subscription: %v", ErrMalformedEvent, err)
	}

	accountID, err := r.resolveAccount(sub.Metadata, sub.ID, sub.Customer)
	if err != nil {
		slog.Error("subscription deletion has no resolvable account", "event_id", event.ID, "subscription_id", sub.ID, "error", err)
		return uuid.Nil, nil, nil
	}

	return accountID, func(lg *ledger.Ledger) error {
		return lg.ApplyCancellationTerminal(accountID)
	}, nil
}

// resolveAccount finds the account an event concerns: the account id planted
// in checkout metadata first, then the processor's subscription and customer
// references.
func (r *Reconciler) resolveAccount(metadata map[string]string, subscriptionID, customerID string) (uuid.UUID, error) {
	if raw := metadata["account_id"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("bad account_id metadata %q: %w", raw, err)
		}
		if _, err := r.accounts.ByID(id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}
	if acc, err := r.accounts.BySubscription(subscriptionID); err == nil {
		return acc.ID, nil
	}
	if acc, err := r.accounts.ByStripeCustomer(customerID); err == nil {
		return acc.ID, nil
	}
	return uuid.Nil, identity.ErrAccountNotFound
}
