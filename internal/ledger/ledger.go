package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Denial reasons carried on AccessDecision.
const (
	ReasonTrialExhausted = "trial_exhausted"
	ReasonQuotaExhausted = "quota_exhausted"
)

var ErrAccountNotFound = errors.New("account not found")

// AccessDecision is the outcome of one admission check. Computed fresh on
// every call and never cached across a decision boundary.
type AccessDecision struct {
	Allowed      bool       `json:"allowed"`
	Unlimited    bool       `json:"unlimited"`
	Trial        bool       `json:"trial"`
	Remaining    *int       `json:"remaining,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	CanSubscribe bool       `json:"can_subscribe"`
	CanBuyAddon  bool       `json:"can_buy_addon"`
	RenewalDate  *time.Time `json:"renewal_date,omitempty"`
}

// Ledger owns the per-account quota counters. Every counter mutation is a
// single conditional UPDATE evaluated by the database, so concurrent debits
// and reconciler writes never read-modify-write the same row.
type Ledger struct {
	db                *gorm.DB
	trialLimit        int
	subscriptionLimit int
	unlimitedEmails   map[string]bool
}

func New(db *gorm.DB, cfg *config.Config) *Ledger {
	unlimited := make(map[string]bool)
	for _, e := range strings.Split(cfg.UnlimitedEmails, ",") {
		if t := strings.ToLower(strings.TrimSpace(e)); t != "" {
			unlimited[t] = true
		}
	}
	return &Ledger{
		db:                db,
		trialLimit:        cfg.TrialLimit,
		subscriptionLimit: cfg.SubscriptionLimit,
		unlimitedEmails:   unlimited,
	}
}

// WithTx returns a ledger bound to the given transaction, so callers can
// make a counter mutation atomic with their own writes.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	c := *l
	c.db = tx
	return &c
}

// CheckAccess decides whether the account may start a run. Quota sources are
// consulted in fixed precedence: administrative override, paid period plus
// add-on credits, lifetime trial.
func (l *Ledger) CheckAccess(account *models.Account, now time.Time) AccessDecision {
	if l.isUnlimited(account.Email) {
		return AccessDecision{Allowed: true, Unlimited: true}
	}

	if paidThrough(account, now) {
		remaining := (l.subscriptionLimit - account.PeriodUsage) + account.AddonCredits
		if remaining > 0 {
			return AccessDecision{Allowed: true, Remaining: &remaining}
		}
		return AccessDecision{
			Reason:      ReasonQuotaExhausted,
			CanBuyAddon: true,
			RenewalDate: account.PeriodEnd,
		}
	}

	if account.TrialUsage < l.trialLimit {
		remaining := l.trialLimit - account.TrialUsage
		return AccessDecision{Allowed: true, Trial: true, Remaining: &remaining}
	}

	return AccessDecision{Reason: ReasonTrialExhausted, CanSubscribe: true}
}

// Debit consumes one quota unit after a successful run: period allowance
// first, then add-on credits, then trial. Returns false when every eligible
// source was drained by a concurrent debit since admission; the caller must
// treat that as a race loss, not a fault.
func (l *Ledger) Debit(account *models.Account, now time.Time) (bool, error) {
	if l.isUnlimited(account.Email) {
		return true, nil
	}

	if paidThrough(account, now) {
		res := l.db.Model(&models.Account{}).
			Where("id = ? AND tier IN ? AND period_end > ? AND period_usage < ?",
				account.ID, []string{models.TierActive, models.TierCancelled}, now, l.subscriptionLimit).
			UpdateColumn("period_usage", gorm.Expr("period_usage + 1"))
		if res.Error != nil {
			return false, fmt.Errorf("debit period usage: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return true, nil
		}

		res = l.db.Model(&models.Account{}).
			Where("id = ? AND addon_credits > 0", account.ID).
			UpdateColumn("addon_credits", gorm.Expr("addon_credits - 1"))
		if res.Error != nil {
			return false, fmt.Errorf("debit addon credits: %w", res.Error)
		}
		return res.RowsAffected > 0, nil
	}

	// Trial usage increments without re-checking the limit; the boundary
	// lives in the admission check, and the next one catches any
	// concurrent overshoot.
	res := l.db.Model(&models.Account{}).
		Where("id = ?", account.ID).
		UpdateColumn("trial_usage", gorm.Expr("trial_usage + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("debit trial usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, ErrAccountNotFound
	}
	return true, nil
}

// Activate starts a paid period after checkout: tier active, fresh usage,
// processor references recorded.
func (l *Ledger) Activate(accountID uuid.UUID, subscriptionID, customerID string, periodEnd time.Time) error {
	res := l.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"tier":                   models.TierActive,
			"period_usage":           0,
			"period_end":             periodEnd,
			"stripe_subscription_id": subscriptionID,
			"stripe_customer_id":     customerID,
		})
	if res.Error != nil {
		return fmt.Errorf("activate subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ApplyRenewal resets period usage for a new billing cycle. Idempotent by
// period end: replaying the same renewal leaves the row untouched.
func (l *Ledger) ApplyRenewal(accountID uuid.UUID, newPeriodEnd time.Time) error {
	res := l.db.Model(&models.Account{}).
		Where("id = ? AND (period_end IS NULL OR period_end <> ?)", accountID, newPeriodEnd).
		Updates(map[string]interface{}{
			"tier":         models.TierActive,
			"period_usage": 0,
			"period_end":   newPeriodEnd,
		})
	if res.Error != nil {
		return fmt.Errorf("apply renewal: %w", res.Error)
	}
	return nil
}

// UpdatePeriod aligns tier and period end with the processor's view without
// touching usage counters.
func (l *Ledger) UpdatePeriod(accountID uuid.UUID, tier string, periodEnd time.Time) error {
	res := l.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"tier":       tier,
			"period_end": periodEnd,
		})
	if res.Error != nil {
		return fmt.Errorf("update period: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// MarkCancelled flags an active subscription as cancelled at period end.
// Access continues until the paid period lapses.
func (l *Ledger) MarkCancelled(accountID uuid.UUID) error {
	return l.db.Model(&models.Account{}).
		Where("id = ? AND tier = ?", accountID, models.TierActive).
		Update("tier", models.TierCancelled).Error
}

// ApplyCancellationTerminal ends access. Only called on the processor's hard
// deletion signal, never on a soft payment failure.
func (l *Ledger) ApplyCancellationTerminal(accountID uuid.UUID) error {
	return l.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("tier", models.TierExpired).Error
}

// AddCredits grants purchased add-on credits. Credits only ever grow here;
// the single path down is Debit.
func (l *Ledger) AddCredits(accountID uuid.UUID, n int) error {
	if n <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", n)
	}
	res := l.db.Model(&models.Account{}).
		Where("id = ?", accountID).
		UpdateColumn("addon_credits", gorm.Expr("addon_credits + ?", n))
	if res.Error != nil {
		return fmt.Errorf("add credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (l *Ledger) isUnlimited(email string) bool {
	return l.unlimitedEmails[strings.ToLower(email)]
}

func paidThrough(account *models.Account, now time.Time) bool {
	if account.Tier != models.TierActive && account.Tier != models.TierCancelled {
		return false
	}
	return account.PeriodEnd != nil && now.Before(*account.PeriodEnd)
}
