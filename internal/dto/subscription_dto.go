package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/ledger"
)

type CheckoutRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// QuotaStatusResponse is the account's current admission picture: the
// decision an optimization start would get right now, plus the counters
// behind it.
type QuotaStatusResponse struct {
	Tier         string                `json:"tier"`
	TrialUsage   int                   `json:"trial_usage"`
	PeriodUsage  int                   `json:"period_usage"`
	AddonCredits int                   `json:"addon_credits"`
	PeriodEnd    *time.Time            `json:"period_end,omitempty"`
	Access       ledger.AccessDecision `json:"access"`
}
