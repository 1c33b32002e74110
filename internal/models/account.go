package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account tiers. Cancelled keeps access until the paid period lapses;
// expired is terminal until a new checkout completes.
const (
	TierTrial     = "trial"
	TierActive    = "active"
	TierCancelled = "cancelled"
	TierExpired   = "expired"
)

// Account is the billing identity for one user. The identity provider owns
// authentication; an Account row is created on first authenticated contact.
type Account struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID           string     `gorm:"size:255;not null;uniqueIndex" json:"-"`
	Email                string     `gorm:"size:255;not null;index" json:"email"`
	Tier                 string     `gorm:"size:20;not null;default:'trial'" json:"tier"`
	TrialUsage           int        `gorm:"not null;default:0" json:"trial_usage"`
	PeriodUsage          int        `gorm:"not null;default:0" json:"period_usage"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	AddonCredits         int        `gorm:"not null;default:0" json:"addon_credits"`
	StripeCustomerID     string     `gorm:"size:255;index" json:"-"`
	StripeSubscriptionID string     `gorm:"size:255;index" json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
