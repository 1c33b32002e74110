package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedPaymentEvent records a payment-processor event that has been
// applied. The processor delivers at least once; inserting the event id
// first (primary key) makes replays visible before any counter moves.
type ProcessedPaymentEvent struct {
	EventID    string     `gorm:"size:255;primaryKey" json:"event_id"`
	Type       string     `gorm:"size:100;not null" json:"type"`
	AccountID  *uuid.UUID `gorm:"type:uuid;index" json:"account_id,omitempty"`
	ReceivedAt time.Time  `gorm:"not null" json:"received_at"`
}
