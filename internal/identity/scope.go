package identity

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ForAccount returns a GORM scope that filters rows by owning account.
func ForAccount(accountID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("account_id = ?", accountID)
	}
}
