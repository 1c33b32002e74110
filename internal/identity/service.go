package identity

import (
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

// Service maps verified identity-provider subjects to local accounts.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Provision returns the account for an external subject, creating it on
// first authenticated contact. The provider's email is kept in sync because
// administrative overrides key off it.
func (s *Service) Provision(externalID, email string) (*models.Account, error) {
	var acc models.Account
	err := s.db.Where("external_id = ?", externalID).First(&acc).Error
	if err == nil {
		if email != "" && acc.Email != email {
			if err := s.db.Model(&acc).Update("email", email).Error; err != nil {
				return nil, fmt.Errorf("sync account email: %w", err)
			}
			acc.Email = email
		}
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load account: %w", err)
	}

	acc = models.Account{
		ExternalID: externalID,
		Email:      email,
		Tier:       models.TierTrial,
	}
	if err := s.db.Create(&acc).Error; err != nil {
		// Two first contacts can race; the unique index decides and the
		// loser picks up the winner's row.
		var existing models.Account
		if err2 := s.db.Where("external_id = ?", externalID).First(&existing).Error; err2 == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("provision account: %w", err)
	}
	return &acc, nil
}

// ByID loads an account by its local identifier.
func (s *Service) ByID(id uuid.UUID) (*models.Account, error) {
	var acc models.Account
	if err := s.db.First(&acc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// ByStripeCustomer resolves the account holding a processor customer id.
func (s *Service) ByStripeCustomer(customerID string) (*models.Account, error) {
	if customerID == "" {
		return nil, ErrAccountNotFound
	}
	var acc models.Account
	if err := s.db.First(&acc, "stripe_customer_id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// BySubscription resolves the account holding a processor subscription id.
func (s *Service) BySubscription(subscriptionID string) (*models.Account, error) {
	if subscriptionID == "" {
		return nil, ErrAccountNotFound
	}
	var acc models.Account
	if err := s.db.First(&acc, "stripe_subscription_id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// ByEmail resolves an account by provider email, used by operator tooling.
func (s *Service) ByEmail(email string) (*models.Account, error) {
	var acc models.Account
	if err := s.db.First(&acc, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}
