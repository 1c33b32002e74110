package identity

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

const accountLocal = "account"

// SetAccount stashes the resolved account in Fiber context locals.
func SetAccount(c *fiber.Ctx, acc *models.Account) {
	c.Locals(accountLocal, acc)
}

// GetAccount extracts the resolved account from Fiber context locals.
func GetAccount(c *fiber.Ctx) (*models.Account, error) {
	acc, ok := c.Locals(accountLocal).(*models.Account)
	if !ok || acc == nil {
		return nil, errors.New("no account in context")
	}
	return acc, nil
}
