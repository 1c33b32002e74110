package handlers

import (
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/gofiber/fiber/v2"
)

type AccountHandler struct{}

func NewAccountHandler() *AccountHandler {
	return &AccountHandler{}
}

// Me returns the caller's account. The auth middleware already provisioned
// it from the verified token, so this is a pure read.
func (h *AccountHandler) Me(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	return c.JSON(account)
}
