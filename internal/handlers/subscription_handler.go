package handlers

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/billing"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

type SubscriptionHandler struct {
	ledger *ledger.Ledger
	stripe *billing.StripeClient
}

func NewSubscriptionHandler(lg *ledger.Ledger, stripe *billing.StripeClient) *SubscriptionHandler {
	return &SubscriptionHandler{ledger: lg, stripe: stripe}
}

// Status reports the caller's quota picture: what an admission check would
// decide right now, and the counters behind it.
func (h *SubscriptionHandler) Status(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}

	return c.JSON(dto.QuotaStatusResponse{
		Tier:         account.Tier,
		TrialUsage:   account.TrialUsage,
		PeriodUsage:  account.PeriodUsage,
		AddonCredits: account.AddonCredits,
		PeriodEnd:    account.PeriodEnd,
		Access:       h.ledger.CheckAccess(account, time.Now().UTC()),
	})
}

// CheckoutSubscription opens a hosted checkout for the subscription plan.
func (h *SubscriptionHandler) CheckoutSubscription(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}

	req, ok := parseCheckoutRequest(c)
	if !ok {
		return nil
	}

	url, err := h.stripe.CreateSubscriptionCheckout(c.Context(), account, req.SuccessURL, req.CancelURL)
	if err != nil {
		slog.Error("subscription checkout failed", "account_id", account.ID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Could not create checkout session",
		})
	}
	return c.JSON(dto.CheckoutResponse{CheckoutURL: url})
}

// CheckoutAddon opens a hosted checkout for an add-on credit pack. Only
// subscribers can buy add-ons.
func (h *SubscriptionHandler) CheckoutAddon(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	if account.Tier != models.TierActive && account.Tier != models.TierCancelled {
		return c.Status(fiber.StatusPaymentRequired).JSON(dto.ErrorResponse{
			Error: true, Message: "Add-on packs require an active subscription",
		})
	}

	req, ok := parseCheckoutRequest(c)
	if !ok {
		return nil
	}

	url, err := h.stripe.CreateAddonCheckout(c.Context(), account, req.SuccessURL, req.CancelURL)
	if err != nil {
		slog.Error("addon checkout failed", "account_id", account.ID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Could not create checkout session",
		})
	}
	return c.JSON(dto.CheckoutResponse{CheckoutURL: url})
}

func parseCheckoutRequest(c *fiber.Ctx) (dto.CheckoutRequest, bool) {
	var req dto.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{ //nolint:errcheck
			Error: true, Message: "Invalid request body",
		})
		return req, false
	}
	if !strings.HasPrefix(req.SuccessURL, "https://") && !strings.HasPrefix(req.SuccessURL, "http://") ||
		!strings.HasPrefix(req.CancelURL, "https://") && !strings.HasPrefix(req.CancelURL, "http://") {
		c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{ //nolint:errcheck
			Error: true, Message: "success_url and cancel_url must be absolute URLs",
		})
		return req, false
	}
	return req, true
}
