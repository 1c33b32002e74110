package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/billing"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
)

type WebhookHandler struct {
	reconciler *billing.Reconciler
}

func NewWebhookHandler(reconciler *billing.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleStripe applies one webhook delivery. Bad signatures and malformed
// payloads get a 4xx and are dropped; everything else that fails gets a 5xx
// so the processor retries.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	err := h.reconciler.HandleEvent(c.Context(), c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrBadSignature):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid signature",
			})
		case errors.Is(err, billing.ErrMalformedEvent):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Malformed event",
			})
		default:
			slog.Error("webhook processing failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to process webhook event",
			})
		}
	}
	return c.JSON(fiber.Map{"received": true})
}
