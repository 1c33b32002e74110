package handlers

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/orchestrator"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OptimizeHandler struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	orch     *orchestrator.Orchestrator
	reporter *orchestrator.Reporter
}

func NewOptimizeHandler(db *gorm.DB, lg *ledger.Ledger, orch *orchestrator.Orchestrator, reporter *orchestrator.Reporter) *OptimizeHandler {
	return &OptimizeHandler{db: db, ledger: lg, orch: orch, reporter: reporter}
}

// Start admits, creates and launches a run. The response returns as soon as
// the run record exists; progress is observed via polling.
func (h *OptimizeHandler) Start(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}

	var req dto.OptimizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if strings.TrimSpace(req.JobInput) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "job_input is required",
		})
	}

	decision := h.ledger.CheckAccess(account, time.Now().UTC())
	if !decision.Allowed {
		return c.Status(fiber.StatusPaymentRequired).JSON(dto.AdmissionDenialResponse{
			Error:        true,
			Message:      denialMessage(decision.Reason),
			Reason:       decision.Reason,
			CanSubscribe: decision.CanSubscribe,
			CanBuyAddon:  decision.CanBuyAddon,
			RenewalDate:  decision.RenewalDate,
		})
	}

	var resume models.Resume
	err = h.db.Scopes(identity.ForAccount(account.ID)).First(&resume, "id = ?", req.ResumeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "Resume not found",
			})
		}
		return fiber.ErrInternalServerError
	}
	if strings.TrimSpace(resume.ContentText) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Resume has no extracted text content",
		})
	}

	run, err := h.orch.Launch(account, &resume, strings.TrimSpace(req.JobInput), req.MaxIterations, req.Parallel)
	if err != nil {
		slog.Error("failed to launch run", "account_id", account.ID, "error", err)
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusAccepted).JSON(dto.OptimizeStartResponse{
		RunID:  run.ID,
		Status: orchestrator.ExternalStatus(run.Status),
	})
}

func (h *OptimizeHandler) List(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}

	runs, err := h.reporter.List(account.ID)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(dto.RunListResponse{Runs: runs})
}

func (h *OptimizeHandler) Get(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	runID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid run id",
		})
	}

	status, err := h.reporter.Status(runID, account.ID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "Optimization run not found",
			})
		}
		return fiber.ErrInternalServerError
	}
	return c.JSON(status)
}

// Artifact serves the rendered document of a completed run.
func (h *OptimizeHandler) Artifact(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	runID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid run id",
		})
	}

	var run models.OptimizationRun
	err = h.db.Scopes(identity.ForAccount(account.ID)).First(&run, "id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "Optimization run not found",
			})
		}
		return fiber.ErrInternalServerError
	}
	if run.Status != models.RunComplete || run.ResultHTML == "" {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: "Run has no artifact yet",
		})
	}

	c.Set("Content-Disposition", `inline; filename="resume.html"`)
	c.Type("html", "utf-8")
	return c.SendString(run.ResultHTML)
}

func denialMessage(reason string) string {
	switch reason {
	case ledger.ReasonTrialExhausted:
		return "Trial exhausted. Please subscribe to continue."
	case ledger.ReasonQuotaExhausted:
		return "Monthly quota exhausted. Purchase an add-on pack or wait for renewal."
	default:
		return "Access denied"
	}
}
