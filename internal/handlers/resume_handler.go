package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NameExtractor is the slice of the agents client resume uploads use.
type NameExtractor interface {
	ExtractName(ctx context.Context, resumeText string) (first, last string, err error)
}

type ResumeHandler struct {
	db    *gorm.DB
	namer NameExtractor
}

func NewResumeHandler(db *gorm.DB, namer NameExtractor) *ResumeHandler {
	return &ResumeHandler{db: db, namer: namer}
}

// Upload stores the extracted text of a resume. File parsing and object
// storage happen upstream; this service only ever sees text.
func (h *ResumeHandler) Upload(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}

	var req dto.UploadResumeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.ContentText) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "name and content_text are required",
		})
	}

	resume := models.Resume{
		AccountID:        account.ID,
		Name:             strings.TrimSpace(req.Name),
		OriginalFilename: req.OriginalFilename,
		ContentText:      req.ContentText,
	}

	// Best effort; an upload is fine without a name on it.
	if h.namer != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
		defer cancel()
		if first, last, err := h.namer.ExtractName(ctx, req.ContentText); err == nil {
			resume.FirstName = first
			resume.LastName = last
		} else {
			slog.Warn("name extraction failed", "account_id", account.ID, "error", err)
		}
	}

	if err := h.db.Create(&resume).Error; err != nil {
		slog.Error("failed to store resume", "account_id", account.ID, "error", err)
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(toResumeResponse(&resume))
}

func (h *ResumeHandler) List(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}

	var resumes []models.Resume
	err = h.db.Scopes(identity.ForAccount(account.ID)).
		Order("created_at DESC").
		Find(&resumes).Error
	if err != nil {
		return fiber.ErrInternalServerError
	}

	out := make([]dto.ResumeResponse, 0, len(resumes))
	for i := range resumes {
		out = append(out, toResumeResponse(&resumes[i]))
	}
	return c.JSON(dto.ResumeListResponse{Resumes: out})
}

func (h *ResumeHandler) Delete(c *fiber.Ctx) error {
	account, err := identity.GetAccount(c)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	resumeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid resume id",
		})
	}

	var resume models.Resume
	err = h.db.Scopes(identity.ForAccount(account.ID)).First(&resume, "id = ?", resumeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "Resume not found",
			})
		}
		return fiber.ErrInternalServerError
	}

	if err := h.db.Delete(&resume).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"deleted": true})
}

func toResumeResponse(r *models.Resume) dto.ResumeResponse {
	return dto.ResumeResponse{
		ID:               r.ID,
		Name:             r.Name,
		OriginalFilename: r.OriginalFilename,
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		CreatedAt:        r.CreatedAt,
	}
}
