// Package render is the boundary to artifact production. The default store
// keeps the final HTML on the run row; turning it into a distributable file
// is an external concern behind the same interface.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrEmptyDocument = errors.New("nothing to render")

// Renderer turns a finished document into a retrievable artifact reference.
type Renderer interface {
	Render(ctx context.Context, runID uuid.UUID, html string) (string, error)
}

// HTMLStore persists the final HTML on the run and hands back a reference
// the download endpoint understands.
type HTMLStore struct {
	db *gorm.DB
}

func NewHTMLStore(db *gorm.DB) *HTMLStore {
	return &HTMLStore{db: db}
}

func (s *HTMLStore) Render(ctx context.Context, runID uuid.UUID, html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", ErrEmptyDocument
	}

	res := s.db.WithContext(ctx).Model(&models.OptimizationRun{}).
		Where("id = ?", runID).
		UpdateColumn("result_html", html)
	if res.Error != nil {
		return "", fmt.Errorf("store artifact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", fmt.Errorf("store artifact: run %s not found", runID)
	}
	return fmt.Sprintf("runs/%s/resume.html", runID), nil
}
