package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resume is an uploaded source document. Only the extracted text is stored;
// the original file lives in external object storage.
type Resume struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"account_id"`
	Name             string         `gorm:"size:255;not null" json:"name"`
	OriginalFilename string         `gorm:"size:255" json:"original_filename"`
	ContentText      string         `gorm:"type:text;not null" json:"-"`
	FirstName        string         `gorm:"size:100" json:"first_name,omitempty"`
	LastName         string         `gorm:"size:100" json:"last_name,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (r *Resume) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
