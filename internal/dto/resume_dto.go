package dto

import (
	"time"

	"github.com/google/uuid"
)

type UploadResumeRequest struct {
	Name             string `json:"name"`
	OriginalFilename string `json:"original_filename,omitempty"`
	ContentText      string `json:"content_text"`
}

type ResumeResponse struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type ResumeListResponse struct {
	Resumes []ResumeResponse `json:"resumes"`
}
