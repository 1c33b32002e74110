package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OptimizeRequest struct {
	ResumeID      uuid.UUID `json:"resume_id"`
	JobInput      string    `json:"job_input"`
	MaxIterations int       `json:"max_iterations,omitempty"`
	Parallel      bool      `json:"parallel,omitempty"`
}

type OptimizeStartResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"`
}

// AdmissionDenialResponse tells a blocked user what they can do about it.
type AdmissionDenialResponse struct {
	Error        bool       `json:"error"`
	Message      string     `json:"message"`
	Reason       string     `json:"reason"`
	CanSubscribe bool       `json:"can_subscribe"`
	CanBuyAddon  bool       `json:"can_buy_addon"`
	RenewalDate  *time.Time `json:"renewal_date,omitempty"`
}

// RunStatus is the polling view of one run. Recommended poll interval is
// two seconds.
type RunStatus struct {
	ID            uuid.UUID       `json:"id"`
	Status        string          `json:"status"`
	CurrentStep   string          `json:"current_step,omitempty"`
	Iterations    int             `json:"iterations"`
	MaxIterations int             `json:"max_iterations"`
	JobParsed     json.RawMessage `json:"job_parsed,omitempty"`
	JobURL        string          `json:"job_url,omitempty"`
	Feedback      json.RawMessage `json:"feedback,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	ResultRef     string          `json:"result_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type RunSummary struct {
	ID         uuid.UUID `json:"id"`
	Status     string    `json:"status"`
	JobTitle   string    `json:"job_title,omitempty"`
	JobCompany string    `json:"job_company,omitempty"`
	JobURL     string    `json:"job_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type RunListResponse struct {
	Runs []RunSummary `json:"runs"`
}
