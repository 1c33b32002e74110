package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Run statuses. Complete and failed are terminal; refining loops back into
// generating, everything else only moves forward.
const (
	RunPending    = "pending"
	RunParsing    = "parsing"
	RunGenerating = "generating"
	RunValidating = "validating"
	RunRefining   = "refining"
	RunComplete   = "complete"
	RunFailed     = "failed"
)

// Failure classifications carried on failed runs.
const (
	ErrKindInput               = "input"
	ErrKindTimeout             = "timeout"
	ErrKindAgent               = "agent"
	ErrKindValidationExhausted = "validation_exhausted"
	ErrKindInternal            = "internal"
)

// OptimizationRun is one end-to-end tailor/validate/refine attempt. Mutated
// only by the orchestrator goroutine that owns it; everything else reads.
type OptimizationRun struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"account_id"`
	ResumeID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"resume_id"`
	JobInput      string         `gorm:"type:text;not null" json:"-"`
	Status        string         `gorm:"size:20;not null;default:'pending';index" json:"status"`
	CurrentStep   string         `gorm:"size:120" json:"current_step"`
	Iterations    int            `gorm:"not null;default:0" json:"iterations"`
	MaxIterations int            `gorm:"not null;default:5" json:"max_iterations"`
	Parallel      bool           `gorm:"not null;default:false" json:"-"`
	JobParsed     datatypes.JSON `json:"job_parsed,omitempty"`
	Feedback      datatypes.JSON `json:"feedback,omitempty"`
	ResultHTML    string         `gorm:"type:text" json:"-"`
	ResultRef     string         `gorm:"size:255" json:"result_ref,omitempty"`
	ErrorKind     string         `gorm:"size:30" json:"error_kind,omitempty"`
	ErrorDetail   string         `gorm:"type:text" json:"error,omitempty"`
	Debited       bool           `gorm:"not null;default:false" json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (r *OptimizationRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ValidatorResult is the outcome of a single validator for one candidate.
type ValidatorResult struct {
	Name        string   `json:"name"`
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Threshold   float64  `json:"threshold"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// IterationFeedback is one entry of a run's append-only feedback log,
// serialized into OptimizationRun.Feedback as a JSON array.
type IterationFeedback struct {
	Iteration int               `json:"iteration"`
	Passed    bool              `json:"passed"`
	Results   []ValidatorResult `json:"results"`
}
