package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/scrape"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("optimization run not found")

// externalStatus maps internal run states to the status vocabulary clients
// see. Internal names can evolve; the polling contract cannot.
var externalStatus = map[string]string{
	models.RunPending:    "pending",
	models.RunParsing:    "parse_job",
	models.RunGenerating: "generate",
	models.RunValidating: "validate",
	models.RunRefining:   "refine",
	models.RunComplete:   "complete",
	models.RunFailed:     "failed",
}

// Reporter is the read-only polling view over runs. It never mutates run
// state, so any number of pollers are safe alongside the owning goroutine.
type Reporter struct {
	db *gorm.DB
}

func NewReporter(db *gorm.DB) *Reporter {
	return &Reporter{db: db}
}

// Status projects one run into its polling DTO, scoped to the owning
// account.
func (r *Reporter) Status(runID, accountID uuid.UUID) (*dto.RunStatus, error) {
	var run models.OptimizationRun
	err := r.db.Scopes(identity.ForAccount(accountID)).First(&run, "id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("load run: %w", err)
	}

	status := &dto.RunStatus{
		ID:            run.ID,
		Status:        ExternalStatus(run.Status),
		CurrentStep:   run.CurrentStep,
		Iterations:    run.Iterations,
		MaxIterations: run.MaxIterations,
		JobParsed:     json.RawMessage(run.JobParsed),
		Feedback:      json.RawMessage(run.Feedback),
		Error:         run.ErrorDetail,
		ErrorKind:     run.ErrorKind,
		ResultRef:     run.ResultRef,
		CreatedAt:     run.CreatedAt,
	}
	if scrape.IsURL(run.JobInput) {
		status.JobURL = run.JobInput
	}
	return status, nil
}

// List returns run summaries for an account, newest first.
func (r *Reporter) List(accountID uuid.UUID) ([]dto.RunSummary, error) {
	var runs []models.OptimizationRun
	err := r.db.Scopes(identity.ForAccount(accountID)).
		Select("id", "status", "job_input", "job_parsed", "created_at").
		Order("created_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	summaries := make([]dto.RunSummary, 0, len(runs))
	for _, run := range runs {
		s := dto.RunSummary{
			ID:        run.ID,
			Status:    ExternalStatus(run.Status),
			CreatedAt: run.CreatedAt,
		}
		if scrape.IsURL(run.JobInput) {
			s.JobURL = run.JobInput
		}
		if len(run.JobParsed) > 0 {
			var job struct {
				Title   string `json:"title"`
				Company string `json:"company"`
			}
			if json.Unmarshal(run.JobParsed, &job) == nil {
				s.JobTitle = job.Title
				s.JobCompany = job.Company
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// ExternalStatus translates an internal run state into the client-facing
// vocabulary.
func ExternalStatus(internal string) string {
	if s, ok := externalStatus[internal]; ok {
		return s
	}
	return internal
}
