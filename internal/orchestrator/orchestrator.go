// Package orchestrator drives one optimization run through its state
// machine: pending → parsing → generating → validating → (refining →
// generating | complete), with failed reachable from every non-terminal
// state. Each run executes on its own goroutine; clients observe progress by
// polling the persisted status.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/agents"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/render"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/resilience"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/scrape"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/validate"
)

// JobFetcher resolves job input (URL or pasted text) into posting text.
type JobFetcher interface {
	Resolve(ctx context.Context, input string) (string, error)
}

// Agent is the slice of the generation client a run needs.
type Agent interface {
	ParseJob(ctx context.Context, postingText string) (*agents.JobPosting, error)
	Optimize(ctx context.Context, in agents.OptimizeInput) (*agents.Candidate, error)
}

// Pipeline validates one candidate and aggregates the verdicts.
type Pipeline interface {
	Run(ctx context.Context, in validate.Input) (validate.Outcome, error)
}

// QuotaLedger is the debit side of the quota ledger.
type QuotaLedger interface {
	Debit(account *models.Account, now time.Time) (bool, error)
}

var terminalStatuses = []string{models.RunComplete, models.RunFailed}

// Orchestrator owns run execution. One instance serves all runs; per-run
// state lives on the run row and in the goroutine's locals.
type Orchestrator struct {
	db       *gorm.DB
	fetcher  JobFetcher
	agent    Agent
	pipeline Pipeline
	// parallelPipeline runs the same validators concurrently; selected per
	// run by its Parallel flag.
	parallelPipeline Pipeline
	renderer         render.Renderer
	ledger           QuotaLedger

	maxIterations int
	stepTimeout   time.Duration
	runTimeout    time.Duration
}

func New(db *gorm.DB, fetcher JobFetcher, agent Agent, sequential, parallel Pipeline, renderer render.Renderer, lg QuotaLedger, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		db:               db,
		fetcher:          fetcher,
		agent:            agent,
		pipeline:         sequential,
		parallelPipeline: parallel,
		renderer:         renderer,
		ledger:           lg,
		maxIterations:    cfg.MaxIterations,
		stepTimeout:      cfg.StepTimeout,
		runTimeout:       cfg.RunTimeout,
	}
}

// Launch creates the run record and starts executing it in the background.
// Admission has already been granted by the caller; nothing is debited until
// the run completes. Returns as soon as the record exists.
func (o *Orchestrator) Launch(account *models.Account, resume *models.Resume, jobInput string, maxIterations int, parallel bool) (*models.OptimizationRun, error) {
	if maxIterations <= 0 || maxIterations > o.maxIterations {
		maxIterations = o.maxIterations
	}

	run := &models.OptimizationRun{
		AccountID:     account.ID,
		ResumeID:      resume.ID,
		JobInput:      jobInput,
		Status:        models.RunPending,
		MaxIterations: maxIterations,
		Parallel:      parallel,
	}
	if err := o.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("create optimization run: %w", err)
	}

	go o.execute(run.ID, account.ID, resume.ContentText, jobInput, maxIterations, parallel)
	return run, nil
}

// FailInterrupted marks runs left non-terminal by a previous process as
// failed. Called once at boot, before any new run starts. Their debit
// markers are untouched, so a run that completed and debited before the
// crash stays settled.
func (o *Orchestrator) FailInterrupted() error {
	res := o.db.Model(&models.OptimizationRun{}).
		Where("status NOT IN ?", terminalStatuses).
		Updates(map[string]interface{}{
			"status":       models.RunFailed,
			"current_step": "",
			"error_kind":   models.ErrKindInternal,
			"error_detail": "The run was interrupted by a service restart. Please try again.",
		})
	if res.Error != nil {
		return fmt.Errorf("fail interrupted runs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Warn("marked interrupted runs as failed", "count", res.RowsAffected)
	}
	return nil
}

func (o *Orchestrator) execute(runID, accountID uuid.UUID, resumeText, jobInput string, maxIterations int, parallel bool) {
	ctx, cancel := context.WithTimeout(context.Background(), o.runTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("run panicked", "run_id", runID, "panic", rec)
			sentry.CurrentHub().Recover(rec)
			o.fail(runID, models.ErrKindInternal, "An internal error occurred. Please contact support.")
		}
	}()

	o.run(ctx, runID, accountID, resumeText, jobInput, maxIterations, parallel)
}

func (o *Orchestrator) run(ctx context.Context, runID, accountID uuid.UUID, resumeText, jobInput string, maxIterations int, parallel bool) {
	started := time.Now()
	slog.Info("run started", "run_id", runID, "account_id", accountID, "max_iterations", maxIterations)

	// Parse the job posting.
	o.setStep(runID, models.RunParsing, "Fetching and parsing job posting...")

	postingText, err := stepCall(ctx, o.stepTimeout, func(ctx context.Context) (string, error) {
		return o.fetcher.Resolve(ctx, jobInput)
	})
	if err != nil {
		switch {
		case errors.Is(err, scrape.ErrBlocked):
			o.fail(runID, models.ErrKindInput, "The job posting site blocks automated access. Please paste the job text instead.")
		case isTimeout(ctx, err):
			o.fail(runID, models.ErrKindTimeout, "Fetching the job posting took too long. Please try again later.")
		default:
			o.fail(runID, models.ErrKindInput, "Failed to fetch the job posting: "+err.Error())
		}
		return
	}

	job, err := stepCall(ctx, o.stepTimeout, func(ctx context.Context) (*agents.JobPosting, error) {
		return resilience.DoVal(ctx, agentRetry, func(ctx context.Context) (*agents.JobPosting, error) {
			return o.agent.ParseJob(ctx, postingText)
		})
	})
	if err != nil {
		o.failClassified(runID, err, ctx,
			"The job posting could not be understood. Please try a different posting or paste the text directly.")
		return
	}

	jobJSON, err := json.Marshal(job)
	if err != nil {
		o.fail(runID, models.ErrKindInternal, "An internal error occurred. Please contact support.")
		return
	}
	if !o.updateRun(runID, map[string]interface{}{"job_parsed": datatypes.JSON(jobJSON)}) {
		return
	}
	slog.Info("job parsed", "run_id", runID, "title", job.Title, "company", job.Company)

	pipeline := o.pipeline
	if parallel && o.parallelPipeline != nil {
		pipeline = o.parallelPipeline
	}

	// Generate, validate, refine.
	var feedback []models.IterationFeedback
	var priorIssues []string
	for iteration := 1; iteration <= maxIterations; iteration++ {
		o.setStep(runID, models.RunGenerating,
			fmt.Sprintf("Optimizing resume for %s at %s (iteration %d/%d)...", job.Title, job.Company, iteration, maxIterations))

		candidate, err := stepCall(ctx, o.stepTimeout, func(ctx context.Context) (*agents.Candidate, error) {
			return resilience.DoVal(ctx, agentRetry, func(ctx context.Context) (*agents.Candidate, error) {
				return o.agent.Optimize(ctx, agents.OptimizeInput{
					ResumeText: resumeText,
					Job:        job,
					Feedback:   priorIssues,
				})
			})
		})
		if err != nil {
			o.failClassified(runID, err, ctx, "The resume could not be generated. Please try again later.")
			return
		}

		o.setStep(runID, models.RunValidating, fmt.Sprintf("Validating iteration %d...", iteration))

		outcome, err := stepCall(ctx, o.stepTimeout, func(ctx context.Context) (validate.Outcome, error) {
			return pipeline.Run(ctx, validate.Input{
				Candidate: candidate.Text,
				HTML:      candidate.HTML,
				Source:    resumeText,
				Job:       job,
			})
		})
		if err != nil {
			o.failClassified(runID, err, ctx, "Validation could not finish. Please try again later.")
			return
		}

		feedback = append(feedback, models.IterationFeedback{
			Iteration: iteration,
			Passed:    outcome.Passed,
			Results:   toValidatorResults(outcome.Results),
		})
		if !o.appendFeedback(runID, iteration, feedback) {
			return
		}

		if outcome.Passed {
			ref, err := o.renderer.Render(ctx, runID, candidate.HTML)
			if err != nil {
				slog.Error("render failed", "run_id", runID, "error", err)
				o.fail(runID, models.ErrKindInternal, "The final document could not be produced. Please contact support.")
				return
			}
			if !o.complete(runID, ref) {
				return
			}
			o.settleDebit(runID, accountID)
			slog.Info("run complete", "run_id", runID, "iterations", iteration, "duration", time.Since(started).Round(time.Millisecond))
			return
		}

		if iteration == maxIterations {
			o.fail(runID, models.ErrKindValidationExhausted,
				fmt.Sprintf("The resume did not pass validation after %d attempts. Please try again or adjust your source resume.", maxIterations))
			return
		}

		priorIssues = collectIssues(outcome.Results)
		o.setStep(runID, models.RunRefining,
			fmt.Sprintf("Iteration %d did not pass, refining...", iteration))
	}
}

// agentRetry bounds transient-fault retries within one step. Input errors
// and context ends are never retried.
var agentRetry = resilience.Config{
	MaxAttempts: 2,
	Backoff:     time.Second,
	MaxBackoff:  5 * time.Second,
	Retryable: func(err error) bool {
		return !errors.Is(err, agents.ErrUnparseableJob) &&
			!errors.Is(err, agents.ErrNoProvider) &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded)
	},
}

// stepCall bounds one suspension point. The run context keeps the global
// wall-clock ceiling; the step timeout caps a single external call including
// its retries.
func stepCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}

// settleDebit consumes one quota unit for a freshly completed run, exactly
// once per run id. The marker flips first so a restart can never debit the
// same run twice; a debit the ledger then refuses is a billing
// reconciliation alert, not a retry.
func (o *Orchestrator) settleDebit(runID, accountID uuid.UUID) {
	res := o.db.Model(&models.OptimizationRun{}).
		Where("id = ? AND debited = ?", runID, false).
		UpdateColumn("debited", true)
	if res.Error != nil {
		slog.Error("debit marker update failed", "run_id", runID, "error", res.Error)
		sentry.CaptureException(res.Error)
		return
	}
	if res.RowsAffected == 0 {
		slog.Info("run already debited", "run_id", runID)
		return
	}

	var account models.Account
	if err := o.db.First(&account, "id = ?", accountID).Error; err != nil {
		o.billingAlert(runID, accountID, fmt.Errorf("load account for debit: %w", err))
		return
	}

	ok, err := o.ledger.Debit(&account, time.Now().UTC())
	if err != nil {
		o.billingAlert(runID, accountID, err)
		return
	}
	if !ok {
		// A concurrent run drained the last unit between admission and
		// completion. The user keeps the result; billing gets the alert.
		o.billingAlert(runID, accountID, errors.New("no quota source could be debited"))
	}
}

func (o *Orchestrator) billingAlert(runID, accountID uuid.UUID, err error) {
	slog.Error("billing reconciliation required: completed run could not be debited",
		"run_id", runID, "account_id", accountID, "error", err)
	sentry.CaptureMessage(fmt.Sprintf("billing reconciliation: run %s account %s: %v", runID, accountID, err))
}

// failClassified sorts an agent-step error into the run failure taxonomy:
// bad input, timeout, or provider fault.
func (o *Orchestrator) failClassified(runID uuid.UUID, err error, ctx context.Context, inputMsg string) {
	switch {
	case errors.Is(err, agents.ErrUnparseableJob):
		o.fail(runID, models.ErrKindInput, inputMsg)
	case isTimeout(ctx, err):
		o.fail(runID, models.ErrKindTimeout, "The run took too long. Please try again later.")
	default:
		slog.Error("agent step failed", "run_id", runID, "error", err)
		sentry.CaptureException(err)
		o.fail(runID, models.ErrKindAgent, "The optimization service is temporarily unavailable. Please try again later.")
	}
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// setStep advances a non-terminal run to the next state with a progress
// label for the polling client.
func (o *Orchestrator) setStep(runID uuid.UUID, status, step string) bool {
	return o.updateRun(runID, map[string]interface{}{
		"status":       status,
		"current_step": step,
	})
}

func (o *Orchestrator) appendFeedback(runID uuid.UUID, iteration int, feedback []models.IterationFeedback) bool {
	raw, err := json.Marshal(feedback)
	if err != nil {
		slog.Error("marshal feedback", "run_id", runID, "error", err)
		return o.fail(runID, models.ErrKindInternal, "An internal error occurred. Please contact support.")
	}
	return o.updateRun(runID, map[string]interface{}{
		"iterations": iteration,
		"feedback":   datatypes.JSON(raw),
	})
}

func (o *Orchestrator) complete(runID uuid.UUID, resultRef string) bool {
	return o.updateRun(runID, map[string]interface{}{
		"status":       models.RunComplete,
		"current_step": "",
		"result_ref":   resultRef,
	})
}

func (o *Orchestrator) fail(runID uuid.UUID, kind, detail string) bool {
	return o.updateRun(runID, map[string]interface{}{
		"status":       models.RunFailed,
		"current_step": "",
		"error_kind":   kind,
		"error_detail": detail,
	})
}

// updateRun writes run fields, refusing to touch terminal runs. Complete and
// failed are absorbing states; once there, no transition applies.
func (o *Orchestrator) updateRun(runID uuid.UUID, fields map[string]interface{}) bool {
	res := o.db.Model(&models.OptimizationRun{}).
		Where("id = ? AND status NOT IN ?", runID, terminalStatuses).
		Updates(fields)
	if res.Error != nil {
		slog.Error("run update failed", "run_id", runID, "error", res.Error)
		return false
	}
	return res.RowsAffected > 0
}

func toValidatorResults(results []validate.Result) []models.ValidatorResult {
	out := make([]models.ValidatorResult, len(results))
	for i, r := range results {
		out[i] = models.ValidatorResult{
			Name:        r.Name,
			Passed:      r.Passed,
			Score:       r.Score,
			Threshold:   r.Threshold,
			Issues:      r.Issues,
			Suggestions: r.Suggestions,
		}
	}
	return out
}

// collectIssues flattens the failing validators' findings into the feedback
// handed to the next generation call.
func collectIssues(results []validate.Result) []string {
	var issues []string
	for _, r := range results {
		if r.Passed {
			continue
		}
		for _, issue := range r.Issues {
			issues = append(issues, fmt.Sprintf("[%s] %s", r.Name, issue))
		}
		for _, s := range r.Suggestions {
			issues = append(issues, fmt.Sprintf("[%s] suggestion: %s", r.Name, s))
		}
	}
	return issues
}
