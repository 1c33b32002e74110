package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/agents"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/render"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/scrape"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/testdb"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/validate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeFetcher struct {
	text string
	err  error
}

func (f *fakeFetcher) Resolve(_ context.Context, input string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return input, nil
}

type fakeAgent struct {
	mu            sync.Mutex
	job           *agents.JobPosting
	parseErr      error
	optimizeErr   error
	hangOptimize  bool
	optimizeCalls int
	feedbackSeen  [][]string
}

func (a *fakeAgent) ParseJob(_ context.Context, _ string) (*agents.JobPosting, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.job, nil
}

func (a *fakeAgent) Optimize(ctx context.Context, in agents.OptimizeInput) (*agents.Candidate, error) {
	a.mu.Lock()
	a.optimizeCalls++
	a.feedbackSeen = append(a.feedbackSeen, in.Feedback)
	a.mu.Unlock()

	if a.hangOptimize {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.optimizeErr != nil {
		return nil, a.optimizeErr
	}
	return &agents.Candidate{
		HTML: "<html><body>tailored</body></html>",
		Text: "tailored resume text",
	}, nil
}

type fakePipeline struct {
	mu       sync.Mutex
	outcomes []validate.Outcome
	calls    int
}

func (p *fakePipeline) Run(_ context.Context, _ validate.Input) (validate.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.outcomes) {
		i = len(p.outcomes) - 1
	}
	p.calls++
	return p.outcomes[i], nil
}

func passOutcome() validate.Outcome {
	return validate.Outcome{Passed: true, Results: []validate.Result{
		{Name: "structure", Passed: true, Score: 1, Threshold: 1},
	}}
}

func failOutcome() validate.Outcome {
	return validate.Outcome{Passed: false, Results: []validate.Result{
		{Name: "structure", Passed: true, Score: 1, Threshold: 1},
		{
			Name: "keyword_coverage", Passed: false, Score: 0.4, Threshold: 0.7,
			Issues:      []string{"missing keyword: kubernetes"},
			Suggestions: []string{"work kubernetes into the skills section"},
		},
	}}
}

type testEnv struct {
	db      *gorm.DB
	orch    *Orchestrator
	agent   *fakeAgent
	account *models.Account
	resume  *models.Resume
}

func newTestEnv(t *testing.T, fetcher *fakeFetcher, agent *fakeAgent, pipe *fakePipeline) *testEnv {
	t.Helper()
	db := testdb.Open(t, &models.Account{}, &models.Resume{}, &models.OptimizationRun{})
	cfg := &config.Config{
		TrialLimit:        3,
		SubscriptionLimit: 50,
		MaxIterations:     5,
		StepTimeout:       2 * time.Second,
		RunTimeout:        10 * time.Second,
	}
	if agent.job == nil {
		agent.job = &agents.JobPosting{
			Title: "Platform Engineer", Company: "Acme",
			Keywords: []string{"go", "kubernetes"},
		}
	}

	account := &models.Account{ExternalID: uuid.NewString(), Email: "user@example.com", Tier: models.TierTrial}
	require.NoError(t, db.Create(account).Error)
	resume := &models.Resume{AccountID: account.ID, Name: "main", ContentText: "ten years of plumbing distributed systems"}
	require.NoError(t, db.Create(resume).Error)

	orch := New(db, fetcher, agent, pipe, pipe, render.NewHTMLStore(db), ledger.New(db, cfg), cfg)
	return &testEnv{db: db, orch: orch, agent: agent, account: account, resume: resume}
}

func (e *testEnv) waitTerminal(t *testing.T, runID uuid.UUID) *models.OptimizationRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var run models.OptimizationRun
		require.NoError(t, e.db.First(&run, "id = ?", runID).Error)
		if run.Status == models.RunComplete || run.Status == models.RunFailed {
			return &run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal state")
	return nil
}

func (e *testEnv) reloadAccount(t *testing.T) *models.Account {
	t.Helper()
	var acc models.Account
	require.NoError(t, e.db.First(&acc, "id = ?", e.account.ID).Error)
	return &acc
}

func feedbackLog(t *testing.T, run *models.OptimizationRun) []models.IterationFeedback {
	t.Helper()
	var fb []models.IterationFeedback
	require.NoError(t, json.Unmarshal(run.Feedback, &fb))
	return fb
}

func TestRunCompletesOnFirstIteration(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeAgent{}, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	run, err := env.orch.Launch(env.account, env.resume, "Platform Engineer wanted at Acme", 0, false)
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, run.Status)

	got := env.waitTerminal(t, run.ID)
	assert.Equal(t, models.RunComplete, got.Status)
	assert.Empty(t, got.CurrentStep)
	assert.Equal(t, 1, got.Iterations)
	assert.NotEmpty(t, got.ResultRef)
	assert.Contains(t, got.ResultHTML, "tailored")
	assert.True(t, got.Debited)
	require.NotEmpty(t, got.JobParsed)

	fb := feedbackLog(t, got)
	require.Len(t, fb, 1)
	assert.True(t, fb[0].Passed)
	assert.Equal(t, 1, fb[0].Iteration)

	assert.Equal(t, 1, env.reloadAccount(t).TrialUsage, "completed run debits exactly one unit")
}

func TestRefineLoopPassesOnSecondIteration(t *testing.T) {
	agent := &fakeAgent{}
	env := newTestEnv(t, &fakeFetcher{}, agent, &fakePipeline{
		outcomes: []validate.Outcome{failOutcome(), passOutcome()},
	})

	run, err := env.orch.Launch(env.account, env.resume, "posting text", 0, false)
	require.NoError(t, err)

	got := env.waitTerminal(t, run.ID)
	assert.Equal(t, models.RunComplete, got.Status)
	assert.Equal(t, 2, got.Iterations)

	fb := feedbackLog(t, got)
	require.Len(t, fb, 2)
	assert.False(t, fb[0].Passed)
	assert.True(t, fb[1].Passed)
	require.Len(t, fb[0].Results, 2)
	assert.Equal(t, "keyword_coverage", fb[0].Results[1].Name)

	// The second generation call must carry the failing validator's findings.
	require.Equal(t, 2, agent.optimizeCalls)
	assert.Empty(t, agent.feedbackSeen[0])
	require.NotEmpty(t, agent.feedbackSeen[1])
	assert.Contains(t, agent.feedbackSeen[1][0], "missing keyword: kubernetes")

	assert.Equal(t, 1, env.reloadAccount(t).TrialUsage)
}

func TestIterationBoundExhaustsToFailed(t *testing.T) {
	agent := &fakeAgent{}
	env := newTestEnv(t, &fakeFetcher{}, agent, &fakePipeline{outcomes: []validate.Outcome{failOutcome()}})

	run, err := env.orch.Launch(env.account, env.resume, "posting text", 2, false)
	require.NoError(t, err)

	got := env.waitTerminal(t, run.ID)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, models.ErrKindValidationExhausted, got.ErrorKind)
	assert.NotEmpty(t, got.ErrorDetail)
	assert.Equal(t, 2, got.Iterations, "exactly maxIterations attempts, never more")
	assert.Equal(t, 2, agent.optimizeCalls)
	assert.Len(t, feedbackLog(t, got), 2)

	assert.False(t, got.Debited)
	assert.Equal(t, 0, env.reloadAccount(t).TrialUsage, "failed runs never debit")
}

func TestBlockedPostingFailsAsInputError(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{err: scrape.ErrBlocked}, &fakeAgent{}, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	run, err := env.orch.Launch(env.account, env.resume, "https://jobs.example.com/123", 0, false)
	require.NoError(t, err)

	got := env.waitTerminal(t, run.ID)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, models.ErrKindInput, got.ErrorKind)
	assert.Contains(t, got.ErrorDetail, "paste the job text")
	assert.Equal(t, 0, env.reloadAccount(t).TrialUsage)
}

func TestUnparseableJobFailsAsInputError(t *testing.T) {
	agent := &fakeAgent{parseErr: agents.ErrUnparseableJob}
	env := newTestEnv(t, &fakeFetcher{}, agent, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	run, err := env.orch.Launch(env.account, env.resume, "gibberish", 0, false)
	require.NoError(t, err)

	got := env.waitTerminal(t, run.ID)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, models.ErrKindInput, got.ErrorKind)
}

func TestAgentFaultFailsAsAgentError(t *testing.T) {
	agent := &fakeAgent{optimizeErr: errors.New("provider returned 503")}
	env := newTestEnv(t, &fakeFetcher{}, agent, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	run, err := env.orch.Launch(env.account, env.resume, "posting text", 0, false)
	require.NoError(t, err)

	got := env.waitTerminal(t, run.ID)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, models.ErrKindAgent, got.ErrorKind)
	assert.GreaterOrEqual(t, agent.optimizeCalls, 2, "transient faults get a retry before failing")
}

func TestStepTimeoutFailsAsTimeout(t *testing.T) {
	agent := &fakeAgent{hangOptimize: true}
	env := newTestEnv(t, &fakeFetcher{}, agent, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})
	env.orch.stepTimeout = 50 * time.Millisecond

	run, err := env.orch.Launch(env.account, env.resume, "posting text", 0, false)
	require.NoError(t, err)

	got := env.waitTerminal(t, run.ID)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, models.ErrKindTimeout, got.ErrorKind)
}

func TestSettleDebitIsOncePerRun(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeAgent{}, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	run := &models.OptimizationRun{
		AccountID: env.account.ID,
		ResumeID:  env.resume.ID,
		JobInput:  "text",
		Status:    models.RunComplete,
	}
	require.NoError(t, env.db.Create(run).Error)

	env.orch.settleDebit(run.ID, env.account.ID)
	assert.Equal(t, 1, env.reloadAccount(t).TrialUsage)

	// A resumed process must see the marker and not debit again.
	env.orch.settleDebit(run.ID, env.account.ID)
	assert.Equal(t, 1, env.reloadAccount(t).TrialUsage)
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeAgent{}, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	run := &models.OptimizationRun{
		AccountID: env.account.ID,
		ResumeID:  env.resume.ID,
		JobInput:  "text",
		Status:    models.RunComplete,
		ResultRef: "runs/x/resume.html",
	}
	require.NoError(t, env.db.Create(run).Error)

	assert.False(t, env.orch.fail(run.ID, models.ErrKindInternal, "nope"))
	assert.False(t, env.orch.setStep(run.ID, models.RunGenerating, "restarting"))

	var got models.OptimizationRun
	require.NoError(t, env.db.First(&got, "id = ?", run.ID).Error)
	assert.Equal(t, models.RunComplete, got.Status)
	assert.Empty(t, got.ErrorKind)
}

func TestFailInterruptedOnlyTouchesNonTerminal(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeAgent{}, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	stuck := &models.OptimizationRun{AccountID: env.account.ID, ResumeID: env.resume.ID, JobInput: "t", Status: models.RunGenerating}
	done := &models.OptimizationRun{AccountID: env.account.ID, ResumeID: env.resume.ID, JobInput: "t", Status: models.RunComplete, Debited: true}
	require.NoError(t, env.db.Create(stuck).Error)
	require.NoError(t, env.db.Create(done).Error)

	require.NoError(t, env.orch.FailInterrupted())

	var got models.OptimizationRun
	require.NoError(t, env.db.First(&got, "id = ?", stuck.ID).Error)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, models.ErrKindInternal, got.ErrorKind)

	var gotDone models.OptimizationRun
	require.NoError(t, env.db.First(&gotDone, "id = ?", done.ID).Error)
	assert.Equal(t, models.RunComplete, gotDone.Status)
	assert.True(t, gotDone.Debited)
}

func TestMaxIterationsClampedToConfig(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeAgent{}, &fakePipeline{outcomes: []validate.Outcome{passOutcome()}})

	run, err := env.orch.Launch(env.account, env.resume, "text", 99, false)
	require.NoError(t, err)
	assert.Equal(t, 5, run.MaxIterations)

	env.waitTerminal(t, run.ID)
}
