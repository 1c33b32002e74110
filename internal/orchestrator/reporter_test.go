package orchestrator

import (
	"testing"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/testdb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestReporter(t *testing.T) (*Reporter, *gorm.DB) {
	t.Helper()
	db := testdb.Open(t, &models.Account{}, &models.Resume{}, &models.OptimizationRun{})
	return NewReporter(db), db
}

func createRun(t *testing.T, db *gorm.DB, accountID uuid.UUID, mutate func(*models.OptimizationRun)) *models.OptimizationRun {
	t.Helper()
	run := &models.OptimizationRun{
		AccountID: accountID,
		ResumeID:  uuid.New(),
		JobInput:  "pasted job text",
		Status:    models.RunPending,
	}
	if mutate != nil {
		mutate(run)
	}
	require.NoError(t, db.Create(run).Error)
	return run
}

func TestExternalStatusVocabulary(t *testing.T) {
	cases := map[string]string{
		models.RunPending:    "pending",
		models.RunParsing:    "parse_job",
		models.RunGenerating: "generate",
		models.RunValidating: "validate",
		models.RunRefining:   "refine",
		models.RunComplete:   "complete",
		models.RunFailed:     "failed",
	}
	for internal, external := range cases {
		assert.Equal(t, external, ExternalStatus(internal))
	}
	assert.Equal(t, "something_new", ExternalStatus("something_new"))
}

func TestStatusProjectsRun(t *testing.T) {
	r, db := newTestReporter(t)
	accountID := uuid.New()

	run := createRun(t, db, accountID, func(m *models.OptimizationRun) {
		m.Status = models.RunValidating
		m.CurrentStep = "Validating iteration 2..."
		m.Iterations = 2
		m.MaxIterations = 5
		m.JobInput = "https://jobs.example.com/postings/42"
		m.JobParsed = datatypes.JSON(`{"title":"Platform Engineer","company":"Acme"}`)
		m.Feedback = datatypes.JSON(`[{"iteration":1,"passed":false,"results":[]}]`)
	})

	got, err := r.Status(run.ID, accountID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "validate", got.Status)
	assert.Equal(t, "Validating iteration 2...", got.CurrentStep)
	assert.Equal(t, 2, got.Iterations)
	assert.Equal(t, 5, got.MaxIterations)
	assert.Equal(t, "https://jobs.example.com/postings/42", got.JobURL)
	assert.JSONEq(t, `{"title":"Platform Engineer","company":"Acme"}`, string(got.JobParsed))
	assert.NotEmpty(t, got.Feedback)
	assert.Empty(t, got.Error)
}

func TestStatusHidesPastedJobText(t *testing.T) {
	r, db := newTestReporter(t)
	accountID := uuid.New()
	run := createRun(t, db, accountID, nil)

	got, err := r.Status(run.ID, accountID)
	require.NoError(t, err)
	assert.Empty(t, got.JobURL, "pasted text never leaks back as a URL")
}

func TestStatusCarriesFailureDetail(t *testing.T) {
	r, db := newTestReporter(t)
	accountID := uuid.New()
	run := createRun(t, db, accountID, func(m *models.OptimizationRun) {
		m.Status = models.RunFailed
		m.ErrorKind = models.ErrKindInput
		m.ErrorDetail = "The job posting site blocks automated access. Please paste the job text instead."
	})

	got, err := r.Status(run.ID, accountID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, models.ErrKindInput, got.ErrorKind)
	assert.Contains(t, got.Error, "paste the job text")
}

func TestStatusScopedToOwningAccount(t *testing.T) {
	r, db := newTestReporter(t)
	owner := uuid.New()
	run := createRun(t, db, owner, nil)

	_, err := r.Status(run.ID, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = r.Status(uuid.New(), owner)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListSummarizesOwnRunsOnly(t *testing.T) {
	r, db := newTestReporter(t)
	owner := uuid.New()
	other := uuid.New()

	createRun(t, db, owner, func(m *models.OptimizationRun) {
		m.Status = models.RunComplete
		m.JobInput = "https://jobs.example.com/1"
		m.JobParsed = datatypes.JSON(`{"title":"SRE","company":"Globex"}`)
	})
	createRun(t, db, owner, func(m *models.OptimizationRun) {
		m.Status = models.RunGenerating
	})
	createRun(t, db, other, nil)

	got, err := r.List(owner)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byStatus := map[string]int{}
	for _, s := range got {
		byStatus[s.Status]++
	}
	assert.Equal(t, 1, byStatus["complete"])
	assert.Equal(t, 1, byStatus["generate"])

	for _, s := range got {
		if s.Status == "complete" {
			assert.Equal(t, "SRE", s.JobTitle)
			assert.Equal(t, "Globex", s.JobCompany)
			assert.Equal(t, "https://jobs.example.com/1", s.JobURL)
		}
	}
}

func TestListEmptyAccount(t *testing.T) {
	r, _ := newTestReporter(t)

	got, err := r.List(uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
