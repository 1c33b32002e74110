package validate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/agents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	name      string
	threshold float64
	result    Result
	err       error
	delay     time.Duration
	calls     *int32
}

func (s stubValidator) Name() string       { return s.name }
func (s stubValidator) Threshold() float64 { return s.threshold }

func (s stubValidator) Evaluate(ctx context.Context, _ Input) (Result, error) {
	if s.calls != nil {
		atomic.AddInt32(s.calls, 1)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestPipelineAllPass(t *testing.T) {
	p := NewPipeline(false,
		stubValidator{name: "first", threshold: 0.7, result: Result{Passed: true, Score: 0.9}},
		stubValidator{name: "second", threshold: 1.0, result: Result{Passed: true, Score: 1.0}},
	)

	out, err := p.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.True(t, out.Passed)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "first", out.Results[0].Name)
	assert.Equal(t, 0.7, out.Results[0].Threshold)
	assert.Equal(t, "second", out.Results[1].Name)
}

func TestPipelineOneFailureFailsThePass(t *testing.T) {
	p := NewPipeline(false,
		stubValidator{name: "first", result: Result{Passed: true, Score: 1}},
		stubValidator{name: "second", result: Result{Passed: false, Score: 0.4, Issues: []string{"weak"}}},
		stubValidator{name: "third", result: Result{Passed: true, Score: 1}},
	)

	out, err := p.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.False(t, out.Passed)
	require.Len(t, out.Results, 3, "later validators still run and report")
	assert.Equal(t, []string{"weak"}, out.Results[1].Issues)
}

func TestPipelineAbsorbsValidatorFault(t *testing.T) {
	p := NewPipeline(false,
		stubValidator{name: "flaky", threshold: 0.9, err: errors.New("agent unreachable")},
		stubValidator{name: "solid", result: Result{Passed: true, Score: 1}},
	)

	out, err := p.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.False(t, out.Passed)
	require.Len(t, out.Results, 2)
	assert.False(t, out.Results[0].Passed)
	require.Len(t, out.Results[0].Issues, 1)
	assert.Contains(t, out.Results[0].Issues[0], "agent unreachable")
}

func TestPipelineParallelKeepsRegistrationOrder(t *testing.T) {
	var calls int32
	p := NewPipeline(true,
		stubValidator{name: "slow", delay: 30 * time.Millisecond, result: Result{Passed: true, Score: 0.8}, calls: &calls},
		stubValidator{name: "fast", result: Result{Passed: true, Score: 0.9}, calls: &calls},
	)

	out, err := p.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "slow", out.Results[0].Name)
	assert.Equal(t, "fast", out.Results[1].Name)
}

func TestPipelineSurfacesContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(false, stubValidator{name: "any", result: Result{Passed: true}})
	_, err := p.Run(ctx, Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeywordCoverage(t *testing.T) {
	job := &agents.JobPosting{Keywords: []string{"Go", "PostgreSQL", "Docker"}}

	t.Run("below threshold fails with missing keywords", func(t *testing.T) {
		res, err := KeywordCoverageChecker{}.Evaluate(context.Background(), Input{
			Candidate: "Seasoned Go engineer with Docker experience.",
			Job:       job,
		})
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.InDelta(t, 0.667, res.Score, 0.01)
		assert.Contains(t, res.Issues, "missing keyword: PostgreSQL")
		assert.NotEmpty(t, res.Suggestions)
	})

	t.Run("full coverage passes", func(t *testing.T) {
		res, err := KeywordCoverageChecker{}.Evaluate(context.Background(), Input{
			Candidate: "Go, PostgreSQL and Docker daily.",
			Job:       job,
		})
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Equal(t, 1.0, res.Score)
	})

	t.Run("posting without keywords passes trivially", func(t *testing.T) {
		res, err := KeywordCoverageChecker{}.Evaluate(context.Background(), Input{
			Candidate: "anything",
			Job:       &agents.JobPosting{},
		})
		require.NoError(t, err)
		assert.True(t, res.Passed)
	})
}

func TestStructureChecker(t *testing.T) {
	goodText := "Summary\n" + strings.Repeat("Shipped Go services at scale. ", 20) +
		"\nSkills\nGo, SQL\nExperience\nInitech 2019-2024\nEducation\nBSc"
	goodHTML := "<html><body><h1>Resume</h1></body></html>"

	t.Run("well formed document passes", func(t *testing.T) {
		res, err := StructureChecker{}.Evaluate(context.Background(), Input{Candidate: goodText, HTML: goodHTML})
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Equal(t, 1.0, res.Score)
	})

	t.Run("missing section and thin html reported", func(t *testing.T) {
		res, err := StructureChecker{}.Evaluate(context.Background(), Input{
			Candidate: "Skills\nGo\nExperience\n" + strings.Repeat("work ", 120),
			HTML:      "<div>fragment</div>",
		})
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Contains(t, res.Issues, "missing section: education")
		assert.Contains(t, res.Issues, "output is not a complete HTML document")
	})

	t.Run("too short document fails", func(t *testing.T) {
		res, err := StructureChecker{}.Evaluate(context.Background(), Input{
			Candidate: "Experience Education Skills",
			HTML:      goodHTML,
		})
		require.NoError(t, err)
		assert.False(t, res.Passed)
	})
}

type fakeAuditor struct {
	report *agents.IntegrityReport
}

func (f fakeAuditor) CheckContentIntegrity(_ context.Context, _, _ string) (*agents.IntegrityReport, error) {
	return f.report, nil
}

func TestContentIntegrityChecker(t *testing.T) {
	tests := []struct {
		name   string
		report agents.IntegrityReport
		passed bool
	}{
		{"grounded human text passes", agents.IntegrityReport{HallucinationScore: 0.95, AIProbability: 0.2}, true},
		{"fabrications fail", agents.IntegrityReport{HallucinationScore: 0.6, AIProbability: 0.1, Fabrications: []string{"MIT degree"}}, false},
		{"robotic voice fails", agents.IntegrityReport{HallucinationScore: 1.0, AIProbability: 0.8}, false},
		{"threshold is inclusive", agents.IntegrityReport{HallucinationScore: 0.9, AIProbability: 0.49}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ContentIntegrityChecker{Auditor: fakeAuditor{report: &tt.report}}
			res, err := c.Evaluate(context.Background(), Input{Source: "src", Candidate: "cand"})
			require.NoError(t, err)
			assert.Equal(t, tt.passed, res.Passed)
			if !tt.passed {
				assert.NotEmpty(t, res.Issues)
			}
		})
	}
}

func TestContentIntegritySplitsIntoTwoVerdicts(t *testing.T) {
	c := ContentIntegrityChecker{Auditor: fakeAuditor{report: &agents.IntegrityReport{
		HallucinationScore: 0.95,
		AIProbability:      0.8,
		AIIndicators:       []string{"uniform sentence length"},
	}}}

	parts, err := c.Split(context.Background(), Input{Source: "src", Candidate: "cand"})
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, "hallucination", parts[0].Name)
	assert.True(t, parts[0].Passed)
	assert.Equal(t, 0.95, parts[0].Score)

	assert.Equal(t, "ai_generated", parts[1].Name)
	assert.False(t, parts[1].Passed)
	assert.Contains(t, parts[1].Issues, "AI indicator: uniform sentence length")
}

func TestPipelineExpandsSplitValidators(t *testing.T) {
	p := NewPipeline(false,
		stubValidator{name: "first", result: Result{Passed: true, Score: 1}},
		ContentIntegrityChecker{Auditor: fakeAuditor{report: &agents.IntegrityReport{
			HallucinationScore: 1.0,
			AIProbability:      0.1,
		}}},
	)

	out, err := p.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.True(t, out.Passed)
	require.Len(t, out.Results, 3, "the integrity audit reports two verdicts")
	assert.Equal(t, "first", out.Results[0].Name)
	assert.Equal(t, "hallucination", out.Results[1].Name)
	assert.Equal(t, "ai_generated", out.Results[2].Name)
}

func TestContentIntegrityScoreIsTheWeakerSignal(t *testing.T) {
	c := ContentIntegrityChecker{Auditor: fakeAuditor{report: &agents.IntegrityReport{
		HallucinationScore: 0.95,
		AIProbability:      0.3,
	}}}
	res, err := c.Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, res.Score, 0.0001, "score reflects the weaker of grounding and voice")
}
