package validate

import (
	"context"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/agents"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/resilience"
)

// IntegrityAuditor is the slice of the agents client this validator needs.
type IntegrityAuditor interface {
	CheckContentIntegrity(ctx context.Context, source, candidate string) (*agents.IntegrityReport, error)
}

// ContentIntegrityChecker audits a candidate against its source document via
// one agent call covering both fabrication grounding and AI tells, and
// reports the two as separate verdicts: "hallucination" (grounding score at
// or above the threshold) and "ai_generated" (AI probability under half).
type ContentIntegrityChecker struct {
	Auditor      IntegrityAuditor
	MinGrounding float64
}

func (ContentIntegrityChecker) Name() string { return "content_integrity" }

func (c ContentIntegrityChecker) Threshold() float64 {
	if c.MinGrounding > 0 {
		return c.MinGrounding
	}
	return 0.9
}

// Split runs the audit once and returns the grounding and voice verdicts.
func (c ContentIntegrityChecker) Split(ctx context.Context, in Input) ([]Result, error) {
	report, err := resilience.DoVal(ctx, resilience.Default, func(ctx context.Context) (*agents.IntegrityReport, error) {
		return c.Auditor.CheckContentIntegrity(ctx, in.Source, in.Candidate)
	})
	if err != nil {
		return nil, fmt.Errorf("content integrity audit: %w", err)
	}

	grounding := Result{
		Name:      "hallucination",
		Threshold: c.Threshold(),
		Score:     report.HallucinationScore,
		Passed:    report.HallucinationScore >= c.Threshold(),
	}
	if !grounding.Passed {
		grounding.Issues = append(grounding.Issues, "fabricated content detected")
		for _, f := range report.Fabrications {
			grounding.Issues = append(grounding.Issues, "unsupported claim: "+f)
		}
		grounding.Suggestions = append(grounding.Suggestions, "remove every claim the source document does not back up")
	}

	// Voice score is 1−probability so a higher score is better here too.
	voice := Result{
		Name:      "ai_generated",
		Threshold: 0.5,
		Score:     1 - report.AIProbability,
		Passed:    report.AIProbability < 0.5,
	}
	if !voice.Passed {
		voice.Issues = append(voice.Issues, "text reads as machine generated")
		for _, ind := range report.AIIndicators {
			voice.Issues = append(voice.Issues, "AI indicator: "+ind)
		}
		voice.Suggestions = append(voice.Suggestions, "vary sentence rhythm and cut generic filler phrases")
	}

	return []Result{grounding, voice}, nil
}

// Evaluate collapses the split verdicts into one result; the score is the
// weaker of the two signals.
func (c ContentIntegrityChecker) Evaluate(ctx context.Context, in Input) (Result, error) {
	parts, err := c.Split(ctx, in)
	if err != nil {
		return Result{}, err
	}

	merged := Result{Passed: true, Score: 1}
	for _, p := range parts {
		if !p.Passed {
			merged.Passed = false
		}
		if p.Score < merged.Score {
			merged.Score = p.Score
		}
		merged.Issues = append(merged.Issues, p.Issues...)
		merged.Suggestions = append(merged.Suggestions, p.Suggestions...)
	}
	return merged, nil
}
