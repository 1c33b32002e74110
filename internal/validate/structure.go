package validate

import (
	"context"
	"strings"
)

// StructureChecker enforces the baseline shape of a resume document:
// required sections, sane length, a renderable HTML body. Deterministic, no
// agent call.
type StructureChecker struct{}

var requiredSections = []string{"experience", "education", "skills"}

const (
	minTextLen = 400
	maxTextLen = 20000
)

func (StructureChecker) Name() string { return "structure" }

func (StructureChecker) Threshold() float64 { return 1.0 }

func (s StructureChecker) Evaluate(_ context.Context, in Input) (Result, error) {
	checks := 0
	failed := 0
	res := Result{}

	lower := strings.ToLower(in.Candidate)
	for _, section := range requiredSections {
		checks++
		if !strings.Contains(lower, section) {
			failed++
			res.Issues = append(res.Issues, "missing section: "+section)
			res.Suggestions = append(res.Suggestions, "add a dedicated "+section+" section")
		}
	}

	checks++
	switch {
	case len(in.Candidate) < minTextLen:
		failed++
		res.Issues = append(res.Issues, "document is too short to be a complete resume")
		res.Suggestions = append(res.Suggestions, "keep the candidate's full experience, do not summarize it away")
	case len(in.Candidate) > maxTextLen:
		failed++
		res.Issues = append(res.Issues, "document is far too long for a resume")
		res.Suggestions = append(res.Suggestions, "tighten bullets to the posting's requirements")
	}

	checks++
	htmlLower := strings.ToLower(in.HTML)
	if !strings.Contains(htmlLower, "<body") || !strings.Contains(htmlLower, "</body>") {
		failed++
		res.Issues = append(res.Issues, "output is not a complete HTML document")
	}

	res.Score = float64(checks-failed) / float64(checks)
	res.Passed = failed == 0
	return res, nil
}
