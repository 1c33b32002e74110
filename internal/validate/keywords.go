package validate

import (
	"context"
	"fmt"
	"strings"
)

// KeywordCoverageChecker measures how many of the posting's keywords made it
// into the candidate, the way an automated resume screen would. Deterministic,
// no agent call.
type KeywordCoverageChecker struct {
	MinCoverage float64
}

func (k KeywordCoverageChecker) Name() string { return "keyword_coverage" }

func (k KeywordCoverageChecker) Threshold() float64 {
	if k.MinCoverage > 0 {
		return k.MinCoverage
	}
	return 0.7
}

func (k KeywordCoverageChecker) Evaluate(_ context.Context, in Input) (Result, error) {
	keywords := in.Job.Keywords
	if len(keywords) == 0 {
		return Result{Passed: true, Score: 1}, nil
	}

	lower := strings.ToLower(in.Candidate)
	var missing []string
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(strings.TrimSpace(kw))) {
			hits++
		} else {
			missing = append(missing, kw)
		}
	}

	score := float64(hits) / float64(len(keywords))
	res := Result{
		Passed: score >= k.Threshold(),
		Score:  score,
	}
	for _, m := range missing {
		res.Issues = append(res.Issues, "missing keyword: "+m)
	}
	if !res.Passed {
		res.Suggestions = append(res.Suggestions,
			fmt.Sprintf("work %d more of the posting's keywords into sections where the experience genuinely supports them", len(missing)))
	}
	return res, nil
}
