package agents

import (
	"context"
	"fmt"
)

// IntegrityReport scores a candidate against its source document.
// HallucinationScore is 1.0 when every claim is grounded in the source;
// AIProbability is the estimated likelihood the text reads as
// machine-generated.
type IntegrityReport struct {
	HallucinationScore float64  `json:"hallucination_score"`
	AIProbability      float64  `json:"ai_probability"`
	Fabrications       []string `json:"fabrications,omitempty"`
	AIIndicators       []string `json:"ai_indicators,omitempty"`
}

const integritySystemPrompt = `You audit tailored resumes against their source resume.

Check two things:
1. Hallucination: every employer, title, date, degree, certification and quantified achievement in the tailored resume must be traceable to the source. Score 1.0 when fully grounded, lower per fabricated claim, and list each fabrication.
2. AI tells: estimate the probability a reader would flag the text as machine-generated (buzzword stuffing, uniform sentence rhythm, generic filler), and list the indicators.

Return ONLY valid JSON, no markdown or explanation`

// CheckContentIntegrity runs the combined hallucination / AI-tell audit of a
// candidate against the source document. Both checks share one call because
// they read the same pair of texts.
func (c *Client) CheckContentIntegrity(ctx context.Context, source, candidate string) (*IntegrityReport, error) {
	userPrompt := fmt.Sprintf(`Source resume:
%s

Tailored resume:
%s

Return JSON:
{"hallucination_score": 0.0, "ai_probability": 0.0, "fabrications": ["..."], "ai_indicators": ["..."]}`, source, candidate)

	var report IntegrityReport
	if err := c.completeJSON(ctx, integritySystemPrompt, userPrompt, 0.0, 2048, &report); err != nil {
		return nil, err
	}

	report.HallucinationScore = clamp01(report.HallucinationScore)
	report.AIProbability = clamp01(report.AIProbability)
	return &report, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
