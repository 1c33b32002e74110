package agents

import (
	"context"
	"fmt"
	"strings"
)

// Candidate is one tailored resume produced by the optimization agent.
type Candidate struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// OptimizeInput carries everything one generation call needs. Feedback holds
// the failing validators' issues from the previous iteration and is empty on
// the first pass.
type OptimizeInput struct {
	ResumeText string
	Job        *JobPosting
	Feedback   []string
}

const optimizeSystemPrompt = `You are an expert resume writer tailoring resumes to specific job postings.

Rules:
1. Reorder and rephrase the candidate's real experience to match the posting
2. Weave the posting's keywords in naturally where the experience supports them
3. Never invent employers, titles, dates, degrees or certifications
4. Keep a clean single-column structure: summary, skills, experience, education
5. Return ONLY valid JSON with an "html" field (complete styled HTML document) and a "text" field (plain text rendition), no markdown or explanation`

// Optimize produces a candidate resume for the job, incorporating prior
// validator feedback when refining.
func (c *Client) Optimize(ctx context.Context, in OptimizeInput) (*Candidate, error) {
	if in.Job == nil {
		return nil, fmt.Errorf("optimize: nil job posting")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Job posting:\nTitle: %s\nCompany: %s\n", in.Job.Title, in.Job.Company)
	if len(in.Job.Requirements) > 0 {
		fmt.Fprintf(&sb, "Requirements: %s\n", strings.Join(in.Job.Requirements, "; "))
	}
	if len(in.Job.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(in.Job.Keywords, ", "))
	}
	fmt.Fprintf(&sb, "\nResume:\n%s\n", in.ResumeText)
	if len(in.Feedback) > 0 {
		fmt.Fprintf(&sb, "\nThe previous attempt was rejected. Fix these issues:\n- %s\n", strings.Join(in.Feedback, "\n- "))
	}
	sb.WriteString("\nReturn JSON:\n{\"html\": \"...\", \"text\": \"...\"}")

	var candidate Candidate
	if err := c.completeJSON(ctx, optimizeSystemPrompt, sb.String(), 0.4, 8192, &candidate); err != nil {
		return nil, err
	}
	if strings.TrimSpace(candidate.HTML) == "" || strings.TrimSpace(candidate.Text) == "" {
		return nil, fmt.Errorf("optimizer returned an empty candidate")
	}
	return &candidate, nil
}
