package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseableJob marks input the parser could not turn into a posting.
// The caller surfaces it as a user-actionable input error, not a fault.
var ErrUnparseableJob = errors.New("job posting could not be parsed")

// JobPosting is the structured form of a parsed job advertisement.
type JobPosting struct {
	Title            string   `json:"title"`
	Company          string   `json:"company"`
	Location         string   `json:"location,omitempty"`
	Description      string   `json:"description,omitempty"`
	Requirements     []string `json:"requirements,omitempty"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
}

const parseSystemPrompt = `You extract structured data from job postings.

Rules:
1. Use only information present in the posting text, never invent details
2. Keywords are the concrete skills, tools and qualifications a resume screening system would match on
3. Return ONLY valid JSON, no markdown or explanation`

// ParseJob turns raw posting text into a JobPosting. Extracted fields are
// grounded against the source text: an ungrounded company is reset to
// "Unknown", a posting without a recognizable title is rejected.
func (c *Client) ParseJob(ctx context.Context, postingText string) (*JobPosting, error) {
	text := strings.TrimSpace(postingText)
	if text == "" {
		return nil, fmt.Errorf("%w: empty posting text", ErrUnparseableJob)
	}

	userPrompt := fmt.Sprintf(`Extract the following from this job posting:

%s

Return JSON:
{"title": "...", "company": "...", "location": "...", "description": "one paragraph summary", "requirements": ["..."], "responsibilities": ["..."], "keywords": ["..."]}`, text)

	var job JobPosting
	if err := c.completeJSON(ctx, parseSystemPrompt, userPrompt, 0.1, 2048, &job); err != nil {
		return nil, err
	}

	job.Title = strings.TrimSpace(job.Title)
	job.Company = strings.TrimSpace(job.Company)
	if job.Title == "" {
		return nil, fmt.Errorf("%w: no job title found", ErrUnparseableJob)
	}

	lower := strings.ToLower(text)
	if job.Company == "" || !strings.Contains(lower, strings.ToLower(job.Company)) {
		job.Company = "Unknown"
	}

	return &job, nil
}
