package agents

import (
	"context"
	"strings"
)

const nameSystemPrompt = `You extract the candidate's name from resume text.
Return ONLY valid JSON, no markdown or explanation`

// ExtractName pulls the candidate's first and last name out of resume text.
// Best effort: callers treat a failure as unknown, not as an error worth
// failing an upload over.
func (c *Client) ExtractName(ctx context.Context, resumeText string) (first, last string, err error) {
	excerpt := resumeText
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}

	var out struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	prompt := "Resume:\n" + excerpt + "\n\nReturn JSON:\n{\"first_name\": \"...\", \"last_name\": \"...\"}"
	if err := c.completeJSON(ctx, nameSystemPrompt, prompt, 0.0, 256, &out); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(out.FirstName), strings.TrimSpace(out.LastName), nil
}
