package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"golang.org/x/time/rate"
)

var ErrNoProvider = errors.New("no AI provider configured")

// provider is one OpenAI-compatible chat completion endpoint.
type provider struct {
	name   string
	apiURL string
	apiKey string
	model  string
}

// Client runs chat completions against a primary/fallback provider chain.
// All agent calls share one rate limiter so a refine loop cannot hammer the
// provider past its quota.
type Client struct {
	client    *http.Client
	providers []provider
	limiter   *rate.Limiter
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.AITimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	var providers []provider
	if cfg.GLMAPIKey != "" {
		providers = append(providers, provider{"glm", cfg.GLMAPIURL, cfg.GLMAPIKey, cfg.GLMModel})
	}
	if cfg.DeepSeekAPIKey != "" {
		providers = append(providers, provider{"deepseek", cfg.DeepSeekAPIURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel})
	}

	rps := cfg.AIMaxRPS
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		client:    &http.Client{Timeout: timeout},
		providers: providers,
		limiter:   rate.NewLimiter(rate.Limit(rps), rps*2),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete tries each provider in order and returns the first answer.
func (c *Client) complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProvider
	}

	var lastErr error
	for _, p := range c.providers {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		content, err := c.callProvider(ctx, p, system, user, temperature, maxTokens)
		if err == nil {
			return content, nil
		}
		lastErr = err
		slog.Warn("AI provider call failed", "provider", p.name, "error", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("all AI providers failed: %w", lastErr)
}

// completeJSON runs complete and decodes the answer into out, stripping any
// markdown code fences the model wrapped around it.
func (c *Client) completeJSON(ctx context.Context, system, user string, temperature float64, maxTokens int, out interface{}) error {
	content, err := c.complete(ctx, system, user, temperature, maxTokens)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(content)), out); err != nil {
		return fmt.Errorf("parse agent response: %w", err)
	}
	return nil
}

func (c *Client) callProvider(ctx context.Context, p provider, system, user string, temperature float64, maxTokens int) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
