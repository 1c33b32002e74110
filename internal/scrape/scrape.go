package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
)

// ErrBlocked marks a posting URL guarded by an anti-bot challenge. The user
// can still paste the posting text directly.
var ErrBlocked = errors.New("job posting site blocked automated access")

const maxPageBytes = 2 << 20

// Fetcher resolves job input into posting text. URLs are fetched and reduced
// to text; pasted text passes through untouched.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(cfg *config.Config) *Fetcher {
	timeout := cfg.ScrapeTimeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// IsURL reports whether the job input looks like a fetchable posting URL.
func IsURL(input string) bool {
	s := strings.TrimSpace(input)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}

// Resolve returns the posting text for a job input.
func (f *Fetcher) Resolve(ctx context.Context, input string) (string, error) {
	if !IsURL(input) {
		return strings.TrimSpace(input), nil
	}
	return f.fetch(ctx, strings.TrimSpace(input))
}

func (f *Fetcher) fetch(ctx context.Context, postingURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", postingURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid posting URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch job posting: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read job posting: %w", err)
	}
	page := string(body)

	// Challenge pages arrive as 403/503 or as a 200 interstitial, so the
	// body is inspected regardless of status.
	if looksBlocked(page) || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		return "", ErrBlocked
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("job posting returned status %d", resp.StatusCode)
	}

	text := htmlToText(page)
	if len(text) < 100 {
		return "", fmt.Errorf("job posting page had no readable text")
	}
	return text, nil
}

var blockMarkers = []string{
	"just a moment",
	"cf-chl",
	"cf-turnstile",
	"checking your browser",
	"attention required",
	"verify you are human",
}

func looksBlocked(page string) bool {
	lower := strings.ToLower(page)
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe  = regexp.MustCompile(`[ \t\r]+`)
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&nbsp;", " ",
	"&#39;", "'",
	"&quot;", `"`,
)

func htmlToText(page string) string {
	s := scriptRe.ReplaceAllString(page, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, "\n")
	s = entityReplacer.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, "\n")
}
