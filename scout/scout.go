package scout

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitlai/missionrunner/logger"
)

// Snapshot is the raw material the pipeline works from: the page as fetched,
// plus a text rendering for excerpts and keyword retrieval.
type Snapshot struct {
	URL       string    `json:"url"`
	HTML      string    `json:"-"`
	Text      string    `json:"text"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Excerpt returns the first n characters of the page text.
func (s *Snapshot) Excerpt(n int) string {
	if len(s.Text) <= n {
		return s.Text
	}
	return s.Text[:n]
}

// Fetcher retrieves a page snapshot for the scout stage.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Snapshot, error)
}

// Config holds scout fetcher configuration.
type Config struct {
	// MaxBodyBytes caps how much of a page is read. Pages past the cap are
	// truncated, not rejected.
	MaxBodyBytes int64

	// UserAgent identifies the scout to target sites.
	UserAgent string
}

func (c *Config) applyDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20 // 2 MiB
	}
	if c.UserAgent == "" {
		c.UserAgent = "missionrunner-scout/1.0"
	}
}

// HTTPFetcher implements Fetcher over plain HTTP. It sees the page as served,
// before client-side rendering; the execution stage works on the live DOM.
type HTTPFetcher struct {
	cfg    Config
	client *http.Client
	logger logger.Logger
}

// NewHTTPFetcher creates an HTTP-backed scout fetcher.
func NewHTTPFetcher(cfg Config, client *http.Client, log logger.Logger) *HTTPFetcher {
	cfg.applyDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		cfg:    cfg,
		client: client,
		logger: log,
	}
}

// Fetch retrieves the page and renders its visible text.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build scout request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scout fetch of %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read page body: %w", err)
	}

	html := string(body)
	snapshot := &Snapshot{
		URL:       url,
		HTML:      html,
		Text:      renderText(html),
		FetchedAt: time.Now(),
	}

	f.logger.Debug(ctx, "scouted page", logger.Fields{
		"url":        url,
		"html_bytes": len(html),
		"text_bytes": len(snapshot.Text),
	})

	return snapshot, nil
}

// renderText extracts visible text from the page, collapsing whitespace.
// Falls back to the raw HTML if parsing fails.
func renderText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
