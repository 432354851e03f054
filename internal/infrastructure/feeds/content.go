package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
)

// ContentFetcher downloads an article page and extracts its readable text.
// Used for feeds that publish only headlines or short teasers.
type ContentFetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewContentFetcher wires an HTTP client; timeout bounds a single page fetch.
func NewContentFetcher(client *http.Client) *ContentFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ContentFetcher{client: client, timeout: 20 * time.Second}
}

// Fetch returns the cleaned readable body of the page at pageURL.
func (c *ContentFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url %s: %w", pageURL, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned %s", resp.Status)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}

	return truncate(collapseSpace(article.TextContent), bodyLimit), nil
}
