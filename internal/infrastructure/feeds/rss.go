package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"newsflow/internal/collector"
	"newsflow/internal/domain"
)

const (
	defaultMaxEntries = 30
	userAgent         = "newsflow/1.0"
)

// rssDocument covers RSS 2.0 payloads.
type rssDocument struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	Content     string `xml:"encoded"`
	PubDate     string `xml:"pubDate"`
}

// atomDocument covers Atom feeds, including the YouTube channel variant.
type atomDocument struct {
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	// YouTube channel feeds carry the description inside media:group.
	MediaDescription string `xml:"group>description"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// FeedCollector fetches RSS 2.0 and Atom feeds over HTTP.
type FeedCollector struct {
	client  *http.Client
	content *ContentFetcher
}

// NewFeedCollector wires an HTTP client; content may be nil to disable
// full-text fetching.
func NewFeedCollector(client *http.Client, content *ContentFetcher) *FeedCollector {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &FeedCollector{client: client, content: content}
}

// Name identifies the strategy inside the registry.
func (f *FeedCollector) Name() string {
	return "feed"
}

// Collect downloads one feed and converts its newest entries to items.
func (f *FeedCollector) Collect(ctx context.Context, req collector.Request) ([]domain.Item, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no url provided for source %s", req.SourceName)
	}

	raw, err := f.fetch(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}

	items, err := ParseFeed(raw, req.SourceName)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}

	limit := req.MaxEntries
	if limit <= 0 {
		limit = defaultMaxEntries
	}
	if len(items) > limit {
		items = items[:limit]
	}

	if req.FetchContent && f.content != nil {
		for i := range items {
			if items[i].Body != "" || items[i].URL == "" {
				continue
			}
			body, err := f.content.Fetch(ctx, items[i].URL)
			if err != nil {
				continue
			}
			items[i].Body = body
		}
	}

	return items, nil
}

func (f *FeedCollector) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

// ParseFeed decodes an RSS 2.0 or Atom payload into items. The format is
// detected from the root element.
func ParseFeed(raw []byte, sourceName string) ([]domain.Item, error) {
	var rss rssDocument
	if err := xml.Unmarshal(raw, &rss); err == nil && len(rss.Channel.Items) > 0 {
		return fromRSS(rss, sourceName), nil
	}

	var atom atomDocument
	if err := xml.Unmarshal(raw, &atom); err == nil && len(atom.Entries) > 0 {
		return fromAtom(atom, sourceName), nil
	}

	return nil, fmt.Errorf("unrecognized feed format")
}

func fromRSS(doc rssDocument, sourceName string) []domain.Item {
	items := make([]domain.Item, 0, len(doc.Channel.Items))
	for _, entry := range doc.Channel.Items {
		body := entry.Content
		if body == "" {
			body = entry.Description
		}

		id := entry.GUID
		if id == "" {
			id = entry.Link
		}

		items = append(items, domain.Item{
			ID:          id,
			Title:       collapseSpace(entry.Title),
			Body:        ExtractSummary(CleanHTML(body)),
			URL:         entry.Link,
			Source:      sourceName,
			SourceType:  domain.SourceFeed,
			PublishedAt: parseFeedTime(entry.PubDate),
		})
	}
	return items
}

func fromAtom(doc atomDocument, sourceName string) []domain.Item {
	items := make([]domain.Item, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		link := ""
		for _, l := range entry.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0].Href
		}

		body := entry.Content
		if body == "" {
			body = entry.Summary
		}
		if body == "" {
			body = entry.MediaDescription
		}

		published := entry.Published
		if published == "" {
			published = entry.Updated
		}

		id := entry.ID
		if id == "" {
			id = link
		}

		items = append(items, domain.Item{
			ID:          id,
			Title:       collapseSpace(entry.Title),
			Body:        ExtractSummary(CleanHTML(body)),
			URL:         link,
			Source:      sourceName,
			SourceType:  domain.SourceFeed,
			PublishedAt: parseFeedTime(published),
		})
	}
	return items
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z",
}

func parseFeedTime(value string) time.Time {
	for _, layout := range feedTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
