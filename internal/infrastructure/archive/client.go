package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"newsflow/internal/config"
	"newsflow/internal/domain"
	"newsflow/internal/ports"
)

const (
	apiVersion     = "2022-06-28"
	titleLimit     = 200
	richTextLimit  = 2000
	defaultBaseURL = "https://api.notion.com/v1"
)

// Default archive property names, overridable via archive.fieldNames so an
// existing database schema can be reused without renaming its columns.
var defaultFields = map[string]string{
	"title":        "Title",
	"url":          "URL",
	"source":       "Source",
	"topics":       "Topics",
	"priority":     "Priority",
	"quality":      "Quality",
	"verification": "Verification",
	"summary":      "Summary",
	"publishedAt":  "Published",
	"processedAt":  "Processed",
	"cost":         "Cost USD",
}

// Client writes processed records as pages of a hosted document database.
type Client struct {
	baseURL    string
	token      string
	databaseID string
	fields     map[string]string
	httpClient *http.Client
}

var _ ports.Archive = (*Client)(nil)

// NewClient builds the archive sink from configuration.
func NewClient(cfg config.ArchiveConfig, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	fields := make(map[string]string, len(defaultFields))
	for key, name := range defaultFields {
		fields[key] = name
	}
	for key, name := range cfg.FieldNames {
		if name != "" {
			fields[key] = name
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		databaseID: cfg.DatabaseID,
		fields:     fields,
		httpClient: client,
	}
}

type createPageResponse struct {
	ID string `json:"id"`
}

type queryResponse struct {
	Results []createPageResponse `json:"results"`
}

// Write creates one page for the record and returns the remote page ID.
// An existing page with the same link is reused instead of duplicated, so
// a record whose seen-mark was lost after a successful write stays a
// single page on the re-run.
func (c *Client) Write(ctx context.Context, rec domain.ProcessedRecord) (string, error) {
	if c.token == "" || c.databaseID == "" {
		return "", fmt.Errorf("archive: token and databaseId are required")
	}

	if rec.Item.URL != "" {
		// A failed lookup falls through to create; the check is best effort.
		if id, err := c.findExisting(ctx, rec.Item.URL); err == nil && id != "" {
			return id, nil
		}
	}

	body, err := json.Marshal(map[string]interface{}{
		"parent":     map[string]string{"database_id": c.databaseID},
		"properties": c.properties(rec),
	})
	if err != nil {
		return "", fmt.Errorf("archive: marshal page: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Notion-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("archive: create page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("archive: create page returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed createPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("archive: decode response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("archive: response carries no page id")
	}

	return parsed.ID, nil
}

// findExisting queries the database for a page whose link property equals
// the record URL and returns its ID, or empty when none matches.
func (c *Client) findExisting(ctx context.Context, pageURL string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"filter": map[string]interface{}{
			"property": c.fields["url"],
			"url":      map[string]string{"equals": pageURL},
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive: marshal query: %w", err)
	}

	endpoint := c.baseURL + "/databases/" + strings.ReplaceAll(c.databaseID, "-", "") + "/query"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive: new query request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Notion-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("archive: query pages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("archive: query returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("archive: decode query response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "", nil
	}
	return parsed.Results[0].ID, nil
}

func (c *Client) properties(rec domain.ProcessedRecord) map[string]interface{} {
	props := map[string]interface{}{
		c.fields["title"]: map[string]interface{}{
			"title": []interface{}{textBlock(clip(rec.Item.Title, titleLimit))},
		},
		c.fields["source"]:   selectBlock(rec.Item.Source),
		c.fields["priority"]: selectBlock(rec.Classification.Priority),
		c.fields["processedAt"]: map[string]interface{}{
			"date": map[string]string{"start": rec.ProcessedAt.UTC().Format(time.RFC3339)},
		},
		c.fields["cost"]: map[string]interface{}{"number": rec.CostUSD},
	}

	if rec.Item.URL != "" {
		props[c.fields["url"]] = map[string]interface{}{"url": rec.Item.URL}
	}
	if !rec.Item.PublishedAt.IsZero() {
		props[c.fields["publishedAt"]] = map[string]interface{}{
			"date": map[string]string{"start": rec.Item.PublishedAt.UTC().Format(time.RFC3339)},
		}
	}
	if len(rec.Classification.Topics) > 0 {
		tags := make([]interface{}, 0, len(rec.Classification.Topics))
		for _, topic := range rec.Classification.Topics {
			tags = append(tags, map[string]string{"name": topic})
		}
		props[c.fields["topics"]] = map[string]interface{}{"multi_select": tags}
	}
	if rec.Assessment.QualityGrade != "" {
		props[c.fields["quality"]] = selectBlock(rec.Assessment.QualityGrade)
	}
	if rec.Assessment.VerifyStatus != "" {
		props[c.fields["verification"]] = selectBlock(rec.Assessment.VerifyStatus)
	}
	if rec.Summary != "" {
		props[c.fields["summary"]] = map[string]interface{}{
			"rich_text": []interface{}{textBlock(clip(rec.Summary, richTextLimit))},
		}
	}

	return props
}

func textBlock(content string) map[string]interface{} {
	return map[string]interface{}{
		"text": map[string]string{"content": content},
	}
}

func selectBlock(name string) map[string]interface{} {
	if name == "" {
		name = "unknown"
	}
	return map[string]interface{}{
		"select": map[string]string{"name": name},
	}
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
