package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"newsflow/internal/config"
	"newsflow/internal/ports"
)

// DefaultBaseURL is the provider default, used when neither the environment
// nor the configuration file overrides it.
const DefaultBaseURL = "https://api.openai.com/v1"

const baseURLEnv = "LLM_BASE_URL"

// Client implements ports.CompletionClient backed by OpenAI-compatible
// chat-completion APIs.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.CompletionClient = (*Client)(nil)

// NewClient builds a client from configuration. Base URL precedence is
// environment override, then configuration file, then the provider default.
func NewClient(cfg config.LLMConfig) *Client {
	baseURL := DefaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if v := os.Getenv(baseURLEnv); v != "" {
		baseURL = v
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete posts one chat completion and maps transport and HTTP failures to
// the typed error kinds the retry policy keys on.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	if c.model == "" {
		return ports.CompletionResponse{}, fmt.Errorf("llm: model not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("llm: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ports.CompletionResponse{}, &ports.APIError{Kind: ports.ErrTimeout, Message: err.Error()}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ports.CompletionResponse{}, &ports.APIError{Kind: ports.ErrTimeout, Message: err.Error()}
		}
		return ports.CompletionResponse{}, &ports.APIError{Kind: ports.ErrServer, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ports.CompletionResponse{}, classifyStatus(resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return ports.CompletionResponse{}, &ports.APIError{Kind: ports.ErrServer, Status: resp.StatusCode, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return ports.CompletionResponse{}, &ports.APIError{Kind: ports.ErrServer, Status: resp.StatusCode, Message: "empty choices"}
	}

	return ports.CompletionResponse{
		Text:      parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}, nil
}

func classifyStatus(status int, message string) *ports.APIError {
	switch {
	case status == http.StatusTooManyRequests:
		return &ports.APIError{Kind: ports.ErrRateLimit, Status: status, Message: message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ports.APIError{Kind: ports.ErrAuth, Status: status, Message: message}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &ports.APIError{Kind: ports.ErrTimeout, Status: status, Message: message}
	case status >= 500:
		return &ports.APIError{Kind: ports.ErrServer, Status: status, Message: message}
	default:
		return &ports.APIError{Kind: ports.ErrServer, Status: status, Message: message}
	}
}
