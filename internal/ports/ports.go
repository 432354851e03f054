package ports

import (
	"context"
	"errors"
	"time"

	"newsflow/internal/domain"
)

// Source pulls fresh items from upstream providers. A transient fetch
// failure from one provider must not prevent others from contributing.
type Source interface {
	Fetch(ctx context.Context) ([]domain.Item, error)
}

// Archive writes processed records to the external document database and
// returns the remote record identifier.
type Archive interface {
	Write(ctx context.Context, rec domain.ProcessedRecord) (string, error)
}

// Notifier fans a processed record out to a chat or webhook channel.
type Notifier interface {
	Notify(ctx context.Context, rec domain.ProcessedRecord) error
}

// CompletionRequest describes one chat-completion call.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the billable result of a completion call.
type CompletionResponse struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// CompletionClient invokes an external completion API.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// ErrorKind classifies completion API failures.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrRateLimit ErrorKind = "rate_limit"
	ErrServer    ErrorKind = "server_error"
	ErrAuth      ErrorKind = "auth_error"
)

// APIError is a typed completion failure. Timeout, rate-limit, and server
// errors are retryable; auth errors are not.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Retryable reports whether err is a completion failure worth retrying.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case ErrTimeout, ErrRateLimit, ErrServer:
			return true
		}
	}
	return false
}

// CacheStore is the process-wide fingerprint/result cache. Entries past
// their TTL are treated as absent; implementations must serialize access.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, payload string, ttl time.Duration) error
	RecentPayloads(ctx context.Context, prefix string, limit int) ([]string, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
