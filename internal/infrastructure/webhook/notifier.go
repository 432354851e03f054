package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"newsflow/internal/domain"
	"newsflow/internal/infrastructure/telegram"
	"newsflow/internal/ports"
)

// Notifier posts markdown cards to a DingTalk-compatible webhook. When a
// secret is configured each request is signed with the timestamp scheme the
// service expects.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier wires the webhook endpoint and optional signing secret.
func NewNotifier(webhookURL, secret string) *Notifier {
	return &Notifier{
		url:    webhookURL,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

type markdownMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"markdown"`
}

// Notify posts one markdown card for the record.
func (n *Notifier) Notify(ctx context.Context, rec domain.ProcessedRecord) error {
	if n.url == "" {
		return fmt.Errorf("webhook notifier misconfigured")
	}

	var msg markdownMessage
	msg.MsgType = "markdown"
	msg.Markdown.Title = rec.Item.Title
	msg.Markdown.Text = telegram.FormatRecord(rec)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal message: %w", err)
	}

	endpoint, err := n.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	return nil
}

// signedURL appends timestamp and sign query parameters when a secret is set.
// The signature is HMAC-SHA256 over "timestamp\nsecret", base64 encoded.
func (n *Notifier) signedURL() (string, error) {
	if n.secret == "" {
		return n.url, nil
	}

	parsed, err := url.Parse(n.url)
	if err != nil {
		return "", fmt.Errorf("webhook: invalid url: %w", err)
	}

	timestamp := strconv.FormatInt(n.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(n.secret))
	mac.Write([]byte(timestamp + "\n" + n.secret))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	query := parsed.Query()
	query.Set("timestamp", timestamp)
	query.Set("sign", sign)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
