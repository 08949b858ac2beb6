package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint = "https://api.line.me"

	replyPath = "/v2/bot/message/reply"
	pushPath  = "/v2/bot/message/push"

	retryKeyHeader = "X-Line-Retry-Key"
)

// Replier answers an inbound event through its single-use reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// Pusher sends a message to a known user at any time.
type Pusher interface {
	Push(ctx context.Context, req PushRequest) error
}

// Sender overrides the display name and icon of a pushed message.
type Sender struct {
	Name    string `json:"name,omitempty"`
	IconURL string `json:"iconUrl,omitempty"`
}

type PushRequest struct {
	To     string
	Text   string
	Sender *Sender
}

// APIError is a non-2xx answer from the Messaging API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("line api status=%d", e.StatusCode)
	}
	return fmt.Sprintf("line api status=%d: %s", e.StatusCode, e.Message)
}

type textMessage struct {
	Type   string  `json:"type"`
	Text   string  `json:"text"`
	Sender *Sender `json:"sender,omitempty"`
}

type replyBody struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushBody struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type Options struct {
	ChannelAccessToken string
	Endpoint           string
	// Timeout bounds every HTTP round trip; callers may set tighter deadlines.
	Timeout time.Duration
	// RateLimit is the maximum requests per second; zero disables pacing.
	RateLimit float64
}

// HTTPClient talks to the Messaging API over HTTPS.
type HTTPClient struct {
	http     *http.Client
	endpoint string
	token    string
	limiter  *rate.Limiter
	newKey   func() string
}

func NewHTTPClient(opts Options) *HTTPClient {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &HTTPClient{
		http:     &http.Client{Timeout: timeout},
		endpoint: endpoint,
		token:    opts.ChannelAccessToken,
		limiter:  limiter,
		newKey:   func() string { return uuid.New().String() },
	}
}

func (c *HTTPClient) Reply(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return fmt.Errorf("reply token is required")
	}
	body, err := json.Marshal(replyBody{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return err
	}
	return c.post(ctx, replyPath, body, nil)
}

func (c *HTTPClient) Push(ctx context.Context, req PushRequest) error {
	if req.To == "" {
		return fmt.Errorf("push recipient is required")
	}
	msg := textMessage{Type: "text", Text: req.Text}
	if req.Sender != nil && (req.Sender.Name != "" || req.Sender.IconURL != "") {
		sender := *req.Sender
		msg.Sender = &sender
	}
	body, err := json.Marshal(pushBody{To: req.To, Messages: []textMessage{msg}})
	if err != nil {
		return err
	}
	// The retry key lets LINE drop the duplicate if this push is retried.
	return c.post(ctx, pushPath, body, map[string]string{retryKeyHeader: c.newKey()})
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, headers map[string]string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Details []struct {
			Message  string `json:"message"`
			Property string `json:"property"`
		} `json:"details"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}
	msg := payload.Message
	for _, d := range payload.Details {
		msg += fmt.Sprintf(" (%s: %s)", d.Property, d.Message)
	}
	return msg
}
