// Package botapi is the outbound JSON-over-HTTPS client used for
// notification texts and edits.
//
// It maintains a fixed list of credentialed senders and rotates through
// them round-robin across calls. A per-attempt timeout moves on to the next
// sender; after every sender has been tried once the call fails hard.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBaseURL is the production Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultTimeout bounds one attempt against one sender.
	DefaultTimeout = 20 * time.Second

	// noopSentinel marks the non-success response that edit calls receive
	// when the new text is identical to the current one. It is treated as
	// success with no result.
	noopSentinel = "message is not modified"
)

// apiResponse mirrors the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Message is the subset of the Bot API message object consumed here.
type Message struct {
	MessageID int64 `json:"message_id"`
}

// CallError is the terminal failure of one logical call after every sender
// has been tried. Callers must not retry within the same gift cycle.
type CallError struct {
	Method      string
	Attempts    int
	Description string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("botapi: %s failed after %d attempts: %s", e.Method, e.Attempts, e.Description)
}

// Opts holds configuration for the client.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Opts)

// WithBaseURL overrides the Bot API endpoint (useful for tests and local
// API servers).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout sets the per-attempt network timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient supplies a custom HTTP client; its Timeout is left as-is.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client rotates calls across N credentialed senders.
type Client struct {
	httpc   *http.Client
	senders []string // base URLs including the token path segment
	cursor  atomic.Uint64
}

// New builds a client from one base URL per token.
func New(tokens []string, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(tokens) == 0 {
		return nil, errors.New("botapi: no sender tokens configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: cfg.Timeout}
	}

	senders := make([]string, len(tokens))
	for i, tok := range tokens {
		senders[i] = strings.TrimSuffix(cfg.BaseURL, "/") + "/bot" + tok
	}
	return &Client{httpc: httpc, senders: senders}, nil
}

// Senders returns the number of configured senders.
func (c *Client) Senders() int {
	return len(c.senders)
}

// SendMessage sends an HTML-formatted text, optionally as a reply. The chat
// may be a numeric id rendered as string or a public "@username". It
// returns the created message id, or 0 when the API reported the no-op
// sentinel.
func (c *Client) SendMessage(ctx context.Context, chat, text string, replyTo int64) (int64, error) {
	payload := map[string]any{
		"chat_id":                  chat,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}

	raw, err := c.call(ctx, "sendMessage", payload)
	if err != nil || raw == nil {
		return 0, err
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("botapi: decode sendMessage result: %w", err)
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text of a previously sent message. An edit
// whose text has not actually changed is a successful no-op.
func (c *Client) EditMessageText(ctx context.Context, chat string, messageID int64, text string) error {
	payload := map[string]any{
		"chat_id":                  chat,
		"message_id":               messageID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	_, err := c.call(ctx, "editMessageText", payload)
	return err
}

// call runs one logical call, advancing the sender cursor on every attempt.
// The attempt budget is exactly the number of senders.
func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("botapi: encode %s payload: %w", method, err)
	}

	callID := uuid.NewString()
	attempts := len(c.senders)
	lastDesc := "no attempt made"

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sender := int(c.cursor.Add(1)-1) % len(c.senders)

		res, err := c.post(ctx, c.senders[sender], method, body)
		if err != nil {
			lastDesc = err.Error()
			slog.Warn("bot API attempt failed",
				"call_id", callID, "method", method, "sender", sender,
				"attempt", attempt, "timeout", isTransient(err), "error", err)
			continue
		}
		if res.OK {
			slog.Debug("bot API call succeeded",
				"call_id", callID, "method", method, "sender", sender, "attempt", attempt)
			return res.Result, nil
		}
		if strings.Contains(strings.ToLower(res.Description), noopSentinel) {
			slog.Debug("bot API call was a no-op",
				"call_id", callID, "method", method, "sender", sender)
			return nil, nil
		}
		lastDesc = res.Description
		slog.Warn("bot API returned non-success",
			"call_id", callID, "method", method, "sender", sender,
			"attempt", attempt, "description", res.Description)
	}

	return nil, &CallError{Method: method, Attempts: attempts, Description: lastDesc}
}

func (c *Client) post(ctx context.Context, base, method string, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &res, nil
}

// isTransient reports whether err looks like a timeout or connection-level
// failure rather than a protocol response.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
