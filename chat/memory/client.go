// Package memory is the client for the external memory service: a remote
// key-value/search backend reached over plain request/response calls. Calls
// use the small fixed retry budget with linear backoff; a missing credential
// short-circuits locally without touching the network.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parley-chat/parley/llm/retry"
	"github.com/parley-chat/parley/llm/types"
)

// ErrNotConfigured is returned when the memory service credential is absent.
var ErrNotConfigured = types.NewConfigurationError("memory service is not configured", nil)

const maxResponseBody = 1 << 20

// Config holds the memory service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
}

// Entry is one stored memory returned by a search.
type Entry struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Client talks to the memory service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient provides a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Client) { m.httpClient = c }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Client) { m.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Client) { m.logger = l }
}

// NewClient creates a memory service client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		policy:     retry.DefaultPolicy(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != "" && c.cfg.BaseURL != ""
}

// Search queries stored memories. Results are ordered by relevance.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 5
	}

	var out struct {
		Results []Entry `json:"results"`
	}
	err := c.call(ctx, "/v1/memories/search", map[string]any{
		"query": query,
		"limit": limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Store saves a new memory entry and returns its id.
func (c *Client) Store(ctx context.Context, content string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var out struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, "/v1/memories", map[string]any{
		"content": content,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// call POSTs a JSON payload under the retry policy and decodes the response
// into out.
func (c *Client) call(ctx context.Context, path string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling memory request: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	respBody, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, url, body)
	})
	if err != nil {
		c.logger.Warn("memory service call failed", "path", path, "error", err)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return types.NewStreamError("decoding memory response", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewNetworkError("building memory request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewNetworkError("memory request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, types.NewNetworkError("reading memory response", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(respBody))
		if message == "" {
			message = "memory request failed"
		}
		return nil, types.ErrorFromStatusCode(resp.StatusCode, message, "memory", "", nil)
	}

	return respBody, nil
}
