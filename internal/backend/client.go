// Package backend is a typed client for the ui_backend HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every single request; polling loops are bounded by
// their own contexts.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) error {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out); err != nil {
		return err
	}
	if !strings.EqualFold(out.Status, "ok") {
		return fmt.Errorf("backend unhealthy: status=%q", out.Status)
	}
	return nil
}

func (c *Client) ListConversations(ctx context.Context) ([]string, error) {
	var out ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) History(ctx context.Context, conversationID string) ([]HistoryItem, error) {
	var out HistoryResponse
	query := url.Values{"conversation_id": {conversationID}}
	if err := c.do(ctx, http.MethodGet, "/api/chat/history", query, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (c *Client) Summary(ctx context.Context, conversationID string) (string, error) {
	var out SummaryResponse
	query := url.Values{"conversation_id": {conversationID}}
	if err := c.do(ctx, http.MethodGet, "/api/chat/summary", query, nil, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// Send submits one chat turn and returns the job id to poll.
func (c *Client) Send(ctx context.Context, req SendRequest) (string, error) {
	var out SendResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", nil, req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", fmt.Errorf("backend returned an empty job_id")
	}
	return out.JobID, nil
}

func (c *Client) Poll(ctx context.Context, jobID string) (Job, error) {
	var out Job
	query := url.Values{"job_id": {jobID}}
	if err := c.do(ctx, http.MethodGet, "/api/chat/poll", query, nil, &out); err != nil {
		return Job{}, err
	}
	return out, nil
}

func (c *Client) RuntimeConfig(ctx context.Context) (RuntimeConfig, error) {
	var out RuntimeConfig
	if err := c.do(ctx, http.MethodGet, "/api/runtime-config", nil, nil, &out); err != nil {
		return RuntimeConfig{}, err
	}
	return out, nil
}

// PatchRuntimeConfig sends a partial values map and returns the new state.
func (c *Client) PatchRuntimeConfig(ctx context.Context, values map[string]any) (RuntimeConfig, error) {
	var out RuntimeConfig
	if err := c.do(ctx, http.MethodPatch, "/api/runtime-config", nil, values, &out); err != nil {
		return RuntimeConfig{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s %s: backend returned non-json payload: %w", method, path, err)
	}
	return nil
}
