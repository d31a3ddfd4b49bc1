// Package backend is a thin client for the account API's assistant endpoint.
//
// The guard uses it to validate pairing preconditions and the client pollers
// use it to watch for lifecycle transitions. All calls are authorized by the
// caller's own bearer token, never by the relay's service credential.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yourclaw/clawlink/internal/models"
)

// DefaultRequestTimeout bounds a single assistant fetch. These are plain
// request/response calls, not streams.
const DefaultRequestTimeout = 15 * time.Second

// Opts holds configuration options for the backend client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the backend client.
type Option func(*Opts)

// WithBaseURL sets the account API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client (for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client fetches assistant state from the account API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a backend client, applying any provided options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{baseURL: cfg.BaseURL, client: cfg.HTTPClient}
}

// GetAssistant fetches the caller's assistant handle using their own token.
func (c *Client) GetAssistant(ctx context.Context, token string) (*models.Assistant, error) {
	url := c.baseURL + "/api/v1/assistants"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building assistant request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("Client.GetAssistant: cannot reach backend API", "error", err)
		return nil, fmt.Errorf("cannot reach backend API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		slog.Warn("Client.GetAssistant: backend returned error status", "status", resp.StatusCode)
		return nil, fmt.Errorf("backend API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var assistant models.Assistant
	if err := json.NewDecoder(resp.Body).Decode(&assistant); err != nil {
		return nil, fmt.Errorf("decoding assistant response failed: %w", err)
	}
	slog.Debug("Client.GetAssistant: assistant fetched", "status", assistant.Status, "channel", assistant.Channel, "claw_id_set", assistant.ClawID != "")
	return &assistant, nil
}
