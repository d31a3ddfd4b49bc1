package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultStreamTimeout is the hard wall-clock deadline for one login stream.
// It matches the infra API's own read timeout so the relay never outlives
// its upstream.
const DefaultStreamTimeout = 200 * time.Second

// errorBodyLimit caps how much of an upstream error body is propagated.
const errorBodyLimit = 4 << 10

// ConnectErrorKind classifies why a stream could not be opened.
type ConnectErrorKind string

const (
	// ErrKindUnavailable means the infra API could not be reached at all.
	ErrKindUnavailable ConnectErrorKind = "upstream_unavailable"
	// ErrKindTimeout means the connection attempt hit the stream deadline.
	ErrKindTimeout ConnectErrorKind = "upstream_timeout"
	// ErrKindStatus means the infra API answered with a non-success status.
	ErrKindStatus ConnectErrorKind = "upstream_error"
	// ErrKindEmptyBody means the infra API answered 2xx with no body.
	ErrKindEmptyBody ConnectErrorKind = "empty_upstream_body"
)

// ConnectError describes a failed attempt to open the upstream stream.
// All connect errors surface to the caller as HTTP 502.
type ConnectError struct {
	Kind   ConnectErrorKind
	Detail string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Stream is a live upstream login event stream. Close must be called exactly
// once when relaying finishes; it aborts the underlying connection (clearing
// the deadline timer with it) and closes the body.
type Stream struct {
	Body   io.ReadCloser
	cancel context.CancelFunc
}

// Close aborts the upstream connection and releases the body. Both are
// best-effort; closing an already-ended stream is harmless.
func (s *Stream) Close() {
	s.cancel()
	if s.Body != nil {
		if err := s.Body.Close(); err != nil {
			slog.Debug("Stream.Close: body close failed", "error", err)
		}
	}
}

// Opts holds configuration options for the infra connector.
type Opts struct {
	BaseURL       string        // infra API base URL
	APIKey        string        // static service credential, never sent to callers
	StreamTimeout time.Duration // wall-clock deadline for one stream
	HTTPClient    *http.Client  // overridable for tests
}

// Option defines a configuration option for the infra connector.
type Option func(*Opts)

// WithBaseURL sets the infra API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithAPIKey sets the static service credential.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithStreamTimeout overrides the stream deadline.
func WithStreamTimeout(d time.Duration) Option {
	return func(o *Opts) { o.StreamTimeout = d }
}

// WithHTTPClient overrides the HTTP client used to dial the infra API.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Connector opens login event streams against the infra API.
type Connector struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewConnector creates a connector, applying any provided options.
func NewConnector(opts ...Option) *Connector {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	if cfg.HTTPClient == nil {
		// No Timeout on the client itself: the stream stays open for
		// minutes and the per-stream context carries the deadline.
		cfg.HTTPClient = &http.Client{}
	}
	slog.Debug("infra.NewConnector: connector configured", "base_url_set", cfg.BaseURL != "", "api_key_set", cfg.APIKey != "", "stream_timeout", cfg.StreamTimeout)
	return &Connector{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.StreamTimeout,
		client:  cfg.HTTPClient,
	}
}

// Open dials the WhatsApp login SSE endpoint for one assistant instance.
// The connection attempt and the stream deadline race; whichever resolves
// first determines the outcome. On success the returned Stream's deadline
// keeps running until Stream.Close cancels it.
func (c *Connector) Open(ctx context.Context, userKey, clawID string) (*Stream, *ConnectError) {
	url := fmt.Sprintf("%s/claws/%s/%s/whatsapp/login", c.baseURL, userKey, clawID)
	slog.Debug("Connector.Open: dialing infra login stream", "user_key", userKey, "claw_id", clawID)

	streamCtx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, &ConnectError{Kind: ErrKindUnavailable, Detail: "building infra request failed", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("Connector.Open: connection to infra API timed out", "claw_id", clawID)
			return nil, &ConnectError{Kind: ErrKindTimeout, Detail: "connection to infra API timed out", Err: err}
		}
		slog.Warn("Connector.Open: cannot reach infra API", "error", err)
		return nil, &ConnectError{Kind: ErrKindUnavailable, Detail: "cannot reach infra API", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		cancel()
		slog.Warn("Connector.Open: infra API returned error status", "status", resp.StatusCode, "claw_id", clawID)
		return nil, &ConnectError{
			Kind:   ErrKindStatus,
			Detail: fmt.Sprintf("infra API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	if resp.Body == nil {
		cancel()
		return nil, &ConnectError{Kind: ErrKindEmptyBody, Detail: "no response body from infra API"}
	}

	slog.Info("Connector.Open: infra login stream open", "user_key", userKey, "claw_id", clawID)
	return &Stream{Body: resp.Body, cancel: cancel}, nil
}
