// Package auth implements the ownership guard for the pairing relay.
//
// The guard resolves the caller's identity and confirms the caller owns an
// assistant that is eligible for WhatsApp pairing before any upstream
// connection is opened. Checks are read-only and re-run fresh on every
// pairing attempt; authorization decisions are never cached.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yourclaw/clawlink/internal/backend"
	"github.com/yourclaw/clawlink/internal/models"
)

// DenialReason classifies why a pairing attempt was rejected.
type DenialReason string

const (
	// ReasonUnauthenticated means no valid caller identity could be resolved.
	ReasonUnauthenticated DenialReason = "unauthenticated"
	// ReasonNotReady means the assistant is not in READY status.
	ReasonNotReady DenialReason = "not_ready"
	// ReasonWrongChannel means the assistant is not configured for WhatsApp.
	ReasonWrongChannel DenialReason = "wrong_channel"
	// ReasonMisconfigured means the assistant carries no instance identifier.
	ReasonMisconfigured DenialReason = "misconfigured"
	// ReasonBackendUnavailable means the account API could not be reached.
	ReasonBackendUnavailable DenialReason = "upstream_unavailable"
)

// Denial is a rejected pairing attempt: a taxonomy reason, the HTTP status to
// answer with, and a human-readable message for the JSON error body.
type Denial struct {
	Reason  DenialReason
	Status  int
	Message string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Reason, d.Message)
}

// Grant is a successful authorization: the resolved identity, the caller's
// short-lived access token, and the instance identifier to pair.
type Grant struct {
	UserID      string
	AccessToken string
	ClawID      string
}

// DefaultAuthTimeout bounds the identity resolution call.
const DefaultAuthTimeout = 10 * time.Second

// sessionCookie is the cookie the web dashboard stores the access token in.
const sessionCookie = "sb-access-token"

// Opts holds configuration options for the guard.
type Opts struct {
	AuthURL    string       // auth service base URL (token validation)
	DevMode    bool         // skip real authentication
	DevUserID  string       // fixed identity used when DevMode is set
	HTTPClient *http.Client // overridable for tests
}

// Option defines a configuration option for the guard.
type Option func(*Opts)

// WithAuthURL sets the auth service base URL.
func WithAuthURL(url string) Option {
	return func(o *Opts) { o.AuthURL = strings.TrimRight(url, "/") }
}

// WithDevBypass enables the development identity bypass with a fixed user ID.
func WithDevBypass(userID string) Option {
	return func(o *Opts) {
		o.DevMode = true
		o.DevUserID = userID
	}
}

// WithHTTPClient overrides the HTTP client used for identity resolution.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Guard validates pairing attempts against the auth service and account API.
type Guard struct {
	authURL   string
	devMode   bool
	devUserID string
	client    *http.Client
	backend   *backend.Client
}

// NewGuard creates a guard, applying any provided options. The backend client
// is injected so tests can point it at a mock account API.
func NewGuard(bc *backend.Client, opts ...Option) *Guard {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultAuthTimeout}
	}
	if cfg.DevMode {
		slog.Warn("auth.NewGuard: development identity bypass is enabled", "dev_user_id", cfg.DevUserID)
	}
	return &Guard{
		authURL:   cfg.AuthURL,
		devMode:   cfg.DevMode,
		devUserID: cfg.DevUserID,
		client:    cfg.HTTPClient,
		backend:   bc,
	}
}

// Authorize runs the full precondition sequence for one pairing attempt:
// identity resolution, assistant fetch, and eligibility checks. It returns a
// grant on success or a denial carrying the HTTP status to respond with.
func (g *Guard) Authorize(ctx context.Context, r *http.Request) (*Grant, *Denial) {
	userID, token, denial := g.resolveIdentity(ctx, r)
	if denial != nil {
		return nil, denial
	}

	assistant, err := g.backend.GetAssistant(ctx, token)
	if err != nil {
		slog.Warn("Guard.Authorize: assistant fetch failed", "error", err, "user_id", userID)
		return nil, &Denial{
			Reason:  ReasonBackendUnavailable,
			Status:  http.StatusBadGateway,
			Message: "Cannot reach backend API",
		}
	}

	if assistant.Status != models.AssistantStatusReady {
		slog.Debug("Guard.Authorize: assistant not ready", "status", assistant.Status, "user_id", userID)
		return nil, &Denial{
			Reason:  ReasonNotReady,
			Status:  http.StatusBadRequest,
			Message: "Assistant not ready",
		}
	}
	if assistant.Channel != models.ChannelWhatsApp {
		slog.Debug("Guard.Authorize: assistant not on WhatsApp", "channel", assistant.Channel, "user_id", userID)
		return nil, &Denial{
			Reason:  ReasonWrongChannel,
			Status:  http.StatusBadRequest,
			Message: "Assistant is not configured for WhatsApp",
		}
	}
	if assistant.ClawID == "" {
		slog.Warn("Guard.Authorize: assistant has no claw_id", "user_id", userID)
		return nil, &Denial{
			Reason:  ReasonMisconfigured,
			Status:  http.StatusBadRequest,
			Message: "Assistant has no claw_id",
		}
	}

	slog.Info("Guard.Authorize: pairing attempt authorized", "user_id", userID, "claw_id", assistant.ClawID)
	return &Grant{UserID: userID, AccessToken: token, ClawID: assistant.ClawID}, nil
}

// Identify resolves the caller's identity without assistant checks. Used by
// endpoints that need a user ID but no pairing eligibility (the attempt log).
func (g *Guard) Identify(ctx context.Context, r *http.Request) (string, *Denial) {
	userID, _, denial := g.resolveIdentity(ctx, r)
	return userID, denial
}

// resolveIdentity extracts the session credential from the request and
// validates it, or short-circuits to the configured development identity.
func (g *Guard) resolveIdentity(ctx context.Context, r *http.Request) (string, string, *Denial) {
	if g.devMode && g.devUserID != "" {
		slog.Debug("Guard.resolveIdentity: using development bypass", "user_id", g.devUserID)
		return g.devUserID, "dev-token", nil
	}

	token := bearerToken(r)
	if token == "" {
		return "", "", &Denial{
			Reason:  ReasonUnauthenticated,
			Status:  http.StatusUnauthorized,
			Message: "Not authenticated",
		}
	}

	userID, err := g.validateToken(ctx, token)
	if err != nil {
		slog.Debug("Guard.resolveIdentity: token validation failed", "error", err)
		return "", "", &Denial{
			Reason:  ReasonUnauthenticated,
			Status:  http.StatusUnauthorized,
			Message: "Session expired",
		}
	}
	return userID, token, nil
}

// bearerToken pulls the access token from the Authorization header, falling
// back to the dashboard's session cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// validateToken asks the auth service who the token belongs to.
func (g *Guard) validateToken(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.authURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("building auth request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot reach auth service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth service rejected token with status %d", resp.StatusCode)
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decoding auth response failed: %w", err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("auth response carried no user id")
	}
	return user.ID, nil
}
