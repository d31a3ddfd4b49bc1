package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yourclaw/clawlink/internal/backend"
)

func newBackendStub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAuthStub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			t.Errorf("unexpected auth path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pairingRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/whatsapp/login", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthorizeSuccess(t *testing.T) {
	authSrv := newAuthStub(t, http.StatusOK, `{"id":"user-uuid-1"}`)
	backendSrv := newBackendStub(t, http.StatusOK, `{"status":"READY","channel":"WHATSAPP","claw_id":"claw-7"}`)

	g := NewGuard(backend.NewClient(backend.WithBaseURL(backendSrv.URL)), WithAuthURL(authSrv.URL))
	grant, denial := g.Authorize(context.Background(), pairingRequest("tok"))
	if denial != nil {
		t.Fatalf("unexpected denial: %v", denial)
	}
	if grant.UserID != "user-uuid-1" || grant.AccessToken != "tok" || grant.ClawID != "claw-7" {
		t.Errorf("unexpected grant: %+v", grant)
	}
}

func TestAuthorizeNoCredentials(t *testing.T) {
	g := NewGuard(backend.NewClient(backend.WithBaseURL("http://127.0.0.1:0")))
	_, denial := g.Authorize(context.Background(), pairingRequest(""))
	if denial == nil {
		t.Fatal("expected denial")
	}
	if denial.Reason != ReasonUnauthenticated || denial.Status != http.StatusUnauthorized {
		t.Errorf("unexpected denial: %+v", denial)
	}
}

func TestAuthorizeRejectedToken(t *testing.T) {
	authSrv := newAuthStub(t, http.StatusUnauthorized, `{}`)
	g := NewGuard(backend.NewClient(backend.WithBaseURL("http://127.0.0.1:0")), WithAuthURL(authSrv.URL))
	_, denial := g.Authorize(context.Background(), pairingRequest("expired"))
	if denial == nil || denial.Reason != ReasonUnauthenticated {
		t.Fatalf("expected unauthenticated denial, got %+v", denial)
	}
}

func TestAuthorizeCookieFallback(t *testing.T) {
	authSrv := newAuthStub(t, http.StatusOK, `{"id":"user-uuid-2"}`)
	backendSrv := newBackendStub(t, http.StatusOK, `{"status":"READY","channel":"WHATSAPP","claw_id":"claw-9"}`)

	g := NewGuard(backend.NewClient(backend.WithBaseURL(backendSrv.URL)), WithAuthURL(authSrv.URL))
	req := httptest.NewRequest(http.MethodGet, "/api/whatsapp/login", nil)
	req.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "cookie-tok"})
	grant, denial := g.Authorize(context.Background(), req)
	if denial != nil {
		t.Fatalf("unexpected denial: %v", denial)
	}
	if grant.AccessToken != "cookie-tok" {
		t.Errorf("cookie token not used: %+v", grant)
	}
}

func TestAuthorizeNotReady(t *testing.T) {
	backendSrv := newBackendStub(t, http.StatusOK, `{"status":"PROVISIONING","channel":"WHATSAPP","claw_id":"claw-7"}`)
	g := NewGuard(backend.NewClient(backend.WithBaseURL(backendSrv.URL)), WithDevBypass("dev-user"))
	_, denial := g.Authorize(context.Background(), pairingRequest(""))
	if denial == nil || denial.Reason != ReasonNotReady || denial.Status != http.StatusBadRequest {
		t.Fatalf("expected not_ready denial, got %+v", denial)
	}
}

func TestAuthorizeWrongChannel(t *testing.T) {
	backendSrv := newBackendStub(t, http.StatusOK, `{"status":"READY","channel":"TELEGRAM","claw_id":"claw-7"}`)
	g := NewGuard(backend.NewClient(backend.WithBaseURL(backendSrv.URL)), WithDevBypass("dev-user"))
	_, denial := g.Authorize(context.Background(), pairingRequest(""))
	if denial == nil || denial.Reason != ReasonWrongChannel {
		t.Fatalf("expected wrong_channel denial, got %+v", denial)
	}
	if denial.Message != "Assistant is not configured for WhatsApp" {
		t.Errorf("channel denial should name the channel problem, got %q", denial.Message)
	}
}

func TestAuthorizeMissingClawID(t *testing.T) {
	backendSrv := newBackendStub(t, http.StatusOK, `{"status":"READY","channel":"WHATSAPP"}`)
	g := NewGuard(backend.NewClient(backend.WithBaseURL(backendSrv.URL)), WithDevBypass("dev-user"))
	_, denial := g.Authorize(context.Background(), pairingRequest(""))
	if denial == nil || denial.Reason != ReasonMisconfigured {
		t.Fatalf("expected misconfigured denial, got %+v", denial)
	}
}

func TestAuthorizeBackendUnreachable(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backendSrv.Close()
	g := NewGuard(backend.NewClient(backend.WithBaseURL(backendSrv.URL)), WithDevBypass("dev-user"))
	_, denial := g.Authorize(context.Background(), pairingRequest(""))
	if denial == nil || denial.Reason != ReasonBackendUnavailable || denial.Status != http.StatusBadGateway {
		t.Fatalf("expected upstream_unavailable denial, got %+v", denial)
	}
}

func TestDevBypassSkipsAuthService(t *testing.T) {
	backendSrv := newBackendStub(t, http.StatusOK, `{"status":"READY","channel":"WHATSAPP","claw_id":"claw-7"}`)
	// No auth URL configured at all: the bypass must never touch it.
	g := NewGuard(backend.NewClient(backend.WithBaseURL(backendSrv.URL)), WithDevBypass("dev-user"))
	grant, denial := g.Authorize(context.Background(), pairingRequest(""))
	if denial != nil {
		t.Fatalf("unexpected denial: %v", denial)
	}
	if grant.UserID != "dev-user" || grant.AccessToken != "dev-token" {
		t.Errorf("unexpected grant: %+v", grant)
	}
}
