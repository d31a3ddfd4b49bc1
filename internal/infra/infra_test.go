package infra

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUserKeyMatchesBackendDerivation(t *testing.T) {
	// Reference values computed with the backend's derivation
	// (sha256 hex digest, first 10 digits base-16, mod 10^8).
	cases := []struct {
		userID   string
		expected string
	}{
		{"123e4567-e89b-12d3-a456-426614174000", "user-47871830"},
		{"00000000-0000-0000-0000-000000000000", "user-16832702"},
		{"dev-user", "user-67959080"},
		{"a7f3b8c2-1d4e-4f6a-9b0c-8e2d5a719f34", "user-64846442"},
	}
	for _, c := range cases {
		if got := UserKey(c.userID); got != c.expected {
			t.Errorf("UserKey(%q) = %q, want %q", c.userID, got, c.expected)
		}
	}
}

func TestUserKeyStable(t *testing.T) {
	a := UserKey("some-user")
	b := UserKey("some-user")
	if a != b {
		t.Errorf("derivation not stable: %s vs %s", a, b)
	}
}

func TestConnectorOpenSuccess(t *testing.T) {
	var gotAuth, gotAccept, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: qr\ndata: CODE\n\n")
	}))
	defer upstream.Close()

	c := NewConnector(WithBaseURL(upstream.URL), WithAPIKey("secret-key"))
	stream, cerr := c.Open(context.Background(), "user-123", "claw-456")
	if cerr != nil {
		t.Fatalf("unexpected connect error: %v", cerr)
	}
	defer stream.Close()

	if gotAuth != "Bearer secret-key" {
		t.Errorf("service credential not forwarded, got %q", gotAuth)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Accept header missing, got %q", gotAccept)
	}
	if gotPath != "/claws/user-123/claw-456/whatsapp/login" {
		t.Errorf("unexpected path %q", gotPath)
	}

	body, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatalf("reading stream failed: %v", err)
	}
	if !strings.Contains(string(body), "data: CODE") {
		t.Errorf("stream body not passed through: %q", body)
	}
}

func TestConnectorOpenTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // never answers within the deadline
	}))
	defer upstream.Close()
	defer close(release)

	c := NewConnector(WithBaseURL(upstream.URL), WithAPIKey("k"), WithStreamTimeout(50*time.Millisecond))
	start := time.Now()
	stream, cerr := c.Open(context.Background(), "user-1", "claw-1")
	if cerr == nil {
		stream.Close()
		t.Fatal("expected timeout error")
	}
	if cerr.Kind != ErrKindTimeout {
		t.Errorf("expected %s, got %s", ErrKindTimeout, cerr.Kind)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deadline did not abort connection promptly, took %v", elapsed)
	}
}

func TestConnectorOpenUnavailable(t *testing.T) {
	// Closed server: dial fails immediately.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	c := NewConnector(WithBaseURL(upstream.URL), WithAPIKey("k"))
	_, cerr := c.Open(context.Background(), "user-1", "claw-1")
	if cerr == nil {
		t.Fatal("expected connect error")
	}
	if cerr.Kind != ErrKindUnavailable {
		t.Errorf("expected %s, got %s", ErrKindUnavailable, cerr.Kind)
	}
}

func TestConnectorOpenErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Pod is not ready", http.StatusBadRequest)
	}))
	defer upstream.Close()

	c := NewConnector(WithBaseURL(upstream.URL), WithAPIKey("k"))
	_, cerr := c.Open(context.Background(), "user-1", "claw-1")
	if cerr == nil {
		t.Fatal("expected connect error")
	}
	if cerr.Kind != ErrKindStatus {
		t.Errorf("expected %s, got %s", ErrKindStatus, cerr.Kind)
	}
	if !strings.Contains(cerr.Detail, "400") || !strings.Contains(cerr.Detail, "Pod is not ready") {
		t.Errorf("status text not propagated: %q", cerr.Detail)
	}
}

func TestConnectorOpenCancelPropagates(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConnector(WithBaseURL(upstream.URL), WithAPIKey("k"))

	done := make(chan *ConnectError, 1)
	go func() {
		_, cerr := c.Open(ctx, "user-1", "claw-1")
		done <- cerr
	}()

	<-entered
	cancel()

	select {
	case cerr := <-done:
		if cerr == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not propagate to the upstream dial")
	}
}
