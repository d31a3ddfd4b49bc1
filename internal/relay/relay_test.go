package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourclaw/clawlink/internal/auth"
	"github.com/yourclaw/clawlink/internal/backend"
	"github.com/yourclaw/clawlink/internal/infra"
	"github.com/yourclaw/clawlink/internal/models"
	"github.com/yourclaw/clawlink/internal/store"
)

// testRig wires a relay server against stub backend and infra endpoints.
type testRig struct {
	relay         *httptest.Server
	store         *store.InMemoryStore
	upstreamCalls *atomic.Int64
}

func newTestRig(t *testing.T, assistantJSON string, upstream http.HandlerFunc, streamTimeout time.Duration) *testRig {
	t.Helper()

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, assistantJSON)
	}))
	t.Cleanup(backendSrv.Close)

	var calls atomic.Int64
	infraSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if upstream != nil {
			upstream(w, r)
		}
	}))
	t.Cleanup(infraSrv.Close)

	if streamTimeout <= 0 {
		streamTimeout = 5 * time.Second
	}

	st := store.NewInMemoryStore()
	g := auth.NewGuard(
		backend.NewClient(backend.WithBaseURL(backendSrv.URL)),
		auth.WithDevBypass("dev-user"),
	)
	conn := infra.NewConnector(
		infra.WithBaseURL(infraSrv.URL),
		infra.WithAPIKey("service-key"),
		infra.WithStreamTimeout(streamTimeout),
	)
	srv := NewServer(WithGuard(g), WithConnector(conn), WithStore(st))

	relaySrv := httptest.NewServer(srv.Router())
	t.Cleanup(relaySrv.Close)

	return &testRig{relay: relaySrv, store: st, upstreamCalls: &calls}
}

func readyAssistant() string {
	return `{"status":"READY","channel":"WHATSAPP","claw_id":"claw-1234567"}`
}

func TestLoginRejectsNotReadyWithoutOpeningUpstream(t *testing.T) {
	rig := newTestRig(t, `{"status":"PROVISIONING","channel":"WHATSAPP","claw_id":"claw-1"}`, nil, 0)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if got := rig.upstreamCalls.Load(); got != 0 {
		t.Errorf("upstream must not be contacted on precondition failure, got %d calls", got)
	}
	var body models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body.Message != "Assistant not ready" {
		t.Errorf("unexpected message %q", body.Message)
	}
}

func TestLoginRejectsWrongChannelWithChannelMessage(t *testing.T) {
	rig := newTestRig(t, `{"status":"READY","channel":"TELEGRAM","claw_id":"claw-1"}`, nil, 0)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	var body models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if !strings.Contains(body.Message, "WhatsApp") {
		t.Errorf("denial must name the channel problem, got %q", body.Message)
	}
	if got := rig.upstreamCalls.Load(); got != 0 {
		t.Errorf("upstream must not be contacted, got %d calls", got)
	}
}

func TestLoginRejectsMissingClawID(t *testing.T) {
	rig := newTestRig(t, `{"status":"READY","channel":"WHATSAPP"}`, nil, 0)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if got := rig.upstreamCalls.Load(); got != 0 {
		t.Errorf("upstream must not be contacted, got %d calls", got)
	}
}

func TestLoginUpstreamErrorStatusIs502(t *testing.T) {
	rig := newTestRig(t, readyAssistant(), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Pod is not ready", http.StatusBadRequest)
	}, 0)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
	var body models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if !strings.Contains(body.Message, "Pod is not ready") {
		t.Errorf("upstream status text not propagated: %q", body.Message)
	}
}

func TestLoginStreamsEventsAsTheyArrive(t *testing.T) {
	firstSent := make(chan struct{})
	proceed := make(chan struct{})
	rig := newTestRig(t, readyAssistant(), func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer service-key" {
			t.Errorf("service key not used upstream, got %q", auth)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		io.WriteString(w, "event: qr\ndata: CODE1\n\n")
		fl.Flush()
		close(firstSent)
		<-proceed
		io.WriteString(w, "event: connected\ndata:\n\n")
		fl.Flush()
	}, 0)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}
	if xb := resp.Header.Get("X-Accel-Buffering"); xb != "no" {
		t.Errorf("expected X-Accel-Buffering: no, got %q", xb)
	}

	// The first event must arrive before the upstream finishes: the relay
	// is streaming, not request/response buffered.
	<-firstSent
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading first event failed: %v", err)
	}
	if line != "event: qr\n" {
		t.Errorf("expected qr event first, got %q", line)
	}

	close(proceed)
	rest, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading remainder failed: %v", err)
	}
	if !strings.Contains(string(rest), "event: connected") {
		t.Errorf("connected event not relayed: %q", rest)
	}

	// The outcome tee must have recorded the terminal event.
	waitForOutcome(t, rig.store, models.OutcomeConnected)
}

func TestLoginRecordsErrorOutcome(t *testing.T) {
	rig := newTestRig(t, readyAssistant(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: error\ndata: pod crashed\n\n")
	}, 0)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()

	attempt := waitForOutcome(t, rig.store, models.OutcomeError)
	if attempt.Detail != "pod crashed" {
		t.Errorf("error detail not recorded: %+v", attempt)
	}
}

func TestLoginDeadlineEndsStreamWithoutTerminalEvent(t *testing.T) {
	blocked := make(chan struct{})
	rig := newTestRig(t, readyAssistant(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		io.WriteString(w, "event: qr\ndata: CODE1\n\n")
		fl.Flush()
		<-blocked // never sends a terminal event
	}, 300*time.Millisecond)
	defer close(blocked)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	start := time.Now()
	body, _ := io.ReadAll(resp.Body) // ends when the relay deadline aborts upstream
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("stream did not end after relay deadline, took %v", elapsed)
	}
	if strings.Contains(string(body), "event: connected") {
		t.Errorf("no terminal event should be fabricated, got %q", body)
	}
	waitForOutcome(t, rig.store, models.OutcomeClosed)
}

func TestAttemptsEndpointListsCallerAttempts(t *testing.T) {
	rig := newTestRig(t, readyAssistant(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: connected\ndata:\n\n")
	}, 0)

	resp, err := http.Get(rig.relay.URL + "/api/whatsapp/login")
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()
	waitForOutcome(t, rig.store, models.OutcomeConnected)

	resp, err = http.Get(rig.relay.URL + "/api/whatsapp/attempts?limit=5")
	if err != nil {
		t.Fatalf("attempts request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status string                  `json:"status"`
		Result []models.PairingAttempt `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding attempts failed: %v", err)
	}
	if len(body.Result) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(body.Result))
	}
	if body.Result[0].UserID != "dev-user" || body.Result[0].Outcome != models.OutcomeConnected {
		t.Errorf("unexpected attempt: %+v", body.Result[0])
	}
}

func TestHealthz(t *testing.T) {
	rig := newTestRig(t, readyAssistant(), nil, 0)
	resp, err := http.Get(rig.relay.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

// waitForOutcome polls the store until the dev user's newest attempt reaches
// the wanted outcome. The handler records the outcome after the response body
// is fully written, so a brief wait is expected.
func waitForOutcome(t *testing.T, st *store.InMemoryStore, want models.AttemptOutcome) models.PairingAttempt {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		attempts, err := st.ListAttempts("dev-user", 1)
		if err != nil {
			t.Fatalf("listing attempts failed: %v", err)
		}
		if len(attempts) > 0 && attempts[0].Outcome == want {
			return attempts[0]
		}
		time.Sleep(20 * time.Millisecond)
	}
	attempts, _ := st.ListAttempts("dev-user", 1)
	t.Fatalf("attempt never reached outcome %s: %s", want, fmt.Sprint(attempts))
	return models.PairingAttempt{}
}
