package relay

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yourclaw/clawlink/internal/eventstream"
	"github.com/yourclaw/clawlink/internal/infra"
	"github.com/yourclaw/clawlink/internal/models"
)

// relayBufferSize is the chunk size for the read-and-write loop. Each chunk
// is flushed immediately, so the size only bounds a single read.
const relayBufferSize = 32 * 1024

// loginHandler relays the infra API's WhatsApp login event stream to the
// caller. Every precondition failure is answered as plain JSON before any
// byte of the stream is written; once streaming starts, failures end the
// stream without a terminal event and the client's own deadline takes over.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.loginHandler: pairing attempt received", "remote", r.RemoteAddr)

	grant, denial := s.guard.Authorize(r.Context(), r)
	if denial != nil {
		if s.metrics != nil {
			s.metrics.Denials.WithLabelValues(string(denial.Reason)).Inc()
		}
		writeJSONResponse(w, denial.Status, models.Error(denial.Message))
		return
	}

	userKey := infra.UserKey(grant.UserID)
	stream, cerr := s.conn.Open(r.Context(), userKey, grant.ClawID)
	if cerr != nil {
		if s.metrics != nil {
			s.metrics.Denials.WithLabelValues(string(cerr.Kind)).Inc()
		}
		writeJSONResponse(w, http.StatusBadGateway, models.Error(cerr.Detail))
		return
	}
	defer stream.Close()

	attempt := models.PairingAttempt{
		ID:        uuid.NewString(),
		UserID:    grant.UserID,
		ClawID:    grant.ClawID,
		Outcome:   models.OutcomeStarted,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.AddAttempt(attempt); err != nil {
		// The attempt log is advisory; a storage failure never blocks pairing.
		slog.Warn("Server.loginHandler: failed to record attempt", "error", err, "user_id", grant.UserID)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	if s.metrics != nil {
		s.metrics.ActiveRelays.Inc()
		defer s.metrics.ActiveRelays.Dec()
	}
	started := time.Now()

	// Pass-through copy loop. The parser tees each chunk to observe the
	// terminal event for the attempt log; bytes are never modified or held.
	var parser eventstream.Parser
	outcome := models.OutcomeClosed
	detail := ""
	buf := make([]byte, relayBufferSize)
	for {
		n, rerr := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Caller disconnected; expected termination.
				slog.Debug("Server.loginHandler: downstream write ended", "error", werr)
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
			for _, evt := range parser.Feed(buf[:n]) {
				switch evt.Kind {
				case models.EventConnected:
					outcome = models.OutcomeConnected
				case models.EventError:
					outcome = models.OutcomeError
					detail = evt.Data
				}
			}
		}
		if rerr != nil {
			// EOF and aborted reads both end the relay; the far side
			// closing is normal, not exceptional.
			slog.Debug("Server.loginHandler: upstream read ended", "error", rerr)
			break
		}
	}

	if s.metrics != nil {
		s.metrics.Attempts.WithLabelValues(string(outcome)).Inc()
		s.metrics.ObserveRelayDuration(time.Since(started))
	}
	if err := s.store.UpdateAttemptOutcome(attempt.ID, outcome, detail); err != nil {
		slog.Warn("Server.loginHandler: failed to record attempt outcome", "error", err, "id", attempt.ID)
	}
	slog.Info("Server.loginHandler: relay finished", "user_id", grant.UserID, "claw_id", grant.ClawID, "outcome", outcome, "duration", time.Since(started))
}

// attemptsHandler lists the caller's recent pairing attempts.
func (s *Server) attemptsHandler(w http.ResponseWriter, r *http.Request) {
	userID, denial := s.guard.Identify(r.Context(), r)
	if denial != nil {
		writeJSONResponse(w, denial.Status, models.Error(denial.Message))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	attempts, err := s.store.ListAttempts(userID, limit)
	if err != nil {
		slog.Error("Server.attemptsHandler: failed to list attempts", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list attempts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(attempts))
}
