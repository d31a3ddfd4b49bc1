// Package pairing implements the client-side pairing state machine.
//
// A Session consumes the relayed login event stream, drives the dialog state
// transitions, and bridges the gap between the stream's connected event and
// the backend actually reporting the restarted assistant READY. The pairing
// event fires before the assistant process has fully restarted, so trusting
// connected alone would close the dialog too early; the polling phase is the
// eventual-consistency bridge.
package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/yourclaw/clawlink/internal/backend"
	"github.com/yourclaw/clawlink/internal/eventstream"
	"github.com/yourclaw/clawlink/internal/models"
)

// Timing defaults. The client deadline is deliberately shorter than the
// relay's 200s stream deadline so the user always sees the client's timeout
// state rather than a silently ended stream.
const (
	// DefaultTimeout is the client-side wall-clock deadline for one attempt.
	DefaultTimeout = 180 * time.Second
	// DefaultConnectedDelay lets the success message register before the
	// dialog switches to the restart-polling phase.
	DefaultConnectedDelay = 1500 * time.Millisecond
	// DefaultPollInterval is the cadence of the readiness polling loop.
	DefaultPollInterval = 3 * time.Second
)

// Update is one state transition delivered to the dialog.
type Update struct {
	State   models.PairingState
	QRCode  string // latest login code while in qr_displayed
	Message string // human-readable message for error state
}

// Opts holds configuration options for a pairing session.
type Opts struct {
	RelayURL       string // full URL of the relay login endpoint
	Token          string // caller's bearer token, empty in dev mode
	Backend        *backend.Client
	HTTPClient     *http.Client
	Timeout        time.Duration
	ConnectedDelay time.Duration
	PollInterval   time.Duration
}

// Option defines a configuration option for a pairing session.
type Option func(*Opts)

// WithRelayURL sets the relay login endpoint.
func WithRelayURL(url string) Option {
	return func(o *Opts) { o.RelayURL = url }
}

// WithToken sets the caller's bearer token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithBackend sets the account API client used by the readiness poll.
func WithBackend(bc *backend.Client) Option {
	return func(o *Opts) { o.Backend = bc }
}

// WithHTTPClient overrides the HTTP client used for the stream request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout overrides the client-side attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithConnectedDelay overrides the connected-to-restarting delay.
func WithConnectedDelay(d time.Duration) Option {
	return func(o *Opts) { o.ConnectedDelay = d }
}

// WithPollInterval overrides the readiness polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// Session is one pairing attempt. Create with NewSession, start with Start,
// consume Updates until it closes, and always Close when the dialog closes.
// A Session is single-use; retry starts a brand-new Session from idle.
type Session struct {
	relayURL       string
	token          string
	backend        *backend.Client
	client         *http.Client
	timeout        time.Duration
	connectedDelay time.Duration
	pollInterval   time.Duration

	updates   chan Update
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a session, applying any provided options.
func NewSession(opts ...Option) *Session {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectedDelay <= 0 {
		cfg.ConnectedDelay = DefaultConnectedDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HTTPClient == nil {
		// The stream stays open for minutes; no client-level timeout.
		cfg.HTTPClient = &http.Client{}
	}
	return &Session{
		relayURL:       cfg.RelayURL,
		token:          cfg.Token,
		backend:        cfg.Backend,
		client:         cfg.HTTPClient,
		timeout:        cfg.Timeout,
		connectedDelay: cfg.ConnectedDelay,
		pollInterval:   cfg.PollInterval,
		updates:        make(chan Update, 16),
		done:           make(chan struct{}),
	}
}

// Updates delivers state transitions in order. The channel closes when the
// attempt reaches a terminal state or the session is closed.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Start opens the relay request and runs the state machine in the background.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Close cancels the in-flight request, stops every pending timer and polling
// interval, and waits for the event loop to finish. Safe to call more than
// once and from any state.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}

// chunkMsg carries one stream chunk (or the end of the stream) from the
// reader goroutine into the event loop.
type chunkMsg struct {
	data []byte
	err  error
}

// run is the session event loop: a single goroutine interleaving stream
// chunks, the attempt deadline, the connected delay, and poll ticks. All
// cleanup converges here so no timer or connection outlives the loop.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.updates)

	s.emit(ctx, Update{State: models.StateLoading})

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	// The stream request gets its own cancel scope: a terminal event must
	// stop the reader immediately without killing the readiness polls, and
	// the attempt deadline must abort a connect that never resolves. The
	// grace second keeps the deadline timer firing before the stream dies,
	// so a silent stream surfaces as timeout rather than a read error.
	streamCtx, cancelStream := context.WithTimeout(ctx, s.timeout+time.Second)
	defer cancelStream()

	chunks, err := s.openStream(streamCtx)
	if err != nil {
		select {
		case <-ctx.Done():
			return // closed while connecting
		default:
		}
		select {
		case <-deadline.C:
			s.emit(ctx, Update{State: models.StateTimeout})
		default:
			s.emit(ctx, Update{State: models.StateError, Message: err.Error()})
		}
		return
	}

	var parser eventstream.Parser
	state := models.StateLoading
	qrCode := ""

	var delayCh <-chan time.Time
	var pollCh <-chan time.Time
	var delayTimer *time.Timer
	var poller *time.Ticker
	defer func() {
		if delayTimer != nil {
			delayTimer.Stop()
		}
		if poller != nil {
			poller.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			if state == models.StateLoading || state == models.StateQRDisplayed {
				cancelStream()
				s.emit(ctx, Update{State: models.StateTimeout})
				return
			}
			// Past connected; the deadline no longer applies.

		case msg, ok := <-chunks:
			if !ok || msg.err != nil {
				chunks = nil
				if state == models.StateLoading || state == models.StateQRDisplayed {
					select {
					case <-deadline.C:
						s.emit(ctx, Update{State: models.StateTimeout})
					default:
						// The stream ended without a terminal event.
						s.emit(ctx, Update{State: models.StateError, Message: "Login stream ended unexpectedly"})
					}
					return
				}
				continue
			}
			for _, evt := range parser.Feed(msg.data) {
				if state != models.StateLoading && state != models.StateQRDisplayed {
					// A terminal event already ended our interest in the
					// stream, even if more bytes arrive afterward.
					continue
				}
				switch evt.Kind {
				case models.EventQR:
					// Codes rotate; replace the payload without touching
					// any other state.
					state = models.StateQRDisplayed
					qrCode = evt.Data
					s.emit(ctx, Update{State: state, QRCode: qrCode})
				case models.EventConnected:
					state = models.StateConnected
					cancelStream()
					s.emit(ctx, Update{State: state})
					delayTimer = time.NewTimer(s.connectedDelay)
					delayCh = delayTimer.C
				case models.EventError:
					cancelStream()
					s.emit(ctx, Update{State: models.StateError, Message: evt.Data})
					return
				}
			}

		case <-delayCh:
			delayCh = nil
			state = models.StatePodRestarting
			s.emit(ctx, Update{State: state})
			poller = time.NewTicker(s.pollInterval)
			pollCh = poller.C

		case <-pollCh:
			assistant, perr := s.backend.GetAssistant(ctx, s.token)
			if perr != nil {
				// Transient poll failures are expected while the pod
				// restarts; keep polling.
				slog.Debug("Session.run: readiness poll failed", "error", perr)
				continue
			}
			if assistant.Status == models.AssistantStatusReady {
				poller.Stop()
				s.emit(ctx, Update{State: models.StateReady})
				return
			}
		}
	}
}

// openStream issues the relay request and spawns the body reader. The
// returned channel closes after EOF or a read error.
func (s *Session) openStream(ctx context.Context) (<-chan chunkMsg, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building relay request failed: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach pairing relay: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%s", relayErrorMessage(resp))
	}

	chunks := make(chan chunkMsg, 4)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		buf := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case chunks <- chunkMsg{data: data}:
				case <-ctx.Done():
					return
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					select {
					case chunks <- chunkMsg{err: rerr}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()
	return chunks, nil
}

// relayErrorMessage extracts the JSON error message from a failed relay
// response, falling back to the HTTP status.
func relayErrorMessage(resp *http.Response) string {
	var body models.APIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<10)).Decode(&body); err == nil && body.Message != "" {
		return body.Message
	}
	return fmt.Sprintf("pairing relay error: %s", resp.Status)
}

// emit delivers an update unless the session is being torn down.
func (s *Session) emit(ctx context.Context, u Update) {
	select {
	case s.updates <- u:
	case <-ctx.Done():
	}
}
