package devinfra

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// DefaultAddr is the default listen address for the dev infra server.
const DefaultAddr = ":8070"

const shutdownTimeout = 5 * time.Second

// Opts holds configuration options for the dev infra server.
type Opts struct {
	Addr   string
	APIKey string // static credential the relay authenticates with
	Source Source
}

// Option defines a configuration option for the dev infra server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAPIKey sets the static service credential.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithSource sets the login event source.
func WithSource(src Source) Option {
	return func(o *Opts) { o.Source = src }
}

// Server mimics the infra control plane's login stream endpoint.
type Server struct {
	addr   string
	apiKey string
	source Source
	ready  atomic.Bool
}

// NewServer creates a dev infra server, applying any provided options.
// The server starts ready; SetReady(false) simulates a pod that has not
// come up yet.
func NewServer(opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Source == nil {
		cfg.Source = NewScriptSource()
	}
	s := &Server{addr: cfg.Addr, apiKey: cfg.APIKey, source: cfg.Source}
	s.ready.Store(true)
	return s
}

// SetReady toggles the simulated pod readiness gate.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router builds the HTTP routes for the dev infra server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/claws/{userKey}/{clawID}/whatsapp/login", s.loginHandler)
	return r
}

// loginHandler authenticates the relay's service key, checks the readiness
// gate, and streams the source's events in SSE framing.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Invalid API key", http.StatusForbidden)
		return
	}
	if !s.ready.Load() {
		http.Error(w, "Pod is not ready", http.StatusBadRequest)
		return
	}

	userKey := chi.URLParam(r, "userKey")
	clawID := chi.URLParam(r, "clawID")
	slog.Info("Server.loginHandler: login stream requested", "user_key", userKey, "claw_id", clawID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := s.source.Login(r.Context())
	if err != nil {
		slog.Error("Server.loginHandler: source failed to start", "error", err)
		http.Error(w, "login source unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range events {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Data)
		flusher.Flush()
	}
	slog.Info("Server.loginHandler: login stream ended", "user_key", userKey, "claw_id", clawID)
}

// authorized checks the bearer credential in constant time. An empty
// configured key rejects everything, matching the production gate.
func (s *Server) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || s.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
		// No WriteTimeout: login streams stay open across code rotations.
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: dev infra listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
