// Package relay implements the streaming device-pairing relay server.
//
// It exposes the WhatsApp login endpoint that authenticates a caller,
// validates assistant ownership, opens the infra API's login event stream,
// and pipes that stream to the caller unbuffered.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yourclaw/clawlink/internal/auth"
	"github.com/yourclaw/clawlink/internal/infra"
	"github.com/yourclaw/clawlink/internal/observability"
	"github.com/yourclaw/clawlink/internal/store"
)

// DefaultAddr is the default listen address for the relay server.
const DefaultAddr = ":8090"

// shutdownTimeout bounds graceful shutdown. Live relay streams are aborted
// when it elapses.
const shutdownTimeout = 5 * time.Second

// Opts holds configuration options for the relay server.
type Opts struct {
	Addr    string
	Guard   *auth.Guard
	Conn    *infra.Connector
	Store   store.Store
	Metrics *observability.Metrics
}

// Option defines a configuration option for the relay server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithGuard sets the ownership guard.
func WithGuard(g *auth.Guard) Option {
	return func(o *Opts) { o.Guard = g }
}

// WithConnector sets the infra connector.
func WithConnector(c *infra.Connector) Option {
	return func(o *Opts) { o.Conn = c }
}

// WithStore sets the pairing-attempt store.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Server is the relay HTTP server.
type Server struct {
	addr    string
	guard   *auth.Guard
	conn    *infra.Connector
	store   store.Store
	metrics *observability.Metrics
}

// NewServer creates a relay server, applying any provided options.
func NewServer(opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	return &Server{
		addr:    cfg.Addr,
		guard:   cfg.Guard,
		conn:    cfg.Conn,
		store:   cfg.Store,
		metrics: cfg.Metrics,
	}
}

// Router builds the HTTP routes for the relay server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/whatsapp/login", s.loginHandler)
	r.Get("/api/whatsapp/attempts", s.attemptsHandler)
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
		// No WriteTimeout: login streams legitimately stay open for
		// minutes; the relay enforces its own stream deadline.
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: relay listening", "addr", s.addr)
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
