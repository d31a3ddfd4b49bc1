// Command clawlink runs the WhatsApp pairing relay server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourclaw/clawlink/internal/auth"
	"github.com/yourclaw/clawlink/internal/backend"
	"github.com/yourclaw/clawlink/internal/infra"
	"github.com/yourclaw/clawlink/internal/observability"
	"github.com/yourclaw/clawlink/internal/relay"
	"github.com/yourclaw/clawlink/internal/store"
	"github.com/yourclaw/clawlink/internal/util"
)

// DefaultDevUserID is the identity granted when dev mode skips token
// validation. It must match the dev identity the backend seeds.
const DefaultDevUserID = "dev-user"

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	attemptStore, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to open pairing attempt store", "error", err)
		os.Exit(1)
	}
	defer attemptStore.Close()

	server := relay.NewServer(
		relay.WithAddr(*flags.addr),
		relay.WithGuard(buildGuard(flags)),
		relay.WithConnector(buildConnector(flags)),
		relay.WithStore(attemptStore),
		relay.WithMetrics(observability.NewMetrics("clawlink")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping clawlink relay")
	if err := server.Run(ctx); err != nil {
		slog.Error("Relay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Relay exited successfully")
}

// Config holds environment configuration.
type Config struct {
	Addr          string
	InfraAPIURL   string
	APIKey        string
	BackendAPIURL string
	AuthURL       string
	DevMode       bool
	DevUserID     string
	DBDSN         string
	StreamTimeout time.Duration
}

// Flags holds command line flag values.
type Flags struct {
	addr          *string
	infraAPIURL   *string
	apiKey        *string
	backendAPIURL *string
	authURL       *string
	devMode       *bool
	devUserID     *string
	dbDSN         *string
	streamTimeout *time.Duration
}

// initializeLogger sets up structured logging with debug level.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// an optional .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Addr:          util.EnvOrDefault("CLAWLINK_ADDR", relay.DefaultAddr),
		InfraAPIURL:   os.Getenv("CLAWLINK_INFRA_API_URL"),
		APIKey:        os.Getenv("CLAWLINK_API_KEY"),
		BackendAPIURL: os.Getenv("CLAWLINK_BACKEND_API_URL"),
		AuthURL:       os.Getenv("CLAWLINK_AUTH_URL"),
		DevMode:       util.ParseBoolEnv("CLAWLINK_DEV_MODE", false),
		DevUserID:     util.EnvOrDefault("CLAWLINK_DEV_USER_ID", DefaultDevUserID),
		DBDSN:         os.Getenv("CLAWLINK_DB_DSN"),
		StreamTimeout: util.ParseDurationEnv("CLAWLINK_STREAM_TIMEOUT", infra.DefaultStreamTimeout),
	}

	slog.Debug("environment variables loaded",
		"CLAWLINK_ADDR", config.Addr,
		"CLAWLINK_INFRA_API_URL_SET", config.InfraAPIURL != "",
		"CLAWLINK_API_KEY_SET", config.APIKey != "",
		"CLAWLINK_BACKEND_API_URL_SET", config.BackendAPIURL != "",
		"CLAWLINK_AUTH_URL_SET", config.AuthURL != "",
		"CLAWLINK_DEV_MODE", config.DevMode,
		"CLAWLINK_DB_DSN_SET", config.DBDSN != "",
		"CLAWLINK_STREAM_TIMEOUT", config.StreamTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		addr:          flag.String("addr", config.Addr, "relay listen address (overrides $CLAWLINK_ADDR)"),
		infraAPIURL:   flag.String("infra-api-url", config.InfraAPIURL, "infra API base URL (overrides $CLAWLINK_INFRA_API_URL)"),
		apiKey:        flag.String("api-key", config.APIKey, "infra API service key (overrides $CLAWLINK_API_KEY)"),
		backendAPIURL: flag.String("backend-api-url", config.BackendAPIURL, "account API base URL (overrides $CLAWLINK_BACKEND_API_URL)"),
		authURL:       flag.String("auth-url", config.AuthURL, "auth service base URL (overrides $CLAWLINK_AUTH_URL)"),
		devMode:       flag.Bool("dev-mode", config.DevMode, "accept the dev token without auth validation (overrides $CLAWLINK_DEV_MODE)"),
		devUserID:     flag.String("dev-user-id", config.DevUserID, "identity granted in dev mode (overrides $CLAWLINK_DEV_USER_ID)"),
		dbDSN:         flag.String("db-dsn", config.DBDSN, "attempt store DSN, SQLite path or Postgres URL (overrides $CLAWLINK_DB_DSN)"),
		streamTimeout: flag.Duration("stream-timeout", config.StreamTimeout, "upstream stream deadline (overrides $CLAWLINK_STREAM_TIMEOUT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"addr", *flags.addr,
		"infraAPIURL_set", *flags.infraAPIURL != "",
		"apiKey_set", *flags.apiKey != "",
		"backendAPIURL_set", *flags.backendAPIURL != "",
		"authURL_set", *flags.authURL != "",
		"devMode", *flags.devMode,
		"dbDSN_set", *flags.dbDSN != "",
		"streamTimeout", *flags.streamTimeout)

	return flags
}

// buildGuard constructs the ownership guard from the parsed flags.
func buildGuard(flags Flags) *auth.Guard {
	bc := backend.NewClient(backend.WithBaseURL(*flags.backendAPIURL))
	authOpts := []auth.Option{auth.WithAuthURL(*flags.authURL)}
	if *flags.devMode {
		slog.Warn("Dev mode enabled; the dev token bypasses auth validation", "dev_user_id", *flags.devUserID)
		authOpts = append(authOpts, auth.WithDevBypass(*flags.devUserID))
	}
	return auth.NewGuard(bc, authOpts...)
}

// buildConnector constructs the infra stream connector from the parsed
// flags.
func buildConnector(flags Flags) *infra.Connector {
	return infra.NewConnector(
		infra.WithBaseURL(*flags.infraAPIURL),
		infra.WithAPIKey(*flags.apiKey),
		infra.WithStreamTimeout(*flags.streamTimeout),
	)
}

// buildStore selects the attempt store backend from the DSN. No DSN keeps
// attempts in memory for the lifetime of the process.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory attempt store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL attempt store", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite attempt store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}
