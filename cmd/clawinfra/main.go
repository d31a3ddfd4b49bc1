// Command clawinfra runs a development stand-in for the infra API.
//
// It serves the WhatsApp login stream endpoint the relay connects to, from
// either a scripted event sequence or a real whatsmeow pairing session, so
// the full pairing loop can run without a cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yourclaw/clawlink/internal/devinfra"
	"github.com/yourclaw/clawlink/internal/util"
)

// Event source modes.
const (
	ModeScript    = "script"
	ModeWhatsmeow = "whatsmeow"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	source, err := buildSource(flags)
	if err != nil {
		slog.Error("Invalid source configuration", "error", err)
		os.Exit(1)
	}

	server := devinfra.NewServer(
		devinfra.WithAddr(*flags.addr),
		devinfra.WithAPIKey(*flags.apiKey),
		devinfra.WithSource(source),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping clawinfra dev server", "mode", *flags.mode)
	if err := server.Run(ctx); err != nil {
		slog.Error("Dev infra server failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Dev infra server exited successfully")
}

// Config holds environment configuration.
type Config struct {
	Addr   string
	APIKey string
	Mode   string
	DBDSN  string
}

// Flags holds command line flag values.
type Flags struct {
	addr   *string
	apiKey *string
	mode   *string
	dbDSN  *string
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
		Addr:   util.EnvOrDefault("CLAWINFRA_ADDR", devinfra.DefaultAddr),
		APIKey: os.Getenv("CLAWINFRA_API_KEY"),
		Mode:   util.EnvOrDefault("CLAWINFRA_MODE", ModeScript),
		DBDSN:  util.EnvOrDefault("CLAWINFRA_WHATSAPP_DB_DSN", devinfra.DefaultWhatsmeowDSN),
	}

	slog.Debug("environment variables loaded",
		"CLAWINFRA_ADDR", config.Addr,
		"CLAWINFRA_API_KEY_SET", config.APIKey != "",
		"CLAWINFRA_MODE", config.Mode,
		"CLAWINFRA_WHATSAPP_DB_DSN_SET", config.DBDSN != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		addr:   flag.String("addr", config.Addr, "listen address (overrides $CLAWINFRA_ADDR)"),
		apiKey: flag.String("api-key", config.APIKey, "static bearer key the relay authenticates with (overrides $CLAWINFRA_API_KEY)"),
		mode:   flag.String("mode", config.Mode, "event source: script or whatsmeow (overrides $CLAWINFRA_MODE)"),
		dbDSN:  flag.String("whatsapp-db-dsn", config.DBDSN, "whatsmeow session database DSN (overrides $CLAWINFRA_WHATSAPP_DB_DSN)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"addr", *flags.addr,
		"apiKey_set", *flags.apiKey != "",
		"mode", *flags.mode,
		"dbDSN_set", *flags.dbDSN != "")

	return flags
}

// buildSource selects the login event source for the configured mode.
func buildSource(flags Flags) (devinfra.Source, error) {
	switch *flags.mode {
	case ModeScript:
		return devinfra.NewScriptSource(), nil
	case ModeWhatsmeow:
		return devinfra.NewWhatsmeowSource(devinfra.WithWhatsmeowDSN(*flags.dbDSN)), nil
	default:
		return nil, fmt.Errorf("unknown mode %q, want %s or %s", *flags.mode, ModeScript, ModeWhatsmeow)
	}
}
