// Command clawpair runs the terminal WhatsApp pairing client.
//
// It connects to a clawlink relay, renders the rotating login code, and
// walks the pairing dialog through to the assistant's restart. When the
// assistant is still provisioning it waits and opens the dialog
// automatically once provisioning finishes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/yourclaw/clawlink/internal/backend"
	"github.com/yourclaw/clawlink/internal/models"
	"github.com/yourclaw/clawlink/internal/pairing"
	"github.com/yourclaw/clawlink/internal/tui"
	"github.com/yourclaw/clawlink/internal/util"
)

// loginPath is the relay's streaming endpoint, appended to the relay base URL.
const loginPath = "/api/whatsapp/login"

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bc := backend.NewClient(backend.WithBaseURL(*flags.backendAPIURL))

	if *flags.backendAPIURL != "" {
		waitForProvisioning(ctx, bc, *flags.token)
	}

	newSession := func() *pairing.Session {
		return pairing.NewSession(
			pairing.WithRelayURL(strings.TrimRight(*flags.relayURL, "/")+loginPath),
			pairing.WithToken(*flags.token),
			pairing.WithBackend(bc),
		)
	}

	var err error
	if *flags.plain {
		err = runPlain(ctx, newSession())
	} else {
		err = runDialog(newSession)
	}
	if err != nil {
		slog.Error("Pairing failed", "error", err)
		os.Exit(1)
	}
}

// Config holds environment configuration.
type Config struct {
	RelayURL      string
	Token         string
	BackendAPIURL string
	Plain         bool
}

// Flags holds command line flag values.
type Flags struct {
	relayURL      *string
	token         *string
	backendAPIURL *string
	plain         *bool
}

// initializeLogger sets up structured logging. The client logs at warn so
// the dialog rendering stays clean.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// an optional .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	return Config{
		RelayURL:      util.EnvOrDefault("CLAWPAIR_RELAY_URL", "http://localhost:8090"),
		Token:         os.Getenv("CLAWPAIR_TOKEN"),
		BackendAPIURL: os.Getenv("CLAWPAIR_BACKEND_API_URL"),
		Plain:         util.ParseBoolEnv("CLAWPAIR_PLAIN", false),
	}
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		relayURL:      flag.String("relay-url", config.RelayURL, "clawlink relay base URL (overrides $CLAWPAIR_RELAY_URL)"),
		token:         flag.String("token", config.Token, "access token, or dev-token against a dev-mode relay (overrides $CLAWPAIR_TOKEN)"),
		backendAPIURL: flag.String("backend-api-url", config.BackendAPIURL, "account API base URL for readiness polling (overrides $CLAWPAIR_BACKEND_API_URL)"),
		plain:         flag.Bool("plain", config.Plain, "line output instead of the dialog, for non-TTY use (overrides $CLAWPAIR_PLAIN)"),
	}
	flag.Parse()
	return flags
}

// waitForProvisioning blocks while the assistant is still provisioning, so
// the dialog opens the moment pairing becomes possible.
func waitForProvisioning(ctx context.Context, bc *backend.Client, token string) {
	assistant, err := bc.GetAssistant(ctx, token)
	if err != nil || assistant.Status != models.AssistantStatusProvisioning {
		return
	}
	fmt.Println("Your assistant is still being set up; waiting...")
	watcher := pairing.NewWatcher(bc, token, pairing.DefaultWatchInterval)
	select {
	case <-ctx.Done():
	case <-watcher.Watch(ctx):
	}
}

// runDialog runs the bubbletea pairing dialog.
func runDialog(newSession func() *pairing.Session) error {
	program := tea.NewProgram(tui.NewModel(newSession))
	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("dialog failed: %w", err)
	}
	if model, ok := final.(tui.Model); ok {
		switch model.State() {
		case models.StateError:
			return fmt.Errorf("pairing ended in error")
		case models.StateTimeout:
			return fmt.Errorf("pairing timed out")
		}
	}
	return nil
}

// runPlain drives one pairing attempt with line output, no retry loop.
func runPlain(ctx context.Context, session *pairing.Session) error {
	session.Start(ctx)
	defer session.Close()

	for update := range session.Updates() {
		switch update.State {
		case models.StateLoading:
			fmt.Println("Preparing WhatsApp login...")
		case models.StateQRDisplayed:
			fmt.Println("Scan with WhatsApp (Settings > Linked Devices > Link a Device):")
			qrterminal.GenerateHalfBlock(update.QRCode, qrterminal.L, os.Stdout)
		case models.StateConnected:
			fmt.Println("WhatsApp connected!")
		case models.StatePodRestarting:
			fmt.Println("Restarting your assistant...")
		case models.StateReady:
			fmt.Println("Your assistant is ready. Send it a WhatsApp message to get started.")
			return nil
		case models.StateError:
			return fmt.Errorf("pairing failed: %s", update.Message)
		case models.StateTimeout:
			return fmt.Errorf("login timed out")
		}
	}
	return fmt.Errorf("pairing ended unexpectedly")
}
