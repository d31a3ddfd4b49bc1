package devinfra

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/yourclaw/clawlink/internal/models"
	"github.com/yourclaw/clawlink/internal/store"
)

// DefaultWhatsmeowDSN is the default path for the whatsmeow SQLite database.
const DefaultWhatsmeowDSN = "file:clawlink-whatsmeow.db?_foreign_keys=on"

// WhatsmeowOpts holds configuration options for the live pairing source.
type WhatsmeowOpts struct {
	DBDSN string // whatsmeow session database connection string
}

// WhatsmeowOption defines a configuration option for the live pairing source.
type WhatsmeowOption func(*WhatsmeowOpts)

// WithWhatsmeowDSN sets the whatsmeow session database connection string.
func WithWhatsmeowDSN(dsn string) WhatsmeowOption {
	return func(o *WhatsmeowOpts) { o.DBDSN = dsn }
}

// WhatsmeowSource runs a real WhatsApp pairing session and translates the
// whatsmeow QR channel into login events. It backs the dev server's live
// mode for testing the full pairing flow against an actual phone.
type WhatsmeowSource struct {
	dbDSN string
}

// NewWhatsmeowSource creates a live pairing source, applying any provided
// options.
func NewWhatsmeowSource(opts ...WhatsmeowOption) *WhatsmeowSource {
	cfg := WhatsmeowOpts{DBDSN: DefaultWhatsmeowDSN}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &WhatsmeowSource{dbDSN: cfg.DBDSN}
}

// Login opens a device session and streams pairing events. An already
// linked device reports connected immediately, matching how a linked pod
// answers the login endpoint.
func (s *WhatsmeowSource) Login(ctx context.Context) (<-chan models.PairingEvent, error) {
	dbDriver := "sqlite3"
	if store.DetectDSNType(s.dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else if !strings.Contains(s.dbDSN, "foreign_keys") {
		slog.Warn("WhatsmeowSource.Login: SQLite DSN without foreign keys; whatsmeow recommends '?_foreign_keys=on'")
	}

	container, err := sqlstore.New(ctx, dbDriver, s.dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsmeow database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from whatsmeow store: %w", err)
	}
	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	events := make(chan models.PairingEvent)

	if waClient.Store.ID != nil {
		slog.Info("WhatsmeowSource.Login: device already linked")
		go func() {
			defer close(events)
			send(ctx, events, models.PairingEvent{Kind: models.EventConnected})
		}()
		return events, nil
	}

	// GetQRChannel must be called before Connect on an unlinked device.
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsmeow QR channel: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	go func() {
		defer close(events)
		defer waClient.Disconnect()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-qrChan:
				if !ok {
					return
				}
				switch evt.Event {
				case "code":
					slog.Debug("WhatsmeowSource.Login: code rotated")
					if !send(ctx, events, models.PairingEvent{Kind: models.EventQR, Data: evt.Code}) {
						return
					}
				case "success":
					slog.Info("WhatsmeowSource.Login: device linked")
					send(ctx, events, models.PairingEvent{Kind: models.EventConnected})
					return
				case "timeout":
					send(ctx, events, models.PairingEvent{Kind: models.EventError, Data: "Login timed out"})
					return
				default:
					slog.Warn("WhatsmeowSource.Login: pairing ended", "event", evt.Event)
					send(ctx, events, models.PairingEvent{Kind: models.EventError, Data: "Pairing failed: " + evt.Event})
					return
				}
			}
		}
	}()
	return events, nil
}
