package pairing

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourclaw/clawlink/internal/backend"
	"github.com/yourclaw/clawlink/internal/models"
)

// DefaultWatchInterval is the cadence of the provisioning watcher poll.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls the backend while an assistant is PROVISIONING and signals
// once when it transitions to READY on the WhatsApp channel, so the pairing
// dialog can open automatically without user action.
type Watcher struct {
	backend  *backend.Client
	token    string
	interval time.Duration
}

// NewWatcher creates a provisioning watcher. A non-positive interval uses
// the default.
func NewWatcher(bc *backend.Client, token string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{backend: bc, token: token, interval: interval}
}

// Watch polls until the assistant leaves PROVISIONING or the context ends.
// The returned channel delivers at most one signal, a transition to READY
// with channel WhatsApp, then closes. It also closes without a signal when
// the assistant settles in any other state or was never provisioning.
func (w *Watcher) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)

		assistant, err := w.backend.GetAssistant(ctx, w.token)
		if err != nil {
			slog.Debug("Watcher.Watch: initial assistant fetch failed", "error", err)
			return
		}
		if assistant.Status != models.AssistantStatusProvisioning {
			return
		}

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				assistant, err := w.backend.GetAssistant(ctx, w.token)
				if err != nil {
					slog.Debug("Watcher.Watch: poll failed", "error", err)
					continue
				}
				switch assistant.Status {
				case models.AssistantStatusProvisioning:
					// Still provisioning; keep watching.
				case models.AssistantStatusReady:
					if assistant.Channel == models.ChannelWhatsApp {
						slog.Info("Watcher.Watch: assistant ready, opening pairing", "claw_id", assistant.ClawID)
						ch <- struct{}{}
					}
					return
				default:
					// ERROR or NONE: provisioning will not complete.
					slog.Debug("Watcher.Watch: provisioning ended without READY", "status", assistant.Status)
					return
				}
			}
		}
	}()
	return ch
}
