// Package models defines core types shared across the clawlink modules.
//
// It includes the assistant handle consumed from the account backend, the
// pairing events carried over the relayed stream, and the JSON response
// envelope used by the HTTP surface.
package models

import (
	"errors"
	"time"
)

// AssistantStatus is the lifecycle status of a user's provisioned assistant.
type AssistantStatus string

const (
	// AssistantStatusNone means the user has no assistant provisioned.
	AssistantStatusNone AssistantStatus = "NONE"
	// AssistantStatusProvisioning means the assistant container is being created.
	AssistantStatusProvisioning AssistantStatus = "PROVISIONING"
	// AssistantStatusReady means the assistant is running and reachable.
	AssistantStatusReady AssistantStatus = "READY"
	// AssistantStatusError means provisioning failed.
	AssistantStatusError AssistantStatus = "ERROR"
)

// Channel is the messaging channel an assistant is configured for.
type Channel string

const (
	// ChannelWhatsApp routes the assistant through WhatsApp.
	ChannelWhatsApp Channel = "WHATSAPP"
	// ChannelTelegram routes the assistant through Telegram.
	ChannelTelegram Channel = "TELEGRAM"
)

// Assistant is the account backend's record of a user's assistant instance.
// The relay reads it once per pairing attempt and never mutates it.
type Assistant struct {
	Status    AssistantStatus `json:"status"`
	Channel   Channel         `json:"channel,omitempty"`
	ClawID    string          `json:"claw_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// EventKind identifies one kind of pairing event on the relayed stream.
type EventKind string

const (
	// EventQR carries a login code string to render as a scannable QR code.
	EventQR EventKind = "qr"
	// EventConnected signals that the device completed pairing.
	EventConnected EventKind = "connected"
	// EventError carries a human-readable failure message.
	EventError EventKind = "error"
)

// PairingEvent is one parsed event from the relayed SSE stream. Events are
// transient; the client retains only the most recent qr payload for display.
type PairingEvent struct {
	Kind EventKind
	Data string
}

// AttemptOutcome records how a pairing attempt ended.
type AttemptOutcome string

const (
	// OutcomeStarted means the relay stream was opened and is (or was) live.
	OutcomeStarted AttemptOutcome = "started"
	// OutcomeConnected means the upstream reported a successful pairing.
	OutcomeConnected AttemptOutcome = "connected"
	// OutcomeError means the upstream reported a pairing failure.
	OutcomeError AttemptOutcome = "error"
	// OutcomeClosed means the stream ended without a terminal event.
	OutcomeClosed AttemptOutcome = "closed"
)

// PairingAttempt is an operational log record of one relay invocation. It is
// never consulted for authorization decisions; pairing sessions themselves
// remain ephemeral.
type PairingAttempt struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	ClawID    string         `json:"claw_id"`
	Outcome   AttemptOutcome `json:"outcome"`
	Detail    string         `json:"detail,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// Validation errors shared across modules.
var (
	ErrEmptyUserID = errors.New("user id cannot be empty")
	ErrEmptyClawID = errors.New("claw id cannot be empty")
)

// Validate checks the minimal attempt invariants before storage.
func (a *PairingAttempt) Validate() error {
	if a.UserID == "" {
		return ErrEmptyUserID
	}
	if a.ClawID == "" {
		return ErrEmptyClawID
	}
	return nil
}
