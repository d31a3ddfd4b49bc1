// Package devinfra is a development stand-in for the infra control plane.
//
// It serves the same login stream endpoint the production infra API exposes,
// so the relay and the pairing clients can be exercised end to end on a
// laptop. Events come from a pluggable Source: a scripted sequence for
// deterministic local runs, or a real WhatsApp pairing session for testing
// against actual phones.
package devinfra

import (
	"context"
	"time"

	"github.com/yourclaw/clawlink/internal/models"
)

// Source produces login events for one pairing attempt. The returned channel
// closes when the attempt ends; implementations stop producing when the
// context is cancelled.
type Source interface {
	Login(ctx context.Context) (<-chan models.PairingEvent, error)
}

// Script timing defaults, roughly matching how often a real pairing session
// rotates its codes.
const (
	DefaultCodeInterval = 20 * time.Second
	DefaultInitialDelay = 500 * time.Millisecond
)

// ScriptOpts holds configuration options for a scripted source.
type ScriptOpts struct {
	Codes        []string      // login codes emitted in order
	CodeInterval time.Duration // delay between code rotations
	InitialDelay time.Duration // delay before the first code
	FailWith     string        // when set, end with an error event instead of connected
}

// ScriptOption defines a configuration option for a scripted source.
type ScriptOption func(*ScriptOpts)

// WithCodes sets the code rotation sequence.
func WithCodes(codes ...string) ScriptOption {
	return func(o *ScriptOpts) { o.Codes = codes }
}

// WithCodeInterval sets the delay between code rotations.
func WithCodeInterval(d time.Duration) ScriptOption {
	return func(o *ScriptOpts) { o.CodeInterval = d }
}

// WithInitialDelay sets the delay before the first code.
func WithInitialDelay(d time.Duration) ScriptOption {
	return func(o *ScriptOpts) { o.InitialDelay = d }
}

// WithFailure makes the script end with an error event carrying the given
// message instead of a connected event.
func WithFailure(message string) ScriptOption {
	return func(o *ScriptOpts) { o.FailWith = message }
}

// ScriptSource replays a fixed pairing sequence: each code in order, then a
// terminal connected or error event.
type ScriptSource struct {
	codes        []string
	codeInterval time.Duration
	initialDelay time.Duration
	failWith     string
}

// NewScriptSource creates a scripted source, applying any provided options.
func NewScriptSource(opts ...ScriptOption) *ScriptSource {
	cfg := ScriptOpts{
		Codes:        []string{"2@DEVCODE1", "2@DEVCODE2", "2@DEVCODE3"},
		CodeInterval: DefaultCodeInterval,
		InitialDelay: DefaultInitialDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ScriptSource{
		codes:        cfg.Codes,
		codeInterval: cfg.CodeInterval,
		initialDelay: cfg.InitialDelay,
		failWith:     cfg.FailWith,
	}
}

// Login replays the configured sequence on a fresh channel.
func (s *ScriptSource) Login(ctx context.Context) (<-chan models.PairingEvent, error) {
	events := make(chan models.PairingEvent)
	go func() {
		defer close(events)
		if !sleepCtx(ctx, s.initialDelay) {
			return
		}
		for i, code := range s.codes {
			if i > 0 && !sleepCtx(ctx, s.codeInterval) {
				return
			}
			if !send(ctx, events, models.PairingEvent{Kind: models.EventQR, Data: code}) {
				return
			}
		}
		if !sleepCtx(ctx, s.codeInterval) {
			return
		}
		if s.failWith != "" {
			send(ctx, events, models.PairingEvent{Kind: models.EventError, Data: s.failWith})
			return
		}
		send(ctx, events, models.PairingEvent{Kind: models.EventConnected})
	}()
	return events, nil
}

// sleepCtx waits for d and reports false when the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// send delivers an event unless the context ended first.
func send(ctx context.Context, ch chan<- models.PairingEvent, evt models.PairingEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
