package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPairingAttemptValidate(t *testing.T) {
	a := PairingAttempt{UserID: "user-1", ClawID: "claw-1", StartedAt: time.Now()}
	if err := a.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.UserID = ""
	if err := a.Validate(); err != ErrEmptyUserID {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	a.UserID = "user-1"
	a.ClawID = ""
	if err := a.Validate(); err != ErrEmptyClawID {
		t.Errorf("expected ErrEmptyClawID, got %v", err)
	}
}

func TestAssistantJSONFieldNames(t *testing.T) {
	// The backend contract uses snake_case claw_id; the guard depends on it.
	var a Assistant
	payload := `{"status":"READY","channel":"WHATSAPP","claw_id":"claw-1234567"}`
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if a.Status != AssistantStatusReady {
		t.Errorf("expected READY, got %s", a.Status)
	}
	if a.Channel != ChannelWhatsApp {
		t.Errorf("expected WHATSAPP, got %s", a.Channel)
	}
	if a.ClawID != "claw-1234567" {
		t.Errorf("expected claw-1234567, got %s", a.ClawID)
	}
}

func TestPairingStatePredicates(t *testing.T) {
	for _, s := range []PairingState{StateReady, StateError, StateTimeout} {
		if !s.Terminal() {
			t.Errorf("state %s should be terminal", s)
		}
		if s.Active() {
			t.Errorf("state %s should not be active", s)
		}
	}
	for _, s := range []PairingState{StateLoading, StateQRDisplayed, StateConnected, StatePodRestarting} {
		if !s.Active() {
			t.Errorf("state %s should be active", s)
		}
		if s.Terminal() {
			t.Errorf("state %s should not be terminal", s)
		}
	}
	if StateIdle.Active() || StateIdle.Terminal() {
		t.Error("idle should be neither active nor terminal")
	}
}

func TestErrorResponse(t *testing.T) {
	resp := Error("Assistant not ready")
	if resp.Status != string(APIStatusError) {
		t.Errorf("expected error status, got %s", resp.Status)
	}
	if resp.Message != "Assistant not ready" {
		t.Errorf("unexpected message: %s", resp.Message)
	}
}
