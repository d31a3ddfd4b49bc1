package models

// PairingState is the finite-state value driving the client pairing dialog.
// Exactly one instance exists per open dialog; it resets to idle on close.
type PairingState string

const (
	// StateIdle means no pairing attempt is in progress.
	StateIdle PairingState = "idle"
	// StateLoading means the relay request is open but no code arrived yet.
	StateLoading PairingState = "loading"
	// StateQRDisplayed means a login code is rendered and awaiting a scan.
	// The code may rotate while in this state.
	StateQRDisplayed PairingState = "qr_displayed"
	// StateConnected means the stream reported a successful pairing.
	StateConnected PairingState = "connected"
	// StatePodRestarting means the assistant process is restarting after
	// pairing; the client is polling the backend for readiness.
	StatePodRestarting PairingState = "pod_restarting"
	// StateReady means polling observed the assistant READY again.
	StateReady PairingState = "ready"
	// StateError means the attempt failed; a retry can start a new one.
	StateError PairingState = "error"
	// StateTimeout means the client deadline elapsed before pairing.
	StateTimeout PairingState = "timeout"
)

// Terminal reports whether the state ends the current pairing attempt.
func (s PairingState) Terminal() bool {
	switch s {
	case StateReady, StateError, StateTimeout:
		return true
	}
	return false
}

// Active reports whether an attempt is in flight (a request, timer, or
// polling interval may be open and must be cleaned up on close).
func (s PairingState) Active() bool {
	switch s {
	case StateLoading, StateQRDisplayed, StateConnected, StatePodRestarting:
		return true
	}
	return false
}
