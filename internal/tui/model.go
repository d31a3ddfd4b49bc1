// Package tui renders the WhatsApp pairing dialog in the terminal.
//
// The model is a thin presentation layer over a pairing.Session: every state
// transition arrives as a sessionUpdateMsg through the bubbletea message
// loop, and the view renders whatever state the session last reported. Retry
// discards the finished session and starts a brand-new one, mirroring the
// close-and-reopen behavior of the dialog.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yourclaw/clawlink/internal/models"
	"github.com/yourclaw/clawlink/internal/pairing"
)

// KeyMap defines the key bindings of the pairing dialog.
type KeyMap struct {
	Retry key.Binding // restart the attempt from a terminal state
	Quit  key.Binding
}

// DefaultKeyMap is the standard binding set.
var DefaultKeyMap = KeyMap{
	Retry: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "try again"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "close"),
	),
}

// sessionUpdateMsg wraps one pairing state transition for delivery through
// the bubbletea message loop.
type sessionUpdateMsg struct {
	update pairing.Update
}

// sessionFinishedMsg is sent when the session's update channel closes.
type sessionFinishedMsg struct{}

// Model is the pairing dialog. Create with NewModel and run under a
// bubbletea program; the session lifecycle is owned by the model.
type Model struct {
	newSession func() *pairing.Session
	session    *pairing.Session

	state   models.PairingState
	qrCode  string
	qrArt   string // half-block rendering of qrCode, rebuilt on rotation
	message string

	spin     spinner.Model
	keys     KeyMap
	quitting bool
}

// NewModel creates the dialog model and starts the first pairing attempt.
// The factory is invoked here and again on every retry, so each attempt gets
// a fresh session.
func NewModel(newSession func() *pairing.Session) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = spinnerStyle
	model := Model{
		newSession: newSession,
		state:      models.StateIdle,
		spin:       spin,
		keys:       DefaultKeyMap,
	}
	// The session must be created before Init: Init runs on a copy of the
	// model, so any session it created would be lost.
	model.startSession()
	return model
}

// State reports the dialog's current pairing state.
func (model Model) State() models.PairingState {
	return model.state
}

// Init implements tea.Model. The first session is already running; this
// arms the update listener and the spinner.
func (model Model) Init() tea.Cmd {
	return tea.Batch(listenForUpdate(model.session.Updates()), model.spin.Tick)
}

// startSession creates and starts a fresh session, resetting the view
// state, and returns the command that listens for its first update.
func (model *Model) startSession() tea.Cmd {
	model.session = model.newSession()
	model.session.Start(context.Background())
	model.state = models.StateLoading
	model.qrCode = ""
	model.qrArt = ""
	model.message = ""
	return listenForUpdate(model.session.Updates())
}

// listenForUpdate returns a tea.Cmd that blocks until the session delivers
// its next state transition.
func listenForUpdate(updates <-chan pairing.Update) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return sessionFinishedMsg{}
		}
		return sessionUpdateMsg{update: update}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			model.quitting = true
			if model.session != nil {
				model.session.Close()
			}
			return model, tea.Quit
		case key.Matches(message, model.keys.Retry):
			if model.state != models.StateError && model.state != models.StateTimeout {
				return model, nil
			}
			if model.session != nil {
				model.session.Close()
			}
			cmd := model.startSession()
			return model, tea.Batch(cmd, model.spin.Tick)
		}
		return model, nil

	case sessionUpdateMsg:
		model.applyUpdate(message.update)
		return model, listenForUpdate(model.session.Updates())

	case sessionFinishedMsg:
		// The session closed its channel. Terminal states already rendered;
		// anything else means the session was torn down underneath us.
		if !model.state.Terminal() {
			model.state = models.StateError
			model.message = "Pairing session ended unexpectedly"
		}
		return model, nil

	case spinner.TickMsg:
		if !model.spinning() {
			return model, nil
		}
		var cmd tea.Cmd
		model.spin, cmd = model.spin.Update(message)
		return model, cmd
	}
	return model, nil
}

// applyUpdate folds one session transition into the view state.
func (model *Model) applyUpdate(update pairing.Update) {
	model.state = update.State
	switch update.State {
	case models.StateQRDisplayed:
		if update.QRCode != model.qrCode {
			model.qrCode = update.QRCode
			model.qrArt = renderQR(update.QRCode)
		}
	case models.StateError:
		model.message = update.Message
	}
}

// spinning reports whether the current state shows an animated spinner.
func (model Model) spinning() bool {
	switch model.state {
	case models.StateLoading, models.StateConnected, models.StatePodRestarting:
		return true
	}
	return false
}
