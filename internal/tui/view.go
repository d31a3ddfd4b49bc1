package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mdp/qrterminal/v3"

	"github.com/yourclaw/clawlink/internal/models"
)

// Dialog styles. ANSI 256-color codes keep rendering consistent across
// common dark terminals.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	frameStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 3)
)

// renderQR draws a login code as half-block unicode cells. The low error
// correction level keeps the code small enough for a default 80x24 window.
func renderQR(code string) string {
	var buf strings.Builder
	qrterminal.GenerateHalfBlock(code, qrterminal.L, &buf)
	return strings.TrimRight(buf.String(), "\n")
}

// View implements tea.Model.
func (model Model) View() string {
	if model.quitting {
		return ""
	}

	var body string
	switch model.state {
	case models.StateIdle, models.StateLoading:
		body = model.spin.View() + " Preparing WhatsApp login..."

	case models.StateQRDisplayed:
		body = lipgloss.JoinVertical(lipgloss.Center,
			titleStyle.Render("Scan with WhatsApp"),
			"",
			model.qrArt,
			"",
			faintStyle.Render("Open WhatsApp on your phone, then"),
			faintStyle.Render("Settings > Linked Devices > Link a Device"),
			faintStyle.Render("The code refreshes automatically."),
		)

	case models.StateConnected:
		body = successStyle.Render("WhatsApp connected!")

	case models.StatePodRestarting:
		body = lipgloss.JoinVertical(lipgloss.Center,
			successStyle.Render("WhatsApp connected!"),
			"",
			model.spin.View()+" Restarting your assistant...",
			faintStyle.Render("This usually takes under a minute."),
		)

	case models.StateReady:
		body = lipgloss.JoinVertical(lipgloss.Center,
			successStyle.Render("Your assistant is ready."),
			faintStyle.Render("Send it a WhatsApp message to get started."),
		)

	case models.StateError:
		message := model.message
		if message == "" {
			message = "Something went wrong."
		}
		body = lipgloss.JoinVertical(lipgloss.Center,
			errorStyle.Render("Pairing failed"),
			faintStyle.Render(message),
		)

	case models.StateTimeout:
		body = lipgloss.JoinVertical(lipgloss.Center,
			errorStyle.Render("Login timed out"),
			faintStyle.Render("No pairing happened within the time window."),
		)
	}

	return frameStyle.Render(body) + "\n" + helpStyle.Render(model.helpLine())
}

// helpLine lists the bindings valid in the current state.
func (model Model) helpLine() string {
	if model.state == models.StateError || model.state == models.StateTimeout {
		return "r try again • q close"
	}
	return "q close"
}
